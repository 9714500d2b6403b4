package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Up         key.Binding
	Down       key.Binding
	Record     key.Binding
	Continuous key.Binding
	Language   key.Binding
	Segments   key.Binding
	CancelSegs key.Binding
	Search     key.Binding
	ClearSrch  key.Binding
	New        key.Binding
	Edit       key.Binding
	Delete     key.Binding
	ExportMD   key.Binding
	ExportTXT  key.Binding
	Help       key.Binding
	Quit       key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Up:         key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:       key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Record:     key.NewBinding(key.WithKeys("r", " "), key.WithHelp("r", "record/stop")),
		Continuous: key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "continuous on/off")),
		Language:   key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "language")),
		Segments:   key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "segments begin/finish")),
		CancelSegs: key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "cancel segments")),
		Search:     key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "search")),
		ClearSrch:  key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "clear search")),
		New:        key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "new note")),
		Edit:       key.NewBinding(key.WithKeys("enter", "e"), key.WithHelp("enter", "edit")),
		Delete:     key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete")),
		ExportMD:   key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "export .md")),
		ExportTXT:  key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "export .txt")),
		Help:       key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:       key.NewBinding(key.WithKeys("ctrl+c", "q"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Record, k.Search, k.New, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Record, k.Continuous, k.Language, k.Segments, k.CancelSegs},
		{k.Up, k.Down, k.Search, k.ClearSrch},
		{k.New, k.Edit, k.Delete},
		{k.ExportMD, k.ExportTXT, k.Help, k.Quit},
	}
}
