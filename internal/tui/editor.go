package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/tiroq/voicenotes/internal/note"
)

type (
	editorSaveMsg struct {
		id      string
		title   string
		content string
	}
	editorCancelMsg struct{}
)

// editor edits a note's title and content. An empty id means a new note.
type editor struct {
	id      string
	title   textinput.Model
	content textarea.Model
	onBody  bool
}

func newEditor() editor {
	ti := textinput.New()
	ti.Placeholder = note.UntitledTitle
	ti.CharLimit = 200
	ti.Prompt = "Title: "

	ta := textarea.New()
	ta.Placeholder = "Write or dictate your note..."
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	return editor{title: ti, content: ta}
}

// open loads n (or a blank note) and focuses the title.
func (e *editor) open(n note.Note) tea.Cmd {
	e.id = n.ID
	e.title.SetValue(n.Title)
	e.title.CursorEnd()
	e.content.SetValue(n.Content)
	e.onBody = false
	e.content.Blur()
	return e.title.Focus()
}

func (e *editor) setSize(width, height int) {
	if width > 4 {
		e.title.Width = width - len(e.title.Prompt) - 4
		e.content.SetWidth(width - 4)
	}
	if height > 8 {
		e.content.SetHeight(height - 8)
	}
}

func (e editor) update(msg tea.Msg) (editor, tea.Cmd) {
	if km, ok := msg.(tea.KeyMsg); ok {
		switch km.String() {
		case "esc":
			e.title.Blur()
			e.content.Blur()
			return e, func() tea.Msg { return editorCancelMsg{} }
		case "ctrl+s":
			save := editorSaveMsg{
				id:      e.id,
				title:   strings.TrimSpace(e.title.Value()),
				content: e.content.Value(),
			}
			return e, func() tea.Msg { return save }
		case "tab", "shift+tab":
			e.onBody = !e.onBody
			if e.onBody {
				e.title.Blur()
				return e, e.content.Focus()
			}
			e.content.Blur()
			return e, e.title.Focus()
		}
	}

	var cmd tea.Cmd
	if e.onBody {
		e.content, cmd = e.content.Update(msg)
	} else {
		e.title, cmd = e.title.Update(msg)
	}
	return e, cmd
}

func (e editor) view() string {
	heading := "Edit note"
	if e.id == "" {
		heading = "New note"
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(heading) + "\n\n")
	b.WriteString(e.title.View() + "\n\n")
	b.WriteString(e.content.View() + "\n\n")
	b.WriteString(mutedStyle.Render("tab switch field · ctrl+s save · esc cancel"))
	return b.String()
}
