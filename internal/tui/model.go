// Package tui is the interactive terminal client: a recorder bar driving the
// recording session above a searchable, editable note list.
package tui

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/tiroq/voicenotes/internal/diaglog"
	"github.com/tiroq/voicenotes/internal/export"
	"github.com/tiroq/voicenotes/internal/note"
	"github.com/tiroq/voicenotes/internal/prefs"
	"github.com/tiroq/voicenotes/internal/session"
	"github.com/tiroq/voicenotes/internal/speech"
)

// ─── ports ───────────────────────────────────────────────────────────────────

type NoteStore interface {
	List() []note.Note
	Filter(term string) []note.Note
	Create(d note.Draft) (note.Note, error)
	CreateFromTranscript(text, language string, src note.Source) (note.Note, error)
	Update(id string, p note.Patch) (note.Note, error)
	Delete(id string) error
	Reload() (bool, error)
}

type Recorder interface {
	Start(ctx context.Context) error
	Stop() error
	BeginSegments() error
	FinishSegments() error
	CancelSegments() error
	SetLocale(locale string) error
	SetContinuous(on bool) error
	Snapshot() session.Snapshot
}

type Languages interface {
	Language() string
	Next() (prefs.Language, error)
}

// ExportFunc writes notes in format f and returns the file written.
type ExportFunc func(notes []note.Note, f export.Format) (string, error)

type Options struct {
	Context   context.Context
	Notes     NoteStore
	Recorder  Recorder
	Languages Languages
	Events    *Events
	Export    ExportFunc
	// Source is recorded on notes created from transcripts.
	Source note.Source
	// Unavailable disables recording; its message is shown instead.
	Unavailable error
	Logger      *diaglog.Logger
}

// ─── messages ────────────────────────────────────────────────────────────────

type (
	recordStartedMsg struct{ err error }
	recorderOpMsg    struct {
		op  string
		err error
	}
	exportDoneMsg struct {
		path  string
		count int
		err   error
	}
)

type mode int

const (
	modeBrowse mode = iota
	modeSearch
	modeEdit
	modeConfirmDelete
)

// ─── model ───────────────────────────────────────────────────────────────────

type Model struct {
	ctx         context.Context
	notes       NoteStore
	recorder    Recorder
	langs       Languages
	events      *Events
	export      ExportFunc
	source      note.Source
	unavailable error
	log         *diaglog.Logger

	mode    mode
	keys    keyMap
	help    help.Model
	search  textinput.Model
	editor  editor
	visible []note.Note
	cursor  int
	pending string // id awaiting delete confirmation

	snap     session.Snapshot
	starting bool // Start issued, recordStartedMsg not yet seen
	status   string
	statusOK bool
	showHelp bool
	width    int
	height   int
}

func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	src := opts.Source
	if !src.Valid() {
		src = note.SourceVoiceEngine
	}

	si := textinput.New()
	si.Prompt = "/ "
	si.Placeholder = "search notes"
	si.CharLimit = 120

	m := Model{
		ctx:         ctx,
		notes:       opts.Notes,
		recorder:    opts.Recorder,
		langs:       opts.Languages,
		events:      opts.Events,
		export:      opts.Export,
		source:      src,
		unavailable: opts.Unavailable,
		log:         opts.Logger,
		keys:        defaultKeys(),
		help:        help.New(),
		search:      si,
		editor:      newEditor(),
		status:      "ready",
	}
	if m.recorder != nil {
		m.snap = m.recorder.Snapshot()
	}
	if m.unavailable != nil {
		m.status = "Recording disabled: " + m.unavailable.Error()
	}
	m.refresh()
	return m
}

func (m Model) Init() tea.Cmd {
	if m.events == nil {
		return nil
	}
	return m.events.wait()
}

// ─── update ──────────────────────────────────────────────────────────────────

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.search.Width = msg.Width - 8
		m.editor.setSize(msg.Width-4, msg.Height)
		return m, nil

	case snapshotMsg:
		m.snap = m.recorder.Snapshot()
		return m, m.waitEvent()

	case transcriptMsg:
		m.saveTranscript(msg.text)
		return m, m.waitEvent()

	case idleMsg:
		m.snap = m.recorder.Snapshot()
		if msg.err != nil && !errors.Is(msg.err, session.ErrCanceled) {
			m.setError(userMessage(msg.err))
		}
		return m, m.waitEvent()

	case storeChangedMsg:
		if reloaded, err := m.notes.Reload(); err != nil {
			m.setError("Reload failed: " + err.Error())
		} else if reloaded {
			m.refresh()
			m.log.Event(diaglog.ComponentTUI, diaglog.EventStoreChangedOnDisk, map[string]interface{}{
				"notes": len(m.visible),
			})
		}
		return m, m.waitEvent()

	case recordStartedMsg:
		m.starting = false
		if msg.err != nil && !errors.Is(msg.err, session.ErrCanceled) {
			m.setError(userMessage(msg.err))
		}
		m.snap = m.recorder.Snapshot()
		return m, nil

	case recorderOpMsg:
		if msg.err != nil {
			m.setError(msg.op + ": " + userMessage(msg.err))
		}
		m.snap = m.recorder.Snapshot()
		return m, nil

	case exportDoneMsg:
		if msg.err != nil {
			m.setError("Export failed: " + msg.err.Error())
		} else {
			m.setOK(fmt.Sprintf("Exported %d notes to %s", msg.count, msg.path))
		}
		return m, nil

	case editorSaveMsg:
		return m.saveEditor(msg)

	case editorCancelMsg:
		m.mode = modeBrowse
		return m, nil
	}

	switch m.mode {
	case modeEdit:
		var cmd tea.Cmd
		m.editor, cmd = m.editor.update(msg)
		return m, cmd
	case modeSearch:
		return m.updateSearch(msg)
	case modeConfirmDelete:
		if km, ok := msg.(tea.KeyMsg); ok {
			return m.confirmDelete(km)
		}
		return m, nil
	}

	km, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	if m.showHelp {
		if key.Matches(km, m.keys.Help) || km.String() == "esc" {
			m.showHelp = false
		}
		return m, nil
	}
	return m.updateBrowse(km)
}

func (m Model) updateBrowse(km tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(km, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(km, m.keys.Help):
		m.showHelp = true
	case key.Matches(km, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(km, m.keys.Down):
		if m.cursor < len(m.visible)-1 {
			m.cursor++
		}
	case key.Matches(km, m.keys.Search):
		m.mode = modeSearch
		return m, m.search.Focus()
	case key.Matches(km, m.keys.ClearSrch):
		if m.search.Value() != "" {
			m.search.SetValue("")
			m.refresh()
		}
	case key.Matches(km, m.keys.Record):
		return m.toggleRecording()
	case key.Matches(km, m.keys.Continuous):
		m.toggleContinuous()
	case key.Matches(km, m.keys.Language):
		m.cycleLanguage()
	case key.Matches(km, m.keys.Segments):
		return m.toggleSegments()
	case key.Matches(km, m.keys.CancelSegs):
		if m.snap.SegmentMode {
			return m, m.recorderOp("cancel segments", m.recorder.CancelSegments)
		}
	case key.Matches(km, m.keys.New):
		m.mode = modeEdit
		return m, m.editor.open(note.Note{})
	case key.Matches(km, m.keys.Edit):
		if n, ok := m.selected(); ok {
			m.mode = modeEdit
			return m, m.editor.open(n)
		}
	case key.Matches(km, m.keys.Delete):
		if n, ok := m.selected(); ok {
			m.pending = n.ID
			m.mode = modeConfirmDelete
		}
	case key.Matches(km, m.keys.ExportMD):
		return m, m.exportCmd(export.FormatMarkdown)
	case key.Matches(km, m.keys.ExportTXT):
		return m, m.exportCmd(export.FormatText)
	}
	return m, nil
}

func (m Model) updateSearch(msg tea.Msg) (tea.Model, tea.Cmd) {
	if km, ok := msg.(tea.KeyMsg); ok {
		switch km.String() {
		case "enter":
			m.mode = modeBrowse
			m.search.Blur()
			return m, nil
		case "esc":
			m.mode = modeBrowse
			m.search.Blur()
			m.search.SetValue("")
			m.refresh()
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	m.refresh()
	return m, cmd
}

func (m Model) confirmDelete(km tea.KeyMsg) (tea.Model, tea.Cmd) {
	id := m.pending
	m.pending = ""
	m.mode = modeBrowse
	if km.String() != "y" && km.String() != "Y" {
		m.setOK("Delete cancelled")
		return m, nil
	}
	if err := m.notes.Delete(id); err != nil {
		m.setError("Delete failed: " + err.Error())
		return m, nil
	}
	m.refresh()
	m.setOK("Note deleted")
	return m, nil
}

// ─── recorder actions ────────────────────────────────────────────────────────

func (m Model) toggleRecording() (tea.Model, tea.Cmd) {
	if m.unavailable != nil {
		m.setError("Recording disabled: " + m.unavailable.Error())
		return m, nil
	}
	if m.starting {
		return m, nil
	}
	// The cached snapshot can lag behind the session.
	if m.recorder.Snapshot().State.Active() {
		return m, m.recorderOp("stop", m.recorder.Stop)
	}
	m.starting = true
	m.status = "Starting..."
	m.statusOK = true
	rec, ctx := m.recorder, m.ctx
	return m, func() tea.Msg {
		return recordStartedMsg{err: rec.Start(ctx)}
	}
}

func (m Model) toggleSegments() (tea.Model, tea.Cmd) {
	if m.unavailable != nil {
		m.setError("Recording disabled: " + m.unavailable.Error())
		return m, nil
	}
	if !m.snap.SegmentMode {
		if err := m.recorder.BeginSegments(); err != nil {
			m.setError(userMessage(err))
			return m, nil
		}
		m.snap = m.recorder.Snapshot()
		m.setOK("Segment session open: r records a segment, s saves, x discards")
		return m, nil
	}
	return m, m.recorderOp("finish segments", m.recorder.FinishSegments)
}

func (m *Model) toggleContinuous() {
	on := !m.snap.Continuous
	if err := m.recorder.SetContinuous(on); err != nil {
		m.setError(userMessage(err))
		return
	}
	m.snap = m.recorder.Snapshot()
	if on {
		m.setOK("Continuous recording on")
	} else {
		m.setOK("Continuous recording off")
	}
}

func (m *Model) cycleLanguage() {
	if m.snap.State.Active() {
		m.setError("Stop recording before changing the language")
		return
	}
	lang, err := m.langs.Next()
	if serr := m.recorder.SetLocale(lang.Code); serr != nil {
		m.setError(userMessage(serr))
		return
	}
	m.snap = m.recorder.Snapshot()
	if err != nil {
		// Switched for this run; the preference just was not saved.
		m.setError(fmt.Sprintf("Language: %s (not saved: %v)", lang.Name, err))
		return
	}
	m.setOK("Language: " + lang.Name)
}

func (m Model) recorderOp(op string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return recorderOpMsg{op: op, err: fn()}
	}
}

func (m *Model) saveTranscript(text string) {
	if _, err := m.notes.CreateFromTranscript(text, m.snap.Locale, m.source); err != nil {
		m.setError("Could not save note: " + err.Error())
		return
	}
	m.search.SetValue("")
	m.refresh()
	m.cursor = 0
	m.setOK("Note saved from recording")
}

// ─── notes ───────────────────────────────────────────────────────────────────

func (m Model) saveEditor(msg editorSaveMsg) (tea.Model, tea.Cmd) {
	if msg.id == "" {
		if _, err := m.notes.Create(note.Draft{Title: msg.title, Content: msg.content, Source: note.SourceManual}); err != nil {
			m.setError(saveError(err))
			return m, nil
		}
		m.mode = modeBrowse
		m.refresh()
		m.cursor = 0
		m.setOK("Note created")
		return m, nil
	}

	title, content := msg.title, msg.content
	if _, err := m.notes.Update(msg.id, note.Patch{Title: &title, Content: &content}); err != nil {
		m.setError(saveError(err))
		return m, nil
	}
	m.mode = modeBrowse
	m.refresh()
	m.setOK("Note updated")
	return m, nil
}

func saveError(err error) string {
	if errors.Is(err, note.ErrEmptyContent) {
		return "Note content cannot be empty"
	}
	return "Save failed: " + err.Error()
}

func (m Model) exportCmd(f export.Format) tea.Cmd {
	if m.export == nil {
		return nil
	}
	notes := append([]note.Note(nil), m.visible...)
	fn := m.export
	return func() tea.Msg {
		path, err := fn(notes, f)
		return exportDoneMsg{path: path, count: len(notes), err: err}
	}
}

// refresh re-applies the search term and clamps the cursor.
func (m *Model) refresh() {
	if m.notes == nil {
		return
	}
	m.visible = m.notes.Filter(m.search.Value())
	if m.cursor >= len(m.visible) {
		m.cursor = len(m.visible) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m Model) selected() (note.Note, bool) {
	if m.cursor < 0 || m.cursor >= len(m.visible) {
		return note.Note{}, false
	}
	return m.visible[m.cursor], true
}

func (m *Model) setOK(s string) {
	m.status, m.statusOK = s, true
}

func (m *Model) setError(s string) {
	m.status, m.statusOK = s, false
}

func (m Model) waitEvent() tea.Cmd {
	if m.events == nil {
		return nil
	}
	return m.events.wait()
}

// userMessage turns session and engine errors into a status line.
func userMessage(err error) string {
	var se *speech.Error
	switch {
	case errors.As(err, &se):
		return se.UserMessage()
	case errors.Is(err, session.ErrUnavailable):
		return "Speech recognition is not available: " + err.Error()
	default:
		return err.Error()
	}
}
