package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/tiroq/voicenotes/internal/note"
	"github.com/tiroq/voicenotes/internal/prefs"
	"github.com/tiroq/voicenotes/internal/session"
)

const previewRunes = 100

func (m Model) View() string {
	width := m.width
	if width <= 0 {
		width = 80
	}
	inner := width - 4

	if m.mode == modeEdit {
		return appStyle.Render(paneStyle.Width(inner).Render(m.editor.view()))
	}

	sections := []string{
		titleStyle.Render("Voice Notes") + "  " + mutedStyle.Render(fmt.Sprintf("%d notes", len(m.notes.List()))),
		m.recorderView(inner),
		m.searchView(),
		m.listView(inner),
		m.statusView(),
	}
	if m.showHelp {
		sections = append(sections, m.help.FullHelpView(m.keys.FullHelp()))
	} else {
		sections = append(sections, m.help.ShortHelpView(m.keys.ShortHelp()))
	}
	return appStyle.Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

func (m Model) recorderView(width int) string {
	s := m.snap
	lang := s.Locale
	if l, ok := prefs.Lookup(s.Locale); ok {
		lang = l.Name
	}
	mode := "single-shot"
	if s.Continuous {
		mode = "continuous"
	}

	var b strings.Builder
	switch {
	case m.unavailable != nil:
		b.WriteString(errorStyle.Render("● unavailable"))
	case s.State == session.Listening:
		b.WriteString(hotStyle.Render("● recording"))
	case s.State.Active():
		b.WriteString(hotStyle.Render("○ " + s.State.String()))
	default:
		b.WriteString(mutedStyle.Render("○ idle"))
	}
	fmt.Fprintf(&b, "  %s  %s", mutedStyle.Render(lang), mutedStyle.Render(mode))
	if s.Restarts > 0 {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("  restarts %d", s.Restarts)))
	}
	if s.Confidence > 0 {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("  confidence %.0f%%", s.Confidence*100)))
	}

	if s.SegmentMode {
		fmt.Fprintf(&b, "\n%s", okStyle.Render(fmt.Sprintf("segments: %d", len(s.Segments))))
		for i, seg := range s.Segments {
			fmt.Fprintf(&b, "\n  %d. %s", i+1, seg)
		}
	}
	if s.State.Active() {
		text := s.Text
		if text == "" && s.Interim == "" {
			text = mutedStyle.Render("Listening...")
		}
		fmt.Fprintf(&b, "\n%s%s", text, interimStyle.Render(s.Interim))
	}

	style := paneStyle
	if s.State.Active() {
		style = recordingPaneStyle
	}
	return style.Width(width).Render(b.String())
}

func (m Model) searchView() string {
	if m.mode == modeSearch || m.search.Value() != "" {
		return m.search.View()
	}
	return ""
}

func (m Model) listView(width int) string {
	if len(m.visible) == 0 {
		if m.search.Value() != "" {
			return mutedStyle.Render("No notes match your search.")
		}
		return mutedStyle.Render("No notes yet. Press r to record or n to write one.")
	}

	// Keep the cursor on screen.
	rows := 8
	if m.height > 20 {
		rows = (m.height - 14) / 3
	}
	start := 0
	if m.cursor >= rows {
		start = m.cursor - rows + 1
	}
	end := start + rows
	if end > len(m.visible) {
		end = len(m.visible)
	}

	var b strings.Builder
	for i := start; i < end; i++ {
		n := m.visible[i]
		title := n.DisplayTitle()
		meta := mutedStyle.Render(fmt.Sprintf("%s · %s", n.CreatedAt.Format("2006-01-02 15:04"), sourceLabel(n)))
		if i == m.cursor {
			if m.mode == modeConfirmDelete {
				title = errorStyle.Render("Delete \"" + title + "\"? y/n")
			} else {
				title = selectedStyle.Render("› " + title)
			}
		} else {
			title = "  " + title
		}
		fmt.Fprintf(&b, "%s  %s\n    %s\n", title, meta, lipgloss.NewStyle().MaxWidth(width-4).Render(n.Preview(previewRunes)))
	}
	return strings.TrimRight(b.String(), "\n")
}

func sourceLabel(n note.Note) string {
	switch n.Source {
	case note.SourceVoiceEngine, note.SourceRemote:
		if n.Language != "" {
			return "voice " + n.Language
		}
		return "voice"
	default:
		return "typed"
	}
}

func (m Model) statusView() string {
	if m.status == "" {
		return ""
	}
	if m.statusOK {
		return okStyle.Render(m.status)
	}
	return errorStyle.Render(m.status)
}
