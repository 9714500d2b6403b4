// Package note holds the note model and the in-memory note collection that
// is persisted as a whole snapshot to the key-value store.
package note

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// UntitledTitle is shown (and exported) for notes without a title.
const UntitledTitle = "Untitled Note"

// Source records how a note was created.
type Source string

const (
	SourceManual      Source = "manual"
	SourceVoiceEngine Source = "voice-engine"
	SourceRemote      Source = "remote-transcription"
)

func (s Source) Valid() bool {
	switch s {
	case SourceManual, SourceVoiceEngine, SourceRemote:
		return true
	}
	return false
}

type Note struct {
	ID        string
	Title     string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
	Source    Source
	Language  string
}

// DisplayTitle returns the title or UntitledTitle.
func (n Note) DisplayTitle() string {
	if t := strings.TrimSpace(n.Title); t != "" {
		return t
	}
	return UntitledTitle
}

// Preview returns at most max runes of the content, with "..." appended when
// it was cut.
func (n Note) Preview(max int) string {
	r := []rune(n.Content)
	if len(r) <= max {
		return n.Content
	}
	return strings.TrimSpace(string(r[:max])) + "..."
}

// matches reports whether term occurs in the title or the content, ignoring
// case. term must already be lower-cased.
func (n Note) matches(term string) bool {
	return strings.Contains(strings.ToLower(n.Title), term) ||
		strings.Contains(strings.ToLower(n.Content), term)
}

// Filter returns the notes whose title or content contains term,
// case-insensitively. A blank term returns notes unchanged.
func Filter(notes []Note, term string) []Note {
	if strings.TrimSpace(term) == "" {
		return notes
	}
	term = strings.ToLower(term)
	out := make([]Note, 0, len(notes))
	for _, n := range notes {
		if n.matches(term) {
			out = append(out, n)
		}
	}
	return out
}

// wireNote is the stored shape. Timestamps are epoch milliseconds; older
// snapshots may also carry RFC 3339 strings.
type wireNote struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Content   string          `json:"content"`
	CreatedAt json.RawMessage `json:"createdAt"`
	UpdatedAt json.RawMessage `json:"updatedAt,omitempty"`
	Source    Source          `json:"source,omitempty"`
	Language  string          `json:"language,omitempty"`
}

func (n Note) MarshalJSON() ([]byte, error) {
	w := wireNote{
		ID:        n.ID,
		Title:     n.Title,
		Content:   n.Content,
		CreatedAt: json.RawMessage(fmt.Sprint(n.CreatedAt.UnixMilli())),
		UpdatedAt: json.RawMessage(fmt.Sprint(n.UpdatedAt.UnixMilli())),
		Source:    n.Source,
		Language:  n.Language,
	}
	return json.Marshal(w)
}

// UnmarshalJSON fills defaults for fields that older snapshots lack:
// source becomes manual and updatedAt becomes createdAt.
func (n *Note) UnmarshalJSON(data []byte) error {
	var w wireNote
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	created, err := parseTimestamp(w.CreatedAt)
	if err != nil {
		return fmt.Errorf("note %s: createdAt: %w", w.ID, err)
	}
	updated, err := parseTimestamp(w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("note %s: updatedAt: %w", w.ID, err)
	}
	if updated.IsZero() {
		updated = created
	}
	src := w.Source
	if !src.Valid() {
		src = SourceManual
	}
	*n = Note{
		ID:        w.ID,
		Title:     w.Title,
		Content:   w.Content,
		CreatedAt: created,
		UpdatedAt: updated,
		Source:    src,
		Language:  w.Language,
	}
	return nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return time.Time{}, nil
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return time.Time{}, err
		}
		if str == "" {
			return time.Time{}, nil
		}
		return time.Parse(time.RFC3339Nano, str)
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(int64(ms)), nil
}
