package note

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tiroq/voicenotes/internal/diaglog"
	"github.com/tiroq/voicenotes/internal/kv"
)

// StorageKey is the key the note snapshot is kept under.
const StorageKey = "voice-notes"

var (
	ErrNotFound     = errors.New("note not found")
	ErrEmptyContent = errors.New("note content is empty")
)

// Draft is the input to Create.
type Draft struct {
	Title    string
	Content  string
	Source   Source
	Language string
}

// Patch lists the fields Update changes; nil fields are left alone.
type Patch struct {
	Title    *string
	Content  *string
	Language *string
}

type Options struct {
	Debounce time.Duration
	Logger   *diaglog.Logger
	Now      func() time.Time
	NewID    func() string
}

// Store is the note collection, newest first. The in-memory slice is
// authoritative; persistence is a debounced whole-snapshot write and
// failures are logged rather than returned from mutations.
type Store struct {
	kv       kv.Store
	log      *diaglog.Logger
	now      func() time.Time
	newID    func() string
	debounce time.Duration

	// writeMu serialises snapshot writes so a later snapshot never lands
	// before an earlier one.
	writeMu sync.Mutex

	mu         sync.Mutex
	notes      []Note
	dirty      bool
	timer      *time.Timer
	persistErr error
}

// Open loads the snapshot from store. A missing snapshot is an empty
// collection.
func Open(store kv.Store, opts Options) (*Store, error) {
	s := &Store{
		kv:       store,
		log:      opts.Logger,
		now:      opts.Now,
		newID:    opts.NewID,
		debounce: opts.Debounce,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	notes, err := s.read()
	if err != nil {
		return nil, err
	}
	s.notes = notes
	return s, nil
}

func (s *Store) read() ([]Note, error) {
	var notes []Note
	if _, err := s.kv.Get(StorageKey, &notes); err != nil {
		return nil, fmt.Errorf("load notes: %w", err)
	}
	return notes, nil
}

// Create prepends a new note. Content must not be blank.
func (s *Store) Create(d Draft) (Note, error) {
	content := strings.TrimSpace(d.Content)
	if content == "" {
		return Note{}, ErrEmptyContent
	}
	src := d.Source
	if !src.Valid() {
		src = SourceManual
	}
	now := s.now()
	n := Note{
		ID:        s.newID(),
		Title:     strings.TrimSpace(d.Title),
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
		Source:    src,
		Language:  d.Language,
	}

	s.mu.Lock()
	s.notes = append([]Note{n}, s.notes...)
	s.scheduleLocked()
	s.mu.Unlock()

	event := diaglog.EventNoteCreatedManual
	if src != SourceManual {
		event = diaglog.EventNoteCreatedVoice
	}
	s.log.Event(diaglog.ComponentNoteStore, event, map[string]interface{}{
		"id":             n.ID,
		"source":         string(src),
		"content_length": len(content),
	})
	return n, nil
}

// CreateFromTranscript turns a finished recording into a note.
func (s *Store) CreateFromTranscript(text, language string, src Source) (Note, error) {
	return s.Create(Draft{Content: text, Source: src, Language: language})
}

// Update applies p to the note with id and refreshes UpdatedAt.
func (s *Store) Update(id string, p Patch) (Note, error) {
	if p.Content != nil && strings.TrimSpace(*p.Content) == "" {
		return Note{}, ErrEmptyContent
	}

	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return Note{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	n := s.notes[i]
	if p.Title != nil {
		n.Title = strings.TrimSpace(*p.Title)
	}
	if p.Content != nil {
		n.Content = strings.TrimSpace(*p.Content)
	}
	if p.Language != nil {
		n.Language = *p.Language
	}
	n.UpdatedAt = s.now()
	s.notes[i] = n
	s.scheduleLocked()
	s.mu.Unlock()

	s.log.Event(diaglog.ComponentNoteStore, diaglog.EventNoteUpdated, map[string]interface{}{"id": id})
	return n, nil
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.notes = append(s.notes[:i:i], s.notes[i+1:]...)
	s.scheduleLocked()
	s.mu.Unlock()

	s.log.Event(diaglog.ComponentNoteStore, diaglog.EventNoteDeleted, map[string]interface{}{"id": id})
	return nil
}

func (s *Store) Get(id string) (Note, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.notes[i], true
	}
	return Note{}, false
}

// List returns a copy of all notes, newest first.
func (s *Store) List() []Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Note, len(s.notes))
	copy(out, s.notes)
	return out
}

// Filter is List narrowed by a case-insensitive search term.
func (s *Store) Filter(term string) []Note {
	return Filter(s.List(), term)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notes)
}

// Resolve finds a note by full id or by a unique id prefix.
func (s *Store) Resolve(ref string) (Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var match []Note
	for _, n := range s.notes {
		if n.ID == ref {
			return n, nil
		}
		if ref != "" && strings.HasPrefix(n.ID, ref) {
			match = append(match, n)
		}
	}
	switch len(match) {
	case 0:
		return Note{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	case 1:
		return match[0], nil
	default:
		return Note{}, fmt.Errorf("id prefix %q is ambiguous (%d notes)", ref, len(match))
	}
}

// Flush writes pending changes now.
func (s *Store) Flush() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	return s.persist()
}

// Reload replaces the collection with the stored snapshot. It does nothing
// and returns false while local changes are waiting to be written.
func (s *Store) Reload() (bool, error) {
	s.mu.Lock()
	dirty := s.dirty
	s.mu.Unlock()
	if dirty {
		return false, nil
	}

	notes, err := s.read()
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirty {
		return false, nil
	}
	s.notes = notes
	return true, nil
}

// PersistError returns the last persistence failure, if any.
func (s *Store) PersistError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistErr
}

// Close flushes pending changes.
func (s *Store) Close() error {
	return s.Flush()
}

func (s *Store) indexLocked(id string) int {
	for i := range s.notes {
		if s.notes[i].ID == id {
			return i
		}
	}
	return -1
}

// scheduleLocked marks the collection dirty and (re)arms the debounce timer.
func (s *Store) scheduleLocked() {
	s.dirty = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		if err := s.persist(); err != nil {
			s.log.Event(diaglog.ComponentNoteStore, diaglog.EventNotesPersistFailed, map[string]interface{}{
				"error": err.Error(),
			})
		}
	})
}

func (s *Store) persist() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	snapshot := make([]Note, len(s.notes))
	copy(snapshot, s.notes)
	s.dirty = false
	s.mu.Unlock()

	err := s.kv.Set(StorageKey, snapshot)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistErr = err
	if err != nil {
		s.dirty = true
		return fmt.Errorf("save notes: %w", err)
	}
	return nil
}
