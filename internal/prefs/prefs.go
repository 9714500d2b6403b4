// Package prefs persists the recognition language preference.
package prefs

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tiroq/voicenotes/internal/diaglog"
	"github.com/tiroq/voicenotes/internal/kv"
)

const (
	LanguageKey     = "voice-notes-language"
	DefaultLanguage = "en-US"
)

type Language struct {
	Code string
	Name string
}

// Languages is the supported recognition locale table, in display order.
var Languages = []Language{
	{Code: "en-US", Name: "English (US)"},
	{Code: "en-GB", Name: "English (UK)"},
	{Code: "si-LK", Name: "Sinhala (Sri Lanka)"},
}

// Lookup returns the table entry for code.
func Lookup(code string) (Language, bool) {
	for _, l := range Languages {
		if strings.EqualFold(l.Code, code) {
			return l, true
		}
	}
	return Language{}, false
}

// Hint is the transcription language hint for a locale: its primary subtag.
func Hint(code string) string {
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	return strings.ToLower(code)
}

type Prefs struct {
	kv       kv.Store
	log      *diaglog.Logger
	fallback string

	mu      sync.Mutex
	current string
}

// Load reads the stored language. Unknown or missing values resolve to
// fallback (DefaultLanguage when fallback is not supported).
func Load(store kv.Store, fallback string, log *diaglog.Logger) (*Prefs, error) {
	if _, ok := Lookup(fallback); !ok {
		fallback = DefaultLanguage
	}
	p := &Prefs{kv: store, log: log, fallback: fallback, current: fallback}

	var code string
	found, err := store.Get(LanguageKey, &code)
	if err != nil {
		return p, fmt.Errorf("load language: %w", err)
	}
	if l, ok := Lookup(code); found && ok {
		p.current = l.Code
	}
	return p, nil
}

// Language returns the current locale code.
func (p *Prefs) Language() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// SetLanguage validates and persists code. The in-memory value changes even
// when the write fails.
func (p *Prefs) SetLanguage(code string) error {
	l, ok := Lookup(code)
	if !ok {
		return fmt.Errorf("unsupported language %q", code)
	}
	p.mu.Lock()
	prev := p.current
	p.current = l.Code
	p.mu.Unlock()

	p.log.Event(diaglog.ComponentPreferences, diaglog.EventLanguageChanged, map[string]interface{}{
		"from": prev,
		"to":   l.Code,
	})
	if err := p.kv.Set(LanguageKey, l.Code); err != nil {
		return fmt.Errorf("save language: %w", err)
	}
	return nil
}

// Next switches to the following language in the table, wrapping around.
func (p *Prefs) Next() (Language, error) {
	cur := p.Language()
	idx := 0
	for i, l := range Languages {
		if l.Code == cur {
			idx = (i + 1) % len(Languages)
			break
		}
	}
	next := Languages[idx]
	return next, p.SetLanguage(next.Code)
}
