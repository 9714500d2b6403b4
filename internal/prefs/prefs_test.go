package prefs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiroq/voicenotes/internal/kv"
)

func TestLoadDefaultsWhenUnset(t *testing.T) {
	p, err := Load(kv.NewMemory(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultLanguage, p.Language())

	p, err = Load(kv.NewMemory(), "en-GB", nil)
	require.NoError(t, err)
	assert.Equal(t, "en-GB", p.Language())
}

func TestSetLanguagePersists(t *testing.T) {
	store := kv.NewMemory()
	p, err := Load(store, "", nil)
	require.NoError(t, err)

	require.NoError(t, p.SetLanguage("si-lk"))
	assert.Equal(t, "si-LK", p.Language())

	again, err := Load(store, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "si-LK", again.Language())

	assert.Error(t, p.SetLanguage("fr-FR"))
	assert.Equal(t, "si-LK", p.Language())
}

func TestUnknownStoredValueFallsBack(t *testing.T) {
	store := kv.NewMemory()
	require.NoError(t, store.Set(LanguageKey, "xx-XX"))

	p, err := Load(store, "", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultLanguage, p.Language())
}

func TestNextCycles(t *testing.T) {
	p, err := Load(kv.NewMemory(), "", nil)
	require.NoError(t, err)

	var seen []string
	for range Languages {
		l, err := p.Next()
		require.NoError(t, err)
		seen = append(seen, l.Code)
	}
	assert.Equal(t, []string{"en-GB", "si-LK", "en-US"}, seen)
}

func TestHint(t *testing.T) {
	assert.Equal(t, "en", Hint("en-GB"))
	assert.Equal(t, "si", Hint("si-LK"))
	assert.Equal(t, "en", Hint("en"))
}
