package kv

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiroq/voicenotes/internal/config"
)

type sample struct {
	Name  string   `json:"name"`
	Count int      `json:"count"`
	Tags  []string `json:"tags,omitempty"`
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	file, err := OpenFile(filepath.Join(dir, "store.json"))
	require.NoError(t, err)
	db, err := OpenSQLite(context.Background(), filepath.Join(dir, "store.db"))
	require.NoError(t, err)

	stores := map[string]Store{
		"memory": NewMemory(),
		"file":   file,
		"sqlite": db,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func TestStoreContract(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var got sample
			found, err := s.Get("missing", &got)
			require.NoError(t, err)
			assert.False(t, found)

			want := sample{Name: "voice", Count: 2, Tags: []string{"a"}}
			require.NoError(t, s.Set("k", want))

			found, err = s.Get("k", &got)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, want, got)

			require.NoError(t, s.Set("k", sample{Name: "updated"}))
			var again sample
			_, err = s.Get("k", &again)
			require.NoError(t, err)
			assert.Equal(t, "updated", again.Name)

			var lang string
			require.NoError(t, s.Set("voice-notes-language", "si-LK"))
			found, err = s.Get("voice-notes-language", &lang)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "si-LK", lang)

			require.NoError(t, s.Remove("k"))
			require.NoError(t, s.Remove("k"))
			found, err = s.Get("k", &got)
			require.NoError(t, err)
			assert.False(t, found)

			require.NoError(t, s.Close())
			_, err = s.Get("voice-notes-language", &lang)
			assert.ErrorIs(t, err, ErrClosed)
			assert.ErrorIs(t, s.Set("x", 1), ErrClosed)
		})
	}
}

func TestFileStoreSharedBetweenHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	a, err := OpenFile(path)
	require.NoError(t, err)
	b, err := OpenFile(path)
	require.NoError(t, err)

	require.NoError(t, a.Set("voice-notes", []string{"one"}))
	require.NoError(t, b.Set("voice-notes-language", "en-GB"))

	var notes []string
	found, err := b.Get("voice-notes", &notes)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"one"}, notes)

	var lang string
	found, err = a.Get("voice-notes-language", &lang)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "en-GB", lang)
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := OpenFile(path)
	assert.Error(t, err)
}

func TestFileStoreEmptyFileIsEmptyStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	s, err := OpenFile(path)
	require.NoError(t, err)
	var v string
	found, err := s.Get("anything", &v)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "store.db")
	ctx := context.Background()

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Set("voice-notes-language", "en-GB"))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	var lang string
	found, err := s.Get("voice-notes-language", &lang)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "en-GB", lang)
}

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.StorageConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = Open(ctx, config.StorageConfig{Backend: "file", Path: filepath.Join(t.TempDir(), "s.json")})
	require.NoError(t, err)
	assert.IsType(t, &File{}, s)

	_, err = Open(ctx, config.StorageConfig{Backend: "etcd"})
	assert.Error(t, err)
}

func TestWatchFiresOnExternalWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	writer, err := OpenFile(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan struct{}, 8)
	go func() {
		_ = Watch(ctx, path, func() { fired <- struct{}{} })
	}()
	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, writer.Set("voice-notes", []string{"from cli"}))

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("watch callback not called after write")
	}
}
