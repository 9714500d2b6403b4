package kv

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/tiroq/voicenotes/internal/fileutil"
)

// File stores every key in a single JSON object on disk. The file is re-read
// on each operation so that several processes (the TUI and one-shot CLI
// commands) observe each other's writes; every mutation replaces the file
// atomically.
type File struct {
	path   string
	mu     sync.Mutex
	closed bool
}

// OpenFile prepares a file store at path. The file itself is created on the
// first write.
func OpenFile(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("kv: file path is empty")
	}
	f := &File{path: path}
	if _, err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

// Path returns the backing file, for Watch.
func (f *File) Path() string { return f.path }

func (f *File) Get(key string, dst any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false, ErrClosed
	}
	data, err := f.load()
	if err != nil {
		return false, err
	}
	raw, ok := data[key]
	if !ok {
		return false, nil
	}
	return true, decode(key, raw, dst)
}

func (f *File) Set(key string, value any) error {
	raw, err := encode(key, value)
	if err != nil {
		return err
	}
	return f.mutate(func(data map[string]json.RawMessage) bool {
		if old, ok := data[key]; ok && bytes.Equal(old, raw) {
			return false
		}
		data[key] = raw
		return true
	})
}

func (f *File) Remove(key string) error {
	return f.mutate(func(data map[string]json.RawMessage) bool {
		if _, ok := data[key]; !ok {
			return false
		}
		delete(data, key)
		return true
	})
}

func (f *File) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *File) mutate(fn func(map[string]json.RawMessage) bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	data, err := f.load()
	if err != nil {
		return err
	}
	if !fn(data) {
		return nil
	}
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("kv: encode store: %w", err)
	}
	if err := fileutil.WriteFileAtomic(f.path, append(out, '\n'), 0o600); err != nil {
		return fmt.Errorf("kv: write store: %w", err)
	}
	return nil
}

// load must be called with mu held. A missing or empty file is an empty store.
func (f *File) load() (map[string]json.RawMessage, error) {
	data := make(map[string]json.RawMessage)
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return data, nil
		}
		return nil, fmt.Errorf("kv: read store: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("kv: parse %s: %w", f.path, err)
	}
	return data, nil
}
