// Package kv is the local key-value persistence used for the note snapshot
// and the language preference. Values are stored as JSON text.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tiroq/voicenotes/internal/config"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("kv: store closed")

// Store is a string-keyed store of JSON values.
type Store interface {
	// Get decodes the value under key into dst. found is false when the key
	// does not exist; dst is left untouched in that case.
	Get(key string, dst any) (found bool, err error)
	Set(key string, value any) error
	Remove(key string) error
	Close() error
}

// Open returns the backend selected by cfg.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "file", "":
		return OpenFile(cfg.Path)
	case "sqlite":
		return OpenSQLite(ctx, cfg.Path)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("kv: unknown backend %q", cfg.Backend)
	}
}

func encode(key string, value any) (json.RawMessage, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("kv: encode %s: %w", key, err)
	}
	return data, nil
}

func decode(key string, raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("kv: decode %s: %w", key, err)
	}
	return nil
}
