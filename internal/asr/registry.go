package asr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry manages transcription backends with an optional fallback. It is
// itself a Transcriber.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Transcriber
	primary  string
	fallback string
}

func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Transcriber),
	}
}

// Register adds a backend under its Name. The first registered backend
// becomes the primary.
func (r *Registry) Register(t Transcriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	r.backends[name] = t
	if r.primary == "" {
		r.primary = name
	}
}

func (r *Registry) SetPrimary(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[name]; !ok {
		return fmt.Errorf("asr: unknown backend %q", name)
	}
	r.primary = name
	return nil
}

func (r *Registry) SetFallback(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[name]; !ok {
		return fmt.Errorf("asr: unknown backend %q", name)
	}
	r.fallback = name
	return nil
}

func (r *Registry) Get(name string) (Transcriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.backends[name]
	return t, ok
}

func (r *Registry) Primary() Transcriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backends[r.primary]
}

// Fallback returns nil when no fallback is configured or it is the primary.
func (r *Registry) Fallback() Transcriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.fallback == "" || r.fallback == r.primary {
		return nil
	}
	return r.backends[r.fallback]
}

// Backends returns the registered names in sorted order.
func (r *Registry) Backends() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Name() string {
	if p := r.Primary(); p != nil {
		return p.Name()
	}
	return "none"
}

// Transcribe tries the primary backend, then the fallback. The primary's
// error is returned when both fail so its typed cause stays visible.
func (r *Registry) Transcribe(ctx context.Context, audio []byte, opts TranscribeOptions) (*Transcript, error) {
	primary := r.Primary()
	if primary == nil {
		return nil, errors.New("asr: no primary backend configured")
	}

	tr, err := primary.Transcribe(ctx, audio, opts)
	if err == nil {
		return tr, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	fallback := r.Fallback()
	if fallback == nil {
		return nil, err
	}
	tr, fbErr := fallback.Transcribe(ctx, audio, opts)
	if fbErr != nil {
		return nil, fmt.Errorf("%w (fallback %s: %v)", err, fallback.Name(), fbErr)
	}
	return tr, nil
}

// HealthCheck reports the primary backend's health.
func (r *Registry) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	primary := r.Primary()
	if primary == nil {
		return nil, errors.New("asr: no primary backend configured")
	}
	return primary.HealthCheck(ctx)
}
