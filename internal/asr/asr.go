// Package asr defines the remote transcription capability: a best-effort
// call that turns a recorded WAV payload into text.
package asr

import (
	"context"
	"time"
)

// Segment is a timed piece of a transcript, when the backend reports one.
type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
	Score float64 // confidence 0.0–1.0
}

// Transcript is a complete transcription result.
type Transcript struct {
	Text     string
	Segments []Segment
	Language string
	Model    string
	Backend  string
}

// TranscribeOptions configures a transcription request.
type TranscribeOptions struct {
	Language string // primary language subtag, "" = auto-detect
	Model    string // backend-specific model name
}

// HealthStatus reports backend reachability.
type HealthStatus struct {
	OK      bool
	Backend string
	Message string
	Latency time.Duration
}

// Transcriber is implemented by every transcription backend. Audio is a
// complete WAV file.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, audio []byte, opts TranscribeOptions) (*Transcript, error)
	HealthCheck(ctx context.Context) (*HealthStatus, error)
}
