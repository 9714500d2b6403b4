// Package diaglog provides structured NDJSON diagnostic logging for voicenotes.
// Activated by VOICENOTES_DEBUG=true (or log.debug in the config file). When
// disabled, all Log calls are no-ops and no file is created.
package diaglog

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ── Component labels ─────────────────────────────────────────────────────────

const (
	ComponentSession     = "session"
	ComponentNoteStore   = "note-store"
	ComponentSpeech      = "speech-engine"
	ComponentRemoteASR   = "remote-asr"
	ComponentKV          = "kv-store"
	ComponentExport      = "export"
	ComponentTUI         = "tui"
	ComponentCLI         = "cli"
	ComponentDiagExport  = "diag-export"
	ComponentPreferences = "preferences"
)

// ── Event names ──────────────────────────────────────────────────────────────

const (
	EventAppLoaded            = "app_loaded"
	EventNoteCreatedVoice     = "note_created_voice"
	EventNoteCreatedManual    = "note_created_manual"
	EventNoteUpdated          = "note_updated"
	EventNoteDeleted          = "note_deleted"
	EventNotesExported        = "notes_exported"
	EventNotesPersistFailed   = "notes_persist_failed"
	EventRecordingStart       = "voice_recording_start"
	EventRecordingStop        = "voice_recording_stop"
	EventRecordingComplete    = "voice_recording_complete"
	EventTranscriptPartial    = "voice_transcript_partial"
	EventRecognitionError     = "voice_recognition_error"
	EventRecognitionRestart   = "voice_recognition_restart"
	EventStateTransition      = "state_transition"
	EventStaleEvent           = "stale_event_ignored"
	EventLanguageChanged      = "language_changed"
	EventTranscriptionSuccess = "whisper_transcription_success"
	EventTranscriptionError   = "whisper_transcription_error"
	EventWSConnect            = "ws_connect"
	EventWSDisconnect         = "ws_disconnect"
	EventStoreChangedOnDisk   = "store_changed_on_disk"
)

// ── LogEntry ─────────────────────────────────────────────────────────────────

// LogEntry is one structured event record written as a single JSON line.
type LogEntry struct {
	Timestamp string      `json:"ts"`
	Component string      `json:"component"`
	Event     string      `json:"event"`
	SessionID string      `json:"session_id,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Payload   interface{} `json:"payload,omitempty"` // redacted before write
}

// ── Logger ───────────────────────────────────────────────────────────────────

// Logger writes LogEntry values to a rolling NDJSON file through zerolog.
// When debug mode is disabled every Log call is a no-op.
type Logger struct {
	rw      *rollingWriter
	zl      zerolog.Logger
	mu      sync.Mutex
	enabled bool
}

// New opens (or creates) the NDJSON log file at path. Unless force is set or
// VOICENOTES_DEBUG is "true", path is ignored and a no-op logger is returned.
func New(path string, force bool) (*Logger, error) {
	if !force && !IsDebugEnabled() {
		return &Logger{enabled: false}, nil
	}
	rw, err := newRollingWriter(path, 10*1024*1024)
	if err != nil {
		return nil, err
	}
	return &Logger{rw: rw, zl: zerolog.New(rw), enabled: true}, nil
}

// Log writes entry as one JSON line. Sensitive payload fields are redacted
// before serialisation.
func (l *Logger) Log(entry LogEntry) {
	if l == nil || !l.enabled {
		return
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ev := l.zl.Log().
		Str("ts", entry.Timestamp).
		Str("component", entry.Component).
		Str("event", entry.Event)
	if entry.SessionID != "" {
		ev = ev.Str("session_id", entry.SessionID)
	}
	if entry.Reason != "" {
		ev = ev.Str("reason", entry.Reason)
	}
	if entry.Payload != nil {
		ev = ev.Interface("payload", Redact(entry.Payload))
	}
	ev.Send()
}

// Event is shorthand for Log with a component, event name and payload.
func (l *Logger) Event(component, event string, payload map[string]interface{}) {
	e := LogEntry{Component: component, Event: event}
	if len(payload) > 0 {
		e.Payload = payload
	}
	l.Log(e)
}

// Enabled reports whether entries are written anywhere.
func (l *Logger) Enabled() bool {
	return l != nil && l.enabled
}

// Close flushes and closes the underlying file. Safe on nil/disabled logger.
func (l *Logger) Close() error {
	if l == nil || !l.enabled || l.rw == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rw.close()
}

// IsDebugEnabled reports whether VOICENOTES_DEBUG is set to "true".
func IsDebugEnabled() bool {
	return os.Getenv("VOICENOTES_DEBUG") == "true"
}

// NewNoOp returns a logger where every Log call is a no-op. Use as a safe
// fallback when New fails (e.g., disk full, permissions error).
func NewNoOp() *Logger {
	return &Logger{enabled: false}
}
