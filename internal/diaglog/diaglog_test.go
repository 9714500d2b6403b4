package diaglog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readLines(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var lines []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var m map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			t.Fatalf("invalid JSON line: %v -> %s", err, scanner.Text())
		}
		lines = append(lines, m)
	}
	return lines
}

func TestLogWritesNDJSON(t *testing.T) {
	t.Setenv("VOICENOTES_DEBUG", "true")

	tmp := filepath.Join(t.TempDir(), "test.ndjson")
	l, err := New(tmp, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	entries := []LogEntry{
		{Component: ComponentSession, Event: EventRecordingStart},
		{Component: ComponentSession, Event: EventRecognitionError, Reason: "network", SessionID: "abc123"},
		{Component: ComponentNoteStore, Event: EventNoteCreatedVoice},
	}
	for _, e := range entries {
		l.Log(e)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	lines := readLines(t, tmp)
	if len(lines) != len(entries) {
		t.Fatalf("want %d lines, got %d", len(entries), len(lines))
	}
	if lines[0]["component"] != ComponentSession {
		t.Errorf("component mismatch: %v", lines[0]["component"])
	}
	if lines[1]["session_id"] != "abc123" {
		t.Errorf("session_id mismatch: %v", lines[1]["session_id"])
	}
	if lines[1]["reason"] != "network" {
		t.Errorf("reason mismatch: %v", lines[1]["reason"])
	}
	if lines[0]["ts"] == nil {
		t.Error("ts field missing")
	}
	if _, ok := lines[0]["session_id"]; ok {
		t.Error("empty session_id should be omitted")
	}
}

func TestForceEnablesWithoutEnv(t *testing.T) {
	t.Setenv("VOICENOTES_DEBUG", "")

	tmp := filepath.Join(t.TempDir(), "nested", "forced.ndjson")
	l, err := New(tmp, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !l.Enabled() {
		t.Fatal("forced logger should be enabled")
	}
	l.Event(ComponentTUI, EventAppLoaded, map[string]interface{}{"notes": 3})
	_ = l.Close()

	lines := readLines(t, tmp)
	if len(lines) != 1 {
		t.Fatalf("want 1 line, got %d", len(lines))
	}
	payload, ok := lines[0]["payload"].(map[string]interface{})
	if !ok {
		t.Fatalf("payload missing: %v", lines[0])
	}
	if payload["notes"] != float64(3) {
		t.Errorf("payload notes: %v", payload["notes"])
	}
}

func TestPayloadIsRedactedOnWrite(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "redact.ndjson")
	l, err := New(tmp, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Event(ComponentRemoteASR, EventTranscriptionError, map[string]interface{}{
		"Authorization": "Bearer hf_xxx",
		"status":        401,
	})
	_ = l.Close()

	data, err := os.ReadFile(tmp)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Contains(string(data), "hf_xxx") {
		t.Errorf("token leaked into log: %s", data)
	}
}

func TestRollingRotatesAtMaxSize(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "roll.ndjson")
	const maxSize = 1024
	rw, err := newRollingWriter(tmp, maxSize)
	if err != nil {
		t.Fatalf("newRollingWriter: %v", err)
	}
	defer rw.close()

	chunk := []byte(strings.Repeat("x", 512) + "\n")
	for i := 0; i < 3; i++ {
		if _, err := rw.Write(chunk); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	info, err := os.Stat(tmp)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() > maxSize {
		t.Errorf("file size %d exceeds maxSize %d", info.Size(), maxSize)
	}
	if _, err := os.Stat(tmp + ".1"); err != nil {
		t.Errorf("previous generation missing: %v", err)
	}
}

func TestRedactSensitiveFields(t *testing.T) {
	input := map[string]interface{}{
		"Authorization": "Bearer x",
		"token":         "tok",
		"api_token":     "hf_1",
		"auth":          "tok",
		"password":      "hunter2",
		"secret":        "s3cr3t",
		"safe_field":    "keep-me",
		"nested": map[string]interface{}{
			"password": "nested-pass",
			"ok":       "value",
		},
		"headers": map[string]string{"authorization": "Bearer y", "accept": "*/*"},
	}

	out := Redact(input).(map[string]interface{})
	for _, k := range []string{"Authorization", "token", "api_token", "auth", "password", "secret"} {
		if out[k] != "[REDACTED]" {
			t.Errorf("key %q: want [REDACTED], got %v", k, out[k])
		}
	}
	if out["safe_field"] != "keep-me" {
		t.Errorf("safe_field should be preserved")
	}
	nested := out["nested"].(map[string]interface{})
	if nested["password"] != "[REDACTED]" {
		t.Error("nested password not redacted")
	}
	if nested["ok"] != "value" {
		t.Error("nested ok field should be preserved")
	}
	headers := out["headers"].(map[string]interface{})
	if headers["authorization"] != "[REDACTED]" || headers["accept"] != "*/*" {
		t.Errorf("headers: %v", headers)
	}
}

func TestNoOpWhenDisabled(t *testing.T) {
	t.Setenv("VOICENOTES_DEBUG", "")

	tmp := filepath.Join(t.TempDir(), "noop.ndjson")
	l, err := New(tmp, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Log(LogEntry{Component: ComponentSession, Event: EventRecordingStart})
	_ = l.Close()

	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Error("log file should not exist when debug disabled")
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Event(ComponentSession, EventRecordingStop, nil)
	if l.Enabled() {
		t.Error("nil logger reports enabled")
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
