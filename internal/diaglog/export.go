package diaglog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/tiroq/voicenotes/internal/fileutil"
)

// Version is injected at link time from the main package; defaults to "dev".
var Version = "dev"

// DiagBundle is the header line of an exported bundle.
type DiagBundle struct {
	ExportedAt string         `json:"exported_at"`
	AppVersion string         `json:"app_version"`
	GoVersion  string         `json:"go_version"`
	OS         string         `json:"os"`
	Arch       string         `json:"arch"`
	LogFile    string         `json:"log_file"`
	EntryCount int            `json:"entry_count"`
	FirstEntry string         `json:"first_entry,omitempty"`
	LastEntry  string         `json:"last_entry,omitempty"`
	Components map[string]int `json:"components,omitempty"`
}

// Export copies the NDJSON log at logPath into
// dest/voicenotes-diag-<ts>.ndjson behind a DiagBundle header and returns
// the bundle path and the number of entries copied. Blank lines are dropped.
func Export(logPath, dest string) (string, int, error) {
	src, err := os.Open(logPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", 0, fmt.Errorf("log file not found at %s: %w", logPath, os.ErrNotExist)
		}
		return "", 0, fmt.Errorf("log file unreadable: %w", err)
	}
	defer func() { _ = src.Close() }()

	now := time.Now().UTC()
	bundle := DiagBundle{
		ExportedAt: now.Format(time.RFC3339),
		AppVersion: Version,
		GoVersion:  runtime.Version(),
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		LogFile:    logPath,
		Components: make(map[string]int),
	}

	// The rolling writer caps the log at 10 MB, so it fits in memory.
	var body bytes.Buffer
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		body.Write(line)
		body.WriteByte('\n')
		bundle.EntryCount++

		var probe struct {
			Timestamp string `json:"ts"`
			Component string `json:"component"`
		}
		if json.Unmarshal(line, &probe) != nil {
			continue
		}
		if probe.Component != "" {
			bundle.Components[probe.Component]++
		}
		if probe.Timestamp != "" {
			if bundle.FirstEntry == "" {
				bundle.FirstEntry = probe.Timestamp
			}
			bundle.LastEntry = probe.Timestamp
		}
	}
	if err := scanner.Err(); err != nil {
		return "", 0, fmt.Errorf("log file unreadable: %w", err)
	}

	header, err := json.Marshal(bundle)
	if err != nil {
		return "", 0, err
	}
	out := make([]byte, 0, len(header)+1+body.Len())
	out = append(out, header...)
	out = append(out, '\n')
	out = append(out, body.Bytes()...)

	path := filepath.Join(dest, "voicenotes-diag-"+now.Format("20060102T150405")+".ndjson")
	if err := fileutil.WriteFileAtomic(path, out, 0o644); err != nil {
		return "", 0, fmt.Errorf("writing bundle: %w", err)
	}
	return path, bundle.EntryCount, nil
}
