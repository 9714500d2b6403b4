// Package localwhisper transcribes with a whisper CLI binary on this machine.
// It is the offline fallback for the remote backend.
package localwhisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/tiroq/voicenotes/internal/asr"
)

// Config configures the local whisper CLI backend.
type Config struct {
	Binary         string // path or name on PATH, e.g. whisper-cli
	ModelPath      string // path to the ggml model file
	Threads        int    // CPU threads (0 = binary default)
	TimeoutSeconds int    // default 120
}

// Backend shells out to a whisper CLI binary.
type Backend struct {
	cfg Config
}

func NewBackend(cfg Config) *Backend {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 120
	}
	return &Backend{cfg: cfg}
}

func (b *Backend) Name() string {
	return "local_whisper"
}

// whisperOutput is the JSON some whisper CLIs print with --output-json.
type whisperOutput struct {
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
		Score float64 `json:"score"`
	} `json:"segments"`
	Language string `json:"language"`
}

// Transcribe writes the WAV payload to a temp file and runs the binary on it.
// JSON output is parsed into segments; anything else is taken as plain text.
func (b *Backend) Transcribe(ctx context.Context, audio []byte, opts asr.TranscribeOptions) (*asr.Transcript, error) {
	if len(audio) == 0 {
		return nil, asr.ErrEmptyAudio
	}
	bin, err := b.resolveBinary()
	if err != nil {
		return nil, err
	}

	f, err := os.CreateTemp("", "voicenotes-*.wav")
	if err != nil {
		return nil, fmt.Errorf("localwhisper: create temp file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(audio); err != nil {
		f.Close()
		return nil, fmt.Errorf("localwhisper: write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("localwhisper: close temp file: %w", err)
	}

	timeout := time.Duration(b.cfg.TimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, b.buildArgs(f.Name(), opts)...)
	// Own process group so the whole tree dies on cancel.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("localwhisper: transcription timed out after %d seconds", b.cfg.TimeoutSeconds)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 200 {
			msg = msg[:200] + "..."
		}
		return nil, fmt.Errorf("localwhisper: subprocess failed: %w: %s", err, msg)
	}

	tr := &asr.Transcript{
		Language: opts.Language,
		Model:    b.cfg.ModelPath,
		Backend:  b.Name(),
	}
	out := bytes.TrimSpace(stdout.Bytes())
	var parsed whisperOutput
	if json.Unmarshal(out, &parsed) == nil {
		var parts []string
		for _, seg := range parsed.Segments {
			tr.Segments = append(tr.Segments, asr.Segment{
				Start: floatToDuration(seg.Start),
				End:   floatToDuration(seg.End),
				Text:  seg.Text,
				Score: seg.Score,
			})
			parts = append(parts, strings.TrimSpace(seg.Text))
		}
		tr.Text = strings.Join(parts, " ")
		if parsed.Language != "" {
			tr.Language = parsed.Language
		}
		return tr, nil
	}
	tr.Text = strings.Join(strings.Fields(string(out)), " ")
	return tr, nil
}

// HealthCheck verifies the binary and model exist and the binary runs.
func (b *Backend) HealthCheck(ctx context.Context) (*asr.HealthStatus, error) {
	status := &asr.HealthStatus{Backend: b.Name()}

	bin, err := b.resolveBinary()
	if err != nil {
		status.Message = err.Error()
		return status, nil
	}
	info, err := os.Stat(bin)
	if err != nil {
		status.Message = fmt.Sprintf("binary not found at %q: %v", bin, err)
		return status, nil
	}
	if info.Mode()&0111 == 0 {
		status.Message = fmt.Sprintf("binary at %q is not executable", bin)
		return status, nil
	}
	if b.cfg.ModelPath != "" {
		if _, err := os.Stat(b.cfg.ModelPath); err != nil {
			status.Message = fmt.Sprintf("model not found at %q: %v", b.cfg.ModelPath, err)
			return status, nil
		}
	}

	start := time.Now()
	err = exec.CommandContext(ctx, bin, "--help").Run()
	status.Latency = time.Since(start)
	// --help may exit non-zero; it only has to execute.
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		status.Message = fmt.Sprintf("binary failed to execute: %v", err)
		return status, nil
	}

	status.OK = true
	status.Message = "binary is available and executable"
	return status, nil
}

func (b *Backend) resolveBinary() (string, error) {
	if b.cfg.Binary == "" {
		return "", errors.New("localwhisper: no binary configured")
	}
	path, err := exec.LookPath(b.cfg.Binary)
	if err != nil {
		return "", fmt.Errorf("localwhisper: binary %q not found: %w", b.cfg.Binary, err)
	}
	return path, nil
}

func (b *Backend) buildArgs(filePath string, opts asr.TranscribeOptions) []string {
	var args []string
	if b.cfg.ModelPath != "" {
		args = append(args, "--model", b.cfg.ModelPath)
	}
	args = append(args, "--no-timestamps")
	if opts.Language != "" {
		args = append(args, "--language", opts.Language)
	}
	if b.cfg.Threads > 0 {
		args = append(args, "--threads", strconv.Itoa(b.cfg.Threads))
	}
	args = append(args, "--file", filePath)
	return args
}

func floatToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
