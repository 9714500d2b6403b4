// Package remotewhisper calls a hosted Whisper inference endpoint with a raw
// WAV body.
package remotewhisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tiroq/voicenotes/internal/asr"
	"github.com/tiroq/voicenotes/internal/diaglog"
)

// Config configures the remote Whisper client.
type Config struct {
	Endpoint       string
	Token          string // sent as Bearer, required
	TimeoutSeconds int    // default 60
	Retries        int    // extra attempts on 5xx/network errors, default 0
}

// Client is an asr.Transcriber for a Whisper inference endpoint.
type Client struct {
	cfg         Config
	client      *http.Client
	backoffBase time.Duration // default time.Second; tests override to 1ms

	logger   *diaglog.Logger
	loggerMu sync.RWMutex
}

func NewClient(cfg Config) *Client {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 60
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Client{
		cfg:         cfg,
		backoffBase: time.Second,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// SetLogger injects a diaglog.Logger for debug logging.
func (c *Client) SetLogger(l *diaglog.Logger) {
	c.loggerMu.Lock()
	c.logger = l
	c.loggerMu.Unlock()
}

func (c *Client) log(event string, payload map[string]interface{}) {
	c.loggerMu.RLock()
	l := c.logger
	c.loggerMu.RUnlock()
	l.Event(diaglog.ComponentRemoteASR, event, payload)
}

func (c *Client) Name() string {
	return "remote_whisper"
}

// Transcribe posts the WAV payload and returns the trimmed text. Only 5xx
// answers without a specific meaning and transport errors are retried, up to
// Config.Retries times.
func (c *Client) Transcribe(ctx context.Context, audio []byte, opts asr.TranscribeOptions) (*asr.Transcript, error) {
	if c.cfg.Token == "" {
		return nil, asr.ErrNoToken
	}
	if len(audio) == 0 {
		return nil, asr.ErrEmptyAudio
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			backoff := c.backoff(attempt)
			c.log("transcribe_retry", map[string]interface{}{
				"attempt":    attempt,
				"backoff_ms": backoff.Milliseconds(),
			})
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		text, err := c.doTranscribe(ctx, audio, opts.Language)
		if err == nil {
			c.log(diaglog.EventTranscriptionSuccess, map[string]interface{}{
				"language":    opts.Language,
				"audio_bytes": len(audio),
				"text_length": len(text),
				"latency_ms":  time.Since(start).Milliseconds(),
			})
			return &asr.Transcript{
				Text:     text,
				Language: opts.Language,
				Backend:  c.Name(),
			}, nil
		}
		lastErr = err
		if !isRetryable(err) || ctx.Err() != nil {
			break
		}
	}

	c.log(diaglog.EventTranscriptionError, map[string]interface{}{
		"language": opts.Language,
		"error":    lastErr.Error(),
	})
	return nil, fmt.Errorf("transcribe: %w", lastErr)
}

func (c *Client) doTranscribe(ctx context.Context, audio []byte, language string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(audio))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	if language != "" && language != "auto" {
		// Cached answers ignore a language change.
		req.Header.Set("X-Use-Cache", "false")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &retryableError{err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &retryableError{err: fmt.Errorf("read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		herr := asr.NewHTTPError(resp.StatusCode, truncate(body, 200))
		if herr.Retryable() {
			return "", &retryableError{err: herr}
		}
		return "", herr
	}

	return parseText(body)
}

// parseText accepts the shapes inference endpoints answer with: a bare
// string, {"text": ...}, or an array of either.
func parseText(body []byte) (string, error) {
	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", fmt.Errorf("%w: %v", asr.ErrBadResponse, err)
	}
	if arr, ok := raw.([]interface{}); ok {
		if len(arr) == 0 {
			return "", asr.ErrBadResponse
		}
		raw = arr[0]
	}
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v), nil
	case map[string]interface{}:
		if text, ok := v["text"].(string); ok {
			return strings.TrimSpace(text), nil
		}
	}
	return "", asr.ErrBadResponse
}

// HealthCheck checks that the endpoint is reachable. Inference endpoints
// answer GET with 405, which counts as healthy.
func (c *Client) HealthCheck(ctx context.Context) (*asr.HealthStatus, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create health request: %w", err)
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return &asr.HealthStatus{
			OK:      false,
			Backend: c.Name(),
			Message: fmt.Sprintf("health check failed: %v", err),
			Latency: latency,
		}, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	status := &asr.HealthStatus{Backend: c.Name(), Latency: latency}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300, resp.StatusCode == http.StatusMethodNotAllowed:
		status.OK = true
		status.Message = "reachable"
		if c.cfg.Token == "" {
			status.Message = "reachable, but no API token configured"
		}
	default:
		status.Message = asr.UserMessage(asr.NewHTTPError(resp.StatusCode, truncate(body, 200)))
	}
	return status, nil
}

// retryableError wraps errors that should trigger a retry.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// backoff returns exponential backoff duration: base * 2^(attempt-1) + jitter.
func (c *Client) backoff(attempt int) time.Duration {
	base := c.backoffBase
	if base <= 0 {
		base = time.Second
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	// Add jitter: 0–25% of delay.
	jitter := time.Duration(rand.Int63n(int64(delay/4) + 1))
	return delay + jitter
}

// truncate returns the first n bytes of body as a string.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
