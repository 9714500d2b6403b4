package asr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNoToken          = errors.New("asr: API token not configured")
	ErrUnauthorized     = errors.New("asr: unauthorized")
	ErrModelUnavailable = errors.New("asr: model unavailable")
	ErrBadInput         = errors.New("asr: audio rejected")
	ErrEmptyAudio       = errors.New("asr: no audio recorded")
	ErrBadResponse      = errors.New("asr: unexpected response format")
)

// HTTPError is a non-2xx answer from a transcription endpoint. It unwraps to
// the matching sentinel (ErrUnauthorized, ErrModelUnavailable, ErrBadInput)
// when the status has one.
type HTTPError struct {
	StatusCode int
	Body       string
	kind       error
}

// NewHTTPError classifies a failed response.
func NewHTTPError(status int, body string) *HTTPError {
	e := &HTTPError{StatusCode: status, Body: body}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		e.kind = ErrUnauthorized
	case http.StatusServiceUnavailable:
		e.kind = ErrModelUnavailable
	case http.StatusBadRequest, http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		e.kind = ErrBadInput
	}
	return e
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("asr: http %d", e.StatusCode)
	}
	return fmt.Sprintf("asr: http %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPError) Unwrap() error { return e.kind }

// Retryable reports whether repeating the request may succeed.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode >= 500 && e.kind == nil
}

// UserMessage turns a transcription failure into a one-line status message.
func UserMessage(err error) string {
	var he *HTTPError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoToken):
		return "Transcription API token not configured. Set HUGGINGFACE_API_TOKEN."
	case errors.Is(err, ErrUnauthorized):
		return "Invalid API token. Please check your transcription API token."
	case errors.Is(err, ErrModelUnavailable):
		return "Whisper model is loading. Please try again in a few seconds."
	case errors.Is(err, ErrBadInput):
		return "Audio format not supported. Please try again with a different recording."
	case errors.Is(err, ErrEmptyAudio):
		return "No audio was recorded."
	case errors.As(err, &he):
		return fmt.Sprintf("API error: %d - %s", he.StatusCode, he.Body)
	default:
		return "Could not transcribe audio. Please try again."
	}
}
