package speech

import (
	"context"
	"errors"
)

// ErrorCode is the engine's reason string for an error event.
type ErrorCode string

const (
	CodeNotAllowed           ErrorCode = "not-allowed"
	CodeServiceNotAllowed    ErrorCode = "service-not-allowed"
	CodeAudioCapture         ErrorCode = "audio-capture"
	CodeLanguageNotSupported ErrorCode = "language-not-supported"
	CodeUnsupported          ErrorCode = "unsupported"
	CodeTranscription        ErrorCode = "transcription-failed"
	CodeNetwork              ErrorCode = "network"
	CodeNoSpeech             ErrorCode = "no-speech"
	CodeAborted              ErrorCode = "aborted"
)

// Terminal reports whether the error ends the session without a retry.
// Codes not listed here are transient.
func (c ErrorCode) Terminal() bool {
	switch c {
	case CodeNotAllowed, CodeServiceNotAllowed, CodeAudioCapture,
		CodeLanguageNotSupported, CodeUnsupported, CodeTranscription:
		return true
	}
	return false
}

// Error is an engine-reported recognition error.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return "speech: " + string(e.Code)
	}
	return "speech: " + string(e.Code) + ": " + e.Message
}

func (e *Error) Terminal() bool { return e.Code.Terminal() }

// UserMessage is a short status line for the error.
func (e *Error) UserMessage() string {
	switch e.Code {
	case CodeNotAllowed, CodeServiceNotAllowed:
		return "Microphone access denied. Please allow microphone access."
	case CodeAudioCapture:
		return "No microphone found or it is in use."
	case CodeLanguageNotSupported:
		return "The selected language is not supported by this engine."
	case CodeUnsupported:
		return "Speech recognition is not supported here."
	case CodeNetwork:
		return "Network error. Reconnecting..."
	case CodeNoSpeech:
		return "No speech detected."
	case CodeAborted:
		return "Recognition was interrupted."
	case CodeTranscription:
		if e.Message != "" {
			return e.Message
		}
		return "Transcription failed. Please record again."
	default:
		return "Recognition error: " + string(e.Code)
	}
}

// AsError converts err into an *Error. Errors that are not already speech
// errors become transient network errors, except cancellation which maps
// to aborted.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Code: CodeAborted, Message: err.Error()}
	}
	return &Error{Code: CodeNetwork, Message: err.Error()}
}
