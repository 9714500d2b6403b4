// Package audio provides exclusive microphone capture and WAV encoding for
// the speech engines.
package audio

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrBusy is returned by Acquire while another stream is open.
	ErrBusy = errors.New("microphone already in use")
	// ErrNoDevice is returned when no capture device or program can be used.
	ErrNoDevice = errors.New("no audio capture device available")
)

// Format describes signed 16-bit little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond is the PCM data rate for f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Stream is an open capture. Release stops it and is safe to call more than
// once; reads after Release return io.EOF or an error.
type Stream interface {
	io.Reader
	Format() Format
	Release() error
}

// Microphone hands out at most one Stream at a time.
type Microphone interface {
	Available() error
	Acquire(ctx context.Context) (Stream, error)
}
