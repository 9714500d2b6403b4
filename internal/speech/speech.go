// Package speech defines the recognition engine capability the recording
// session drives, and the events engines report back.
package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrUnavailable is returned by Engine.Available when the engine cannot be
// used at all in this environment.
var ErrUnavailable = errors.New("speech engine unavailable")

// Config is passed to every engine run.
type Config struct {
	Locale         string
	Continuous     bool
	InterimResults bool
	SampleRate     int
	Channels       int
}

// Result is one recognised fragment. Index numbers fragments within a single
// engine run; an engine may re-deliver a fragment with the same index.
type Result struct {
	Index      int
	Text       string
	Final      bool
	Confidence float64
}

type EventKind int

const (
	EventStart EventKind = iota
	EventResult
	EventError
	EventEnd
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventResult:
		return "result"
	case EventError:
		return "error"
	case EventEnd:
		return "end"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

type Event struct {
	Kind    EventKind
	Results []Result
	Err     *Error
}

// Sink receives the events of one engine run. An engine delivers at most one
// EventStart and exactly one EventEnd per successful Start, End last.
type Sink func(Event)

// Engine is a recognition backend. Start begins one run that reads audio
// from r until Stop, Abort, ctx cancellation or the end of r. Stop asks the
// engine to finish and deliver its remaining results followed by End; Abort
// drops the run without further results. Both are no-ops when idle.
type Engine interface {
	Name() string
	Available() error
	Start(ctx context.Context, cfg Config, r io.Reader, sink Sink) error
	Stop() error
	Abort()
}
