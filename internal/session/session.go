// Package session implements the recording session state machine: it owns
// the microphone for the duration of a capture, drives a speech engine,
// reconciles interim and final results into one transcript, restarts
// continuous sessions after transient engine failures and hands the
// finished transcript to the caller.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tiroq/voicenotes/internal/audio"
	"github.com/tiroq/voicenotes/internal/diaglog"
	"github.com/tiroq/voicenotes/internal/speech"
)

const (
	DefaultRestartDelay      = 100 * time.Millisecond
	DefaultMinRestartSpacing = time.Second
	DefaultMaxRestarts       = 5
	DefaultStopTimeout       = 2 * time.Second
)

var (
	ErrUnavailable     = errors.New("speech recognition unavailable")
	ErrNotIdle         = errors.New("a recording is already in progress")
	ErrNotActive       = errors.New("no recording in progress")
	ErrClosed          = errors.New("session closed")
	ErrCanceled        = errors.New("recording canceled")
	ErrTooManyRestarts = errors.New("recognition kept failing, giving up")
	ErrSegmentsActive  = errors.New("a multi-segment session is already open")
	ErrNoSegments      = errors.New("no multi-segment session is open")
)

type State int

const (
	Idle State = iota
	Starting
	Listening
	Restarting
	Ending
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Listening:
		return "listening"
	case Restarting:
		return "restarting"
	case Ending:
		return "ending"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Active reports whether a capture is in progress.
func (s State) Active() bool { return s != Idle }

type Options struct {
	Engine     speech.Engine
	Microphone audio.Microphone
	Clock      Clock
	Logger     *diaglog.Logger

	Locale         string
	Continuous     bool
	InterimResults bool

	RestartDelay      time.Duration
	MinRestartSpacing time.Duration
	MaxRestarts       int
	StopTimeout       time.Duration

	// OnTranscript receives each finished, non-empty transcript.
	OnTranscript func(text string)
	// OnIdle is called whenever a capture ends, with the reason it ended
	// abnormally or nil.
	OnIdle func(err error)
	// OnChange receives a snapshot after every state or text change.
	OnChange func(Snapshot)
}

// Snapshot is a point-in-time view of the session for display.
type Snapshot struct {
	State       State
	Locale      string
	Continuous  bool
	Interim     string
	Text        string
	Segments    []string
	SegmentMode bool
	Confidence  float64
	Restarts    int
	LastError   error
}

// Preview is the accumulated text followed by the interim fragment.
func (s Snapshot) Preview() string {
	return s.Text + s.Interim
}

type Session struct {
	engine speech.Engine
	mic    audio.Microphone
	clock  Clock
	log    *diaglog.Logger

	restartDelay time.Duration
	maxRestarts  int
	stopTimeout  time.Duration
	limiter      *rate.Limiter

	onTranscript func(string)
	onIdle       func(error)
	onChange     func(Snapshot)

	mu sync.Mutex

	state          State
	closed         bool
	locale         string
	continuous     bool
	interimResults bool

	// capture changes on every Start and teardown; Start uses it to notice
	// that it was cancelled while acquiring the microphone.
	capture uint64
	// run identifies the current engine run; events from other runs are
	// stale.
	run uint64

	stream    audio.Stream
	pump      *pump
	runCtx    context.Context
	cancelRun context.CancelFunc

	finals     strings.Builder
	finalIndex int
	interim    string
	confidence float64
	lastErr    error

	shouldContinue bool
	userStopped    bool

	restarts       int
	restartPending bool
	restartGen     uint64
	restartTimer   Timer
	reservation    *rate.Reservation

	stopGen   uint64
	stopTimer Timer

	segmentMode   bool
	segments      []string
	pendingFinish bool
}

func New(opts Options) (*Session, error) {
	if opts.Engine == nil {
		return nil, errors.New("session: engine is required")
	}
	if opts.Microphone == nil {
		return nil, errors.New("session: microphone is required")
	}
	s := &Session{
		engine:         opts.Engine,
		mic:            opts.Microphone,
		clock:          opts.Clock,
		log:            opts.Logger,
		restartDelay:   opts.RestartDelay,
		maxRestarts:    opts.MaxRestarts,
		stopTimeout:    opts.StopTimeout,
		onTranscript:   opts.OnTranscript,
		onIdle:         opts.OnIdle,
		onChange:       opts.OnChange,
		locale:         opts.Locale,
		continuous:     opts.Continuous,
		interimResults: opts.InterimResults,
	}
	if s.clock == nil {
		s.clock = realClock{}
	}
	if s.restartDelay <= 0 {
		s.restartDelay = DefaultRestartDelay
	}
	if s.maxRestarts <= 0 {
		s.maxRestarts = DefaultMaxRestarts
	}
	if s.stopTimeout <= 0 {
		s.stopTimeout = DefaultStopTimeout
	}
	spacing := opts.MinRestartSpacing
	if spacing <= 0 {
		spacing = DefaultMinRestartSpacing
	}
	s.limiter = rate.NewLimiter(rate.Every(spacing), 1)
	return s, nil
}

// Start begins a capture. It fails fast when the engine is unavailable or a
// capture is already running. Microphone acquisition happens before Start
// returns and its failure is returned as is; it is never retried.
func (s *Session) Start(ctx context.Context) error {
	if err := s.engine.Available(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != Idle {
		s.mu.Unlock()
		return ErrNotIdle
	}
	s.capture++
	capture := s.capture
	s.state = Starting
	s.resetTranscriptLocked()
	s.lastErr = nil
	s.restarts = 0
	s.userStopped = false
	s.shouldContinue = s.continuous
	locale, continuous := s.locale, s.continuous
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	s.log.Event(diaglog.ComponentSession, diaglog.EventRecordingStart, map[string]interface{}{
		"engine":     s.engine.Name(),
		"language":   locale,
		"continuous": continuous,
	})

	stream, err := s.mic.Acquire(ctx)

	s.mu.Lock()
	if s.capture != capture || s.state != Starting {
		s.mu.Unlock()
		if err == nil {
			_ = stream.Release()
		}
		return ErrCanceled
	}
	if err != nil {
		s.state = Idle
		s.lastErr = err
		s.shouldContinue = false
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.notify(snap)
		s.log.Event(diaglog.ComponentSession, diaglog.EventRecognitionError, map[string]interface{}{
			"error": err.Error(),
			"stage": "acquire",
		})
		if s.onIdle != nil {
			s.onIdle(err)
		}
		return fmt.Errorf("acquire microphone: %w", err)
	}
	s.stream = stream
	s.pump = newPump(stream)
	s.runCtx, s.cancelRun = context.WithCancel(context.Background())
	effects := s.startRunLocked()
	s.mu.Unlock()

	runEffects(effects)
	return nil
}

// Stop asks the engine to finish. The transcript is emitted once the engine
// signals the end of the run, or after the stop timeout.
func (s *Session) Stop() error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	switch state {
	case Idle:
		return ErrNotActive
	case Ending:
		return nil
	}
	s.dispatch(event{kind: evStop})
	return nil
}

// BeginSegments opens a multi-segment session: finished captures are
// collected instead of emitted until FinishSegments.
func (s *Session) BeginSegments() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.segmentMode {
		s.mu.Unlock()
		return ErrSegmentsActive
	}
	if s.state != Idle {
		s.mu.Unlock()
		return ErrNotIdle
	}
	s.segmentMode = true
	s.segments = nil
	s.pendingFinish = false
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
	return nil
}

// FinishSegments emits the space-joined segment transcript. An active
// capture is stopped first and included once it ends.
func (s *Session) FinishSegments() error {
	s.mu.Lock()
	if !s.segmentMode {
		s.mu.Unlock()
		return ErrNoSegments
	}
	s.pendingFinish = true
	if s.state != Idle {
		state := s.state
		s.mu.Unlock()
		if state != Ending {
			s.dispatch(event{kind: evStop})
		}
		return nil
	}
	text := s.closeSegmentsLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	if text != "" && s.onTranscript != nil {
		s.onTranscript(text)
	}
	return nil
}

// CancelSegments aborts any active capture and discards the segment
// transcript. Nothing is emitted.
func (s *Session) CancelSegments() error {
	s.mu.Lock()
	if !s.segmentMode {
		s.mu.Unlock()
		return ErrNoSegments
	}
	wasActive := s.state.Active()
	effects := s.teardownLocked()
	s.segmentMode = false
	s.segments = nil
	s.pendingFinish = false
	snap := s.snapshotLocked()
	s.mu.Unlock()

	runEffects(effects)
	s.notify(snap)
	if wasActive && s.onIdle != nil {
		s.onIdle(ErrCanceled)
	}
	return nil
}

// Close tears the session down without emitting anything. Later calls to
// Start fail with ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	effects := s.teardownLocked()
	s.segmentMode = false
	s.segments = nil
	s.pendingFinish = false
	s.mu.Unlock()

	runEffects(effects)
	return nil
}

// SetLocale changes the recognition language for the next capture.
func (s *Session) SetLocale(locale string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return ErrNotIdle
	}
	s.locale = locale
	return nil
}

// SetContinuous switches between continuous and single-shot capture for the
// next Start.
func (s *Session) SetContinuous(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return ErrNotIdle
	}
	s.continuous = on
	return nil
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		State:       s.state,
		Locale:      s.locale,
		Continuous:  s.continuous,
		Interim:     s.interim,
		Text:        s.finals.String(),
		Segments:    append([]string(nil), s.segments...),
		SegmentMode: s.segmentMode,
		Confidence:  s.confidence,
		Restarts:    s.restarts,
		LastError:   s.lastErr,
	}
}

func (s *Session) notify(snap Snapshot) {
	if s.onChange != nil {
		s.onChange(snap)
	}
}

func (s *Session) resetTranscriptLocked() {
	s.finals.Reset()
	s.finalIndex = 0
	s.interim = ""
	s.confidence = 0
}

func (s *Session) engineConfigLocked() speech.Config {
	cfg := speech.Config{
		Locale:         s.locale,
		Continuous:     s.continuous,
		InterimResults: s.interimResults,
	}
	if s.stream != nil {
		f := s.stream.Format()
		cfg.SampleRate, cfg.Channels = f.SampleRate, f.Channels
	}
	return cfg
}

// startRunLocked begins a new engine run on the held microphone stream.
func (s *Session) startRunLocked() []func() {
	s.run++
	run := s.run
	s.finalIndex = 0
	s.interim = ""
	cfg := s.engineConfigLocked()
	reader := s.pump.attach()
	ctx := s.runCtx
	sink := s.sinkFor(run)

	return []func(){func() {
		if err := s.engine.Start(ctx, cfg, reader, sink); err != nil {
			s.dispatch(event{kind: evEngineError, run: run, err: speech.AsError(err)})
			s.dispatch(event{kind: evEngineEnd, run: run})
		}
	}}
}

func (s *Session) sinkFor(run uint64) speech.Sink {
	return func(ev speech.Event) {
		switch ev.Kind {
		case speech.EventStart:
			s.dispatch(event{kind: evEngineStart, run: run})
		case speech.EventResult:
			s.dispatch(event{kind: evEngineResult, run: run, results: ev.Results})
		case speech.EventError:
			e := ev.Err
			if e == nil {
				e = &speech.Error{Code: speech.CodeNetwork}
			}
			s.dispatch(event{kind: evEngineError, run: run, err: e})
		case speech.EventEnd:
			s.dispatch(event{kind: evEngineEnd, run: run})
		}
	}
}

// requestRestartLocked schedules a new engine run. Only one restart is ever
// pending; successive restarts are spaced by the limiter and bounded by
// maxRestarts consecutive attempts without a new final result.
func (s *Session) requestRestartLocked(abort bool) []func() {
	if s.restartPending {
		return nil
	}
	if s.restarts >= s.maxRestarts {
		return s.finalizeLocked(ErrTooManyRestarts, abort)
	}
	s.restarts++

	// Reserve for the moment the restart fires so that consecutive engine
	// starts, not requests, are spaced by the limiter.
	now := s.clock.Now()
	r := s.limiter.ReserveN(now.Add(s.restartDelay), 1)
	delay := r.DelayFrom(now)
	if delay < s.restartDelay {
		delay = s.restartDelay
	}
	s.reservation = r

	s.state = Restarting
	s.restartPending = true
	s.restartGen++
	gen := s.restartGen
	s.run++
	s.interim = ""
	s.restartTimer = s.clock.AfterFunc(delay, func() {
		s.dispatch(event{kind: evRestartDue, gen: gen})
	})

	attempt := s.restarts
	p := s.pump
	return []func(){func() {
		if abort {
			s.engine.Abort()
		}
		if p != nil {
			p.detach()
		}
		s.log.Event(diaglog.ComponentSession, diaglog.EventRecognitionRestart, map[string]interface{}{
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
		})
	}}
}

// finalizeLocked ends the capture and returns to idle. The trimmed
// transcript is emitted if non-empty, or added to the open segment session.
func (s *Session) finalizeLocked(err error, abort bool) []func() {
	s.cancelTimersLocked()
	s.run++
	s.state = Idle
	s.lastErr = err
	s.shouldContinue = false
	s.restartPending = false

	text := strings.TrimSpace(s.finals.String())
	s.resetTranscriptLocked()

	var emit string
	if s.segmentMode {
		if text != "" {
			s.segments = append(s.segments, text)
		}
		if s.pendingFinish {
			emit = s.closeSegmentsLocked()
		}
	} else {
		emit = text
	}

	release := s.releaseLocked()
	engineName := s.engine.Name()
	segCount := len(s.segments)
	return []func(){func() {
		if abort {
			s.engine.Abort()
		}
		release()

		payload := map[string]interface{}{
			"engine":        engineName,
			"text_length":   len(emit),
			"segment_count": segCount,
		}
		if err != nil {
			payload["error"] = err.Error()
		}
		s.log.Event(diaglog.ComponentSession, diaglog.EventRecordingStop, payload)
		if emit != "" {
			s.log.Event(diaglog.ComponentSession, diaglog.EventRecordingComplete, map[string]interface{}{
				"text_length": len(emit),
			})
			if s.onTranscript != nil {
				s.onTranscript(emit)
			}
		}
		if s.onIdle != nil {
			s.onIdle(err)
		}
	}}
}

// teardownLocked stops everything without emitting.
func (s *Session) teardownLocked() []func() {
	wasActive := s.state.Active()
	s.capture++
	s.cancelTimersLocked()
	s.run++
	s.state = Idle
	s.shouldContinue = false
	s.restartPending = false
	s.resetTranscriptLocked()

	release := s.releaseLocked()
	return []func(){func() {
		if wasActive {
			s.engine.Abort()
		}
		release()
	}}
}

func (s *Session) closeSegmentsLocked() string {
	text := strings.TrimSpace(strings.Join(s.segments, " "))
	s.segmentMode = false
	s.segments = nil
	s.pendingFinish = false
	return text
}

func (s *Session) cancelTimersLocked() {
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
	if s.reservation != nil && s.restartPending {
		s.reservation.CancelAt(s.clock.Now())
	}
	s.reservation = nil
	s.restartGen++
	if s.stopTimer != nil {
		s.stopTimer.Stop()
		s.stopTimer = nil
	}
	s.stopGen++
}

// releaseLocked detaches the microphone from the session and returns the
// function that closes it.
func (s *Session) releaseLocked() func() {
	stream, p, cancel := s.stream, s.pump, s.cancelRun
	s.stream, s.pump, s.cancelRun, s.runCtx = nil, nil, nil, nil
	return func() {
		if cancel != nil {
			cancel()
		}
		if p != nil {
			p.detach()
		}
		if stream != nil {
			_ = stream.Release()
		}
	}
}

func runEffects(effects []func()) {
	for _, f := range effects {
		f()
	}
}
