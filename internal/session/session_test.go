package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiroq/voicenotes/internal/audio"
	"github.com/tiroq/voicenotes/internal/speech"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and fires due timers outside the clock lock.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type fakeEngine struct {
	mu          sync.Mutex
	unavailable error
	startErr    error
	configs     []speech.Config
	sinks       []speech.Sink
	readers     []io.Reader
	stops       int
	aborts      int
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Available() error { return e.unavailable }

func (e *fakeEngine) Start(_ context.Context, cfg speech.Config, r io.Reader, sink speech.Sink) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configs = append(e.configs, cfg)
	if e.startErr != nil {
		return e.startErr
	}
	e.sinks = append(e.sinks, sink)
	e.readers = append(e.readers, r)
	return nil
}

func (e *fakeEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stops++
	return nil
}

func (e *fakeEngine) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.aborts++
}

func (e *fakeEngine) starts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.configs)
}

func (e *fakeEngine) sink(i int) speech.Sink {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i < 0 {
		i = len(e.sinks) + i
	}
	return e.sinks[i]
}

// emit delivers ev to the most recent run.
func (e *fakeEngine) emit(ev speech.Event) { e.sink(-1)(ev) }

func (e *fakeEngine) finals(texts ...string) {
	var rs []speech.Result
	for i, t := range texts {
		rs = append(rs, speech.Result{Index: i, Text: t, Final: true, Confidence: 0.9})
	}
	e.emit(speech.Event{Kind: speech.EventResult, Results: rs})
}

func (e *fakeEngine) fail(code speech.ErrorCode) {
	e.emit(speech.Event{Kind: speech.EventError, Err: &speech.Error{Code: code}})
}

func (e *fakeEngine) counts() (stops, aborts int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stops, e.aborts
}

type fakeMic struct {
	mu         sync.Mutex
	acquireErr error
	active     *fakeStream
	acquired   int
	released   int
}

type fakeStream struct {
	mic  *fakeMic
	r    *io.PipeReader
	w    *io.PipeWriter
	once sync.Once
}

func (m *fakeMic) Available() error { return nil }

func (m *fakeMic) Acquire(context.Context) (audio.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acquireErr != nil {
		return nil, m.acquireErr
	}
	if m.active != nil {
		return nil, audio.ErrBusy
	}
	r, w := io.Pipe()
	m.active = &fakeStream{mic: m, r: r, w: w}
	m.acquired++
	return m.active, nil
}

func (m *fakeMic) releases() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

func (s *fakeStream) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *fakeStream) Format() audio.Format { return audio.Format{SampleRate: 16000, Channels: 1} }

func (s *fakeStream) Release() error {
	s.once.Do(func() {
		_ = s.w.Close()
		_ = s.r.Close()
		s.mic.mu.Lock()
		s.mic.active = nil
		s.mic.released++
		s.mic.mu.Unlock()
	})
	return nil
}

type recorder struct {
	mu          sync.Mutex
	transcripts []string
	idle        []error
}

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.transcripts...)
}

func (r *recorder) idleErrs() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.idle...)
}

type harness struct {
	s     *Session
	eng   *fakeEngine
	mic   *fakeMic
	clock *fakeClock
	rec   *recorder
}

func newHarness(t *testing.T, continuous bool, mutate ...func(*Options)) *harness {
	t.Helper()
	h := &harness{eng: &fakeEngine{}, mic: &fakeMic{}, clock: newFakeClock(), rec: &recorder{}}
	opts := Options{
		Engine:         h.eng,
		Microphone:     h.mic,
		Clock:          h.clock,
		Locale:         "en-US",
		Continuous:     continuous,
		InterimResults: true,
		OnTranscript: func(text string) {
			h.rec.mu.Lock()
			h.rec.transcripts = append(h.rec.transcripts, text)
			h.rec.mu.Unlock()
		},
		OnIdle: func(err error) {
			h.rec.mu.Lock()
			h.rec.idle = append(h.rec.idle, err)
			h.rec.mu.Unlock()
		},
	}
	for _, m := range mutate {
		m(&opts)
	}
	s, err := New(opts)
	require.NoError(t, err)
	h.s = s
	t.Cleanup(func() { _ = s.Close() })
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.s.Start(context.Background()))
	h.eng.emit(speech.Event{Kind: speech.EventStart})
	require.Equal(t, Listening, h.s.State())
}

func (h *harness) stopAndEnd(t *testing.T) {
	t.Helper()
	require.NoError(t, h.s.Stop())
	require.Equal(t, Ending, h.s.State())
	h.eng.emit(speech.Event{Kind: speech.EventEnd})
	require.Equal(t, Idle, h.s.State())
}

func TestNewRequiresEngineAndMicrophone(t *testing.T) {
	_, err := New(Options{Microphone: &fakeMic{}})
	assert.Error(t, err)
	_, err = New(Options{Engine: &fakeEngine{}})
	assert.Error(t, err)
}

func TestStartFailsFastWhenEngineUnavailable(t *testing.T) {
	h := newHarness(t, false)
	h.eng.unavailable = speech.ErrUnavailable

	err := h.s.Start(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, Idle, h.s.State())
	assert.Zero(t, h.mic.acquired)
}

func TestStartReportsAcquireFailureWithoutRetry(t *testing.T) {
	h := newHarness(t, true)
	h.mic.acquireErr = audio.ErrNoDevice

	err := h.s.Start(context.Background())
	require.ErrorIs(t, err, audio.ErrNoDevice)
	assert.Equal(t, Idle, h.s.State())
	assert.Zero(t, h.eng.starts())
	assert.Zero(t, h.clock.Pending())
	require.Len(t, h.rec.idleErrs(), 1)
	assert.ErrorIs(t, h.rec.idleErrs()[0], audio.ErrNoDevice)
}

func TestStartMovesToListeningOnEngineStart(t *testing.T) {
	h := newHarness(t, false)

	require.NoError(t, h.s.Start(context.Background()))
	assert.Equal(t, Starting, h.s.State())
	require.Equal(t, 1, h.eng.starts())
	assert.Equal(t, "en-US", h.eng.configs[0].Locale)
	assert.Equal(t, 16000, h.eng.configs[0].SampleRate)

	h.eng.emit(speech.Event{Kind: speech.EventStart})
	assert.Equal(t, Listening, h.s.State())

	assert.ErrorIs(t, h.s.Start(context.Background()), ErrNotIdle)
	assert.ErrorIs(t, h.s.SetLocale("si-LK"), ErrNotIdle)
}

func TestStopWhileIdle(t *testing.T) {
	h := newHarness(t, false)
	assert.ErrorIs(t, h.s.Stop(), ErrNotActive)
}

func TestFinalFragmentsAppendedExactlyOnce(t *testing.T) {
	h := newHarness(t, false)
	h.start(t)

	h.eng.emit(speech.Event{Kind: speech.EventResult, Results: []speech.Result{
		{Index: 0, Text: "hel"},
	}})
	assert.Equal(t, "hel", h.s.Snapshot().Interim)

	h.eng.emit(speech.Event{Kind: speech.EventResult, Results: []speech.Result{
		{Index: 0, Text: "hello", Final: true},
	}})
	// The engine re-delivers settled fragments alongside new ones.
	h.eng.emit(speech.Event{Kind: speech.EventResult, Results: []speech.Result{
		{Index: 0, Text: "hello", Final: true},
		{Index: 1, Text: " wor"},
	}})
	snap := h.s.Snapshot()
	assert.Equal(t, "hello", snap.Text)
	assert.Equal(t, " wor", snap.Interim)
	assert.Equal(t, "hello wor", snap.Preview())

	h.eng.emit(speech.Event{Kind: speech.EventResult, Results: []speech.Result{
		{Index: 0, Text: "hello", Final: true},
		{Index: 1, Text: " world", Final: true},
	}})
	snap = h.s.Snapshot()
	assert.Equal(t, "hello world", snap.Text)
	assert.Empty(t, snap.Interim)

	h.stopAndEnd(t)
	assert.Equal(t, []string{"hello world"}, h.rec.texts())
}

func TestStopWithOnlyInterimEmitsNothing(t *testing.T) {
	h := newHarness(t, false)
	h.start(t)
	h.eng.emit(speech.Event{Kind: speech.EventResult, Results: []speech.Result{
		{Index: 0, Text: "maybe something"},
	}})

	h.stopAndEnd(t)
	assert.Empty(t, h.rec.texts())
	assert.Equal(t, []error{nil}, h.rec.idleErrs())
	assert.Equal(t, 1, h.mic.releases())
	assert.Empty(t, h.s.Snapshot().Interim)
}

func TestFinalizeTrimsTranscript(t *testing.T) {
	h := newHarness(t, false)
	h.start(t)
	h.eng.finals(" hello world ")

	h.stopAndEnd(t)
	assert.Equal(t, []string{"hello world"}, h.rec.texts())
}

func TestStopTimeoutFinalizes(t *testing.T) {
	h := newHarness(t, false)
	h.start(t)
	h.eng.finals("late engine")

	require.NoError(t, h.s.Stop())
	stops, _ := h.eng.counts()
	assert.Equal(t, 1, stops)
	assert.NoError(t, h.s.Stop())

	h.clock.Advance(DefaultStopTimeout - time.Millisecond)
	assert.Equal(t, Ending, h.s.State())

	h.clock.Advance(time.Millisecond)
	assert.Equal(t, Idle, h.s.State())
	_, aborts := h.eng.counts()
	assert.Equal(t, 1, aborts)
	assert.Equal(t, []string{"late engine"}, h.rec.texts())

	// The end signal arriving afterwards is stale.
	h.eng.emit(speech.Event{Kind: speech.EventEnd})
	assert.Len(t, h.rec.texts(), 1)
	assert.Len(t, h.rec.idleErrs(), 1)
}

func TestTerminalErrorEndsWithoutRetry(t *testing.T) {
	h := newHarness(t, true)
	h.start(t)
	h.eng.finals("kept")

	h.eng.fail(speech.CodeNotAllowed)

	assert.Equal(t, Idle, h.s.State())
	assert.Equal(t, 1, h.eng.starts())
	assert.Zero(t, h.clock.Pending())
	assert.Equal(t, 1, h.mic.releases())
	assert.Equal(t, []string{"kept"}, h.rec.texts())

	errs := h.rec.idleErrs()
	require.Len(t, errs, 1)
	var se *speech.Error
	require.ErrorAs(t, errs[0], &se)
	assert.Equal(t, speech.CodeNotAllowed, se.Code)
	assert.Equal(t, se, h.s.Snapshot().LastError)

	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.eng.starts())
}

func TestTransientErrorRestartsOncePerInterval(t *testing.T) {
	h := newHarness(t, true)
	h.start(t)
	h.eng.finals("one ")

	h.eng.fail(speech.CodeNetwork)
	assert.Equal(t, Restarting, h.s.State())
	_, aborts := h.eng.counts()
	assert.Equal(t, 1, aborts)

	// A second error from the same run must not queue another restart.
	h.eng.fail(speech.CodeNetwork)
	h.eng.emit(speech.Event{Kind: speech.EventEnd})
	assert.Equal(t, 1, h.clock.Pending())

	h.clock.Advance(DefaultRestartDelay)
	require.Equal(t, 2, h.eng.starts())
	h.eng.emit(speech.Event{Kind: speech.EventStart})
	assert.Equal(t, Listening, h.s.State())

	// Fails again right away: the next engine start comes a full spacing
	// interval after the previous one.
	h.eng.fail(speech.CodeNetwork)
	assert.Equal(t, Restarting, h.s.State())
	h.clock.Advance(DefaultRestartDelay)
	assert.Equal(t, 2, h.eng.starts())
	h.clock.Advance(DefaultMinRestartSpacing - DefaultRestartDelay - time.Millisecond)
	assert.Equal(t, 2, h.eng.starts())
	h.clock.Advance(time.Millisecond)
	require.Equal(t, 3, h.eng.starts())

	h.eng.emit(speech.Event{Kind: speech.EventStart})
	h.eng.finals("two")
	h.stopAndEnd(t)
	assert.Equal(t, []string{"one two"}, h.rec.texts())
	assert.Equal(t, 1, h.mic.acquired)
	assert.Equal(t, 1, h.mic.releases())
}

func TestContinuousEndRestarts(t *testing.T) {
	h := newHarness(t, true)
	h.start(t)

	h.eng.emit(speech.Event{Kind: speech.EventEnd})
	assert.Equal(t, Restarting, h.s.State())
	_, aborts := h.eng.counts()
	assert.Zero(t, aborts)

	h.clock.Advance(DefaultRestartDelay)
	assert.Equal(t, 2, h.eng.starts())
	assert.Equal(t, 1, h.s.Snapshot().Restarts)
}

func TestStaleRunEventsIgnored(t *testing.T) {
	h := newHarness(t, true)
	h.start(t)
	old := h.eng.sink(0)

	h.eng.fail(speech.CodeNetwork)
	h.clock.Advance(DefaultRestartDelay)
	h.eng.emit(speech.Event{Kind: speech.EventStart})

	old(speech.Event{Kind: speech.EventResult, Results: []speech.Result{{Index: 0, Text: "ghost", Final: true}}})
	old(speech.Event{Kind: speech.EventEnd})

	assert.Equal(t, Listening, h.s.State())
	assert.Empty(t, h.s.Snapshot().Text)
}

func TestRestartCap(t *testing.T) {
	h := newHarness(t, true, func(o *Options) { o.MaxRestarts = 2 })
	h.start(t)
	h.eng.finals("before")

	for i := 0; i < 2; i++ {
		h.eng.fail(speech.CodeNetwork)
		require.Equal(t, Restarting, h.s.State())
		h.clock.Advance(DefaultMinRestartSpacing)
		require.Equal(t, i+2, h.eng.starts())
	}
	h.eng.fail(speech.CodeNetwork)

	assert.Equal(t, Idle, h.s.State())
	assert.Equal(t, 3, h.eng.starts())
	errs := h.rec.idleErrs()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrTooManyRestarts)
	assert.Equal(t, []string{"before"}, h.rec.texts())
}

func TestFinalResultResetsRestartCount(t *testing.T) {
	h := newHarness(t, true, func(o *Options) { o.MaxRestarts = 1 })
	h.start(t)

	for i := 0; i < 3; i++ {
		h.eng.fail(speech.CodeNoSpeech)
		require.Equal(t, Restarting, h.s.State())
		h.clock.Advance(DefaultMinRestartSpacing)
		h.eng.emit(speech.Event{Kind: speech.EventStart})
		h.eng.finals("x")
		assert.Zero(t, h.s.Snapshot().Restarts)
	}
	assert.Equal(t, 4, h.eng.starts())
	assert.Equal(t, "xxx", h.s.Snapshot().Text)
}

func TestStopWhileRestartingCancelsPendingRestart(t *testing.T) {
	h := newHarness(t, true)
	h.start(t)
	h.eng.fail(speech.CodeNetwork)
	require.Equal(t, Restarting, h.s.State())

	require.NoError(t, h.s.Stop())
	assert.Equal(t, Idle, h.s.State())
	assert.Zero(t, h.clock.Pending())
	assert.Equal(t, 1, h.mic.releases())

	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.eng.starts())
	assert.Equal(t, 1, h.mic.acquired)
}

func TestStopAfterRestartFiredAbortsNewRun(t *testing.T) {
	h := newHarness(t, true)
	h.start(t)
	h.eng.fail(speech.CodeNetwork)
	h.clock.Advance(DefaultRestartDelay)
	require.Equal(t, 2, h.eng.starts())
	require.Equal(t, Restarting, h.s.State())

	require.NoError(t, h.s.Stop())
	assert.Equal(t, Idle, h.s.State())
	_, aborts := h.eng.counts()
	assert.Equal(t, 2, aborts)
	assert.Equal(t, 1, h.mic.releases())
}

func TestSingleShotWaitsForEndAfterTransientError(t *testing.T) {
	h := newHarness(t, false)
	h.start(t)
	h.eng.finals("hi")

	h.eng.fail(speech.CodeNoSpeech)
	assert.Equal(t, Listening, h.s.State())
	assert.Zero(t, h.clock.Pending())

	h.eng.emit(speech.Event{Kind: speech.EventEnd})
	assert.Equal(t, Idle, h.s.State())
	assert.Equal(t, []string{"hi"}, h.rec.texts())
	var se *speech.Error
	require.ErrorAs(t, h.rec.idleErrs()[0], &se)
	assert.Equal(t, speech.CodeNoSpeech, se.Code)
}

func TestEngineStartFailureReturnsToIdle(t *testing.T) {
	h := newHarness(t, false)
	h.eng.startErr = &speech.Error{Code: speech.CodeLanguageNotSupported}

	require.NoError(t, h.s.Start(context.Background()))
	assert.Equal(t, Idle, h.s.State())
	assert.Equal(t, 1, h.mic.releases())
	var se *speech.Error
	require.ErrorAs(t, h.rec.idleErrs()[0], &se)
	assert.Equal(t, speech.CodeLanguageNotSupported, se.Code)
}

func TestSegmentsFinishJoinsWithSpace(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.s.BeginSegments())
	assert.ErrorIs(t, h.s.BeginSegments(), ErrSegmentsActive)

	h.start(t)
	h.eng.finals("part one")
	h.stopAndEnd(t)

	h.start(t)
	h.eng.finals("part two ")
	h.stopAndEnd(t)

	assert.Empty(t, h.rec.texts())
	assert.Equal(t, []string{"part one", "part two"}, h.s.Snapshot().Segments)

	require.NoError(t, h.s.FinishSegments())
	assert.Equal(t, []string{"part one part two"}, h.rec.texts())
	assert.False(t, h.s.Snapshot().SegmentMode)
	assert.ErrorIs(t, h.s.FinishSegments(), ErrNoSegments)
}

func TestSegmentsFinishWhileRecordingIncludesCurrent(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.s.BeginSegments())
	h.start(t)
	h.eng.finals("part one")
	h.stopAndEnd(t)

	h.start(t)
	h.eng.finals("part two")
	require.NoError(t, h.s.FinishSegments())
	assert.Equal(t, Ending, h.s.State())
	assert.Empty(t, h.rec.texts())

	h.eng.emit(speech.Event{Kind: speech.EventEnd})
	assert.Equal(t, []string{"part one part two"}, h.rec.texts())
}

func TestSegmentsCancelDiscardsEverything(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.s.BeginSegments())
	h.start(t)
	h.eng.finals("part one")
	h.stopAndEnd(t)
	h.start(t)
	h.eng.finals("part two")
	h.stopAndEnd(t)

	h.start(t)
	h.eng.finals("part three")
	require.NoError(t, h.s.CancelSegments())

	assert.Equal(t, Idle, h.s.State())
	assert.Empty(t, h.rec.texts())
	snap := h.s.Snapshot()
	assert.Empty(t, snap.Segments)
	assert.Empty(t, snap.Text)
	assert.False(t, snap.SegmentMode)
	assert.Equal(t, 3, h.mic.releases())
	assert.ErrorIs(t, h.rec.idleErrs()[2], ErrCanceled)
}

func TestCloseReleasesWithoutEmitting(t *testing.T) {
	h := newHarness(t, true)
	h.start(t)
	h.eng.finals("unsaved")
	h.eng.fail(speech.CodeNetwork)

	require.NoError(t, h.s.Close())
	assert.Equal(t, Idle, h.s.State())
	assert.Equal(t, 1, h.mic.releases())
	assert.Zero(t, h.clock.Pending())
	assert.Empty(t, h.rec.texts())
	assert.ErrorIs(t, h.s.Start(context.Background()), ErrClosed)
	assert.NoError(t, h.s.Close())
}

func TestAudioReachesCurrentRun(t *testing.T) {
	h := newHarness(t, false)
	h.start(t)

	h.mic.mu.Lock()
	w := h.mic.active.w
	h.mic.mu.Unlock()
	go func() { _, _ = w.Write([]byte{1, 2, 3, 4}) }()

	h.eng.mu.Lock()
	r := h.eng.readers[0]
	h.eng.mu.Unlock()
	buf := make([]byte, 4)
	_, err := io.ReadFull(r, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, buf)

	h.stopAndEnd(t)
	_, err = r.Read(buf)
	assert.True(t, errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe))
}

func TestOnChangeSeesTransitions(t *testing.T) {
	var mu sync.Mutex
	var states []State
	h := newHarness(t, false, func(o *Options) {
		o.OnChange = func(s Snapshot) {
			mu.Lock()
			defer mu.Unlock()
			if len(states) == 0 || states[len(states)-1] != s.State {
				states = append(states, s.State)
			}
		}
	})
	h.start(t)
	h.stopAndEnd(t)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{Starting, Listening, Ending, Idle}, states)
}
