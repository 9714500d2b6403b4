package wsengine

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiroq/voicenotes/internal/speech"
	"github.com/tiroq/voicenotes/testutil"
)

func newMock(t *testing.T, mode string) *testutil.MockRecognizer {
	t.Helper()
	m := testutil.NewMockRecognizer()
	m.SetMode(mode)
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Stop() })
	return m
}

func collect() (speech.Sink, <-chan speech.Event) {
	ch := make(chan speech.Event, 16)
	return func(ev speech.Event) { ch <- ev }, ch
}

func next(t *testing.T, ch <-chan speech.Event) speech.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for engine event")
		return speech.Event{}
	}
}

func expectQuiet(t *testing.T, ch <-chan speech.Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %v", ev.Kind)
	case <-time.After(150 * time.Millisecond):
	}
}

func startRun(t *testing.T, e *Engine, m *testutil.MockRecognizer, cfg speech.Config) (*io.PipeWriter, <-chan speech.Event) {
	t.Helper()
	r, w := io.Pipe()
	t.Cleanup(func() { _ = w.Close() })
	sink, events := collect()
	require.NoError(t, e.Start(context.Background(), cfg, r, sink))
	require.True(t, m.WaitConnected(3*time.Second))
	return w, events
}

func TestAvailable(t *testing.T) {
	assert.ErrorIs(t, New(Options{}).Available(), speech.ErrUnavailable)
	assert.ErrorIs(t, New(Options{URL: "http://127.0.0.1:2700"}).Available(), speech.ErrUnavailable)
	assert.NoError(t, New(Options{URL: "ws://127.0.0.1:2700/recognize"}).Available())
	assert.NoError(t, New(Options{URL: "wss://asr.example.com/recognize"}).Available())
}

func TestStreamsAudioAndDeliversFinalResult(t *testing.T) {
	m := newMock(t, testutil.ModeNormal)
	m.SetTranscript("hello there")
	e := New(Options{URL: m.URL()})

	cfg := speech.Config{Locale: "si-LK", Continuous: true, InterimResults: true, SampleRate: 16000, Channels: 1}
	w, events := startRun(t, e, m, cfg)

	start := m.StartMessage()
	assert.Equal(t, "start", start["type"])
	assert.Equal(t, "si-LK", start["locale"])
	assert.Equal(t, true, start["continuous"])
	assert.Equal(t, float64(16000), start["sample_rate"])
	assert.Equal(t, speech.EventStart, next(t, events).Kind)

	_, err := w.Write(make([]byte, 2*DefaultFrameBytes))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return m.AudioBytes() == 2*DefaultFrameBytes }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, e.Stop())
	ev := next(t, events)
	require.Equal(t, speech.EventResult, ev.Kind)
	require.Len(t, ev.Results, 1)
	assert.Equal(t, "hello there", ev.Results[0].Text)
	assert.True(t, ev.Results[0].Final)
	assert.InDelta(t, 0.93, ev.Results[0].Confidence, 0.001)
	assert.Equal(t, speech.EventEnd, next(t, events).Kind)
	assert.Equal(t, 1, m.Stops())
	expectQuiet(t, events)
}

func TestForwardsInterimResultsAndErrors(t *testing.T) {
	m := newMock(t, testutil.ModeManual)
	e := New(Options{URL: m.URL()})
	_, events := startRun(t, e, m, speech.Config{Locale: "en-US"})
	next(t, events)

	require.NoError(t, m.SendResults(
		testutil.MockResult{Index: 0, Text: "buy", Final: true, Confidence: 0.8},
		testutil.MockResult{Index: 1, Text: " mil"},
	))
	ev := next(t, events)
	require.Equal(t, speech.EventResult, ev.Kind)
	require.Len(t, ev.Results, 2)
	assert.True(t, ev.Results[0].Final)
	assert.False(t, ev.Results[1].Final)
	assert.Equal(t, 1, ev.Results[1].Index)

	require.NoError(t, m.SendError("no-speech", "quiet room"))
	ev = next(t, events)
	require.Equal(t, speech.EventError, ev.Kind)
	assert.Equal(t, speech.CodeNoSpeech, ev.Err.Code)
	assert.Equal(t, "quiet room", ev.Err.Message)

	require.NoError(t, m.SendEnd())
	assert.Equal(t, speech.EventEnd, next(t, events).Kind)
}

func TestConnectionLossIsTransient(t *testing.T) {
	m := newMock(t, testutil.ModeManual)
	e := New(Options{URL: m.URL()})
	_, events := startRun(t, e, m, speech.Config{})
	next(t, events)

	m.Drop()

	ev := next(t, events)
	require.Equal(t, speech.EventError, ev.Kind)
	assert.Equal(t, speech.CodeNetwork, ev.Err.Code)
	assert.False(t, ev.Err.Terminal())
	assert.Equal(t, speech.EventEnd, next(t, events).Kind)

	// The engine is free for the next run.
	_, events = startRun(t, e, m, speech.Config{})
	assert.Equal(t, speech.EventStart, next(t, events).Kind)
	e.Abort()
}

func TestDialFailures(t *testing.T) {
	m := newMock(t, testutil.ModeReject)
	e := New(Options{URL: m.URL(), HandshakeTimeout: time.Second})
	err := e.Start(context.Background(), speech.Config{}, io.LimitReader(nil, 0), func(speech.Event) {})
	var se *speech.Error
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, speech.CodeNetwork, se.Code)

	m.SetMode(testutil.ModeUnauthorized)
	err = e.Start(context.Background(), speech.Config{}, io.LimitReader(nil, 0), func(speech.Event) {})
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, speech.CodeServiceNotAllowed, se.Code)
	assert.True(t, se.Terminal())
}

func TestAbortSuppressesFurtherEvents(t *testing.T) {
	m := newMock(t, testutil.ModeManual)
	e := New(Options{URL: m.URL()})
	_, events := startRun(t, e, m, speech.Config{})
	next(t, events)

	e.Abort()
	_ = m.SendResults(testutil.MockResult{Text: "late", Final: true})
	expectQuiet(t, events)

	assert.NoError(t, e.Stop())
	e.Abort()
}

func TestContextCancelAborts(t *testing.T) {
	m := newMock(t, testutil.ModeManual)
	e := New(Options{URL: m.URL()})
	r, w := io.Pipe()
	defer w.Close()
	sink, events := collect()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.Start(ctx, speech.Config{}, r, sink))
	require.True(t, m.WaitConnected(3*time.Second))
	next(t, events)

	cancel()
	expectQuiet(t, events)
	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.cur == nil
	}, 3*time.Second, 10*time.Millisecond)
}

func TestStartWhileRunning(t *testing.T) {
	m := newMock(t, testutil.ModeSilent)
	e := New(Options{URL: m.URL()})
	startRun(t, e, m, speech.Config{})

	err := e.Start(context.Background(), speech.Config{}, io.LimitReader(nil, 0), func(speech.Event) {})
	assert.ErrorIs(t, err, ErrBusy)
	e.Abort()
}

func TestReaderEndSendsStop(t *testing.T) {
	m := newMock(t, testutil.ModeNormal)
	m.SetTranscript("tail")
	e := New(Options{URL: m.URL()})
	w, events := startRun(t, e, m, speech.Config{})
	next(t, events)

	_, err := w.Write(make([]byte, 100))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	ev := next(t, events)
	require.Equal(t, speech.EventResult, ev.Kind)
	assert.Equal(t, "tail", ev.Results[0].Text)
	assert.Equal(t, speech.EventEnd, next(t, events).Kind)
	assert.Equal(t, 100, m.AudioBytes())
}
