// Package batchengine records a run's audio and hands it to a transcription
// backend when the run stops: one final result per run.
package batchengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/tiroq/voicenotes/internal/asr"
	"github.com/tiroq/voicenotes/internal/audio"
	"github.com/tiroq/voicenotes/internal/diaglog"
	"github.com/tiroq/voicenotes/internal/prefs"
	"github.com/tiroq/voicenotes/internal/speech"
)

const (
	DefaultTimeout    = 60 * time.Second
	DefaultMaxSegment = 30 * time.Second
)

var ErrBusy = errors.New("batchengine: a run is already active")

type Options struct {
	// Timeout bounds one transcription request.
	Timeout time.Duration
	// MaxSegment cuts continuous runs into chunks of at most this much
	// audio; the session restarts the engine after each chunk.
	MaxSegment time.Duration
	Logger     *diaglog.Logger
}

type Engine struct {
	tr   asr.Transcriber
	opts Options

	mu  sync.Mutex
	cur *run
}

type run struct {
	cfg      speech.Config
	sink     speech.Sink
	cancel   context.CancelFunc
	stop     chan struct{}
	stopOnce sync.Once
}

func New(tr asr.Transcriber, opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxSegment <= 0 {
		opts.MaxSegment = DefaultMaxSegment
	}
	return &Engine{tr: tr, opts: opts}
}

func (e *Engine) Name() string {
	if e.tr == nil {
		return "batch"
	}
	return "batch:" + e.tr.Name()
}

func (e *Engine) Available() error {
	if e.tr == nil {
		return fmt.Errorf("%w: no transcription backend configured", speech.ErrUnavailable)
	}
	return nil
}

func (e *Engine) Start(ctx context.Context, cfg speech.Config, r io.Reader, sink speech.Sink) error {
	if err := e.Available(); err != nil {
		return err
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	e.mu.Lock()
	if e.cur != nil {
		e.mu.Unlock()
		return ErrBusy
	}
	rctx, cancel := context.WithCancel(ctx)
	ru := &run{cfg: cfg, sink: sink, cancel: cancel, stop: make(chan struct{})}
	e.cur = ru
	e.mu.Unlock()

	go e.record(rctx, ru, r)
	return nil
}

// Stop ends recording; the run transcribes what it has and then ends.
func (e *Engine) Stop() error {
	e.mu.Lock()
	ru := e.cur
	e.mu.Unlock()
	if ru != nil {
		ru.stopOnce.Do(func() { close(ru.stop) })
	}
	return nil
}

// Abort drops the run, cancelling an in-flight transcription. No further
// events are delivered.
func (e *Engine) Abort() {
	e.mu.Lock()
	ru := e.cur
	e.cur = nil
	e.mu.Unlock()
	if ru != nil {
		ru.cancel()
	}
}

func (e *Engine) record(ctx context.Context, ru *run, r io.Reader) {
	defer ru.cancel()
	// A cancelled run context ends the run without Abort.
	defer e.release(ru)
	ru.sink(speech.Event{Kind: speech.EventStart})

	format := audio.Format{SampleRate: ru.cfg.SampleRate, Channels: ru.cfg.Channels}
	limit := -1
	if ru.cfg.Continuous {
		limit = int(e.opts.MaxSegment.Seconds() * float64(format.BytesPerSecond()))
	}

	var (
		mu  sync.Mutex
		pcm []byte
	)
	full := make(chan struct{})
	readDone := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		signalled := false
		for {
			n, err := r.Read(buf)
			if n > 0 {
				mu.Lock()
				pcm = append(pcm, buf[:n]...)
				size := len(pcm)
				mu.Unlock()
				if limit > 0 && size >= limit && !signalled {
					signalled = true
					close(full)
				}
			}
			if err != nil {
				readDone <- err
				return
			}
		}
	}()

	var readErr error
	select {
	case <-ctx.Done():
		return
	case <-ru.stop:
	case <-full:
	case readErr = <-readDone:
	}

	mu.Lock()
	captured := append([]byte(nil), pcm...)
	mu.Unlock()

	if readErr != nil && !errors.Is(readErr, io.EOF) && !errors.Is(readErr, io.ErrClosedPipe) {
		e.finish(ctx, ru, speech.Event{Kind: speech.EventError, Err: &speech.Error{
			Code:    speech.CodeAudioCapture,
			Message: readErr.Error(),
		}})
		return
	}
	if len(captured) == 0 {
		e.finish(ctx, ru, speech.Event{Kind: speech.EventError, Err: &speech.Error{Code: speech.CodeNoSpeech}})
		return
	}

	ev, ok := e.transcribe(ctx, ru, captured, format)
	if !ok {
		return
	}
	e.finish(ctx, ru, ev)
}

func (e *Engine) transcribe(ctx context.Context, ru *run, pcm []byte, format audio.Format) (speech.Event, bool) {
	wav, err := audio.EncodeWAV(pcm, format)
	if err != nil {
		return speech.Event{Kind: speech.EventError, Err: &speech.Error{
			Code:    speech.CodeTranscription,
			Message: fmt.Sprintf("encode audio: %v", err),
		}}, true
	}

	tctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()
	tr, err := e.tr.Transcribe(tctx, wav, asr.TranscribeOptions{Language: prefs.Hint(ru.cfg.Locale)})
	if ctx.Err() != nil {
		// Aborted.
		return speech.Event{}, false
	}
	if err != nil {
		e.opts.Logger.Event(diaglog.ComponentSpeech, diaglog.EventTranscriptionError, map[string]interface{}{
			"engine": e.Name(),
			"error":  err.Error(),
		})
		return speech.Event{Kind: speech.EventError, Err: &speech.Error{
			Code:    speech.CodeTranscription,
			Message: asr.UserMessage(err),
		}}, true
	}

	text := strings.TrimSpace(tr.Text)
	if text == "" {
		return speech.Event{Kind: speech.EventError, Err: &speech.Error{Code: speech.CodeNoSpeech}}, true
	}
	if ru.cfg.Continuous {
		// Chunks are concatenated as-is by the session.
		text += " "
	}
	return speech.Event{Kind: speech.EventResult, Results: []speech.Result{{
		Index:      0,
		Text:       text,
		Final:      true,
		Confidence: 1,
	}}}, true
}

func (e *Engine) release(ru *run) {
	e.mu.Lock()
	if e.cur == ru {
		e.cur = nil
	}
	e.mu.Unlock()
}

// finish delivers the run's last event followed by End, unless the run was
// aborted in the meantime.
func (e *Engine) finish(ctx context.Context, ru *run, ev speech.Event) {
	e.mu.Lock()
	if e.cur != ru || ctx.Err() != nil {
		e.mu.Unlock()
		return
	}
	e.cur = nil
	e.mu.Unlock()

	ru.sink(ev)
	ru.sink(speech.Event{Kind: speech.EventEnd})
}
