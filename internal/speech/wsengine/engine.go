// Package wsengine streams microphone audio to a recognition server over a
// WebSocket and turns the server's JSON messages into speech events.
//
// Protocol: the client opens with a text message
//
//	{"type":"start","locale":"en-US","continuous":true,"interim_results":true,"sample_rate":16000,"channels":1}
//
// then sends raw PCM as binary messages and {"type":"stop"} when the user
// stops. The server answers with {"type":"start"}, any number of
// {"type":"result","results":[{"index":0,"text":"...","final":true,"confidence":0.9}]},
// {"type":"error","error":"no-speech","message":"..."} and finally
// {"type":"end"}.
package wsengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tiroq/voicenotes/internal/diaglog"
	"github.com/tiroq/voicenotes/internal/speech"
)

const (
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultFrameBytes       = 3200 // 100ms of 16kHz mono PCM
	writeTimeout            = 5 * time.Second
)

var ErrBusy = errors.New("wsengine: a run is already active")

// Message types shared by both directions.
const (
	TypeStart  = "start"
	TypeStop   = "stop"
	TypeResult = "result"
	TypeError  = "error"
	TypeEnd    = "end"
)

type startMessage struct {
	Type           string `json:"type"`
	Locale         string `json:"locale"`
	Continuous     bool   `json:"continuous"`
	InterimResults bool   `json:"interim_results"`
	SampleRate     int    `json:"sample_rate"`
	Channels       int    `json:"channels"`
}

type serverMessage struct {
	Type    string `json:"type"`
	Results []struct {
		Index      int     `json:"index"`
		Text       string  `json:"text"`
		Final      bool    `json:"final"`
		Confidence float64 `json:"confidence"`
	} `json:"results,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

type Options struct {
	URL              string
	HandshakeTimeout time.Duration
	FrameBytes       int
	Header           http.Header
	Logger           *diaglog.Logger
}

type Engine struct {
	opts   Options
	dialer *websocket.Dialer

	mu  sync.Mutex
	cur *conn
}

// conn is one engine run.
type conn struct {
	ws      *websocket.Conn
	sink    speech.Sink
	writeMu sync.Mutex

	mu      sync.Mutex
	aborted bool
	ended   bool
	done    chan struct{}
}

func New(opts Options) *Engine {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.FrameBytes <= 0 {
		opts.FrameBytes = DefaultFrameBytes
	}
	return &Engine{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
	}
}

func (e *Engine) Name() string { return "stream" }

// Available validates the configured URL. Reachability is only known once a
// run dials.
func (e *Engine) Available() error {
	if e.opts.URL == "" {
		return fmt.Errorf("%w: no stream url configured", speech.ErrUnavailable)
	}
	u, err := url.Parse(e.opts.URL)
	if err != nil {
		return fmt.Errorf("%w: %v", speech.ErrUnavailable, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: stream url must be ws:// or wss://, got %q", speech.ErrUnavailable, e.opts.URL)
	}
	return nil
}

// Start dials the server and begins streaming r. Dial failures are returned
// as transient network errors.
func (e *Engine) Start(ctx context.Context, cfg speech.Config, r io.Reader, sink speech.Sink) error {
	if err := e.Available(); err != nil {
		return err
	}
	e.mu.Lock()
	if e.cur != nil {
		e.mu.Unlock()
		return ErrBusy
	}
	e.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, e.opts.HandshakeTimeout)
	ws, resp, err := e.dialer.DialContext(dctx, e.opts.URL, e.opts.Header)
	cancel()
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return &speech.Error{Code: speech.CodeServiceNotAllowed, Message: resp.Status}
		}
		return &speech.Error{Code: speech.CodeNetwork, Message: fmt.Sprintf("dial %s: %v", e.opts.URL, err)}
	}

	c := &conn{ws: ws, sink: sink, done: make(chan struct{})}
	start := startMessage{
		Type:           TypeStart,
		Locale:         cfg.Locale,
		Continuous:     cfg.Continuous,
		InterimResults: cfg.InterimResults,
		SampleRate:     cfg.SampleRate,
		Channels:       cfg.Channels,
	}
	if err := c.writeJSON(start); err != nil {
		_ = ws.Close()
		return &speech.Error{Code: speech.CodeNetwork, Message: fmt.Sprintf("send start: %v", err)}
	}

	e.mu.Lock()
	if e.cur != nil {
		e.mu.Unlock()
		_ = ws.Close()
		return ErrBusy
	}
	e.cur = c
	e.mu.Unlock()

	e.opts.Logger.Event(diaglog.ComponentSpeech, diaglog.EventWSConnect, map[string]interface{}{
		"url":    e.opts.URL,
		"locale": cfg.Locale,
	})

	go e.readMessages(c)
	go e.writeAudio(c, r)
	go func() {
		select {
		case <-ctx.Done():
			e.abort(c)
		case <-c.done:
		}
	}()
	return nil
}

// Stop asks the server to finish; it answers with its last results and end.
func (e *Engine) Stop() error {
	e.mu.Lock()
	c := e.cur
	e.mu.Unlock()
	if c == nil {
		return nil
	}
	if err := c.writeJSON(map[string]string{"type": TypeStop}); err != nil {
		// The read loop reports the broken connection.
		_ = c.ws.Close()
		return fmt.Errorf("send stop: %w", err)
	}
	return nil
}

// Abort drops the current run without delivering further events.
func (e *Engine) Abort() {
	e.mu.Lock()
	c := e.cur
	e.mu.Unlock()
	if c != nil {
		e.abort(c)
	}
}

func (e *Engine) abort(c *conn) {
	c.mu.Lock()
	if c.aborted || c.ended {
		c.mu.Unlock()
		return
	}
	c.aborted = true
	c.mu.Unlock()

	e.release(c)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "aborted"),
		time.Now().Add(time.Second))
	_ = c.ws.Close()
}

func (e *Engine) release(c *conn) {
	e.mu.Lock()
	if e.cur == c {
		e.cur = nil
	}
	e.mu.Unlock()
}

// readMessages translates server messages into events until the server
// ends the run or the connection drops.
func (e *Engine) readMessages(c *conn) {
	defer close(c.done)
	defer func() {
		e.opts.Logger.Event(diaglog.ComponentSpeech, diaglog.EventWSDisconnect, map[string]interface{}{
			"url": e.opts.URL,
		})
	}()

	for {
		var msg serverMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			var ce *websocket.CloseError
			reason := err.Error()
			if errors.As(err, &ce) && ce.Text != "" {
				reason = ce.Text
			}
			c.finish(e, &speech.Error{Code: speech.CodeNetwork, Message: reason})
			return
		}

		switch msg.Type {
		case TypeStart:
			c.deliver(speech.Event{Kind: speech.EventStart})
		case TypeResult:
			results := make([]speech.Result, 0, len(msg.Results))
			for _, r := range msg.Results {
				results = append(results, speech.Result{
					Index:      r.Index,
					Text:       r.Text,
					Final:      r.Final,
					Confidence: r.Confidence,
				})
			}
			c.deliver(speech.Event{Kind: speech.EventResult, Results: results})
		case TypeError:
			code := speech.ErrorCode(msg.Error)
			if code == "" {
				code = speech.CodeNetwork
			}
			c.deliver(speech.Event{Kind: speech.EventError, Err: &speech.Error{Code: code, Message: msg.Message}})
		case TypeEnd:
			c.finish(e, nil)
			_ = c.ws.Close()
			return
		}
	}
}

// writeAudio forwards PCM frames until the reader ends, then tells the
// server no more audio is coming.
func (e *Engine) writeAudio(c *conn, r io.Reader) {
	buf := make([]byte, e.opts.FrameBytes)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			c.writeMu.Lock()
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			werr := c.ws.WriteMessage(websocket.BinaryMessage, buf[:n])
			c.writeMu.Unlock()
			if werr != nil {
				return
			}
		}
		if err != nil {
			select {
			case <-c.done:
			default:
				_ = c.writeJSON(map[string]string{"type": TypeStop})
			}
			return
		}
	}
}

func (c *conn) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}

func (c *conn) deliver(ev speech.Event) {
	c.mu.Lock()
	skip := c.aborted || c.ended
	c.mu.Unlock()
	if !skip {
		c.sink(ev)
	}
}

// finish ends the run once: an optional error, then End.
func (c *conn) finish(e *Engine, err *speech.Error) {
	c.mu.Lock()
	if c.aborted || c.ended {
		c.mu.Unlock()
		e.release(c)
		return
	}
	c.ended = true
	c.mu.Unlock()

	e.release(c)
	if err != nil {
		c.sink(speech.Event{Kind: speech.EventError, Err: err})
	}
	c.sink(speech.Event{Kind: speech.EventEnd})
}
