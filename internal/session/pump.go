package session

import (
	"io"
	"sync"
)

// pump copies the microphone stream into the reader of the current engine
// run. Between runs (while a restart is pending) captured audio is dropped.
type pump struct {
	src io.Reader

	mu sync.Mutex
	w  *io.PipeWriter
}

func newPump(src io.Reader) *pump {
	p := &pump{src: src}
	go p.run()
	return p
}

// attach starts a new run and returns its reader; the previous run's reader
// sees io.EOF.
func (p *pump) attach() io.Reader {
	r, w := io.Pipe()
	p.mu.Lock()
	old := p.w
	p.w = w
	p.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return r
}

func (p *pump) detach() {
	p.mu.Lock()
	old := p.w
	p.w = nil
	p.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

func (p *pump) run() {
	buf := make([]byte, 4096)
	for {
		n, err := p.src.Read(buf)
		if n > 0 {
			p.mu.Lock()
			w := p.w
			p.mu.Unlock()
			if w != nil {
				// ErrClosedPipe means the run went away mid-write.
				_, _ = w.Write(buf[:n])
			}
		}
		if err != nil {
			p.detach()
			return
		}
	}
}
