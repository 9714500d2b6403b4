package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
)

// FileMicrophone replays a WAV file as if it were captured live. Used by
// `voicenotes record --input` and in tests.
type FileMicrophone struct {
	path string

	mu     sync.Mutex
	active *fileStream
}

func NewFileMicrophone(path string) *FileMicrophone {
	return &FileMicrophone{path: path}
}

func (m *FileMicrophone) Available() error {
	if _, err := os.Stat(m.path); err != nil {
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	return nil
}

func (m *FileMicrophone) Acquire(ctx context.Context) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return nil, ErrBusy
	}
	f, err := os.Open(m.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	defer f.Close()
	pcm, format, err := DecodeWAV(f)
	if err != nil {
		return nil, err
	}
	s := &fileStream{mic: m, r: bytes.NewReader(pcm), format: format}
	m.active = s
	return s, nil
}

type fileStream struct {
	mic    *FileMicrophone
	r      *bytes.Reader
	format Format
	once   sync.Once
}

func (s *fileStream) Read(p []byte) (int, error) { return s.r.Read(p) }
func (s *fileStream) Format() Format             { return s.format }

func (s *fileStream) Release() error {
	s.once.Do(func() {
		s.mic.mu.Lock()
		if s.mic.active == s {
			s.mic.active = nil
		}
		s.mic.mu.Unlock()
	})
	return nil
}
