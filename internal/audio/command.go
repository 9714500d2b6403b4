package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
)

// CommandMicrophone captures audio by running an external program (arecord,
// sox, ffmpeg ...) that writes raw PCM to stdout.
type CommandMicrophone struct {
	args   []string
	format Format

	// startupGrace is how long Acquire waits for the program to fail
	// before handing out the stream.
	startupGrace time.Duration

	mu     sync.Mutex
	active *commandStream
}

func NewCommandMicrophone(command string, format Format) (*CommandMicrophone, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("capture command is empty")
	}
	return &CommandMicrophone{args: args, format: format, startupGrace: 200 * time.Millisecond}, nil
}

// Available checks that the capture program can be found.
func (m *CommandMicrophone) Available() error {
	if _, err := exec.LookPath(m.args[0]); err != nil {
		return fmt.Errorf("%w: %s not found", ErrNoDevice, m.args[0])
	}
	return nil
}

// Acquire starts the capture program. A program that exits during the
// startup grace period (device busy, permission denied) is reported here
// rather than as an empty stream.
func (m *CommandMicrophone) Acquire(ctx context.Context) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return nil, ErrBusy
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("capture pipe: %w", err)
	}
	cmd := exec.Command(m.args[0], m.args[1:]...)
	var stderr bytes.Buffer
	cmd.Stdout = pw
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
		}
		return nil, fmt.Errorf("start capture: %w", err)
	}
	_ = pw.Close()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		_ = pr.Close()
		msg := strings.TrimSpace(stderr.String())
		if msg == "" && err != nil {
			msg = err.Error()
		}
		return nil, fmt.Errorf("%w: capture exited: %s", ErrNoDevice, msg)
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		_ = pr.Close()
		return nil, ctx.Err()
	case <-time.After(m.startupGrace):
	}

	s := &commandStream{mic: m, cmd: cmd, r: pr, done: done, format: m.format}
	m.active = s
	return s, nil
}

type commandStream struct {
	mic    *CommandMicrophone
	cmd    *exec.Cmd
	r      *os.File
	done   chan error
	format Format
	once   sync.Once
}

func (s *commandStream) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *commandStream) Format() Format { return s.format }

func (s *commandStream) Release() error {
	s.once.Do(func() {
		_ = s.cmd.Process.Kill()
		<-s.done
		_ = s.r.Close()

		s.mic.mu.Lock()
		if s.mic.active == s {
			s.mic.active = nil
		}
		s.mic.mu.Unlock()
	})
	return nil
}
