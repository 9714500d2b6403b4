// Package pidfile keeps a second interactive client from running against the
// same note store.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/tiroq/voicenotes/internal/fileutil"
)

// ErrAlreadyRunning is returned when a live process owns the PID file.
var ErrAlreadyRunning = errors.New("another instance is already running")

// PIDFile records the owning process.
type PIDFile struct {
	path string
	pid  int
}

// Acquire writes the current PID to path. A file left behind by a process
// that no longer exists is replaced.
func Acquire(path string) (*PIDFile, error) {
	if pid, ok := readPID(path); ok && pid != os.Getpid() && isProcessRunning(pid) {
		return nil, fmt.Errorf("%w (PID %d)", ErrAlreadyRunning, pid)
	}

	current := os.Getpid()
	// The whole file is replaced in one rename so a concurrent reader never
	// sees an empty PID.
	if err := fileutil.WriteFileAtomic(path, []byte(strconv.Itoa(current)+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write PID file: %w", err)
	}
	return &PIDFile{path: path, pid: current}, nil
}

func (p *PIDFile) Path() string { return p.path }

// Remove deletes the PID file if it still holds our PID.
func (p *PIDFile) Remove() error {
	if p == nil {
		return nil
	}
	if pid, ok := readPID(p.path); ok && pid == p.pid {
		if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func readPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// isProcessRunning sends signal 0, which only checks for existence.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	switch {
	case err == nil:
		return true
	case errors.Is(err, syscall.EPERM):
		// Exists, owned by someone else.
		return true
	default:
		return false
	}
}

// DefaultPath is the PID file location for name under the user cache dir.
func DefaultPath(name string) string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = filepath.Join(os.Getenv("HOME"), ".cache")
	}
	return filepath.Join(dir, "voicenotes", name+".pid")
}
