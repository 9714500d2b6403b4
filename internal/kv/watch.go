package kv

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	watchSettle       = 100 * time.Millisecond
	watchPollInterval = time.Second
)

// Watch calls fn whenever the file at path is written, created or replaced,
// until ctx is done. Bursts of events are coalesced. The parent directory is
// watched because atomic writes replace the file by rename. When fsnotify is
// not available Watch falls back to polling the modification time.
func Watch(ctx context.Context, path string, fn func()) error {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	n := newNotifier(fn)
	defer n.stop()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return pollFile(ctx, path, n)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return pollFile(ctx, path, n)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return pollFile(ctx, path, n)
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				n.trigger()
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return pollFile(ctx, path, n)
			}
		}
	}
}

func pollFile(ctx context.Context, path string, n *notifier) error {
	ticker := time.NewTicker(watchPollInterval)
	defer ticker.Stop()

	var last time.Time
	if info, err := os.Stat(path); err == nil {
		last = info.ModTime()
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			if info.ModTime().After(last) {
				last = info.ModTime()
				n.trigger()
			}
		}
	}
}

// notifier coalesces triggers that arrive within watchSettle of each other.
type notifier struct {
	fn    func()
	mu    sync.Mutex
	timer *time.Timer
	done  bool
}

func newNotifier(fn func()) *notifier { return &notifier{fn: fn} }

func (n *notifier) trigger() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.done {
		return
	}
	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(watchSettle, n.fn)
}

func (n *notifier) stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.done = true
	if n.timer != nil {
		n.timer.Stop()
	}
}
