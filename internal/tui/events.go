package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tiroq/voicenotes/internal/session"
)

type (
	// snapshotMsg tells the model to re-read the recorder snapshot.
	snapshotMsg     struct{}
	transcriptMsg   struct{ text string }
	idleMsg         struct{ err error }
	storeChangedMsg struct{}
)

// Events carries session callbacks and store notifications, which arrive
// on other goroutines, into the Bubble Tea loop.
type Events struct {
	ch   chan tea.Msg
	done chan struct{}
	once sync.Once
}

func NewEvents() *Events {
	return &Events{
		ch:   make(chan tea.Msg, 64),
		done: make(chan struct{}),
	}
}

// OnChange may drop the notification when the queue is full: any queued
// snapshotMsg already makes the model read the latest snapshot.
func (e *Events) OnChange(session.Snapshot) {
	select {
	case e.ch <- snapshotMsg{}:
	default:
	}
}

func (e *Events) OnTranscript(text string) { e.send(transcriptMsg{text: text}) }

func (e *Events) OnIdle(err error) { e.send(idleMsg{err: err}) }

// StoreChanged is the kv.Watch callback.
func (e *Events) StoreChanged() {
	select {
	case e.ch <- storeChangedMsg{}:
	default:
	}
}

func (e *Events) send(msg tea.Msg) {
	select {
	case e.ch <- msg:
	case <-e.done:
	}
}

// Close unblocks pending senders and the waiting command.
func (e *Events) Close() {
	e.once.Do(func() { close(e.done) })
}

// wait returns the next event; the model re-issues it after every event.
func (e *Events) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-e.ch:
			return msg
		case <-e.done:
			return nil
		}
	}
}
