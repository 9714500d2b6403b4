package session

import (
	"github.com/tiroq/voicenotes/internal/diaglog"
	"github.com/tiroq/voicenotes/internal/speech"
)

type eventKind int

const (
	evEngineStart eventKind = iota
	evEngineResult
	evEngineError
	evEngineEnd
	evStop
	evRestartDue
	evStopTimeout
)

func (k eventKind) String() string {
	switch k {
	case evEngineStart:
		return "engine_start"
	case evEngineResult:
		return "engine_result"
	case evEngineError:
		return "engine_error"
	case evEngineEnd:
		return "engine_end"
	case evStop:
		return "stop"
	case evRestartDue:
		return "restart_due"
	case evStopTimeout:
		return "stop_timeout"
	default:
		return "unknown"
	}
}

type event struct {
	kind eventKind
	// run is set for engine events, gen for timer events.
	run     uint64
	gen     uint64
	results []speech.Result
	err     *speech.Error
}

// handler runs with the session lock held and returns side effects to run
// after the lock is released.
type handler func(s *Session, ev event) []func()

// transitions lists every event each state accepts. Anything missing is
// stale (it belongs to a run or timer that has been replaced) and dropped.
// The table is filled in init: handlers reach dispatch through timer
// callbacks, which a package-level initializer cannot refer back to.
var transitions map[State]map[eventKind]handler

func init() {
	transitions = map[State]map[eventKind]handler{
		Starting: {
			evEngineStart:  onEngineStart,
			evEngineResult: onResult,
			evEngineError:  onEngineError,
			evEngineEnd:    onEngineEnd,
			evStop:         onStop,
		},
		Listening: {
			evEngineResult: onResult,
			evEngineError:  onEngineError,
			evEngineEnd:    onEngineEnd,
			evStop:         onStop,
		},
		// Engine events only reach Restarting from the new run, after the
		// pending restart has fired.
		Restarting: {
			evEngineStart:  onEngineStart,
			evEngineResult: onResult,
			evEngineError:  onEngineError,
			evEngineEnd:    onEngineEnd,
			evRestartDue:   onRestartDue,
			evStop:         onStopWhileRestarting,
		},
		Ending: {
			evEngineResult: onResult,
			evEngineError:  onErrorWhileEnding,
			evEngineEnd:    onEndWhileEnding,
			evStopTimeout:  onStopTimeout,
		},
	}
}

func (s *Session) dispatch(ev event) {
	s.mu.Lock()
	prev := s.state
	h, ok := transitions[prev][ev.kind]
	if ok && ev.run != 0 && ev.run != s.run {
		ok = false
	}
	if !ok {
		run := s.run
		s.mu.Unlock()
		s.log.Event(diaglog.ComponentSession, diaglog.EventStaleEvent, map[string]interface{}{
			"state":       prev.String(),
			"event":       ev.kind.String(),
			"event_run":   ev.run,
			"current_run": run,
		})
		return
	}
	effects := h(s, ev)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if snap.State != prev {
		s.log.Event(diaglog.ComponentSession, diaglog.EventStateTransition, map[string]interface{}{
			"from":  prev.String(),
			"to":    snap.State.String(),
			"event": ev.kind.String(),
		})
	}
	// Effects may re-enter dispatch (an engine that ends synchronously on
	// Stop), so observers see this snapshot first.
	s.notify(snap)
	runEffects(effects)
}

func onEngineStart(s *Session, ev event) []func() {
	if s.state == Restarting && s.restartPending {
		// A start from the run being replaced; the pending restart wins.
		return nil
	}
	s.state = Listening
	return nil
}

// onResult appends final fragments exactly once, using the per-run index,
// and replaces the interim preview.
func onResult(s *Session, ev event) []func() {
	if s.state == Starting || s.state == Restarting {
		s.state = Listening
	}
	var interim, finals string
	for _, r := range ev.results {
		if !r.Final {
			interim += r.Text
			continue
		}
		if r.Index < s.finalIndex {
			continue
		}
		s.finals.WriteString(r.Text)
		finals += r.Text
		s.finalIndex = r.Index + 1
		s.confidence = r.Confidence
	}
	s.interim = interim
	if finals == "" {
		return nil
	}
	s.restarts = 0
	n, locale := len(finals), s.locale
	return []func(){func() {
		s.log.Event(diaglog.ComponentSession, diaglog.EventTranscriptPartial, map[string]interface{}{
			"length":   n,
			"language": locale,
		})
	}}
}

func onEngineError(s *Session, ev event) []func() {
	e := ev.err
	s.lastErr = e
	logErr := func() {
		s.log.Event(diaglog.ComponentSession, diaglog.EventRecognitionError, map[string]interface{}{
			"error":    string(e.Code),
			"message":  e.Message,
			"terminal": e.Terminal(),
		})
	}
	if e.Terminal() {
		return append([]func(){logErr}, s.finalizeLocked(e, true)...)
	}
	if s.shouldContinue && !s.userStopped {
		return append([]func(){logErr}, s.requestRestartLocked(true)...)
	}
	// Single-shot: remembered, the engine's end signal finalizes.
	return []func(){logErr}
}

func onEngineEnd(s *Session, ev event) []func() {
	if s.shouldContinue && !s.userStopped {
		return s.requestRestartLocked(false)
	}
	return s.finalizeLocked(s.lastErr, false)
}

func onStop(s *Session, ev event) []func() {
	s.userStopped = true
	s.shouldContinue = false
	if s.stream == nil {
		// Still acquiring the microphone; Start notices and releases it.
		s.capture++
		return s.finalizeLocked(nil, false)
	}
	s.state = Ending
	s.stopGen++
	gen := s.stopGen
	s.stopTimer = s.clock.AfterFunc(s.stopTimeout, func() {
		s.dispatch(event{kind: evStopTimeout, gen: gen})
	})
	return []func(){func() {
		if err := s.engine.Stop(); err != nil {
			s.log.Event(diaglog.ComponentSession, diaglog.EventRecognitionError, map[string]interface{}{
				"error": err.Error(),
				"stage": "stop",
			})
		}
	}}
}

func onStopWhileRestarting(s *Session, ev event) []func() {
	s.userStopped = true
	// Once the restart has fired the new run is live and must be aborted.
	return s.finalizeLocked(nil, !s.restartPending)
}

func onRestartDue(s *Session, ev event) []func() {
	if ev.gen != s.restartGen || !s.restartPending || !s.shouldContinue || s.pump == nil {
		return nil
	}
	s.restartPending = false
	s.restartTimer = nil
	s.reservation = nil
	return s.startRunLocked()
}

func onErrorWhileEnding(s *Session, ev event) []func() {
	if ev.err.Terminal() {
		return s.finalizeLocked(ev.err, true)
	}
	return nil
}

func onEndWhileEnding(s *Session, ev event) []func() {
	return s.finalizeLocked(nil, false)
}

func onStopTimeout(s *Session, ev event) []func() {
	if ev.gen != s.stopGen {
		return nil
	}
	return s.finalizeLocked(nil, true)
}
