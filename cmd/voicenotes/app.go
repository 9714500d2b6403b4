package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/tiroq/voicenotes/internal/asr"
	"github.com/tiroq/voicenotes/internal/asr/localwhisper"
	"github.com/tiroq/voicenotes/internal/asr/remotewhisper"
	"github.com/tiroq/voicenotes/internal/audio"
	"github.com/tiroq/voicenotes/internal/config"
	"github.com/tiroq/voicenotes/internal/diaglog"
	"github.com/tiroq/voicenotes/internal/kv"
	"github.com/tiroq/voicenotes/internal/note"
	"github.com/tiroq/voicenotes/internal/prefs"
	"github.com/tiroq/voicenotes/internal/session"
	"github.com/tiroq/voicenotes/internal/speech"
	"github.com/tiroq/voicenotes/internal/speech/batchengine"
	"github.com/tiroq/voicenotes/internal/speech/wsengine"
)

// batchStopMargin is added to the request timeout so a stop never cuts off
// an upload that is still within its own deadline.
const batchStopMargin = 5 * time.Second

var errNoBackend = errors.New("no transcription backend enabled (set remote.enabled or local_whisper.enabled)")

// app holds the stores every command works against.
type app struct {
	cfg   config.Config
	log   zerolog.Logger
	diag  *diaglog.Logger
	kv    kv.Store
	notes *note.Store
	prefs *prefs.Prefs
}

func loadConfig(opts *rootOptions) (config.Config, error) {
	envFiles := []string{".env.local", ".env", filepath.Join(config.Dir(), ".env")}
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return config.Config{}, err
	}

	path := opts.configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultPath()); err == nil {
			path = config.DefaultPath()
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.debug {
		cfg.Log.Debug = true
	}
	return cfg, nil
}

func openApp(ctx context.Context, opts *rootOptions, stderr io.Writer) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: newLogger(stderr, cfg.Log.Level), diag: diaglog.NewNoOp()}

	if cfg.Log.Debug {
		d, err := diaglog.New(cfg.Log.DebugPath, true)
		if err != nil {
			a.log.Warn().Err(err).Str("path", cfg.Log.DebugPath).Msg("diagnostic log disabled")
		} else {
			a.diag = d
		}
	}

	a.kv, err = kv.Open(ctx, cfg.Storage)
	if err != nil {
		_ = a.diag.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.notes, err = note.Open(a.kv, note.Options{Debounce: cfg.Notes.Debounce(), Logger: a.diag})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("load notes: %w", err)
	}
	a.prefs, err = prefs.Load(a.kv, cfg.Notes.DefaultLanguage, a.diag)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("load preferences: %w", err)
	}

	a.log.Debug().
		Str("backend", cfg.Storage.Backend).
		Str("path", cfg.Storage.Path).
		Int("notes", a.notes.Len()).
		Msg("storage opened")
	a.diag.Event(diaglog.ComponentCLI, diaglog.EventAppLoaded, map[string]interface{}{
		"version": Version,
		"notes":   a.notes.Len(),
		"storage": cfg.Storage.Backend,
	})
	return a, nil
}

// close flushes pending note writes before releasing the store.
func (a *app) close() {
	if a.notes != nil {
		if err := a.notes.Close(); err != nil {
			a.log.Error().Err(err).Msg("failed to save notes")
		}
	}
	if a.kv != nil {
		if err := a.kv.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close storage")
		}
	}
	_ = a.diag.Close()
}

// registry builds the transcription backends: the remote endpoint first,
// the local whisper binary as its fallback.
func (a *app) registry() (*asr.Registry, error) {
	reg := asr.NewRegistry()
	if a.cfg.Remote.Enabled {
		c := remotewhisper.NewClient(remotewhisper.Config{
			Endpoint:       a.cfg.Remote.Endpoint,
			Token:          a.cfg.Remote.Token,
			TimeoutSeconds: a.cfg.Remote.TimeoutSeconds,
			Retries:        a.cfg.Remote.Retries,
		})
		c.SetLogger(a.diag)
		reg.Register(c)
	}
	if a.cfg.LocalWhisper.Enabled {
		b := localwhisper.NewBackend(localwhisper.Config{
			Binary:    a.cfg.LocalWhisper.Binary,
			ModelPath: a.cfg.LocalWhisper.Model,
			Threads:   a.cfg.LocalWhisper.Threads,
		})
		reg.Register(b)
		if a.cfg.Remote.Enabled {
			if err := reg.SetFallback(b.Name()); err != nil {
				return nil, err
			}
		}
	}
	if len(reg.Backends()) == 0 {
		return nil, errNoBackend
	}
	return reg, nil
}

// engine returns the configured speech engine and the source recorded on
// notes it produces. A batch engine without backends is returned anyway;
// it reports itself unavailable.
func (a *app) engine() (speech.Engine, note.Source) {
	if a.cfg.Recorder.Engine == "stream" {
		return wsengine.New(wsengine.Options{
			URL:              a.cfg.Stream.URL,
			HandshakeTimeout: a.cfg.Stream.HandshakeTimeout(),
			FrameBytes:       a.cfg.Stream.FrameBytes,
			Logger:           a.diag,
		}), note.SourceVoiceEngine
	}

	var tr asr.Transcriber
	if reg, err := a.registry(); err == nil {
		tr = reg
	} else {
		a.log.Warn().Err(err).Msg("batch engine has no backend")
	}
	return batchengine.New(tr, batchengine.Options{
		Timeout: a.cfg.Remote.Timeout(),
		Logger:  a.diag,
	}), note.SourceRemote
}

// stopTimeout gives a batch engine enough time to finish its upload.
func (a *app) stopTimeout() time.Duration {
	d := a.cfg.Recorder.StopTimeout()
	if a.cfg.Recorder.Engine == "batch" {
		if upload := a.cfg.Remote.Timeout() + batchStopMargin; upload > d {
			d = upload
		}
	}
	return d
}

func (a *app) microphone(wavPath string) (audio.Microphone, error) {
	if wavPath != "" {
		return audio.NewFileMicrophone(wavPath), nil
	}
	return audio.NewCommandMicrophone(a.cfg.Capture.Command, audio.Format{
		SampleRate: a.cfg.Capture.SampleRate,
		Channels:   a.cfg.Capture.Channels,
	})
}

type sessionHooks struct {
	onTranscript func(string)
	onIdle       func(error)
	onChange     func(session.Snapshot)
}

type recorderSetup struct {
	session *session.Session
	source  note.Source
	// unavailable explains why recording cannot start; the session is
	// still usable for everything else.
	unavailable error
}

func (a *app) recorder(mic audio.Microphone, hooks sessionHooks) (recorderSetup, error) {
	eng, source := a.engine()
	s, err := session.New(session.Options{
		Engine:            eng,
		Microphone:        mic,
		Logger:            a.diag,
		Locale:            a.prefs.Language(),
		Continuous:        a.cfg.Recorder.Continuous,
		InterimResults:    a.cfg.Recorder.InterimResults,
		RestartDelay:      a.cfg.Recorder.RestartDelay(),
		MinRestartSpacing: a.cfg.Recorder.MinRestartSpacing(),
		MaxRestarts:       a.cfg.Recorder.MaxRestarts,
		StopTimeout:       a.stopTimeout(),
		OnTranscript:      hooks.onTranscript,
		OnIdle:            hooks.onIdle,
		OnChange:          hooks.onChange,
	})
	if err != nil {
		return recorderSetup{}, err
	}

	setup := recorderSetup{session: s, source: source}
	if err := eng.Available(); err != nil {
		setup.unavailable = err
	} else if err := mic.Available(); err != nil {
		setup.unavailable = err
	}
	return setup, nil
}
