package main

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tiroq/voicenotes/internal/diaglog"
	"github.com/tiroq/voicenotes/internal/export"
	"github.com/tiroq/voicenotes/internal/kv"
	"github.com/tiroq/voicenotes/internal/note"
	"github.com/tiroq/voicenotes/internal/pidfile"
	"github.com/tiroq/voicenotes/internal/tui"
)

func newTUICmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the interactive recorder and note browser (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTUI(cmd, opts)
		},
	}
}

func runTUI(cmd *cobra.Command, opts *rootOptions) error {
	pf, err := pidfile.Acquire(pidfile.DefaultPath("tui"))
	if err != nil {
		if errors.Is(err, pidfile.ErrAlreadyRunning) {
			return fmt.Errorf("%w; close the other voicenotes window first", err)
		}
		return err
	}
	defer func() { _ = pf.Remove() }()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := openApp(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	mic, err := a.microphone("")
	if err != nil {
		return err
	}
	events := tui.NewEvents()

	rec, err := a.recorder(mic, sessionHooks{
		onTranscript: events.OnTranscript,
		onIdle:       events.OnIdle,
		onChange:     events.OnChange,
	})
	if err != nil {
		return err
	}
	// A capture still running at exit is dropped.
	defer func() {
		events.Close()
		_ = rec.session.Close()
	}()
	if rec.unavailable != nil {
		a.log.Warn().Err(rec.unavailable).Msg("recording unavailable")
	}

	if a.cfg.Storage.Watch && a.cfg.Storage.Backend != "memory" {
		log := a.log
		go func() {
			if err := kv.Watch(ctx, a.cfg.Storage.Path, events.StoreChanged); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("not watching storage for changes")
			}
		}()
	}

	// The alternate screen owns the terminal from here on.
	a.log = zerolog.Nop()
	a.diag.Event(diaglog.ComponentTUI, diaglog.EventAppLoaded, map[string]interface{}{
		"engine":    a.cfg.Recorder.Engine,
		"available": rec.unavailable == nil,
	})

	model := tui.New(tui.Options{
		Context:   ctx,
		Notes:     a.notes,
		Recorder:  rec.session,
		Languages: a.prefs,
		Events:    events,
		Export: func(notes []note.Note, f export.Format) (string, error) {
			return a.exportNotes(notes, f, a.cfg.Export.Dir)
		},
		Source:      rec.source,
		Unavailable: rec.unavailable,
		Logger:      a.diag,
	})
	_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
