package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/tiroq/voicenotes/internal/asr"
	"github.com/tiroq/voicenotes/internal/note"
	"github.com/tiroq/voicenotes/internal/prefs"
	"github.com/tiroq/voicenotes/internal/session"
	"github.com/tiroq/voicenotes/internal/speech"
)

func newRecordCmd(opts *rootOptions) *cobra.Command {
	var lang, wavPath string
	var continuous, single bool

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Dictate a note without the interactive UI; press Enter to stop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if continuous && single {
				return errors.New("--continuous and --single are mutually exclusive")
			}
			a, err := openApp(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			if lang != "" {
				if err := a.prefs.SetLanguage(lang); err != nil {
					return err
				}
			}
			switch {
			case continuous:
				a.cfg.Recorder.Continuous = true
			case single:
				a.cfg.Recorder.Continuous = false
			}
			return a.record(cmd, wavPath)
		},
	}
	cmd.Flags().StringVarP(&lang, "lang", "l", "", "recognition language (saved as the new default)")
	cmd.Flags().StringVar(&wavPath, "file", "", "read audio from a WAV file instead of the microphone")
	cmd.Flags().BoolVar(&continuous, "continuous", false, "keep listening across pauses")
	cmd.Flags().BoolVar(&single, "single", false, "stop after the first pause")
	return cmd
}

func (a *app) record(cmd *cobra.Command, wavPath string) error {
	ctx := cmd.Context()
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	mic, err := a.microphone(wavPath)
	if err != nil {
		return err
	}

	var (
		mu     sync.Mutex
		source note.Source
		saved  int
	)
	idle := make(chan error, 1)
	rec, err := a.recorder(mic, sessionHooks{
		onTranscript: func(text string) {
			mu.Lock()
			defer mu.Unlock()
			n, err := a.notes.CreateFromTranscript(text, a.prefs.Language(), source)
			if err != nil {
				a.log.Error().Err(err).Msg("failed to save transcript")
				return
			}
			saved++
			fmt.Fprintf(out, "Saved %s %q\n", shortRef(n.ID), n.DisplayTitle())
		},
		onIdle: func(err error) {
			select {
			case idle <- err:
			default:
			}
		},
		onChange: func(s session.Snapshot) {
			a.log.Debug().Str("state", s.State.String()).Int("restarts", s.Restarts).Msg("recorder")
		},
	})
	if err != nil {
		return err
	}
	defer func() { _ = rec.session.Close() }()
	if rec.unavailable != nil {
		return fmt.Errorf("%w: %v", session.ErrUnavailable, rec.unavailable)
	}
	source = rec.source

	if err := rec.session.Start(ctx); err != nil {
		return errors.New(describeError(err))
	}
	langName := a.prefs.Language()
	if l, ok := prefs.Lookup(langName); ok {
		langName = l.Name
	}
	if wavPath == "" {
		fmt.Fprintf(errOut, "Recording in %s. Press Enter to stop.\n", langName)
	}

	enter := make(chan struct{})
	if wavPath == "" {
		go waitForEnter(cmd.InOrStdin(), enter)
	}

	finish := func(err error) error {
		if err != nil {
			return errors.New(describeError(err))
		}
		mu.Lock()
		n := saved
		mu.Unlock()
		if n == 0 {
			fmt.Fprintln(errOut, "No speech was recognized.")
		}
		return a.notes.Flush()
	}

	select {
	case err := <-idle:
		return finish(err)
	case <-enter:
	case <-ctx.Done():
	}
	if err := rec.session.Stop(); err != nil && !errors.Is(err, session.ErrNotActive) {
		return err
	}

	// The session guarantees an idle callback within its stop timeout.
	select {
	case err := <-idle:
		return finish(err)
	case <-time.After(a.stopTimeout() + time.Second):
		return errors.New("timed out waiting for the recognizer to finish")
	}
}

func waitForEnter(r io.Reader, done chan<- struct{}) {
	_, _ = bufio.NewReader(r).ReadString('\n')
	close(done)
}

// describeError turns recognizer and transcription failures into the
// messages shown to users.
func describeError(err error) string {
	var se *speech.Error
	var he *asr.HTTPError
	switch {
	case errors.As(err, &se):
		return se.UserMessage()
	case errors.As(err, &he), errors.Is(err, asr.ErrNoToken):
		return asr.UserMessage(err)
	case errors.Is(err, session.ErrUnavailable):
		return "Speech recognition is not available: " + err.Error()
	default:
		return err.Error()
	}
}
