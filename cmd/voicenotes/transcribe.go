package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tiroq/voicenotes/internal/asr"
	"github.com/tiroq/voicenotes/internal/audio"
	"github.com/tiroq/voicenotes/internal/diaglog"
	"github.com/tiroq/voicenotes/internal/note"
	"github.com/tiroq/voicenotes/internal/prefs"
)

func newTranscribeCmd(opts *rootOptions) *cobra.Command {
	var lang, title string
	var noSave bool

	cmd := &cobra.Command{
		Use:   "transcribe <file.wav>",
		Short: "Transcribe a WAV recording and save it as a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read audio: %w", err)
			}
			pcm, format, err := audio.DecodeWAV(bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if len(pcm) == 0 {
				return errors.New(asr.UserMessage(asr.ErrEmptyAudio))
			}

			a, err := openApp(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			if lang == "" {
				lang = a.prefs.Language()
			} else if l, ok := prefs.Lookup(lang); ok {
				lang = l.Code
			} else {
				return fmt.Errorf("unsupported language %q", lang)
			}
			reg, err := a.registry()
			if err != nil {
				return err
			}

			seconds := float64(len(pcm)) / float64(format.BytesPerSecond())
			a.log.Info().
				Str("backend", reg.Name()).
				Str("language", lang).
				Float64("seconds", seconds).
				Msg("transcribing")

			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Remote.Timeout()*time.Duration(a.cfg.Remote.Retries+1))
			defer cancel()
			start := time.Now()
			tr, err := reg.Transcribe(ctx, data, asr.TranscribeOptions{Language: prefs.Hint(lang)})
			if err != nil {
				a.diag.Event(diaglog.ComponentRemoteASR, diaglog.EventTranscriptionError, map[string]interface{}{
					"file":  args[0],
					"error": err.Error(),
				})
				return errors.New(asr.UserMessage(err))
			}
			text := strings.TrimSpace(tr.Text)
			a.log.Debug().Str("backend", tr.Backend).Dur("took", time.Since(start)).Msg("transcribed")
			if text == "" {
				return errors.New("no speech was recognized")
			}

			fmt.Fprintln(cmd.OutOrStdout(), text)
			if noSave {
				return nil
			}
			n, err := a.notes.Create(note.Draft{
				Title:    title,
				Content:  text,
				Source:   note.SourceRemote,
				Language: lang,
			})
			if err != nil {
				return noteError(err)
			}
			if err := a.notes.Flush(); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.ErrOrStderr(), "Saved %s %q\n", shortRef(n.ID), n.DisplayTitle())
			return err
		},
	}
	cmd.Flags().StringVarP(&lang, "lang", "l", "", "language code (default: the saved language)")
	cmd.Flags().StringVarP(&title, "title", "t", "", "note title")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "print the transcript without creating a note")
	return cmd
}
