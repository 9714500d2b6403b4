package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tiroq/voicenotes/internal/diaglog"
	"github.com/tiroq/voicenotes/internal/export"
	"github.com/tiroq/voicenotes/internal/note"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	var format, out, search string
	var perNote bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write notes to a Markdown or plain text file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			if format == "" {
				format = a.cfg.Export.Format
			}
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			if out == "" {
				out = a.cfg.Export.Dir
			}

			list := a.notes.Filter(search)
			if len(list) == 0 {
				return errors.New("no notes to export")
			}

			if perNote {
				paths, err := export.WritePerNote(out, list, a.exportOptions(f))
				for _, p := range paths {
					fmt.Fprintf(cmd.OutOrStdout(), "Wrote: %s\n", p)
				}
				a.logExport(f, len(paths), out, err)
				return err
			}

			path, err := a.exportNotes(list, f, out)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Wrote: %s (%d notes)\n", path, len(list))
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "md or txt (default from config)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file or directory (default from config)")
	cmd.Flags().StringVarP(&search, "search", "s", "", "only export notes matching this text")
	cmd.Flags().BoolVar(&perNote, "per-note", false, "write one file per note into the output directory")
	return cmd
}

func (a *app) exportOptions(f export.Format) export.Options {
	return export.Options{Format: f, Location: a.cfg.Export.Location()}
}

// exportNotes writes notes to dest, a file or a directory that receives
// the dated default file name.
func (a *app) exportNotes(notes []note.Note, f export.Format, dest string) (string, error) {
	path, err := export.WriteFile(dest, notes, a.exportOptions(f))
	a.logExport(f, len(notes), path, err)
	return path, err
}

func (a *app) logExport(f export.Format, count int, dest string, err error) {
	payload := map[string]interface{}{
		"format": string(f),
		"count":  count,
		"path":   dest,
	}
	if err != nil {
		payload["error"] = err.Error()
		a.log.Error().Err(err).Str("path", dest).Msg("export failed")
	}
	a.diag.Event(diaglog.ComponentExport, diaglog.EventNotesExported, payload)
}
