package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tiroq/voicenotes/internal/diaglog"
)

func newExportDiagCmd(opts *rootOptions) *cobra.Command {
	var dest string

	cmd := &cobra.Command{
		Use:   "export-diag",
		Short: "Bundle the diagnostic log for a bug report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			path, n, err := diaglog.Export(cfg.Log.DebugPath, dest)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("%w; run with --debug or VOICENOTES_DEBUG=true to record one", err)
				}
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Wrote: %s (%d lines)\n", path, n)
			return err
		},
	}
	cmd.Flags().StringVarP(&dest, "dest", "d", ".", "directory for the bundle")
	return cmd
}
