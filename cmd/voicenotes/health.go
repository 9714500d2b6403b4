package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newHealthCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the transcription backends are reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			reg, err := a.registry()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, name := range reg.Backends() {
				tr, _ := reg.Get(name)
				ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
				st, err := tr.HealthCheck(ctx)
				cancel()
				switch {
				case err != nil:
					failed++
					fmt.Fprintf(out, "%-14s FAIL  %v\n", name, err)
				case !st.OK:
					failed++
					fmt.Fprintf(out, "%-14s FAIL  %s\n", name, st.Message)
				default:
					fmt.Fprintf(out, "%-14s ok    %s (%s)\n", name, st.Message, st.Latency.Round(time.Millisecond))
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d backends unhealthy", failed, len(reg.Backends()))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "per-backend timeout")
	return cmd
}
