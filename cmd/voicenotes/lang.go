package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tiroq/voicenotes/internal/prefs"
)

func newLangCmd(opts *rootOptions) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "lang [code]",
		Short: "Show or change the recognition language",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if list {
				for _, l := range prefs.Languages {
					fmt.Fprintf(out, "%-6s %s\n", l.Code, l.Name)
				}
				return nil
			}

			a, err := openApp(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			if len(args) == 1 {
				if err := a.prefs.SetLanguage(args[0]); err != nil {
					return err
				}
			}
			code := a.prefs.Language()
			name := code
			if l, ok := prefs.Lookup(code); ok {
				name = l.Name
			}
			_, err = fmt.Fprintf(out, "%s (%s)\n", name, code)
			return err
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list supported languages")
	return cmd
}
