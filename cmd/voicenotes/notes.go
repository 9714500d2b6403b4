package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/tiroq/voicenotes/internal/note"
	"github.com/tiroq/voicenotes/internal/prefs"
)

const listPreviewRunes = 60

func newNotesCmd(opts *rootOptions) *cobra.Command {
	notes := &cobra.Command{
		Use:     "notes",
		Aliases: []string{"note"},
		Short:   "List and edit notes without the interactive UI",
	}
	notes.AddCommand(newNotesListCmd(opts))
	notes.AddCommand(newNotesShowCmd(opts))
	notes.AddCommand(newNotesAddCmd(opts))
	notes.AddCommand(newNotesEditCmd(opts))
	notes.AddCommand(newNotesDeleteCmd(opts))
	return notes
}

func newNotesListCmd(opts *rootOptions) *cobra.Command {
	var search string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			list := a.notes.Filter(search)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}
			if len(list) == 0 {
				if search != "" {
					_, err = fmt.Fprintln(cmd.OutOrStdout(), "No notes match your search.")
				} else {
					_, err = fmt.Fprintln(cmd.OutOrStdout(), "No notes yet.")
				}
				return err
			}
			return writeNoteTable(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().StringVarP(&search, "search", "s", "", "only notes whose title or content contains this text")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print notes as JSON")
	return cmd
}

func writeNoteTable(w io.Writer, list []note.Note) error {
	rows := make([][]string, 0, len(list))
	for _, n := range list {
		rows = append(rows, []string{
			shortRef(n.ID),
			n.CreatedAt.Local().Format("2006-01-02 15:04"),
			n.DisplayTitle(),
			n.Preview(listPreviewRunes),
		})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "CREATED", "TITLE", "PREVIEW").
		Rows(rows...)
	_, err := fmt.Fprintln(w, t.String())
	return err
}

func newNotesShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.notes.Resolve(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n", n.DisplayTitle())
			fmt.Fprintf(out, "id:       %s\n", n.ID)
			fmt.Fprintf(out, "created:  %s\n", n.CreatedAt.Local().Format(time.RFC3339))
			fmt.Fprintf(out, "updated:  %s\n", n.UpdatedAt.Local().Format(time.RFC3339))
			if n.Language != "" {
				fmt.Fprintf(out, "language: %s\n", n.Language)
			}
			fmt.Fprintf(out, "source:   %s\n\n%s\n", n.Source, n.Content)
			return nil
		},
	}
}

func newNotesAddCmd(opts *rootOptions) *cobra.Command {
	var title, lang string

	cmd := &cobra.Command{
		Use:   "add [content...]",
		Short: "Create a typed note; content is read from stdin when no argument is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := contentFrom(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			if lang != "" {
				l, ok := prefs.Lookup(lang)
				if !ok {
					return fmt.Errorf("unsupported language %q", lang)
				}
				lang = l.Code
			}

			a, err := openApp(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.notes.Create(note.Draft{
				Title:    title,
				Content:  content,
				Source:   note.SourceManual,
				Language: lang,
			})
			if err != nil {
				return noteError(err)
			}
			if err := a.notes.Flush(); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Created %s %q\n", shortRef(n.ID), n.DisplayTitle())
			return err
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "note title")
	cmd.Flags().StringVarP(&lang, "lang", "l", "", "language code, e.g. en-US")
	return cmd
}

func newNotesEditCmd(opts *rootOptions) *cobra.Command {
	var title, content, lang string

	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change a note's title, content or language",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p note.Patch
			if cmd.Flags().Changed("title") {
				p.Title = &title
			}
			if cmd.Flags().Changed("content") {
				p.Content = &content
			}
			if cmd.Flags().Changed("lang") {
				if l, ok := prefs.Lookup(lang); ok {
					lang = l.Code
				} else if lang != "" {
					return fmt.Errorf("unsupported language %q", lang)
				}
				p.Language = &lang
			}
			if p.Title == nil && p.Content == nil && p.Language == nil {
				return errors.New("nothing to change: pass --title, --content or --lang")
			}

			a, err := openApp(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.notes.Resolve(args[0])
			if err != nil {
				return err
			}
			n, err = a.notes.Update(n.ID, p)
			if err != nil {
				return noteError(err)
			}
			if err := a.notes.Flush(); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Updated %s %q\n", shortRef(n.ID), n.DisplayTitle())
			return err
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "new title (empty for untitled)")
	cmd.Flags().StringVarP(&content, "content", "c", "", "new content")
	cmd.Flags().StringVarP(&lang, "lang", "l", "", "new language code")
	return cmd
}

func newNotesDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a note",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.notes.Resolve(args[0])
			if err != nil {
				return err
			}
			if err := a.notes.Delete(n.ID); err != nil {
				return err
			}
			if err := a.notes.Flush(); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s %q\n", shortRef(n.ID), n.DisplayTitle())
			return err
		},
	}
}

func contentFrom(stdin io.Reader, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func noteError(err error) error {
	if errors.Is(err, note.ErrEmptyContent) {
		return errors.New("note content cannot be empty")
	}
	return err
}

func shortRef(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
