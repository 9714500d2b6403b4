// Package export renders notes as a plain-text or markdown document and
// writes it (or one file per note) to disk.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tiroq/voicenotes/internal/fileutil"
	"github.com/tiroq/voicenotes/internal/note"
)

type Format string

const (
	FormatText     Format = "txt"
	FormatMarkdown Format = "md"
)

const (
	dateLayout    = "2006-01-02"
	textSeparator = 50
)

// ParseFormat accepts "txt", "text", "md" and "markdown".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "txt", "text":
		return FormatText, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("unknown export format %q (want txt or md)", s)
}

// Ext is the file extension including the dot.
func (f Format) Ext() string { return "." + string(f) }

// Render builds one document from notes, in the order given. Dates are
// printed in loc; nil means time.Local.
func Render(notes []note.Note, f Format, loc *time.Location) (string, error) {
	if loc == nil {
		loc = time.Local
	}
	parts := make([]string, 0, len(notes))
	for _, n := range notes {
		s, err := renderNote(n, f, loc)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n"), nil
}

func renderNote(n note.Note, f Format, loc *time.Location) (string, error) {
	date := n.CreatedAt.In(loc).Format(dateLayout)
	var b strings.Builder
	switch f {
	case FormatMarkdown:
		fmt.Fprintf(&b, "# %s\n\n", n.DisplayTitle())
		fmt.Fprintf(&b, "*Created: %s*\n\n", date)
		fmt.Fprintf(&b, "%s\n\n", n.Content)
		b.WriteString("---\n")
	case FormatText:
		fmt.Fprintf(&b, "%s\n", n.DisplayTitle())
		fmt.Fprintf(&b, "Created: %s\n\n", date)
		fmt.Fprintf(&b, "%s\n\n", n.Content)
		b.WriteString(strings.Repeat("=", textSeparator) + "\n")
	default:
		return "", fmt.Errorf("unknown export format %q", f)
	}
	return b.String(), nil
}

// Filename is the default export name for a document written on day. Callers
// pass the UTC day so the name does not depend on the export timezone.
func Filename(f Format, day time.Time) string {
	return "voice-notes-" + day.Format(dateLayout) + f.Ext()
}

type Options struct {
	Format   Format
	Location *time.Location
	// Now stamps the default file name; time.Now when nil.
	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o Options) location() *time.Location {
	if o.Location != nil {
		return o.Location
	}
	return time.Local
}

// WriteFile renders notes into one document. path may be a directory, in
// which case the default file name is used inside it. The write is atomic.
func WriteFile(path string, notes []note.Note, opts Options) (string, error) {
	if path == "" {
		path = "."
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, Filename(opts.Format, opts.now().UTC()))
	}
	doc, err := Render(notes, opts.Format, opts.location())
	if err != nil {
		return "", err
	}
	if err := fileutil.WriteFileAtomic(path, []byte(doc), 0o644); err != nil {
		return "", fmt.Errorf("writing export: %w", err)
	}
	return path, nil
}

// WritePerNote writes each note to its own file in dir, named from the
// sanitised title. Existing files are never overwritten: a numeric suffix
// is added instead. It returns the paths written and a combined error for
// the notes that failed.
func WritePerNote(dir string, notes []note.Note, opts Options) ([]string, error) {
	var (
		paths []string
		errs  []string
	)
	for _, n := range notes {
		doc, err := renderNote(n, opts.Format, opts.location())
		if err != nil {
			return paths, err
		}
		base := fileutil.SanitizeForFilename(n.Title, "untitled-note-"+shortID(n.ID))
		path, err := fileutil.UniquePath(dir, base, opts.Format.Ext())
		if err == nil {
			err = fileutil.WriteFileAtomic(path, []byte(doc), 0o644)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", n.ID, err))
			continue
		}
		paths = append(paths, path)
	}
	if len(errs) > 0 {
		return paths, fmt.Errorf("export write errors: %s", strings.Join(errs, "; "))
	}
	return paths, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
