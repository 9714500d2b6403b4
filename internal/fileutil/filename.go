// Package fileutil holds the small file helpers shared by the note export,
// the key-value file store and the pidfile.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	illegalChars = regexp.MustCompile(`[\/\\:*?"<>|\x00-\x1f]`)
	separators   = regexp.MustCompile(`[\s_]+`)
)

// SanitizeForFilename turns a note title into something safe to use as a
// file name. It returns fallback when nothing usable is left.
func SanitizeForFilename(input, fallback string) string {
	// Illegal chars: / \ : * ? " < > | and control characters
	sanitized := illegalChars.ReplaceAllString(input, "_")
	sanitized = separators.ReplaceAllString(sanitized, "-")
	sanitized = strings.Trim(sanitized, "-.")

	// Limit length to 50 runes for reasonable filenames
	if r := []rune(sanitized); len(r) > 50 {
		sanitized = strings.TrimRight(string(r[:50]), "-")
	}

	if sanitized == "" {
		return fallback
	}
	return sanitized
}

// UniquePath returns dir/base+ext, or dir/base_N+ext for the first N >= 2
// that does not exist yet.
func UniquePath(dir, base, ext string) (string, error) {
	path := filepath.Join(dir, base+ext)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path, nil
	}
	for i := 2; i < 1000; i++ {
		try := filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, i, ext))
		if _, err := os.Stat(try); os.IsNotExist(err) {
			return try, nil
		}
	}
	return "", fmt.Errorf("no free file name for %s%s in %s", base, ext, dir)
}
