package utils

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

const maxFilenameLength = 200

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._ -]+`)

// CleanUTF8 removes invalid UTF8 sequences and NUL bytes from a string,
// reporting whether cleaning was needed. Tool-derived names occasionally
// carry both.
func CleanUTF8(input string) (string, bool) {
	needsCleaning := strings.Contains(input, "\x00") || !utf8.ValidString(input)
	if !needsCleaning {
		return input, false
	}

	cleaned := strings.ToValidUTF8(input, "")
	cleaned = strings.ReplaceAll(cleaned, "\x00", "")
	return cleaned, true
}

// SanitizeFilename reduces an arbitrary client- or server-supplied name to a
// single safe path component. Returns "" when nothing usable remains.
func SanitizeFilename(name string) string {
	name, _ = CleanUTF8(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	if name == "." || name == "/" {
		return ""
	}

	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, ". ")

	if len(name) > maxFilenameLength {
		ext := filepath.Ext(name)
		if len(ext) > 20 {
			ext = ""
		}
		name = name[:maxFilenameLength-len(ext)] + ext
	}

	return name
}

// SafeJoin joins name onto dir and rejects any result that escapes dir.
func SafeJoin(dir, name string) (string, error) {
	joined := filepath.Clean(filepath.Join(dir, name))
	base := filepath.Clean(dir)
	if joined != base && !strings.HasPrefix(joined, base+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes directory: %s", name)
	}
	if joined == base {
		return "", fmt.Errorf("empty path component: %s", name)
	}
	return joined, nil
}

// HumanSize renders a byte count for display, e.g. "1.4 GB".
func HumanSize(bytes int64) string {
	size := float64(bytes)
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if size < 1024 {
			if unit == "B" {
				return fmt.Sprintf("%d %s", bytes, unit)
			}
			return fmt.Sprintf("%.1f %s", size, unit)
		}
		size /= 1024
	}
	return fmt.Sprintf("%.1f TB", size)
}
