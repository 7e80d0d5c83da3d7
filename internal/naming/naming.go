// Package naming derives storage paths and file names for mind-map documents.
package naming

import (
	"errors"
	"strings"
	"time"

	"github.com/skillre/mindmap-qoder/internal/codec"
)

const (
	// DocumentRoot is the default remote directory for documents.
	DocumentRoot = "mindmaps"

	// Ext is the document file extension.
	Ext = ".json"

	timestampLayout = "20060102T150405"
)

// ErrInvalidName is returned for file names that are empty or would leave
// the document root.
var ErrInvalidName = errors.New("invalid document file name")

// CanonicalPath places fileName directly under the document root,
// appending Ext when missing. Names with path separators or dot segments
// are rejected, never rewritten.
func CanonicalPath(fileName string) (string, error) {
	stem := strings.TrimSuffix(fileName, Ext)
	switch {
	case strings.TrimSpace(stem) == "", stem == ".", stem == "..":
		return "", ErrInvalidName
	case strings.ContainsAny(fileName, `/\`):
		return "", ErrInvalidName
	}
	return DocumentRoot + "/" + WithExt(fileName), nil
}

// DefaultPath is the canonical path of a new document titled title.
func DefaultPath(title string, now time.Time) string {
	return DocumentRoot + "/" + WithExt(DefaultFileName(title, now))
}

// WithExt appends Ext unless fileName already ends with it.
func WithExt(fileName string) string {
	if strings.HasSuffix(fileName, Ext) {
		return fileName
	}
	return fileName + Ext
}

// DefaultFileName returns "<sanitized title>_<yyyyMMddTHHmmss>" using the
// UTC time truncated to whole seconds.
func DefaultFileName(title string, now time.Time) string {
	if strings.TrimSpace(title) == "" {
		title = codec.DefaultTitle
	}
	return Sanitize(title) + "_" + now.UTC().Truncate(time.Second).Format(timestampLayout)
}

// Sanitize replaces every rune outside ASCII letters, digits and the CJK
// unified ideographs block U+4E00..U+9FA5 with an underscore.
func Sanitize(title string) string {
	return strings.Map(func(r rune) rune {
		if allowed(r) {
			return r
		}
		return '_'
	}, title)
}

func allowed(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r >= 0x4e00 && r <= 0x9fa5:
		return true
	}
	return false
}
