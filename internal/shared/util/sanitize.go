// Package util holds small helpers shared by handlers.
package util

import (
	"errors"
	"mime"
	"path"
	"strings"
	"unicode"
)

var ErrInvalidFileName = errors.New("invalid file name")

const maxFileNameRunes = 200

// SanitizeFileName reduces an uploaded file name to a single safe path
// element. Traversal patterns are rejected, separators and control
// characters replaced.
func SanitizeFileName(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", ErrInvalidFileName
	}
	s := strings.TrimSpace(name)
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
	if r := []rune(s); len(r) > maxFileNameRunes {
		ext := path.Ext(s)
		s = string(r[:maxFileNameRunes-len([]rune(ext))]) + ext
	}
	if s == "" || s == "." {
		return "", ErrInvalidFileName
	}
	return s, nil
}

var videoExtensions = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".m4v":  "video/x-m4v",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
}

// VideoContentType returns the media type for an upload, preferring the
// declared header and falling back to the file extension. ok is false when
// neither names a video.
func VideoContentType(declared, fileName string) (string, bool) {
	if mt, _, err := mime.ParseMediaType(declared); err == nil && strings.HasPrefix(mt, "video/") {
		return mt, true
	}
	if mt, found := videoExtensions[strings.ToLower(path.Ext(fileName))]; found {
		return mt, true
	}
	return "", false
}
