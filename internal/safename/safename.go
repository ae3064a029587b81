// Package safename maps client-supplied filenames onto safe storage names.
// Every write path goes through Clean, so the storage directory only ever
// holds names this package would accept.
package safename

import (
	"errors"
	"path"
	"strings"
)

// ErrInvalidName rejects names that cannot be made safe.
var ErrInvalidName = errors.New("invalid filename")

// ErrTypeNotAllowed rejects extensions outside the configured policy.
var ErrTypeNotAllowed = errors.New("file type not allowed")

// MaxNameLen bounds the sanitized name. Most filesystems cap components
// at 255 bytes.
const MaxNameLen = 255

// reserved characters stripped from names. Path separators are handled
// separately; these are shell/Windows hazards and control characters.
const reserved = `<>:"|?*`

// Clean returns a flat, storage-safe filename derived from raw, or
// ErrInvalidName. Anything that smells like a path is rejected outright
// rather than collapsed: separators, "..", NUL and control bytes all
// fail. Reserved characters are removed, spaces become underscores, and
// leading dots are trimmed so names cannot hide or resolve to ".".
func Clean(raw string) (string, error) {
	if strings.IndexByte(raw, 0) >= 0 {
		return "", ErrInvalidName
	}
	if strings.ContainsAny(raw, `/\`) || strings.Contains(raw, "..") {
		return "", ErrInvalidName
	}

	var b strings.Builder
	for _, r := range raw {
		switch {
		case r < 0x20 || r == 0x7f:
			return "", ErrInvalidName
		case strings.ContainsRune(reserved, r):
			// drop
		case r == ' ':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	s := strings.Trim(b.String(), ". ")
	if s == "" || len(s) > MaxNameLen {
		return "", ErrInvalidName
	}
	return s, nil
}

// Ext returns the lower-cased extension of name, including the dot.
func Ext(name string) string {
	return strings.ToLower(path.Ext(name))
}

// ExtPolicy is the configured extension allow/block policy. An allow
// list, when present, wins; otherwise the block list applies; with
// neither, every extension passes.
type ExtPolicy struct {
	Allow []string
	Block []string
}

// Check returns ErrTypeNotAllowed when name's extension violates the
// policy. Comparison is case-insensitive; entries are expected with a
// leading dot ("" matches extensionless names).
func (p ExtPolicy) Check(name string) error {
	ext := Ext(name)
	if len(p.Allow) > 0 {
		for _, a := range p.Allow {
			if strings.ToLower(a) == ext {
				return nil
			}
		}
		return ErrTypeNotAllowed
	}
	for _, b := range p.Block {
		if strings.ToLower(b) == ext {
			return ErrTypeNotAllowed
		}
	}
	return nil
}
