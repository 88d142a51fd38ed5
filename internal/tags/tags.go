// Package tags labels polls and serves tag listings and the tag cloud.
package tags

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// MaxLength is the longest tag text accepted.
const MaxLength = 100

// ErrInvalidTag is returned for tag text longer than MaxLength.
var ErrInvalidTag = errors.New("tags must be at most 100 characters")

// Normalize trims and lower-cases a tag. Blank input yields "" and no error.
func Normalize(raw string) (string, error) {
	t := strings.ToLower(strings.TrimSpace(raw))
	if utf8.RuneCountInString(t) > MaxLength {
		return "", ErrInvalidTag
	}
	return t, nil
}

// NormalizeAll normalizes tags, dropping blanks and duplicates while keeping first-seen order.
func NormalizeAll(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		t, err := Normalize(r)
		if err != nil {
			return nil, err
		}
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}
