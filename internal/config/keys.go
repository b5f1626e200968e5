package config

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeKey canonicalizes a course key. Keys become directory and symlink
// names, so they are NFC-normalized (macOS checkouts hand us decomposed
// forms), trimmed, and lowercased.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(key)))
}

// ValidateKey rejects keys that cannot safely name a directory under the
// exercises root and a symlink under the static root.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key is empty")
	}
	if strings.HasPrefix(key, ".") {
		return fmt.Errorf("key must not start with a dot")
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return fmt.Errorf("key contains invalid character %q", r)
		}
	}
	return nil
}
