package session

import (
	"errors"
	"fmt"
)

// MaxNameLen bounds session names; they become directory names.
const MaxNameLen = 64

// ErrInvalidName is returned for a name that cannot name a session directory.
var ErrInvalidName = errors.New("invalid session name")

// ValidateName accepts 1 to MaxNameLen lowercase letters, digits, '-' and '_'.
func ValidateName(name string) error {
	if name == "" || len(name) > MaxNameLen {
		return fmt.Errorf("%w %q: length must be 1-%d", ErrInvalidName, name, MaxNameLen)
	}
	for _, r := range name {
		if !nameRune(r) {
			return fmt.Errorf("%w %q: %q not allowed, use a-z 0-9 - _", ErrInvalidName, name, r)
		}
	}
	return nil
}

func nameRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_'
}
