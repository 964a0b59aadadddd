package session

import (
	"errors"
	"fmt"
)

// ErrInvalidName is returned for names that cannot be used as a session directory.
var ErrInvalidName = errors.New("invalid session name")

const maxNameLen = 64

// ValidateName accepts 1-64 characters of lowercase ASCII letters, digits,
// '-' and '_'.
func ValidateName(name string) error {
	if name == "" || len(name) > maxNameLen {
		return fmt.Errorf("%w %q: length must be 1-%d", ErrInvalidName, name, maxNameLen)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return fmt.Errorf("%w %q: character %q not allowed", ErrInvalidName, name, r)
		}
	}
	return nil
}
