package profile

import (
	"errors"
	"fmt"
)

// MaxNameLen bounds profile names; each name becomes a directory and a
// socket file name.
const MaxNameLen = 64

// ErrInvalidName is wrapped by every ValidateName failure.
var ErrInvalidName = errors.New("invalid profile name")

// ValidateName accepts 1 to MaxNameLen characters from [a-z0-9_-].
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case len(name) > MaxNameLen:
		return fmt.Errorf("%w: %d characters, at most %d allowed", ErrInvalidName, len(name), MaxNameLen)
	}
	for i, r := range name {
		if !nameRune(r) {
			return fmt.Errorf("%w %q: character %q at %d, use a-z, 0-9, '-' or '_'", ErrInvalidName, name, r, i)
		}
	}
	return nil
}

func nameRune(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '_'
}
