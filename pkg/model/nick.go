package model

import (
	"errors"
	"fmt"
)

// DefaultMaxNickLength is used when the server config does not set one.
const DefaultMaxNickLength = 30

var ErrNickEmpty = errors.New("nickname must not be empty")
var ErrNickTooLong = errors.New("nickname too long")
var ErrNickInvalidChars = errors.New("nickname contains invalid characters")

// ValidateNickname checks that name is 1..maxLen characters, starts with a
// letter or one of []\`_^{|} and otherwise contains only those, digits and
// hyphens. maxLen <= 0 means DefaultMaxNickLength.
func ValidateNickname(name string, maxLen int) error {
	if maxLen <= 0 {
		maxLen = DefaultMaxNickLength
	}
	if len(name) == 0 {
		return ErrNickEmpty
	}
	if len(name) > maxLen {
		return fmt.Errorf("%w: max %d characters", ErrNickTooLong, maxLen)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case isLetter(c), isSpecial(c):
		case i > 0 && (isDigit(c) || c == '-'):
		default:
			return ErrNickInvalidChars
		}
	}
	return nil
}

func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isDigit(c byte) bool  { return c >= '0' && c <= '9' }

func isSpecial(c byte) bool {
	switch c {
	case '[', ']', '\\', '`', '_', '^', '{', '|', '}':
		return true
	}
	return false
}
