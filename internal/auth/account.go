package auth

import "fmt"

const (
	minAccountIDLen = 2
	maxAccountIDLen = 64
)

// ValidateAccountID checks the account naming rules: 2 to 64 characters of
// lowercase letters and digits, separated by single '-', '_' or '.'.
func ValidateAccountID(id string) error {
	if len(id) < minAccountIDLen || len(id) > maxAccountIDLen {
		return fmt.Errorf("%w: %q must be %d-%d characters", ErrInvalidAccount, id, minAccountIDLen, maxAccountIDLen)
	}
	prevSep := true
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			prevSep = false
		case c == '-' || c == '_' || c == '.':
			if prevSep {
				return fmt.Errorf("%w: %q has a misplaced separator", ErrInvalidAccount, id)
			}
			prevSep = true
		default:
			return fmt.Errorf("%w: %q contains %q", ErrInvalidAccount, id, c)
		}
	}
	if prevSep {
		return fmt.Errorf("%w: %q ends with a separator", ErrInvalidAccount, id)
	}
	return nil
}
