package sshterminal

import (
	"fmt"
	"strings"
)

// Terminal dimension limits. Resize requests beyond these are clamped.
const (
	MaxTermCols uint16 = 500
	MaxTermRows uint16 = 500

	DefaultRows uint16 = 24
	DefaultCols uint16 = 80
)

// MaxUsernameLength matches the users.username column.
const MaxUsernameLength = 64

// ClampSize bounds rows and cols to the allowed terminal dimensions.
func ClampSize(rows, cols uint16) (uint16, uint16) {
	if rows > MaxTermRows {
		rows = MaxTermRows
	}
	if cols > MaxTermCols {
		cols = MaxTermCols
	}
	return rows, cols
}

// ValidateUsername rejects usernames that would make the identity triple
// ambiguous or smuggle control characters to the backend.
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("username is empty")
	}
	if len(username) > MaxUsernameLength {
		return fmt.Errorf("username longer than %d bytes", MaxUsernameLength)
	}
	if strings.ContainsRune(username, IdentitySeparator) {
		return fmt.Errorf("username contains %q", IdentitySeparator)
	}
	for _, c := range username {
		if c < 32 || c == 0x7f {
			return fmt.Errorf("username contains control character")
		}
	}
	return nil
}
