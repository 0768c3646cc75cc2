// Package termtoken issues and redeems terminal access tokens: single-use,
// time-bounded capabilities that authorize one terminal session against one
// virtual machine.
//
// A [Manager] generates token values and enforces the lifecycle rules on top
// of a [Store]. Two stores are provided: [MemoryStore] for single-process
// deployments and [SQLStore] backed by gorm for deployments where the
// issuing API and the gateway share a database.
//
// Lifecycle rules:
//   - Issuing a token for a VM removes every unconsumed token for that VM.
//   - A token is redeemed at most once, even under concurrent redemption.
//   - An expired token is indistinguishable from one that never existed.
package termtoken

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ValueBytes is the number of random bytes in a token value. The hex
// rendering is twice as long.
const ValueBytes = 32

// DefaultTTL is how long an issued token stays redeemable.
const DefaultTTL = 5 * time.Minute

var (
	// ErrNotFound covers both unknown and expired tokens.
	ErrNotFound = errors.New("terminal token not found or expired")
	// ErrAlreadyConsumed is returned when a token is presented a second time
	// before its original expiry.
	ErrAlreadyConsumed = errors.New("terminal token already consumed")
	// ErrDuplicate is returned by a Store when a value collides with an
	// existing token.
	ErrDuplicate = errors.New("terminal token value already exists")
	// ErrScopeMismatch is returned when a redeemed token was issued for a
	// different VM or user than the one claimed. The token is spent anyway.
	ErrScopeMismatch = errors.New("terminal token scope mismatch")
)

// Token is a one-time capability to open exactly one terminal session.
type Token struct {
	Value     string
	VMID      uint
	Username  string
	ExpiresAt time.Time
}

// Expired reports whether the token is no longer redeemable at now.
func (t Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// NewValue returns a fresh random token value rendered as lowercase hex.
func NewValue() (string, error) {
	b := make([]byte, ValueBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token value: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// WellFormed reports whether s has the shape of a token value. Malformed
// values are rejected before touching the store.
func WellFormed(s string) bool {
	if len(s) != ValueBytes*2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Redact shortens a token value for logging.
func Redact(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:8] + "****"
}
