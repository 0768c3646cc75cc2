package termtoken

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gluk-w/termgate/internal/logutil"
)

// issueAttempts bounds retries on the (astronomically unlikely) event of a
// value collision.
const issueAttempts = 3

// Manager issues and redeems tokens on top of a Store.
type Manager struct {
	store    Store
	ttl      time.Duration
	nowFn    func() time.Time
	newValue func() (string, error)
}

// NewManager returns a Manager over store. A non-positive ttl selects
// DefaultTTL.
func NewManager(store Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		store:    store,
		ttl:      ttl,
		nowFn:    time.Now,
		newValue: NewValue,
	}
}

// TTL returns the lifetime given to newly issued tokens.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue creates a token for vmID on behalf of username, invalidating any
// unconsumed token previously issued for the same VM.
func (m *Manager) Issue(ctx context.Context, vmID uint, username string) (Token, error) {
	for attempt := 0; attempt < issueAttempts; attempt++ {
		value, err := m.newValue()
		if err != nil {
			return Token{}, err
		}
		tok := Token{
			Value:     value,
			VMID:      vmID,
			Username:  username,
			ExpiresAt: m.nowFn().Add(m.ttl).UTC(),
		}
		err = m.store.Replace(ctx, tok)
		if errors.Is(err, ErrDuplicate) {
			continue
		}
		if err != nil {
			return Token{}, fmt.Errorf("store token for vm %d: %w", vmID, err)
		}
		log.Printf("[termtoken] issued token %s for vm %d (user %s, expires %s)",
			Redact(value), vmID, logutil.SanitizeForLog(username), tok.ExpiresAt.Format(time.RFC3339))
		return tok, nil
	}
	return Token{}, fmt.Errorf("store token for vm %d: %w", vmID, ErrDuplicate)
}

// Consume validates value and redeems it. On success the token can never be
// redeemed again. Malformed values fail with ErrNotFound without reaching
// the store.
func (m *Manager) Consume(ctx context.Context, value string) (Token, error) {
	if !WellFormed(value) {
		return Token{}, ErrNotFound
	}
	tok, err := m.store.Consume(ctx, value, m.nowFn())
	if err != nil {
		return Token{}, err
	}
	log.Printf("[termtoken] consumed token %s for vm %d", Redact(value), tok.VMID)
	return tok, nil
}

// ConsumeScoped redeems value and checks that it was issued for vmID and,
// when the token recorded one, for username.
func (m *Manager) ConsumeScoped(ctx context.Context, value string, vmID uint, username string) (Token, error) {
	tok, err := m.Consume(ctx, value)
	if err != nil {
		return Token{}, err
	}
	if tok.VMID != vmID || (tok.Username != "" && tok.Username != username) {
		log.Printf("[termtoken] token %s scope mismatch: issued for vm %d, claimed vm %d",
			Redact(value), tok.VMID, vmID)
		return Token{}, ErrScopeMismatch
	}
	return tok, nil
}

// Sweep removes expired tokens and tombstones.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	n, err := m.store.DeleteExpired(ctx, m.nowFn())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("[termtoken] swept %d expired tokens", n)
	}
	return n, nil
}

// SetNowFunc sets the clock used for expiry decisions (for testing).
func (m *Manager) SetNowFunc(fn func() time.Time) {
	m.nowFn = fn
}
