package termtoken

import (
	"context"
	"sync"
	"time"
)

// Store persists tokens. Implementations must make Consume linearizable per
// token value: of any number of concurrent Consume calls for one value, at
// most one returns a nil error.
type Store interface {
	// Replace stores tok and removes every unconsumed token for tok.VMID.
	Replace(ctx context.Context, tok Token) error
	// Consume redeems value at time now. It returns ErrNotFound for unknown
	// or expired values and ErrAlreadyConsumed for replays.
	Consume(ctx context.Context, value string, now time.Time) (Token, error)
	// DeleteExpired drops every token (consumed or not) whose expiry is at or
	// before now and reports how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

type memoryEntry struct {
	tok      Token
	consumed bool
}

// MemoryStore is a lock-protected in-process Store. Consumed tokens are kept
// as tombstones until they expire.
type MemoryStore struct {
	mu      sync.Mutex
	byValue map[string]*memoryEntry
	liveVM  map[uint]string // VM id → value of its unconsumed token
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byValue: make(map[string]*memoryEntry),
		liveVM:  make(map[uint]string),
	}
}

func (s *MemoryStore) Replace(_ context.Context, tok Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byValue[tok.Value]; exists {
		return ErrDuplicate
	}
	if old, ok := s.liveVM[tok.VMID]; ok {
		delete(s.byValue, old)
	}
	s.byValue[tok.Value] = &memoryEntry{tok: tok}
	s.liveVM[tok.VMID] = tok.Value
	return nil
}

func (s *MemoryStore) Consume(_ context.Context, value string, now time.Time) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byValue[value]
	if !ok {
		return Token{}, ErrNotFound
	}
	if e.tok.Expired(now) {
		s.removeLocked(value, e)
		return Token{}, ErrNotFound
	}
	if e.consumed {
		return Token{}, ErrAlreadyConsumed
	}

	e.consumed = true
	if s.liveVM[e.tok.VMID] == value {
		delete(s.liveVM, e.tok.VMID)
	}
	return e.tok, nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for value, e := range s.byValue {
		if e.tok.Expired(now) {
			s.removeLocked(value, e)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of tokens held, tombstones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byValue)
}

func (s *MemoryStore) removeLocked(value string, e *memoryEntry) {
	delete(s.byValue, value)
	if s.liveVM[e.tok.VMID] == value {
		delete(s.liveVM, e.tok.VMID)
	}
}
