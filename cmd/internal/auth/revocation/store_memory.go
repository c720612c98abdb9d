package revocation

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for dev mode and tests.
// It mirrors RedisStore semantics, including expiry-aware reads, but offers
// no cross-process visibility.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// Revoke records the entry; already-revoked token IDs keep their first entry.
func (m *MemoryStore) Revoke(ctx context.Context, e Entry) error {
	_, err := m.Claim(ctx, e)
	return err
}

// IsRevoked reports whether the token ID has a live entry.
func (m *MemoryStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[tokenID]
	return ok && e.ExpiresAt.After(m.now()), nil
}

// Claim records the entry only if no live entry exists; reports whether this
// call won. Entries past their expiry no longer count as present.
func (m *MemoryStore) Claim(ctx context.Context, e Entry) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := validateEntry(e); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.entries[e.TokenID]; ok && existing.ExpiresAt.After(m.now()) {
		return false, nil
	}
	m.entries[e.TokenID] = e
	return true, nil
}

// PurgeExpired drops entries whose expiry is at or before now.
func (m *MemoryStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := 0
	for id, e := range m.entries {
		if !e.ExpiresAt.After(now) {
			delete(m.entries, id)
			dropped++
		}
	}
	return dropped, nil
}
