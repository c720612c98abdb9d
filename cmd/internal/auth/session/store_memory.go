package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"warden/cmd/internal/ids"
)

// MemoryStore is the in-process Store used when no database is configured
// (dev mode) and by deterministic unit tests.
//
// It enforces the same cap and fingerprint invariants as the Postgres store:
// all mutations run under one mutex, so concurrent creates observe a stable
// count. Principal existence is the registry's concern and is not checked.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session

	now func() time.Time
}

// NewMemoryStore constructs an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a new active session under the cap.
func (m *MemoryStore) Create(ctx context.Context, now time.Time, principalID string, fp string, dev DeviceContext, maxSessions int) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, StorageError{Op: "session.memory.create", Err: err}
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Session{}, StorageError{Op: "session.memory.create", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	active := 0
	for _, sess := range m.sessions {
		if sess.PrincipalID != principalID || !sess.Active() {
			continue
		}
		if sess.Fingerprint == fp {
			return Session{}, ErrFingerprintTaken
		}
		active++
	}
	if active >= maxSessions {
		return Session{}, SessionLimitError{PrincipalID: principalID, Max: maxSessions}
	}

	sess := Session{
		ID:          id,
		PrincipalID: principalID,
		Fingerprint: fp,
		Platform:    NormalizePlatform(string(dev.Platform)),
		CreatedAt:   now,
		LastSeenAt:  now,
	}
	m.sessions[id] = sess
	return cloneSession(sess), nil
}

// GetByID loads a session by ID.
func (m *MemoryStore) GetByID(ctx context.Context, sessionID string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, StorageError{Op: "session.memory.get_by_id", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return cloneSession(sess), nil
}

// FindActiveByFingerprint returns the active session bound to a device fingerprint.
func (m *MemoryStore) FindActiveByFingerprint(ctx context.Context, principalID, fp string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, StorageError{Op: "session.memory.find_by_fingerprint", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sess := range m.sessions {
		if sess.PrincipalID == principalID && sess.Fingerprint == fp && sess.Active() {
			return cloneSession(sess), nil
		}
	}
	return Session{}, ErrSessionNotFound
}

// Touch updates last_seen_at for an active session.
func (m *MemoryStore) Touch(ctx context.Context, now time.Time, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return StorageError{Op: "session.memory.touch", Err: err}
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok || !sess.Active() {
		return ErrSessionNotFound
	}
	sess.LastSeenAt = now
	m.sessions[sessionID] = sess
	return nil
}

// BindTokens records the most recently issued pair on the session.
func (m *MemoryStore) BindTokens(ctx context.Context, sessionID, accessTokenID, refreshTokenID string, tokensExpireAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return StorageError{Op: "session.memory.bind_tokens", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok || !sess.Active() {
		return ErrSessionNotFound
	}
	sess.AccessTokenID = &accessTokenID
	sess.RefreshTokenID = &refreshTokenID
	sess.TokensExpireAt = &tokensExpireAt
	m.sessions[sessionID] = sess
	return nil
}

// ListActive returns the principal's active sessions, newest first.
func (m *MemoryStore) ListActive(ctx context.Context, principalID string) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, StorageError{Op: "session.memory.list_active", Err: err}
	}

	m.mu.Lock()
	var out []Session
	for _, sess := range m.sessions {
		if sess.PrincipalID == principalID && sess.Active() {
			out = append(out, cloneSession(sess))
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Deactivate revokes a single session (idempotent).
func (m *MemoryStore) Deactivate(ctx context.Context, now time.Time, sessionID, reason string) error {
	if err := ctx.Err(); err != nil {
		return StorageError{Op: "session.memory.deactivate", Err: err}
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.deactivateLocked(now, sessionID, reason)
	return nil
}

// DeactivateAll revokes all sessions for a principal (idempotent).
func (m *MemoryStore) DeactivateAll(ctx context.Context, now time.Time, principalID, reason string) error {
	if err := ctx.Err(); err != nil {
		return StorageError{Op: "session.memory.deactivate_all", Err: err}
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, sess := range m.sessions {
		if sess.PrincipalID == principalID {
			m.deactivateLocked(now, id, reason)
		}
	}
	return nil
}

// EvictOldest deactivates the least-recently-seen active session and returns it.
func (m *MemoryStore) EvictOldest(ctx context.Context, now time.Time, principalID string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, StorageError{Op: "session.memory.evict_oldest", Err: err}
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var oldest Session
	found := false
	for _, sess := range m.sessions {
		if sess.PrincipalID != principalID || !sess.Active() {
			continue
		}
		if !found || lessSeen(sess, oldest) {
			oldest = sess
			found = true
		}
	}
	if !found {
		return Session{}, ErrSessionNotFound
	}

	m.deactivateLocked(now, oldest.ID, "evicted")
	return cloneSession(m.sessions[oldest.ID]), nil
}

// PurgeInactive deletes sessions last seen before the cutoff that are revoked
// or whose bound tokens have expired.
func (m *MemoryStore) PurgeInactive(ctx context.Context, olderThan time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, StorageError{Op: "session.memory.purge_inactive", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	purged := 0
	for id, sess := range m.sessions {
		if !sess.LastSeenAt.Before(olderThan) {
			continue
		}
		dead := !sess.Active() ||
			sess.TokensExpireAt == nil ||
			sess.TokensExpireAt.Before(now)
		if dead {
			delete(m.sessions, id)
			purged++
		}
	}
	return purged, nil
}

func (m *MemoryStore) deactivateLocked(now time.Time, sessionID, reason string) {
	sess, ok := m.sessions[sessionID]
	if !ok || sess.RevokedAt != nil {
		return
	}
	sess.RevokedAt = &now
	sess.RevocationReason = &reason
	m.sessions[sessionID] = sess
}

// lessSeen orders sessions by last_seen_at, then created_at, then ID, to make
// eviction deterministic.
func lessSeen(a, b Session) bool {
	if !a.LastSeenAt.Equal(b.LastSeenAt) {
		return a.LastSeenAt.Before(b.LastSeenAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func cloneSession(sess Session) Session {
	out := sess
	if sess.AccessTokenID != nil {
		v := *sess.AccessTokenID
		out.AccessTokenID = &v
	}
	if sess.RefreshTokenID != nil {
		v := *sess.RefreshTokenID
		out.RefreshTokenID = &v
	}
	if sess.TokensExpireAt != nil {
		v := *sess.TokensExpireAt
		out.TokensExpireAt = &v
	}
	if sess.RevokedAt != nil {
		v := *sess.RevokedAt
		out.RevokedAt = &v
	}
	if sess.RevocationReason != nil {
		v := *sess.RevocationReason
		out.RevocationReason = &v
	}
	return out
}
