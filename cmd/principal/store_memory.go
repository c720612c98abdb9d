package principal

import (
	"context"
	"strings"
	"sync"
	"time"

	"warden/cmd/internal/ids"
)

// MemoryStore is an in-memory Registry for dev mode and tests.
// It mirrors the Postgres upsert semantics, including email refresh.
type MemoryStore struct {
	mu        sync.Mutex
	byID      map[string]Principal
	bySubject map[string]string
}

// NewMemoryStore creates an empty in-memory registry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[string]Principal),
		bySubject: make(map[string]string),
	}
}

// UpsertBySubject inserts the principal on first sight and refreshes
// email + last_login_at afterwards.
func (m *MemoryStore) UpsertBySubject(ctx context.Context, in UpsertInput) (Principal, error) {
	const op = "principal.UpsertBySubject"

	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}

	subject := NormalizeSubjectID(in.SubjectID)
	if subject == "" {
		return Principal{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing subject_id"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	email := pgTrimPtr(in.Email)
	var emailNorm *string
	if email != nil {
		n := NormalizeEmail(*email)
		emailNorm = &n
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.bySubject[subject]; ok {
		p := m.byID[id]
		if email != nil {
			p.Email = email
			p.EmailNorm = emailNorm
		}
		p.LastLoginAt = now
		m.byID[id] = p
		return clonePrincipal(p), nil
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Principal{}, err
	}

	p := Principal{
		ID:          id,
		SubjectID:   subject,
		Email:       email,
		EmailNorm:   emailNorm,
		CreatedAt:   now,
		LastLoginAt: now,
	}
	m.byID[id] = p
	m.bySubject[subject] = id
	return clonePrincipal(p), nil
}

// GetByID returns the principal or ErrNotFound.
func (m *MemoryStore) GetByID(ctx context.Context, id string) (Principal, error) {
	const op = "principal.GetByID"

	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Principal{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing id"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.byID[id]
	if !ok {
		return Principal{}, NotFoundError{Op: op, Resource: "principal"}
	}
	return clonePrincipal(p), nil
}

// clonePrincipal copies pointer fields so callers never alias store state.
func clonePrincipal(p Principal) Principal {
	out := p
	if p.Email != nil {
		v := *p.Email
		out.Email = &v
	}
	if p.EmailNorm != nil {
		v := *p.EmailNorm
		out.EmailNorm = &v
	}
	return out
}
