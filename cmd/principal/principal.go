package principal

import (
	"context"
	"time"
)

// Principal is Warden's canonical security principal.
type Principal struct {
	ID        string
	SubjectID string

	Email     *string
	EmailNorm *string

	CreatedAt   time.Time
	LastLoginAt time.Time
}

// UpsertInput registers (or refreshes) a principal for an authenticated subject.
// SubjectID is required; Email is optional enrichment.
type UpsertInput struct {
	SubjectID string
	Email     *string
	Now       time.Time
}

// Registry is the principal persistence boundary.
type Registry interface {
	// UpsertBySubject inserts the principal on first sight and refreshes
	// email + last_login_at on every subsequent sight. The returned ID is
	// stable across calls for the same subject.
	UpsertBySubject(ctx context.Context, in UpsertInput) (Principal, error)

	// GetByID returns the principal or ErrNotFound.
	GetByID(ctx context.Context, id string) (Principal, error)
}
