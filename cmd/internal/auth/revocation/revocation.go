package revocation

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Entry is one revoked token ID with enough context for audit and purge.
type Entry struct {
	TokenID     string
	PrincipalID string
	SessionID   string

	// Reason is a stable verb: "logout", "logout_all", "rotation", "evicted".
	Reason string

	CreatedAt time.Time
	// ExpiresAt is the revoked token's own expiry. After this instant the
	// token is invalid by construction and the entry may be dropped.
	ExpiresAt time.Time
}

// Store is the revocation persistence boundary.
//
// Implementations must be safe for concurrent use from multiple processes.
type Store interface {
	// Revoke records the entry. Revoking an already-revoked token ID is a
	// no-op success; the earliest entry wins.
	Revoke(ctx context.Context, e Entry) error

	// IsRevoked reports whether the token ID has an entry that has not
	// passed its expiry.
	IsRevoked(ctx context.Context, tokenID string) (bool, error)

	// Claim records the entry only if absent and reports whether this call
	// created it. Exactly one concurrent caller wins; everyone else gets
	// false. This is the single-writer primitive refresh rotation keys on.
	Claim(ctx context.Context, e Entry) (bool, error)

	// PurgeExpired drops entries whose ExpiresAt is at or before now and
	// returns how many were dropped. Safe to run concurrently with writes.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

func validateEntry(e Entry) error {
	if strings.TrimSpace(e.TokenID) == "" {
		return fmt.Errorf("revocation: entry missing token id")
	}
	if e.ExpiresAt.IsZero() {
		return fmt.Errorf("revocation: entry missing expiry")
	}
	return nil
}
