package session

import (
	"context"
	"net"
	"time"
)

// Platform labels the client platform that owns a session, for the devices UI.
type Platform string

const (
	// PlatformWeb is a browser-based session.
	PlatformWeb Platform = "web"
	// PlatformIOS is an iOS native session.
	PlatformIOS Platform = "ios"
	// PlatformAndroid is an Android native session.
	PlatformAndroid Platform = "android"
	// PlatformDesktop is a desktop (macOS/Windows/Linux) session.
	PlatformDesktop Platform = "desktop"
	// PlatformUnknown is used when the client platform is not known.
	PlatformUnknown Platform = "unknown"
)

// NormalizePlatform maps a free-form platform label onto the known set.
func NormalizePlatform(v string) Platform {
	switch Platform(v) {
	case PlatformWeb, PlatformIOS, PlatformAndroid, PlatformDesktop:
		return Platform(v)
	default:
		return PlatformUnknown
	}
}

// DeviceContext describes the client device behind an authentication exchange.
type DeviceContext struct {
	Platform  Platform
	UserAgent string
	IP        net.IP
}

// Session mirrors the warden.sessions row.
//
// AccessTokenID/RefreshTokenID/TokensExpireAt describe the most recently
// issued pair; they are the token ids the server still tracks for revocation
// at logout and eviction. user_agent and ip are write-only audit columns and
// are not read back.
type Session struct {
	ID               string
	PrincipalID      string
	Fingerprint      string
	Platform         Platform
	AccessTokenID    *string
	RefreshTokenID   *string
	TokensExpireAt   *time.Time
	CreatedAt        time.Time
	LastSeenAt       time.Time
	RevokedAt        *time.Time
	RevocationReason *string
}

// Active reports whether the session is still tracked as live.
func (s Session) Active() bool { return s.RevokedAt == nil }

// TokenIDs returns the bound token ids, skipping unbound slots.
func (s Session) TokenIDs() []string {
	ids := make([]string, 0, 2)
	if s.AccessTokenID != nil && *s.AccessTokenID != "" {
		ids = append(ids, *s.AccessTokenID)
	}
	if s.RefreshTokenID != nil && *s.RefreshTokenID != "" {
		ids = append(ids, *s.RefreshTokenID)
	}
	return ids
}

// Store abstracts persistence for session state.
//
// Implementations must enforce the per-principal cap atomically: two
// concurrent Create calls at the cap must not both succeed.
type Store interface {
	// Create inserts a new active session. It returns SessionLimitError when
	// the principal already has maxSessions active sessions,
	// ErrFingerprintTaken when an active session with the same fingerprint
	// exists, and ErrPrincipalNotFound for an unknown principal.
	Create(
		ctx context.Context,
		now time.Time,
		principalID string,
		fp string,
		dev DeviceContext,
		maxSessions int,
	) (Session, error)

	// GetByID loads a session by ID.
	GetByID(ctx context.Context, sessionID string) (Session, error)

	// FindActiveByFingerprint returns the principal's active session with the
	// given fingerprint, or ErrSessionNotFound.
	FindActiveByFingerprint(ctx context.Context, principalID, fp string) (Session, error)

	// Touch updates last_seen_at for an active session. Callers treat it as
	// best-effort.
	Touch(ctx context.Context, now time.Time, sessionID string) error

	// BindTokens records the most recently issued pair on the session row.
	BindTokens(ctx context.Context, sessionID, accessTokenID, refreshTokenID string, tokensExpireAt time.Time) error

	// ListActive returns the principal's active sessions, newest first.
	ListActive(ctx context.Context, principalID string) ([]Session, error)

	// Deactivate revokes a single session (idempotent).
	Deactivate(ctx context.Context, now time.Time, sessionID, reason string) error

	// DeactivateAll revokes all active sessions for a principal (idempotent).
	DeactivateAll(ctx context.Context, now time.Time, principalID, reason string) error

	// EvictOldest deactivates the least-recently-seen active session and
	// returns it with its bound token ids, or ErrSessionNotFound when the
	// principal has no active sessions.
	EvictOldest(ctx context.Context, now time.Time, principalID string) (Session, error)

	// PurgeInactive deletes sessions last seen before the cutoff that are
	// revoked or whose bound tokens have expired. Janitor path only.
	PurgeInactive(ctx context.Context, olderThan time.Time) (int, error)
}
