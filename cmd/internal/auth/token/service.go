package token

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"warden/cmd/internal/auth/revocation"
	"warden/cmd/internal/ids"
)

// Pair is one issued access/refresh credential pair.
type Pair struct {
	AccessToken  string
	AccessClaims Claims

	RefreshToken  string
	RefreshClaims Claims
}

// Service ties the codec to the revocation store. Issuance is pure signing;
// validation and refresh consult the store, with refresh running the
// single-winner rotation claim. Stores are injected; the service holds no
// global state.
type Service struct {
	cfg         Config
	codec       Codec
	revocations revocation.Store
	log         *slog.Logger
}

// NewService builds the token service. The revocation policy must have been
// decided (fail-open or fail-closed); there is no implicit stance.
func NewService(cfg Config, codec Codec, revocations revocation.Store, log *slog.Logger) (*Service, error) {
	if codec == nil {
		return nil, fmt.Errorf("%w: nil codec", ErrConfig)
	}
	if revocations == nil {
		return nil, fmt.Errorf("%w: nil revocation store", ErrConfig)
	}
	if cfg.RevocationPolicy != PolicyFailClosed && cfg.RevocationPolicy != PolicyFailOpen {
		return nil, fmt.Errorf("%w: revocation policy not set", ErrConfig)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{cfg: cfg, codec: codec, revocations: revocations, log: log}, nil
}

// IssuePair signs a fresh access/refresh pair bound to one session.
// Issuance is deterministic given the IDs and now; it performs no store I/O.
func (s *Service) IssuePair(now time.Time, principalID, sessionID string) (Pair, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	accessID, err := ids.NewULID(now)
	if err != nil {
		return Pair{}, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	refreshID, err := ids.NewULID(now)
	if err != nil {
		return Pair{}, fmt.Errorf("%w: %v", ErrSigning, err)
	}

	access := Claims{
		TokenID:     accessID,
		PrincipalID: principalID,
		SessionID:   sessionID,
		Kind:        KindAccess,
		Issuer:      s.cfg.Issuer,
		Audience:    s.cfg.Audience,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.cfg.AccessTTL),
	}
	refresh := Claims{
		TokenID:     refreshID,
		PrincipalID: principalID,
		SessionID:   sessionID,
		Kind:        KindRefresh,
		Issuer:      s.cfg.Issuer,
		Audience:    s.cfg.Audience,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.cfg.RefreshTTL),
	}

	accessTok, err := s.codec.Issue(access)
	if err != nil {
		return Pair{}, err
	}
	refreshTok, err := s.codec.Issue(refresh)
	if err != nil {
		return Pair{}, err
	}

	pairsIssued.Inc()
	return Pair{
		AccessToken:   accessTok,
		AccessClaims:  access,
		RefreshToken:  refreshTok,
		RefreshClaims: refresh,
	}, nil
}

// Validate parses raw, requires the expected kind, and consults the
// revocation store. A revoked entry always refuses the token, however valid
// its signature and expiry. Store outages follow the configured policy.
func (s *Service) Validate(ctx context.Context, raw string, want Kind, now time.Time) (Claims, error) {
	claims, err := s.codec.Parse(raw, now)
	if err != nil {
		return Claims{}, err
	}
	if claims.Kind != want {
		return Claims{}, ErrKindMismatch
	}

	cctx, cancel := s.storeCtx(ctx)
	defer cancel()

	revoked, err := s.revocations.IsRevoked(cctx, claims.TokenID)
	if err != nil {
		if s.cfg.RevocationPolicy == PolicyFailOpen {
			failOpenAllowed.Inc()
			s.log.Warn("token.validate.revocation_check.degraded",
				"policy", string(PolicyFailOpen),
				"kind", string(claims.Kind),
				"token_id", claims.TokenID,
				"err", err,
			)
			return claims, nil
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if revoked {
		return Claims{}, ErrRevoked
	}

	return claims, nil
}

// Refresh validates a refresh token and rotates it: the old token ID is
// claimed in the revocation store, and exactly one concurrent caller per
// token gets the new pair. Losers of the race get ErrRevoked; a store
// failure mid-rotation gets RotationError.
//
// The new pair is signed before the claim so a won claim is never followed
// by a signing failure that would leave the caller with nothing.
func (s *Service) Refresh(ctx context.Context, raw string, now time.Time) (Pair, Claims, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	old, err := s.Validate(ctx, raw, KindRefresh, now)
	if err != nil {
		return Pair{}, Claims{}, err
	}

	pair, err := s.IssuePair(now, old.PrincipalID, old.SessionID)
	if err != nil {
		return Pair{}, Claims{}, err
	}

	cctx, cancel := s.storeCtx(ctx)
	defer cancel()

	won, err := s.revocations.Claim(cctx, revocation.Entry{
		TokenID:     old.TokenID,
		PrincipalID: old.PrincipalID,
		SessionID:   old.SessionID,
		Reason:      "rotation",
		CreatedAt:   now,
		ExpiresAt:   old.ExpiresAt,
	})
	if err != nil {
		return Pair{}, Claims{}, RotationError{TokenID: old.TokenID, Err: err}
	}
	if !won {
		return Pair{}, Claims{}, ErrRevoked
	}

	revocationEntries.WithLabelValues("rotation").Inc()
	return pair, old, nil
}

// RevokeSession writes revocation entries for every token ID the caller
// still tracks for a session. A failed write surfaces as ErrStoreUnavailable:
// the revocation is the security-critical half of logout and must never be
// reported as done when it is not.
func (s *Service) RevokeSession(ctx context.Context, now time.Time, principalID, sessionID string, tokenIDs []string, expiresAt time.Time, reason string) error {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	// Unknown expiries get the widest window a live token could still have.
	if expiresAt.IsZero() || !expiresAt.After(now) {
		expiresAt = now.Add(s.cfg.RefreshTTL)
	}

	seen := make(map[string]struct{}, len(tokenIDs))
	for _, id := range tokenIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		cctx, cancel := s.storeCtx(ctx)
		err := s.revocations.Revoke(cctx, revocation.Entry{
			TokenID:     id,
			PrincipalID: principalID,
			SessionID:   sessionID,
			Reason:      reason,
			CreatedAt:   now,
			ExpiresAt:   expiresAt,
		})
		cancel()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		revocationEntries.WithLabelValues(reason).Inc()
	}
	return nil
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.cfg.StoreTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
