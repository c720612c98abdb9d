package session

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"warden/cmd/internal/auth/token"
	"warden/cmd/principal"
	"warden/cmd/security/fingerprint"
)

// Service implements the high-level session operations for warden.
//
// It establishes sessions for verified identity assertions, reusing the
// caller's active session when the device fingerprint matches, rotates
// refresh tokens, and performs logout. Throughout, token revocation is the
// security-critical half and session-row bookkeeping the best-effort half.
type Service struct {
	cfg      Config
	registry principal.Registry
	store    Store
	tokens   *token.Service
	log      *slog.Logger
}

// Assertion is a verified statement about who the client is, produced by an
// upstream identity check. The session layer trusts it as-is.
type Assertion struct {
	SubjectID string
	Email     *string
	Platform  Platform
	UserAgent string
	IP        net.IP
}

// Established is the result of Establish: the session (new or reused), the
// fresh token pair bound to it, and the session evicted to make room, if any.
type Established struct {
	Session Session
	Pair    token.Pair
	Reused  bool
	Evicted *Session
}

// NewService constructs the session orchestrator.
func NewService(cfg Config, registry principal.Registry, store Store, tokens *token.Service, log *slog.Logger) (*Service, error) {
	if registry == nil || store == nil || tokens == nil {
		return nil, ErrConfig
	}
	if cfg.MaxSessions < 1 {
		return nil, ErrConfig
	}
	switch cfg.LimitPolicy {
	case LimitPolicyEvictOldest, LimitPolicyReject:
	default:
		return nil, ErrConfig
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{cfg: cfg, registry: registry, store: store, tokens: tokens, log: log}, nil
}

// Establish turns a verified assertion into a live session with a fresh
// token pair.
//
// An active session with the same device fingerprint is reused, so repeated
// logins from one device never grow the session count. Otherwise a session
// is created under the per-principal cap; at the cap the LimitPolicy decides
// between evicting the least-recently-seen session and rejecting with
// SessionLimitError. An evicted session's tokens must be revoked before its
// slot is reused; a revocation failure fails the whole attempt.
func (s *Service) Establish(ctx context.Context, now time.Time, a Assertion) (Established, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	p, err := s.registry.UpsertBySubject(ctx, principal.UpsertInput{
		SubjectID: a.SubjectID,
		Email:     a.Email,
		Now:       now,
	})
	if err != nil {
		if principal.IsInvalidInput(err) {
			return Established{}, err
		}
		return Established{}, StorageError{Op: "session.establish.principal", Err: err}
	}

	fp := fingerprint.Hex(a.IP, a.UserAgent)
	dev := DeviceContext{
		Platform:  NormalizePlatform(string(a.Platform)),
		UserAgent: a.UserAgent,
		IP:        a.IP,
	}

	for attempt := 0; ; attempt++ {
		cctx, cancel := s.storeCtx(ctx)
		sess, err := s.store.FindActiveByFingerprint(cctx, p.ID, fp)
		cancel()
		switch {
		case err == nil:
			return s.reuse(ctx, now, sess)
		case !errors.Is(err, ErrSessionNotFound):
			return Established{}, err
		}

		cctx, cancel = s.storeCtx(ctx)
		sess, err = s.store.Create(cctx, now, p.ID, fp, dev, s.cfg.MaxSessions)
		cancel()
		if err == nil {
			return s.issueFor(ctx, now, sess, false, nil)
		}
		if errors.Is(err, ErrFingerprintTaken) && attempt == 0 {
			// Lost a same-device race; the winner's session is there to reuse.
			continue
		}
		if errors.Is(err, ErrSessionLimit) && s.cfg.LimitPolicy == LimitPolicyEvictOldest && attempt == 0 {
			evicted, evictErr := s.evictOldest(ctx, now, p.ID)
			if evictErr != nil {
				return Established{}, evictErr
			}

			cctx, cancel = s.storeCtx(ctx)
			sess, err = s.store.Create(cctx, now, p.ID, fp, dev, s.cfg.MaxSessions)
			cancel()
			if err != nil {
				return Established{}, err
			}
			return s.issueFor(ctx, now, sess, false, &evicted)
		}
		return Established{}, err
	}
}

// Refresh rotates a refresh token and returns the session with its
// replacement pair.
//
// Rotation is single-winner: of two concurrent calls presenting the same
// token, one wins and the other observes token.ErrRevoked. The new pair is
// recorded on the session row before it is returned.
func (s *Service) Refresh(ctx context.Context, now time.Time, refreshToken string) (Session, token.Pair, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	pair, old, err := s.tokens.Refresh(ctx, refreshToken, now)
	if err != nil {
		return Session{}, token.Pair{}, err
	}

	cctx, cancel := s.storeCtx(ctx)
	sess, err := s.store.GetByID(cctx, old.SessionID)
	cancel()
	if errors.Is(err, ErrSessionNotFound) {
		return Session{}, token.Pair{}, token.ErrRevoked
	}
	if err != nil {
		return Session{}, token.Pair{}, err
	}
	if !sess.Active() {
		return Session{}, token.Pair{}, token.ErrRevoked
	}

	sess, err = s.bind(ctx, sess, pair)
	if err != nil {
		return Session{}, token.Pair{}, err
	}

	cctx, cancel = s.storeCtx(ctx)
	if err := s.store.Touch(cctx, now, sess.ID); err != nil {
		s.log.Warn("session.touch.failed", "session_id", sess.ID, "error", err)
	} else {
		sess.LastSeenAt = now
	}
	cancel()

	return sess, pair, nil
}

// Logout revokes the session's tracked tokens and then deactivates the
// session row. Idempotent end to end.
//
// Revocation is the half that must not fail silently: its failure fails the
// logout. A deactivation failure after successful revocation leaves only
// stale bookkeeping and is logged for reconciliation.
func (s *Service) Logout(ctx context.Context, now time.Time, claims token.Claims) error {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	cctx, cancel := s.storeCtx(ctx)
	sess, err := s.store.GetByID(cctx, claims.SessionID)
	cancel()
	if errors.Is(err, ErrSessionNotFound) {
		// No row to reconcile; still burn the presented token.
		return s.tokens.RevokeSession(ctx, now, claims.PrincipalID, claims.SessionID,
			[]string{claims.TokenID}, claims.ExpiresAt, "logout")
	}
	if err != nil {
		return err
	}

	ids := append(sess.TokenIDs(), claims.TokenID)
	err = s.tokens.RevokeSession(ctx, now, sess.PrincipalID, sess.ID,
		ids, s.revocationHorizon(sess, claims), "logout")
	if err != nil {
		return err
	}

	cctx, cancel = s.storeCtx(ctx)
	err = s.store.Deactivate(cctx, now, sess.ID, "logout")
	cancel()
	if err != nil {
		s.log.Error("session.logout.reconcile",
			"session_id", sess.ID,
			"error", err,
		)
	}
	return nil
}

// LogoutAll revokes the tracked tokens of every active session for the
// caller's principal, then deactivates them all.
func (s *Service) LogoutAll(ctx context.Context, now time.Time, claims token.Claims) error {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	cctx, cancel := s.storeCtx(ctx)
	active, err := s.store.ListActive(cctx, claims.PrincipalID)
	cancel()
	if err != nil {
		return err
	}

	for _, sess := range active {
		if err := s.revokeSessionTokens(ctx, now, sess, "logout_all"); err != nil {
			return err
		}
	}
	// The presented token may no longer be bound to any listed session.
	err = s.tokens.RevokeSession(ctx, now, claims.PrincipalID, claims.SessionID,
		[]string{claims.TokenID}, claims.ExpiresAt, "logout_all")
	if err != nil {
		return err
	}

	cctx, cancel = s.storeCtx(ctx)
	err = s.store.DeactivateAll(cctx, now, claims.PrincipalID, "logout_all")
	cancel()
	if err != nil {
		s.log.Error("session.logout.reconcile",
			"principal_id", claims.PrincipalID,
			"error", err,
		)
	}
	return nil
}

// Sessions returns the principal's active sessions, newest first.
func (s *Service) Sessions(ctx context.Context, principalID string) ([]Session, error) {
	cctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.ListActive(cctx, principalID)
}

// TouchSession updates last_seen_at for a session (best-effort).
func (s *Service) TouchSession(ctx context.Context, now time.Time, sessionID string) error {
	cctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.Touch(cctx, now, sessionID)
}

func (s *Service) reuse(ctx context.Context, now time.Time, sess Session) (Established, error) {
	cctx, cancel := s.storeCtx(ctx)
	err := s.store.Touch(cctx, now, sess.ID)
	cancel()
	if err != nil {
		s.log.Warn("session.touch.failed", "session_id", sess.ID, "error", err)
	} else {
		sess.LastSeenAt = now
	}
	return s.issueFor(ctx, now, sess, true, nil)
}

func (s *Service) issueFor(ctx context.Context, now time.Time, sess Session, reused bool, evicted *Session) (Established, error) {
	pair, err := s.tokens.IssuePair(now, sess.PrincipalID, sess.ID)
	if err != nil {
		return Established{}, err
	}

	sess, err = s.bind(ctx, sess, pair)
	if err != nil {
		return Established{}, err
	}

	return Established{Session: sess, Pair: pair, Reused: reused, Evicted: evicted}, nil
}

// bind records the pair on the session row. A pair that was never recorded
// must not reach the client, so a bind failure surfaces as storage
// unavailability.
func (s *Service) bind(ctx context.Context, sess Session, pair token.Pair) (Session, error) {
	cctx, cancel := s.storeCtx(ctx)
	err := s.store.BindTokens(cctx, sess.ID, pair.AccessClaims.TokenID, pair.RefreshClaims.TokenID, pair.RefreshClaims.ExpiresAt)
	cancel()
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return Session{}, StorageError{Op: "session.bind_tokens", Err: err}
		}
		return Session{}, err
	}

	accessID := pair.AccessClaims.TokenID
	refreshID := pair.RefreshClaims.TokenID
	expiresAt := pair.RefreshClaims.ExpiresAt
	sess.AccessTokenID = &accessID
	sess.RefreshTokenID = &refreshID
	sess.TokensExpireAt = &expiresAt
	return sess, nil
}

func (s *Service) evictOldest(ctx context.Context, now time.Time, principalID string) (Session, error) {
	cctx, cancel := s.storeCtx(ctx)
	evicted, err := s.store.EvictOldest(cctx, now, principalID)
	cancel()
	if err != nil {
		return Session{}, err
	}

	if err := s.revokeSessionTokens(ctx, now, evicted, "evicted"); err != nil {
		return Session{}, err
	}

	s.log.Info("session.evicted",
		"principal_id", evicted.PrincipalID,
		"session_id", evicted.ID,
	)
	return evicted, nil
}

func (s *Service) revokeSessionTokens(ctx context.Context, now time.Time, sess Session, reason string) error {
	ids := sess.TokenIDs()
	if len(ids) == 0 {
		return nil
	}
	var expiresAt time.Time
	if sess.TokensExpireAt != nil {
		expiresAt = *sess.TokensExpireAt
	}
	return s.tokens.RevokeSession(ctx, now, sess.PrincipalID, sess.ID, ids, expiresAt, reason)
}

// revocationHorizon picks the latest expiry covering both the session's bound
// pair and the presented token, so revocation entries outlive every token
// they refuse.
func (s *Service) revocationHorizon(sess Session, claims token.Claims) time.Time {
	horizon := claims.ExpiresAt
	if sess.TokensExpireAt != nil && sess.TokensExpireAt.After(horizon) {
		horizon = *sess.TokensExpireAt
	}
	return horizon
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.cfg.StoreTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
