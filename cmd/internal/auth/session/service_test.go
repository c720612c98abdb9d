package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"warden/cmd/internal/auth/revocation"
	"warden/cmd/internal/auth/token"
	"warden/cmd/principal"
	"warden/cmd/security/fingerprint"
)

func newTestService(t *testing.T, cfg Config, store Store, revocations revocation.Store) (*Service, *token.Service) {
	t.Helper()

	tcfg := token.Config{
		Issuer:           "warden",
		Audience:         "warden",
		AccessTTL:        15 * time.Minute,
		RefreshTTL:       24 * time.Hour,
		ClockLeeway:      10 * time.Second,
		RevocationPolicy: token.PolicyFailClosed,
		StoreTimeout:     time.Second,
		Secret:           []byte("0123456789abcdef0123456789abcdef"),
	}
	codec, err := token.NewHMACCodec(tcfg)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens, err := token.NewService(tcfg, codec, revocations, log)
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	svc, err := NewService(cfg, principal.NewMemoryStore(), store, tokens, log)
	if err != nil {
		t.Fatalf("session service: %v", err)
	}
	return svc, tokens
}

func webAssertion(subject, userAgent string) Assertion {
	return Assertion{
		SubjectID: subject,
		Platform:  PlatformWeb,
		UserAgent: userAgent,
		IP:        net.ParseIP("203.0.113.7"),
	}
}

func TestServiceRejectsBadConfig(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	_, tokens := newTestService(t, DefaultConfig(), store, revocation.NewMemoryStore())
	registry := principal.NewMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	cases := []struct {
		name string
		run  func() (*Service, error)
	}{
		{"nil registry", func() (*Service, error) { return NewService(DefaultConfig(), nil, store, tokens, log) }},
		{"nil store", func() (*Service, error) { return NewService(DefaultConfig(), registry, nil, tokens, log) }},
		{"nil tokens", func() (*Service, error) { return NewService(DefaultConfig(), registry, store, nil, log) }},
		{"zero max sessions", func() (*Service, error) {
			cfg := DefaultConfig()
			cfg.MaxSessions = 0
			return NewService(cfg, registry, store, tokens, log)
		}},
		{"unknown limit policy", func() (*Service, error) {
			cfg := DefaultConfig()
			cfg.LimitPolicy = "evict-newest"
			return NewService(cfg, registry, store, tokens, log)
		}},
	}
	for _, tc := range cases {
		if _, err := tc.run(); !errors.Is(err, ErrConfig) {
			t.Errorf("%s: expected ErrConfig, got %v", tc.name, err)
		}
	}
}

func TestServiceEstablishReusesSameDevice(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	svc, tokens := newTestService(t, DefaultConfig(), store, revocation.NewMemoryStore())
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	first, err := svc.Establish(ctx, base, webAssertion("sub-1", "ua-laptop"))
	if err != nil {
		t.Fatalf("first establish: %v", err)
	}
	if first.Reused {
		t.Fatal("first establish must create, not reuse")
	}

	second, err := svc.Establish(ctx, base.Add(time.Minute), webAssertion("sub-1", "ua-laptop"))
	if err != nil {
		t.Fatalf("second establish: %v", err)
	}
	if !second.Reused {
		t.Fatal("same device must reuse the session")
	}
	if second.Session.ID != first.Session.ID {
		t.Fatalf("session id changed on reuse: %s vs %s", second.Session.ID, first.Session.ID)
	}
	if second.Pair.AccessClaims.TokenID == first.Pair.AccessClaims.TokenID {
		t.Fatal("reuse must still issue a fresh pair")
	}
	if !second.Session.LastSeenAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("reuse did not touch the session: last seen %v", second.Session.LastSeenAt)
	}

	// Reuse rebinds but does not revoke: the earlier pair dies by expiry.
	if _, err := tokens.Validate(ctx, first.Pair.AccessToken, token.KindAccess, base.Add(2*time.Minute)); err != nil {
		t.Fatalf("earlier access token should still validate: %v", err)
	}

	active, err := svc.Sessions(ctx, first.Session.PrincipalID)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active=%d want 1", len(active))
	}
	if got := active[0]; got.RefreshTokenID == nil || *got.RefreshTokenID != second.Pair.RefreshClaims.TokenID {
		t.Fatalf("session must track the latest pair, got %v", got.RefreshTokenID)
	}
}

func TestServiceEstablishSeparateDevices(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	svc, _ := newTestService(t, DefaultConfig(), store, revocation.NewMemoryStore())
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	laptop, err := svc.Establish(ctx, base, webAssertion("sub-1", "ua-laptop"))
	if err != nil {
		t.Fatalf("establish laptop: %v", err)
	}
	phone, err := svc.Establish(ctx, base.Add(time.Minute), webAssertion("sub-1", "ua-phone"))
	if err != nil {
		t.Fatalf("establish phone: %v", err)
	}
	if phone.Reused || phone.Session.ID == laptop.Session.ID {
		t.Fatal("different device must get its own session")
	}

	active, err := svc.Sessions(ctx, laptop.Session.PrincipalID)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("active=%d want 2", len(active))
	}
}

func TestServiceEstablishConcurrentSameDevice(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	svc, _ := newTestService(t, DefaultConfig(), store, revocation.NewMemoryStore())
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]Established, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			results[slot], errs[slot] = svc.Establish(ctx, base, webAssertion("sub-1", "ua-laptop"))
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{})
	for i, err := range errs {
		if err != nil {
			t.Fatalf("establish %d: %v", i, err)
		}
		seen[results[i].Session.ID] = struct{}{}
	}
	if len(seen) != 1 {
		t.Fatalf("concurrent same-device logins created %d sessions, want 1", len(seen))
	}

	active, err := store.ListActive(ctx, results[0].Session.PrincipalID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active=%d want 1", len(active))
	}
}

func TestServiceEstablishRejectPolicyCapExact(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MaxSessions = 3
	cfg.LimitPolicy = LimitPolicyReject

	store := NewMemoryStore()
	svc, _ := newTestService(t, cfg, store, revocation.NewMemoryStore())
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			ua := fmt.Sprintf("ua-%d", slot)
			_, errs[slot] = svc.Establish(ctx, base, webAssertion("sub-1", ua))
		}(i)
	}
	wg.Wait()

	created, limited := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrSessionLimit):
			limited++
		default:
			t.Fatalf("unexpected establish error: %v", err)
		}
	}
	if created != cfg.MaxSessions {
		t.Fatalf("created=%d want exactly %d (limited=%d)", created, cfg.MaxSessions, limited)
	}

	var limitErr SessionLimitError
	for _, err := range errs {
		if err != nil && !errors.As(err, &limitErr) {
			t.Fatalf("limit rejection must carry SessionLimitError, got %v", err)
		}
	}
	if limitErr.Max != cfg.MaxSessions {
		t.Fatalf("limit error max = %d want %d", limitErr.Max, cfg.MaxSessions)
	}
}

func TestServiceEstablishEvictsOldestAtCap(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MaxSessions = 2

	store := NewMemoryStore()
	svc, tokens := newTestService(t, cfg, store, revocation.NewMemoryStore())
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	laptop, err := svc.Establish(ctx, base, webAssertion("sub-1", "ua-laptop"))
	if err != nil {
		t.Fatalf("establish laptop: %v", err)
	}
	if _, err := svc.Establish(ctx, base.Add(time.Minute), webAssertion("sub-1", "ua-phone")); err != nil {
		t.Fatalf("establish phone: %v", err)
	}

	tablet, err := svc.Establish(ctx, base.Add(2*time.Minute), webAssertion("sub-1", "ua-tablet"))
	if err != nil {
		t.Fatalf("establish tablet: %v", err)
	}
	if tablet.Evicted == nil {
		t.Fatal("establish at the cap must report the evicted session")
	}
	if tablet.Evicted.ID != laptop.Session.ID {
		t.Fatalf("evicted %s want oldest %s", tablet.Evicted.ID, laptop.Session.ID)
	}

	// The evicted session's tokens are dead before its slot is reused.
	at := base.Add(3 * time.Minute)
	if _, err := tokens.Validate(ctx, laptop.Pair.AccessToken, token.KindAccess, at); !errors.Is(err, token.ErrRevoked) {
		t.Fatalf("evicted access token: expected ErrRevoked, got %v", err)
	}
	if _, err := tokens.Validate(ctx, laptop.Pair.RefreshToken, token.KindRefresh, at); !errors.Is(err, token.ErrRevoked) {
		t.Fatalf("evicted refresh token: expected ErrRevoked, got %v", err)
	}

	active, err := svc.Sessions(ctx, tablet.Session.PrincipalID)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(active) != cfg.MaxSessions {
		t.Fatalf("active=%d want %d", len(active), cfg.MaxSessions)
	}
}

type flakyRevocations struct {
	*revocation.MemoryStore
	failRevoke atomic.Bool
}

func (f *flakyRevocations) Revoke(ctx context.Context, e revocation.Entry) error {
	if f.failRevoke.Load() {
		return revocation.ErrUnavailable
	}
	return f.MemoryStore.Revoke(ctx, e)
}

func TestServiceEstablishEvictionNeedsRevocation(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MaxSessions = 1

	revocations := &flakyRevocations{MemoryStore: revocation.NewMemoryStore()}
	store := NewMemoryStore()
	svc, _ := newTestService(t, cfg, store, revocations)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	first, err := svc.Establish(ctx, base, webAssertion("sub-1", "ua-laptop"))
	if err != nil {
		t.Fatalf("establish: %v", err)
	}

	revocations.failRevoke.Store(true)
	_, err = svc.Establish(ctx, base.Add(time.Minute), webAssertion("sub-1", "ua-phone"))
	if !errors.Is(err, token.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable when eviction cannot revoke, got %v", err)
	}

	// The failed attempt must not have produced a session for the new device.
	fp := fingerprint.Hex(net.ParseIP("203.0.113.7"), "ua-phone")
	if _, err := store.FindActiveByFingerprint(ctx, first.Session.PrincipalID, fp); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("new device session must not exist, got %v", err)
	}
}

func TestServiceRefreshRotatesAndRebinds(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	svc, tokens := newTestService(t, DefaultConfig(), store, revocation.NewMemoryStore())
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	est, err := svc.Establish(ctx, base, webAssertion("sub-1", "ua-laptop"))
	if err != nil {
		t.Fatalf("establish: %v", err)
	}

	at := base.Add(5 * time.Minute)
	sess, pair, err := svc.Refresh(ctx, at, est.Pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if sess.ID != est.Session.ID {
		t.Fatalf("refresh bound to %s want %s", sess.ID, est.Session.ID)
	}
	if !sess.LastSeenAt.Equal(at) {
		t.Fatalf("refresh did not touch the session: last seen %v", sess.LastSeenAt)
	}

	// Single-use: the old refresh token is burned.
	if _, err := tokens.Validate(ctx, est.Pair.RefreshToken, token.KindRefresh, at); !errors.Is(err, token.ErrRevoked) {
		t.Fatalf("old refresh token: expected ErrRevoked, got %v", err)
	}
	if _, err := tokens.Validate(ctx, pair.RefreshToken, token.KindRefresh, at); err != nil {
		t.Fatalf("new refresh token: %v", err)
	}

	got, err := store.GetByID(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RefreshTokenID == nil || *got.RefreshTokenID != pair.RefreshClaims.TokenID {
		t.Fatalf("session tracks %v want %s", got.RefreshTokenID, pair.RefreshClaims.TokenID)
	}
}

func TestServiceRefreshAfterLogout(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	svc, _ := newTestService(t, DefaultConfig(), store, revocation.NewMemoryStore())
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	est, err := svc.Establish(ctx, base, webAssertion("sub-1", "ua-laptop"))
	if err != nil {
		t.Fatalf("establish: %v", err)
	}
	if err := svc.Logout(ctx, base.Add(time.Minute), est.Pair.AccessClaims); err != nil {
		t.Fatalf("logout: %v", err)
	}

	_, _, err = svc.Refresh(ctx, base.Add(2*time.Minute), est.Pair.RefreshToken)
	if !errors.Is(err, token.ErrRevoked) {
		t.Fatalf("refresh after logout: expected ErrRevoked, got %v", err)
	}
}

func TestServiceRefreshRejectsDeactivatedSession(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	svc, _ := newTestService(t, DefaultConfig(), store, revocation.NewMemoryStore())
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	est, err := svc.Establish(ctx, base, webAssertion("sub-1", "ua-laptop"))
	if err != nil {
		t.Fatalf("establish: %v", err)
	}

	// Deactivate the row behind the token service's back: the refresh token
	// itself is still valid, but the session it names is gone.
	if err := store.Deactivate(ctx, base.Add(time.Minute), est.Session.ID, "expired"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	_, _, err = svc.Refresh(ctx, base.Add(2*time.Minute), est.Pair.RefreshToken)
	if !errors.Is(err, token.ErrRevoked) {
		t.Fatalf("refresh of deactivated session: expected ErrRevoked, got %v", err)
	}
}

func TestServiceLogoutRevokesAndDeactivates(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	svc, tokens := newTestService(t, DefaultConfig(), store, revocation.NewMemoryStore())
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	est, err := svc.Establish(ctx, base, webAssertion("sub-1", "ua-laptop"))
	if err != nil {
		t.Fatalf("establish: %v", err)
	}

	at := base.Add(time.Minute)
	if err := svc.Logout(ctx, at, est.Pair.AccessClaims); err != nil {
		t.Fatalf("logout: %v", err)
	}

	if _, err := tokens.Validate(ctx, est.Pair.AccessToken, token.KindAccess, at); !errors.Is(err, token.ErrRevoked) {
		t.Fatalf("access token after logout: expected ErrRevoked, got %v", err)
	}
	if _, err := tokens.Validate(ctx, est.Pair.RefreshToken, token.KindRefresh, at); !errors.Is(err, token.ErrRevoked) {
		t.Fatalf("refresh token after logout: expected ErrRevoked, got %v", err)
	}

	got, err := store.GetByID(ctx, est.Session.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Active() {
		t.Fatal("session still active after logout")
	}
	if got.RevocationReason == nil || *got.RevocationReason != "logout" {
		t.Fatalf("revocation reason = %v", got.RevocationReason)
	}

	// Logging out again is a no-op, not an error.
	if err := svc.Logout(ctx, at.Add(time.Minute), est.Pair.AccessClaims); err != nil {
		t.Fatalf("repeat logout: %v", err)
	}
}

func TestServiceLogoutWithoutSessionRow(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	svc, tokens := newTestService(t, DefaultConfig(), store, revocation.NewMemoryStore())
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	est, err := svc.Establish(ctx, base, webAssertion("sub-1", "ua-laptop"))
	if err != nil {
		t.Fatalf("establish: %v", err)
	}

	// Purge the row out from under the token: logout must still burn it.
	if err := store.Deactivate(ctx, base.Add(time.Minute), est.Session.ID, "expired"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := store.PurgeInactive(ctx, base.Add(time.Hour)); err != nil {
		t.Fatalf("purge: %v", err)
	}

	at := base.Add(2 * time.Minute)
	if err := svc.Logout(ctx, at, est.Pair.AccessClaims); err != nil {
		t.Fatalf("logout without row: %v", err)
	}
	if _, err := tokens.Validate(ctx, est.Pair.AccessToken, token.KindAccess, at); !errors.Is(err, token.ErrRevoked) {
		t.Fatalf("presented token must be revoked, got %v", err)
	}
}

type flakySessions struct {
	*MemoryStore
	failDeactivate atomic.Bool
}

func (f *flakySessions) Deactivate(ctx context.Context, now time.Time, sessionID, reason string) error {
	if f.failDeactivate.Load() {
		return StorageError{Op: "session.memory.deactivate", Err: errors.New("boom")}
	}
	return f.MemoryStore.Deactivate(ctx, now, sessionID, reason)
}

func TestServiceLogoutSurvivesBookkeepingFailure(t *testing.T) {
	t.Parallel()

	store := &flakySessions{MemoryStore: NewMemoryStore()}
	svc, tokens := newTestService(t, DefaultConfig(), store, revocation.NewMemoryStore())
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	est, err := svc.Establish(ctx, base, webAssertion("sub-1", "ua-laptop"))
	if err != nil {
		t.Fatalf("establish: %v", err)
	}

	store.failDeactivate.Store(true)
	at := base.Add(time.Minute)
	if err := svc.Logout(ctx, at, est.Pair.AccessClaims); err != nil {
		t.Fatalf("logout must succeed once tokens are revoked: %v", err)
	}
	if _, err := tokens.Validate(ctx, est.Pair.AccessToken, token.KindAccess, at); !errors.Is(err, token.ErrRevoked) {
		t.Fatalf("access token after logout: expected ErrRevoked, got %v", err)
	}
}

func TestServiceLogoutAllSweepsEverySession(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	svc, tokens := newTestService(t, DefaultConfig(), store, revocation.NewMemoryStore())
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	agents := []string{"ua-laptop", "ua-phone", "ua-tablet"}
	established := make([]Established, 0, len(agents))
	for i, ua := range agents {
		est, err := svc.Establish(ctx, base.Add(time.Duration(i)*time.Minute), webAssertion("sub-1", ua))
		if err != nil {
			t.Fatalf("establish %s: %v", ua, err)
		}
		established = append(established, est)
	}

	at := base.Add(5 * time.Minute)
	if err := svc.LogoutAll(ctx, at, established[2].Pair.AccessClaims); err != nil {
		t.Fatalf("logout all: %v", err)
	}

	for i, est := range established {
		if _, err := tokens.Validate(ctx, est.Pair.AccessToken, token.KindAccess, at); !errors.Is(err, token.ErrRevoked) {
			t.Fatalf("session %d access token: expected ErrRevoked, got %v", i, err)
		}
		if _, err := tokens.Validate(ctx, est.Pair.RefreshToken, token.KindRefresh, at); !errors.Is(err, token.ErrRevoked) {
			t.Fatalf("session %d refresh token: expected ErrRevoked, got %v", i, err)
		}
	}

	active, err := svc.Sessions(ctx, established[0].Session.PrincipalID)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active=%d want 0 after logout all", len(active))
	}
}

func TestServiceSessionsListsOnlyActive(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	svc, _ := newTestService(t, DefaultConfig(), store, revocation.NewMemoryStore())
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	laptop, err := svc.Establish(ctx, base, webAssertion("sub-1", "ua-laptop"))
	if err != nil {
		t.Fatalf("establish laptop: %v", err)
	}
	phone, err := svc.Establish(ctx, base.Add(time.Minute), webAssertion("sub-1", "ua-phone"))
	if err != nil {
		t.Fatalf("establish phone: %v", err)
	}

	if err := svc.Logout(ctx, base.Add(2*time.Minute), laptop.Pair.AccessClaims); err != nil {
		t.Fatalf("logout: %v", err)
	}

	active, err := svc.Sessions(ctx, phone.Session.PrincipalID)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(active) != 1 || active[0].ID != phone.Session.ID {
		t.Fatalf("active=%v want only the phone session", active)
	}
}
