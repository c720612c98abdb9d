package revocation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s, err := NewRedisStore(client, "warden_test")
	if err != nil {
		t.Fatalf("new redis store: %v", err)
	}
	return s
}

func testEntry(tokenID string, expiresAt time.Time) Entry {
	return Entry{
		TokenID:     tokenID,
		PrincipalID: "01TESTPRINCIPAL0000000000A",
		SessionID:   "01TESTSESSION000000000000A",
		Reason:      "logout",
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   expiresAt,
	}
}

func TestRedisStoreRevokeIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestRedisStore(t)
	ctx := context.Background()
	e := testEntry("tok-revoke-1", time.Now().Add(time.Hour))

	if err := s.Revoke(ctx, e); err != nil {
		t.Fatalf("first revoke: %v", err)
	}
	if err := s.Revoke(ctx, e); err != nil {
		t.Fatalf("second revoke: %v", err)
	}

	revoked, err := s.IsRevoked(ctx, e.TokenID)
	if err != nil {
		t.Fatalf("is revoked: %v", err)
	}
	if !revoked {
		t.Fatalf("expected token to be revoked")
	}
}

func TestRedisStoreIsRevokedUnknownToken(t *testing.T) {
	t.Parallel()

	s := newTestRedisStore(t)

	revoked, err := s.IsRevoked(context.Background(), "tok-unknown")
	if err != nil {
		t.Fatalf("is revoked: %v", err)
	}
	if revoked {
		t.Fatalf("unknown token reported revoked")
	}
}

func TestRedisStoreClaimSingleWinner(t *testing.T) {
	t.Parallel()

	s := newTestRedisStore(t)
	ctx := context.Background()
	e := testEntry("tok-claim-1", time.Now().Add(time.Hour))

	won, err := s.Claim(ctx, e)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if !won {
		t.Fatalf("first claim should win")
	}

	won, err = s.Claim(ctx, e)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if won {
		t.Fatalf("second claim must lose")
	}
}

func TestRedisStorePurgeExpiredDropsOnlyPast(t *testing.T) {
	t.Parallel()

	s := newTestRedisStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	soon := testEntry("tok-purge-soon", base.Add(time.Hour))
	late := testEntry("tok-purge-late", base.Add(2*time.Hour))

	if err := s.Revoke(ctx, soon); err != nil {
		t.Fatalf("revoke soon: %v", err)
	}
	if err := s.Revoke(ctx, late); err != nil {
		t.Fatalf("revoke late: %v", err)
	}

	dropped, err := s.PurgeExpired(ctx, base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if dropped != 1 {
		t.Fatalf("dropped=%d want 1", dropped)
	}

	revoked, err := s.IsRevoked(ctx, soon.TokenID)
	if err != nil {
		t.Fatalf("is revoked (purged): %v", err)
	}
	if revoked {
		t.Fatalf("purged token still reported revoked")
	}

	revoked, err = s.IsRevoked(ctx, late.TokenID)
	if err != nil {
		t.Fatalf("is revoked (live): %v", err)
	}
	if !revoked {
		t.Fatalf("live entry dropped by purge")
	}
}

func TestRedisStoreUnavailableWrapsSentinel(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s, err := NewRedisStore(client, "warden_test")
	if err != nil {
		t.Fatalf("new redis store: %v", err)
	}

	mr.Close()

	ctx := context.Background()
	if _, err := s.IsRevoked(ctx, "tok-down"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("IsRevoked err=%v want ErrUnavailable", err)
	}
	if err := s.Revoke(ctx, testEntry("tok-down", time.Now().Add(time.Hour))); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Revoke err=%v want ErrUnavailable", err)
	}
	if _, err := s.Claim(ctx, testEntry("tok-down", time.Now().Add(time.Hour))); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Claim err=%v want ErrUnavailable", err)
	}
}
