package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testCodecConfig() Config {
	cfg := DefaultConfig()
	cfg.Secret = []byte(strings.Repeat("k", 32))
	return cfg
}

func mustCodec(t *testing.T, cfg Config) Codec {
	t.Helper()
	c, err := NewHMACCodec(cfg)
	if err != nil {
		t.Fatalf("NewHMACCodec: %v", err)
	}
	return c
}

func baseClaims(now time.Time, kind Kind, ttl time.Duration) Claims {
	return Claims{
		TokenID:     "01TESTTOKEN0000000000000AA",
		PrincipalID: "01TESTPRINCIPAL0000000000A",
		SessionID:   "01TESTSESSION000000000000A",
		Kind:        kind,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
	}
}

func TestCodecRejectsShortSecret(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Secret = []byte("too-short")
	if _, err := NewHMACCodec(cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestCodecIssueParseRoundTrip(t *testing.T) {
	t.Parallel()

	c := mustCodec(t, testCodecConfig())
	// Whole seconds: JWT numeric dates carry second precision.
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	in := baseClaims(now, KindRefresh, time.Hour)
	raw, err := c.Issue(in)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	out, err := c.Parse(raw, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out.TokenID != in.TokenID || out.PrincipalID != in.PrincipalID || out.SessionID != in.SessionID {
		t.Fatalf("id claims mismatch: %+v", out)
	}
	if out.Kind != KindRefresh {
		t.Fatalf("kind=%q want refresh", out.Kind)
	}
	if out.Issuer != "warden" || out.Audience != "warden" {
		t.Fatalf("issuer/audience mismatch: %q %q", out.Issuer, out.Audience)
	}
	if !out.IssuedAt.Equal(now) || !out.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("time claims mismatch: iat=%v exp=%v", out.IssuedAt, out.ExpiresAt)
	}
}

func TestCodecExpiredAndLeeway(t *testing.T) {
	t.Parallel()

	cfg := testCodecConfig()
	cfg.ClockLeeway = 10 * time.Second
	c := mustCodec(t, cfg)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	raw, err := c.Issue(baseClaims(now, KindAccess, time.Minute))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// Within leeway past expiry: still accepted.
	if _, err := c.Parse(raw, now.Add(time.Minute+5*time.Second)); err != nil {
		t.Fatalf("parse within leeway: %v", err)
	}

	// Beyond leeway: expired.
	if _, err := c.Parse(raw, now.Add(time.Minute+11*time.Second)); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestCodecSignatureMismatch(t *testing.T) {
	t.Parallel()

	a := mustCodec(t, testCodecConfig())

	other := testCodecConfig()
	other.Secret = []byte(strings.Repeat("x", 32))
	b := mustCodec(t, other)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	raw, err := a.Issue(baseClaims(now, KindAccess, time.Minute))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := b.Parse(raw, now); !errors.Is(err, ErrSignature) {
		t.Fatalf("expected ErrSignature, got %v", err)
	}
}

func TestCodecIssuerAndAudiencePinned(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	issuerCfg := testCodecConfig()
	issuerCfg.Issuer = "other-issuer"
	issuer := mustCodec(t, issuerCfg)

	raw, err := issuer.Issue(baseClaims(now, KindAccess, time.Minute))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := mustCodec(t, testCodecConfig()).Parse(raw, now); !errors.Is(err, ErrIssuer) {
		t.Fatalf("expected ErrIssuer, got %v", err)
	}

	audCfg := testCodecConfig()
	audCfg.Audience = "other-audience"
	aud := mustCodec(t, audCfg)

	raw, err = aud.Issue(baseClaims(now, KindAccess, time.Minute))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := mustCodec(t, testCodecConfig()).Parse(raw, now); !errors.Is(err, ErrAudience) {
		t.Fatalf("expected ErrAudience, got %v", err)
	}
}

func TestCodecMalformedInputs(t *testing.T) {
	t.Parallel()

	c := mustCodec(t, testCodecConfig())
	now := time.Now().UTC()

	for _, raw := range []string{"", "   ", "not-a-token", "a.b", "a.b.c.d"} {
		if _, err := c.Parse(raw, now); !errors.Is(err, ErrMalformed) {
			t.Fatalf("Parse(%q): expected ErrMalformed, got %v", raw, err)
		}
	}
}

func TestCodecRejectsUnsignedAlg(t *testing.T) {
	t.Parallel()

	c := mustCodec(t, testCodecConfig())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, wireClaims{
		SessionID: "01TESTSESSION000000000000A",
		TokenKind: string(KindAccess),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "01TESTTOKEN0000000000000AA",
			Subject:   "01TESTPRINCIPAL0000000000A",
			Issuer:    "warden",
			Audience:  jwt.ClaimStrings{"warden"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	})
	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	if _, err := c.Parse(raw, now); !errors.Is(err, ErrSignature) {
		t.Fatalf("expected ErrSignature for alg=none, got %v", err)
	}
}

func TestCodecKindSurvivesRoundTrip(t *testing.T) {
	t.Parallel()

	c := mustCodec(t, testCodecConfig())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, kind := range []Kind{KindAccess, KindRefresh} {
		raw, err := c.Issue(baseClaims(now, kind, time.Hour))
		if err != nil {
			t.Fatalf("issue %s: %v", kind, err)
		}
		out, err := c.Parse(raw, now)
		if err != nil {
			t.Fatalf("parse %s: %v", kind, err)
		}
		if out.Kind != kind {
			t.Fatalf("kind=%q want %q", out.Kind, kind)
		}
	}
}
