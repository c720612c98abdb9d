package api

import (
	"strings"
	"time"

	"warden/cmd/internal/auth/session"
	"warden/cmd/internal/auth/token"
)

func toTokenPairResponse(sessionID string, pair token.Pair, now time.Time, reused bool) tokenPairResponse {
	return tokenPairResponse{
		SessionID:        sessionID,
		TokenType:        "Bearer",
		AccessToken:      pair.AccessToken,
		ExpiresIn:        int64(pair.AccessClaims.ExpiresAt.Sub(now).Seconds()),
		AccessExpiresAt:  pair.AccessClaims.ExpiresAt,
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshClaims.ExpiresAt,
		Reused:           reused,
	}
}

func toSessionSummary(sess session.Session, currentID string) sessionSummary {
	return sessionSummary{
		ID:          sess.ID,
		Fingerprint: fingerprintPrefix(sess.Fingerprint),
		Platform:    string(sess.Platform),
		CreatedAt:   sess.CreatedAt,
		LastSeenAt:  sess.LastSeenAt,
		Current:     sess.ID == currentID,
	}
}

func fingerprintPrefix(fp string) string {
	if len(fp) <= 16 {
		return fp
	}
	return fp[:16]
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
