package api

import "time"

type establishRequest struct {
	SubjectID string  `json:"subject_id"`
	Email     *string `json:"email"`
	Platform  string  `json:"platform"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// tokenPairResponse is the shape of every credential-issuing response.
type tokenPairResponse struct {
	SessionID        string    `json:"session_id"`
	TokenType        string    `json:"token_type"`
	AccessToken      string    `json:"access_token"`
	ExpiresIn        int64     `json:"expires_in"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	Reused           bool      `json:"reused,omitempty"`
}

// sessionSummary is a device-list entry. The fingerprint is truncated: it
// identifies the device in support conversations without exposing the full
// hash.
type sessionSummary struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	Platform    string    `json:"platform"`
	CreatedAt   time.Time `json:"created_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	Current     bool      `json:"current"`
}

type sessionListResponse struct {
	Sessions []sessionSummary `json:"sessions"`
}
