// Package main provides a CI-friendly smoke test for the warden session API.
//
// It validates:
//   - health endpoint
//   - establish -> bearer pair issued
//   - authenticated session listing
//   - refresh -> rotated pair, session preserved
//   - replay of the rotated-away refresh token is refused
//   - logout -> tokens revoked, repeat logout stays 204
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const maxReadBytes = 1 << 20 // 1MiB

type tokenPair struct {
	SessionID    string `json:"session_id"`
	TokenType    string `json:"token_type"`
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Reused       bool   `json:"reused"`
}

type sessionList struct {
	Sessions []struct {
		ID       string `json:"id"`
		Platform string `json:"platform"`
		Current  bool   `json:"current"`
	} `json:"sessions"`
}

type apiErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type smoke struct {
	base    string
	client  *http.Client
	timeout time.Duration
	verbose bool
}

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8080", "warden base URL")
		subject  = flag.String("subject", "idp|smoke", "Subject ID to establish a session for")
		platform = flag.String("platform", "web", "Platform label sent on establish")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	s := &smoke{
		base:    strings.TrimRight(*baseURL, "/"),
		client:  &http.Client{},
		timeout: *timeout,
		verbose: *verbose,
	}

	s.mustHealthz()

	pair := s.mustEstablish(*subject, *platform)
	if s.verbose {
		fmt.Printf("established: session_id=%s expires_in=%ds\n", pair.SessionID, pair.ExpiresIn)
	}

	s.mustListSessions(pair.AccessToken, pair.SessionID)

	rotated := s.mustRefresh(pair.RefreshToken, pair.SessionID)
	if s.verbose {
		fmt.Printf("rotated: session_id=%s\n", rotated.SessionID)
	}

	s.mustRejectReplay(pair.RefreshToken)

	s.mustLogout(rotated.AccessToken)
	s.mustRejectBearer(rotated.AccessToken, "token_revoked")

	// Logging out again with the revoked token stays a 204.
	s.mustLogout(rotated.AccessToken)

	fmt.Printf("OK: session_id=%s reused=%v rotation=single-use logout=idempotent\n", pair.SessionID, pair.Reused)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func (s *smoke) mustHealthz() {
	status, body := s.do(http.MethodGet, "/healthz", "", nil)
	if status != http.StatusOK {
		fatalf("healthz: status=%d body=%s", status, body)
	}
}

func (s *smoke) mustEstablish(subject, platform string) tokenPair {
	payload := map[string]string{"subject_id": subject, "platform": platform}
	status, body := s.do(http.MethodPost, "/sessions", "", payload)
	if status != http.StatusOK {
		fatalf("establish: status=%d body=%s", status, body)
	}

	var pair tokenPair
	if err := json.Unmarshal(body, &pair); err != nil {
		fatalf("establish: bad response: %v", err)
	}
	if pair.TokenType != "Bearer" {
		fatalf("establish: token_type=%q want Bearer", pair.TokenType)
	}
	if pair.SessionID == "" || pair.AccessToken == "" || pair.RefreshToken == "" {
		fatalf("establish: incomplete pair: %s", body)
	}
	if pair.ExpiresIn <= 0 {
		fatalf("establish: expires_in=%d", pair.ExpiresIn)
	}
	return pair
}

func (s *smoke) mustListSessions(accessToken, wantSessionID string) {
	status, body := s.do(http.MethodGet, "/sessions", accessToken, nil)
	if status != http.StatusOK {
		fatalf("list sessions: status=%d body=%s", status, body)
	}

	var list sessionList
	if err := json.Unmarshal(body, &list); err != nil {
		fatalf("list sessions: bad response: %v", err)
	}

	found := false
	for _, sess := range list.Sessions {
		if sess.ID == wantSessionID && sess.Current {
			found = true
			break
		}
	}
	if !found {
		fatalf("list sessions: current session %s missing: %s", wantSessionID, body)
	}
}

func (s *smoke) mustRefresh(refreshToken, wantSessionID string) tokenPair {
	payload := map[string]string{"refresh_token": refreshToken}
	status, body := s.do(http.MethodPost, "/sessions/refresh", "", payload)
	if status != http.StatusOK {
		fatalf("refresh: status=%d body=%s", status, body)
	}

	var pair tokenPair
	if err := json.Unmarshal(body, &pair); err != nil {
		fatalf("refresh: bad response: %v", err)
	}
	if pair.SessionID != wantSessionID {
		fatalf("refresh: session changed: got=%s want=%s", pair.SessionID, wantSessionID)
	}
	if pair.RefreshToken == refreshToken {
		fatalf("refresh: refresh token was not rotated")
	}
	return pair
}

func (s *smoke) mustRejectReplay(oldRefreshToken string) {
	payload := map[string]string{"refresh_token": oldRefreshToken}
	status, body := s.do(http.MethodPost, "/sessions/refresh", "", payload)
	if status != http.StatusUnauthorized {
		fatalf("refresh replay: status=%d want 401, body=%s", status, body)
	}
	if code := errorCodeOf(body); code != "token_revoked" {
		fatalf("refresh replay: code=%q want token_revoked", code)
	}
}

func (s *smoke) mustLogout(accessToken string) {
	status, body := s.do(http.MethodDelete, "/sessions/current", accessToken, nil)
	if status != http.StatusNoContent {
		fatalf("logout: status=%d want 204, body=%s", status, body)
	}
}

func (s *smoke) mustRejectBearer(accessToken, wantCode string) {
	status, body := s.do(http.MethodGet, "/sessions", accessToken, nil)
	if status != http.StatusUnauthorized {
		fatalf("revoked bearer: status=%d want 401, body=%s", status, body)
	}
	if code := errorCodeOf(body); code != wantCode {
		fatalf("revoked bearer: code=%q want %q", code, wantCode)
	}
}

func (s *smoke) do(method, path, bearer string, payload any) (int, []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var rd io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			fatalf("marshal request: %v", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.base+path, rd)
	if err != nil {
		fatalf("build request %s %s: %v", method, path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.Header.Set("User-Agent", "warden-smoke/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		fatalf("read response %s %s: %v", method, path, err)
	}

	if s.verbose {
		fmt.Printf("%s %s -> %d\n", method, path, resp.StatusCode)
	}
	return resp.StatusCode, body
}

func errorCodeOf(body []byte) string {
	var e apiErrorBody
	if err := json.Unmarshal(body, &e); err != nil {
		return ""
	}
	return e.Error.Code
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
