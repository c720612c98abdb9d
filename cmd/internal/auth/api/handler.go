package api

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"warden/cmd/internal/auth/session"
	"warden/cmd/internal/auth/token"
	"warden/cmd/principal"
)

// Handler wires the session endpoints to the orchestrator and token service.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	sessions *session.Service
	tokens   *token.Service
	audit    *Audit
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithAudit enables the Postgres audit trail.
func WithAudit(a *Audit) HandlerOption {
	return func(h *Handler) {
		if h == nil || a == nil {
			return
		}
		h.audit = a
	}
}

// NewHandler constructs the session API handler.
func NewHandler(log *slog.Logger, cfg Config, sessions *session.Service, tokens *token.Service, opts ...HandlerOption) (*Handler, error) {
	if sessions == nil || tokens == nil {
		return nil, errors.New("api: nil session or token service")
	}
	if log == nil {
		log = slog.Default()
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		sessions: sessions,
		tokens:   tokens,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires session routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/sessions", h.handleSessions)
	mux.HandleFunc("/sessions/refresh", h.handleRefresh)
	mux.HandleFunc("/sessions/current", h.handleSessionCurrent)
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleEstablish(w, r)
	case http.MethodGet:
		h.handleList(w, r)
	case http.MethodDelete:
		h.handleLogoutAll(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// ---- handlers ----

func (h *Handler) handleEstablish(w http.ResponseWriter, r *http.Request) {
	var req establishRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	subject := strings.TrimSpace(req.SubjectID)
	if subject == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "subject_id is required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	est, err := h.sessions.Establish(ctx, now, session.Assertion{
		SubjectID: subject,
		Email:     trimPtr(req.Email),
		Platform:  session.NormalizePlatform(req.Platform),
		UserAgent: ua,
		IP:        ip,
	})
	if err != nil {
		h.writeServiceError(w, "auth.establish", err)
		return
	}

	if est.Evicted != nil {
		sessionEvictions.Inc()
		h.audit.SessionEvicted(ctx, est.Evicted.PrincipalID, est.Evicted.ID, ip, ua)
	}
	if est.Reused {
		sessionsEstablished.WithLabelValues("reused").Inc()
		h.audit.SessionReused(ctx, est.Session.PrincipalID, est.Session.ID, ip, ua)
	} else {
		sessionsEstablished.WithLabelValues("created").Inc()
		h.audit.SessionCreated(ctx, est.Session.PrincipalID, est.Session.ID, ip, ua)
	}

	writeJSON(w, http.StatusOK, toTokenPairResponse(est.Session.ID, est.Pair, now, est.Reused))
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	refreshToken := strings.TrimSpace(req.RefreshToken)
	if refreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	sess, pair, err := h.sessions.Refresh(ctx, now, refreshToken)
	if err != nil {
		if errors.Is(err, token.ErrRevoked) {
			// Reuse of a rotated token, a lost rotation race, or a refresh
			// against a dead session. All get the same answer.
			refreshRotations.WithLabelValues("reuse_blocked").Inc()
			h.audit.RefreshReuseBlocked(ctx, ip, ua)
			writeError(w, http.StatusUnauthorized, "token_revoked", "refresh token already used or revoked")
			return
		}
		refreshRotations.WithLabelValues("failed").Inc()
		h.writeServiceError(w, "auth.refresh", err)
		return
	}

	refreshRotations.WithLabelValues("rotated").Inc()
	h.audit.Refreshed(ctx, sess.PrincipalID, sess.ID, ip, ua)

	writeJSON(w, http.StatusOK, toTokenPairResponse(sess.ID, pair, now, false))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	if err := h.sessions.TouchSession(ctx, now, claims.SessionID); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		h.log.Warn("auth.sessions.touch.fail", "session_id", claims.SessionID, "err", err)
	}

	list, err := h.sessions.Sessions(ctx, claims.PrincipalID)
	if err != nil {
		h.writeServiceError(w, "auth.sessions.list", err)
		return
	}

	resp := sessionListResponse{Sessions: make([]sessionSummary, 0, len(list))}
	for _, sess := range list {
		resp.Sessions = append(resp.Sessions, toSessionSummary(sess, claims.SessionID))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleSessionCurrent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	raw := bearerToken(r)
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	claims, err := h.tokens.Validate(ctx, raw, token.KindAccess, now)
	observeValidation(err)
	if err != nil {
		// A token that is already revoked has nothing left to log out.
		if errors.Is(err, token.ErrRevoked) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.writeAuthError(w, err)
		return
	}

	if err := h.sessions.Logout(ctx, now, claims); err != nil {
		h.writeServiceError(w, "auth.logout", err)
		return
	}

	logouts.WithLabelValues("current").Inc()
	h.audit.Logout(ctx, claims.PrincipalID, claims.SessionID, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	if err := h.sessions.LogoutAll(ctx, now, claims); err != nil {
		h.writeServiceError(w, "auth.logout_all", err)
		return
	}

	logouts.WithLabelValues("all").Inc()
	h.audit.LogoutAll(ctx, claims.PrincipalID, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
	w.WriteHeader(http.StatusNoContent)
}

// ---- auth & error mapping ----

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (token.Claims, bool) {
	raw := bearerToken(r)
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return token.Claims{}, false
	}

	claims, err := h.tokens.Validate(r.Context(), raw, token.KindAccess, time.Now().UTC())
	observeValidation(err)
	if err != nil {
		h.writeAuthError(w, err)
		return token.Claims{}, false
	}
	return claims, true
}

// writeAuthError maps bearer validation failures. Expired, revoked, and
// malformed stay distinguishable: clients refresh on the first, re-login on
// the second, and give up on the third.
func (h *Handler) writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, token.ErrExpired):
		writeError(w, http.StatusUnauthorized, "token_expired", "token expired")
	case errors.Is(err, token.ErrRevoked):
		writeError(w, http.StatusUnauthorized, "token_revoked", "token revoked")
	case errors.Is(err, token.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "token validation unavailable")
	default:
		writeError(w, http.StatusUnauthorized, "token_invalid", "invalid token")
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, token.ErrExpired):
		writeError(w, http.StatusUnauthorized, "token_expired", "token expired")
	case errors.Is(err, token.ErrRevoked):
		writeError(w, http.StatusUnauthorized, "token_revoked", "token revoked")
	case errors.Is(err, token.ErrMalformed),
		errors.Is(err, token.ErrSignature),
		errors.Is(err, token.ErrIssuer),
		errors.Is(err, token.ErrAudience),
		errors.Is(err, token.ErrKindMismatch):
		writeError(w, http.StatusUnauthorized, "token_invalid", "invalid token")
	case errors.Is(err, session.ErrSessionLimit):
		sessionLimitRejections.Inc()
		writeError(w, http.StatusTooManyRequests, "session_limit_exceeded", "active session limit reached")
	case errors.Is(err, token.ErrRotation):
		h.log.Error(op+".rotation.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "rotation_failed", "refresh rotation failed, retry")
	case errors.Is(err, token.ErrStoreUnavailable):
		h.log.Error(op+".store.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "storage unavailable")
	case principal.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid input")
	default:
		h.log.Error(op+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func observeValidation(err error) {
	switch {
	case err == nil:
		tokenValidations.WithLabelValues("valid").Inc()
	case errors.Is(err, token.ErrExpired):
		tokenValidations.WithLabelValues("expired").Inc()
	case errors.Is(err, token.ErrRevoked):
		tokenValidations.WithLabelValues("revoked").Inc()
	case errors.Is(err, token.ErrStoreUnavailable):
		tokenValidations.WithLabelValues("unavailable").Inc()
	default:
		tokenValidations.WithLabelValues("invalid").Inc()
	}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for _, p := range parts {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
