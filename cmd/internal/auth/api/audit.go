package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit writes best-effort session events to warden.audit_log.
//
// Inserts never fail the request they describe; a write error is logged and
// dropped. A nil Audit (or one without a pool) records nothing, which is the
// in-memory dev mode.
type Audit struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewAudit builds the audit trail writer. pool may be nil to disable it.
func NewAudit(pool *pgxpool.Pool, log *slog.Logger) *Audit {
	if log == nil {
		log = slog.Default()
	}
	return &Audit{pool: pool, log: log}
}

func (a *Audit) SessionCreated(ctx context.Context, principalID, sessionID string, ip net.IP, ua string) {
	a.insert(ctx, "session.create", &principalID, &sessionID, ip, ua, nil)
}

func (a *Audit) SessionReused(ctx context.Context, principalID, sessionID string, ip net.IP, ua string) {
	a.insert(ctx, "session.reuse", &principalID, &sessionID, ip, ua, nil)
}

func (a *Audit) SessionEvicted(ctx context.Context, principalID, evictedSessionID string, ip net.IP, ua string) {
	a.insert(ctx, "session.evict", &principalID, &evictedSessionID, ip, ua, nil)
}

func (a *Audit) Refreshed(ctx context.Context, principalID, sessionID string, ip net.IP, ua string) {
	a.insert(ctx, "session.refresh", &principalID, &sessionID, ip, ua, nil)
}

func (a *Audit) RefreshReuseBlocked(ctx context.Context, ip net.IP, ua string) {
	a.insert(ctx, "session.refresh.reuse_blocked", nil, nil, ip, ua, nil)
}

func (a *Audit) Logout(ctx context.Context, principalID, sessionID string, ip net.IP, ua string) {
	a.insert(ctx, "session.logout", &principalID, &sessionID, ip, ua, nil)
}

func (a *Audit) LogoutAll(ctx context.Context, principalID string, ip net.IP, ua string) {
	a.insert(ctx, "session.logout_all", &principalID, nil, ip, ua, nil)
}

func (a *Audit) insert(ctx context.Context, action string, principalID, sessionID *string, ip net.IP, ua string, meta map[string]any) {
	if a == nil || a.pool == nil {
		return
	}

	action = strings.TrimSpace(action)
	if action == "" {
		return
	}

	var ipVal any
	if ip != nil {
		ipVal = ip.String()
	}

	var metaVal *string
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err := a.pool.Exec(ctx, `
		INSERT INTO warden.audit_log (
			principal_id, session_id, action, created_at, ip, user_agent, meta
		) VALUES ($1, $2, $3, now(), $4, $5, $6::jsonb)
	`, principalID, sessionID, action, ipVal, trimOrNil(ua), metaVal)
	if err != nil {
		a.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
