// Package app wires the warden runtime: config, logging, storage, the
// session HTTP surface, and the background janitor.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"warden/cmd/internal/auth/api"
	"warden/cmd/internal/auth/revocation"
	"warden/cmd/internal/auth/session"
	"warden/cmd/internal/auth/token"
	"warden/cmd/principal"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// App owns the HTTP server, the backing stores, and the janitor.
type App struct {
	cfg Config
	log Logger

	dbPool *pgxpool.Pool
	rdb    *redis.Client

	sessions     *session.Service
	sessionCfg   session.Config
	sessionStore session.Store
	revocations  revocation.Store
	auth         *api.Handler
}

// New constructs a fully wired App from config and logger.
//
// With WARDEN_DATABASE_URL unset, principal and session state live in
// memory; with WARDEN_REDIS_URL unset, revocation state does too. The full
// API is served either way, which is the dev mode.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	ctx := context.Background()

	var dbPool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		dbPool = pool
		log.Info("db.enabled.postgres_store")
	} else {
		log.Info("db.disabled.inmemory_store")
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		client, err := NewRedisClient(ctx, cfg)
		if err != nil {
			if dbPool != nil {
				dbPool.Close()
			}
			return nil, err
		}
		rdb = client
		log.Info("redis.enabled.revocation_store")
	} else {
		log.Info("redis.disabled.inmemory_store")
	}

	a := &App{cfg: cfg, log: log, dbPool: dbPool, rdb: rdb}
	if err := a.wireServices(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// wireServices builds the token, session, and HTTP layers over whichever
// stores New selected.
func (a *App) wireServices() error {
	tokenCfg, err := token.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	codec, err := token.NewHMACCodec(tokenCfg)
	if err != nil {
		return err
	}

	if a.rdb != nil {
		store, err := revocation.NewRedisStore(a.rdb, "warden")
		if err != nil {
			return err
		}
		a.revocations = store
	} else {
		a.revocations = revocation.NewMemoryStore()
	}

	tokens, err := token.NewService(tokenCfg, codec, a.revocations, a.log)
	if err != nil {
		return err
	}

	sessionCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	a.sessionCfg = sessionCfg

	var registry principal.Registry
	if a.dbPool != nil {
		principals, err := principal.NewPostgresStore(a.dbPool)
		if err != nil {
			return err
		}
		store, err := session.NewPostgresStore(a.dbPool)
		if err != nil {
			return err
		}
		registry = principals
		a.sessionStore = store
	} else {
		registry = principal.NewMemoryStore()
		a.sessionStore = session.NewMemoryStore()
	}

	sessions, err := session.NewService(sessionCfg, registry, a.sessionStore, tokens, a.log)
	if err != nil {
		return err
	}
	a.sessions = sessions

	var opts []api.HandlerOption
	if a.dbPool != nil {
		opts = append(opts, api.WithAudit(api.NewAudit(a.dbPool, a.log)))
	}
	handler, err := api.NewHandler(a.log, api.LoadConfigFromEnv(), sessions, tokens, opts...)
	if err != nil {
		return err
	}
	a.auth = handler
	return nil
}

// handler composes the middleware chain over the route table.
func (a *App) handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.rdb, a.auth)

	var h http.Handler = mux
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	h = WithRequestLogging(h, a.log)
	return h
}

// Run starts the HTTP server and the janitor and blocks until context
// cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go a.runJanitor(janitorCtx)

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"base_url", runtimeBaseURL(a.cfg.HTTPAddr),
		"db_enabled", a.dbPool != nil,
		"redis_enabled", a.rdb != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		a.close()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		a.close()
		return err
	}

	a.close()
	a.log.Info("server.stopped")
	return nil
}

// runJanitor periodically drops expired revocation entries and stale
// session rows.
func (a *App) runJanitor(ctx context.Context) {
	interval := nonZeroDuration(a.cfg.JanitorInterval, time.Hour)
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.janitorSweep(ctx)
		}
	}
}

func (a *App) janitorSweep(ctx context.Context) (revoked, stale int) {
	now := time.Now().UTC()

	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	revoked, err := a.revocations.PurgeExpired(sweepCtx, now)
	if err != nil {
		a.log.Warn("janitor.purge.revocations.fail", "err", err)
	}

	cutoff := now.Add(-a.sessionCfg.InactiveTimeout)
	stale, err = a.sessionStore.PurgeInactive(sweepCtx, cutoff)
	if err != nil {
		a.log.Warn("janitor.purge.sessions.fail", "err", err)
	}

	if revoked > 0 || stale > 0 {
		a.log.Info("janitor.purge", "revocation_entries", revoked, "session_rows", stale)
	}
	return revoked, stale
}

func (a *App) close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL renders the browsable base URL for a bind address,
// substituting loopback for bind-all hosts.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return "http://" + host + ":" + port
}
