package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"warden/cmd/internal/ids"
)

// PostgresStore implements Store using PostgreSQL (warden.sessions).
//
// The pgx pool is owned by the caller; this store must NOT close it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the store (default "warden").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("session: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("session: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "warden",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	return st, nil
}

const sessionColumns = `
	id, principal_id, fingerprint, platform,
	access_token_id, refresh_token_id, tokens_expire_at,
	created_at, last_seen_at, revoked_at, revocation_reason`

func (s *PostgresStore) sessions() string {
	return pgIdent(s.schema, "sessions")
}

func (s *PostgresStore) principals() string {
	return pgIdent(s.schema, "principals")
}

// Create inserts a new active session row, enforcing the per-principal cap.
//
// The principal row is locked FOR UPDATE for the whole transaction, so
// concurrent creates for one principal serialize and the cap check, the
// fingerprint check, and the insert observe a stable view.
func (s *PostgresStore) Create(ctx context.Context, now time.Time, principalID string, fp string, dev DeviceContext, maxSessions int) (Session, error) {
	const op = "session.postgres.create"

	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Session{}, StorageError{Op: op, Err: err}
	}
	platform := NormalizePlatform(string(dev.Platform))

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Session{}, StorageError{Op: op, Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked bool
	err = tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT true FROM %s WHERE id = $1 FOR UPDATE`, s.principals()),
		principalID,
	).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrPrincipalNotFound
	}
	if err != nil {
		return Session{}, StorageError{Op: op, Err: err}
	}

	var taken bool
	err = tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1 FROM %s
			WHERE principal_id = $1 AND fingerprint = $2 AND revoked_at IS NULL
		)
	`, s.sessions()), principalID, fp).Scan(&taken)
	if err != nil {
		return Session{}, StorageError{Op: op, Err: err}
	}
	if taken {
		return Session{}, ErrFingerprintTaken
	}

	var active int
	err = tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT count(*) FROM %s
		WHERE principal_id = $1 AND revoked_at IS NULL
	`, s.sessions()), principalID).Scan(&active)
	if err != nil {
		return Session{}, StorageError{Op: op, Err: err}
	}
	if active >= maxSessions {
		return Session{}, SessionLimitError{PrincipalID: principalID, Max: maxSessions}
	}

	var ip net.IP
	if dev.IP != nil {
		ip = dev.IP
	}

	_, err = tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			id, principal_id, fingerprint, platform,
			user_agent, ip,
			access_token_id, refresh_token_id, tokens_expire_at,
			created_at, last_seen_at, revoked_at, revocation_reason
		) VALUES (
			$1, $2, $3, $4,
			$5, $6,
			NULL, NULL, NULL,
			$7, $7, NULL, NULL
		)
	`, s.sessions()), id, principalID, fp, string(platform), nullIfEmpty(dev.UserAgent), ip, now)
	if err != nil {
		if pgIsUniqueViolation(err) {
			return Session{}, ErrFingerprintTaken
		}
		if pgIsForeignKeyViolation(err) {
			return Session{}, ErrPrincipalNotFound
		}
		return Session{}, StorageError{Op: op, Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return Session{}, StorageError{Op: op, Err: err}
	}

	return Session{
		ID:          id,
		PrincipalID: principalID,
		Fingerprint: fp,
		Platform:    platform,
		CreatedAt:   now,
		LastSeenAt:  now,
	}, nil
}

// GetByID loads a session row by ID.
func (s *PostgresStore) GetByID(ctx context.Context, sessionID string) (Session, error) {
	const op = "session.postgres.get_by_id"

	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, sessionColumns, s.sessions()),
		sessionID,
	)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, StorageError{Op: op, Err: err}
	}
	return sess, nil
}

// FindActiveByFingerprint returns the active session bound to a device fingerprint.
func (s *PostgresStore) FindActiveByFingerprint(ctx context.Context, principalID, fp string) (Session, error) {
	const op = "session.postgres.find_by_fingerprint"

	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE principal_id = $1 AND fingerprint = $2 AND revoked_at IS NULL
	`, sessionColumns, s.sessions()), principalID, fp)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, StorageError{Op: op, Err: err}
	}
	return sess, nil
}

// Touch updates last_seen_at for an active session.
func (s *PostgresStore) Touch(ctx context.Context, now time.Time, sessionID string) error {
	const op = "session.postgres.touch"

	if now.IsZero() {
		now = time.Now().UTC()
	}

	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET last_seen_at = $2
		WHERE id = $1 AND revoked_at IS NULL
	`, s.sessions()), sessionID, now)
	if err != nil {
		return StorageError{Op: op, Err: err}
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// BindTokens records the most recently issued pair on the session row.
func (s *PostgresStore) BindTokens(ctx context.Context, sessionID, accessTokenID, refreshTokenID string, tokensExpireAt time.Time) error {
	const op = "session.postgres.bind_tokens"

	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET access_token_id = $2,
		    refresh_token_id = $3,
		    tokens_expire_at = $4
		WHERE id = $1 AND revoked_at IS NULL
	`, s.sessions()), sessionID, accessTokenID, refreshTokenID, tokensExpireAt)
	if err != nil {
		return StorageError{Op: op, Err: err}
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// ListActive returns the principal's active sessions, newest first.
func (s *PostgresStore) ListActive(ctx context.Context, principalID string) ([]Session, error) {
	const op = "session.postgres.list_active"

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE principal_id = $1 AND revoked_at IS NULL
		ORDER BY created_at DESC, id DESC
	`, sessionColumns, s.sessions()), principalID)
	if err != nil {
		return nil, StorageError{Op: op, Err: err}
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, StorageError{Op: op, Err: err}
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, StorageError{Op: op, Err: err}
	}
	return out, nil
}

// Deactivate revokes a single session (idempotent).
func (s *PostgresStore) Deactivate(ctx context.Context, now time.Time, sessionID, reason string) error {
	const op = "session.postgres.deactivate"

	if now.IsZero() {
		now = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE id = $1
	`, s.sessions()), sessionID, now, reason)
	if err != nil {
		return StorageError{Op: op, Err: err}
	}
	return nil
}

// DeactivateAll revokes all sessions for a principal (idempotent).
func (s *PostgresStore) DeactivateAll(ctx context.Context, now time.Time, principalID, reason string) error {
	const op = "session.postgres.deactivate_all"

	if now.IsZero() {
		now = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE principal_id = $1
	`, s.sessions()), principalID, now, reason)
	if err != nil {
		return StorageError{Op: op, Err: err}
	}
	return nil
}

// EvictOldest deactivates the least-recently-seen active session and returns it.
//
// It takes the same principal row lock as Create, so evictions serialize with
// concurrent creates for the principal.
func (s *PostgresStore) EvictOldest(ctx context.Context, now time.Time, principalID string) (Session, error) {
	const op = "session.postgres.evict_oldest"

	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Session{}, StorageError{Op: op, Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked bool
	err = tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT true FROM %s WHERE id = $1 FOR UPDATE`, s.principals()),
		principalID,
	).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrPrincipalNotFound
	}
	if err != nil {
		return Session{}, StorageError{Op: op, Err: err}
	}

	row := tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE principal_id = $1 AND revoked_at IS NULL
		ORDER BY last_seen_at ASC, created_at ASC, id ASC
		LIMIT 1
		FOR UPDATE
	`, sessionColumns, s.sessions()), principalID)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, StorageError{Op: op, Err: err}
	}

	tag, err := tx.Exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET revoked_at = $2,
		    revocation_reason = 'evicted'
		WHERE id = $1 AND revoked_at IS NULL
	`, s.sessions()), sess.ID, now)
	if err != nil {
		return Session{}, StorageError{Op: op, Err: err}
	}
	if tag.RowsAffected() != 1 {
		return Session{}, StorageError{Op: op, Err: errors.New("eviction target changed underneath the lock")}
	}

	if err := tx.Commit(ctx); err != nil {
		return Session{}, StorageError{Op: op, Err: err}
	}

	reason := "evicted"
	sess.RevokedAt = &now
	sess.RevocationReason = &reason
	return sess, nil
}

// PurgeInactive deletes sessions last seen before the cutoff that are revoked
// or whose bound tokens have expired.
func (s *PostgresStore) PurgeInactive(ctx context.Context, olderThan time.Time) (int, error) {
	const op = "session.postgres.purge_inactive"

	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s
		WHERE last_seen_at < $1
		  AND (revoked_at IS NOT NULL OR tokens_expire_at IS NULL OR tokens_expire_at < now())
	`, s.sessions()), olderThan)
	if err != nil {
		return 0, StorageError{Op: op, Err: err}
	}
	return int(tag.RowsAffected()), nil
}

func scanSession(row pgx.Row) (Session, error) {
	var sess Session
	err := row.Scan(
		&sess.ID,
		&sess.PrincipalID,
		&sess.Fingerprint,
		&sess.Platform,
		&sess.AccessTokenID,
		&sess.RefreshTokenID,
		&sess.TokensExpireAt,
		&sess.CreatedAt,
		&sess.LastSeenAt,
		&sess.RevokedAt,
		&sess.RevocationReason,
	)
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" // unique_violation
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503" // foreign_key_violation
}
