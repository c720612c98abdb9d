package principal

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"warden/cmd/internal/ids"
)

// PostgresStore implements the principal registry over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
// Schema/table identifiers are safely quoted to avoid SQL injection via identifiers.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the registry (default "warden").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("principal: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("principal: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore with secure defaults.
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
		return nil, fmt.Errorf("principal: nil pool")
	}
	return st, nil
}

// UpsertBySubject inserts or refreshes the principal row for a subject.
// The upsert is a single statement, so concurrent logins for the same
// subject converge on one row without explicit locking.
func (s *PostgresStore) UpsertBySubject(ctx context.Context, in UpsertInput) (Principal, error) {
	const op = "principal.UpsertBySubject"

	if s == nil || s.pool == nil {
		return Principal{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}

	subject := NormalizeSubjectID(in.SubjectID)
	if subject == "" {
		return Principal{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing subject_id"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	email := pgTrimPtr(in.Email)
	var emailNorm *string
	if email != nil {
		n := NormalizeEmail(*email)
		emailNorm = &n
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Principal{}, err
	}

	principals := pgIdent(s.schema, "principals")

	var out Principal
	err = s.pool.QueryRow(ctx,
		`INSERT INTO `+principals+` AS p (
		     id, subject_id, email, email_norm, created_at, last_login_at
		   ) VALUES ($1, $2, $3, $4, $5, $5)
		   ON CONFLICT (subject_id) DO UPDATE
		      SET email = COALESCE(EXCLUDED.email, p.email),
		          email_norm = COALESCE(EXCLUDED.email_norm, p.email_norm),
		          last_login_at = EXCLUDED.last_login_at
		   RETURNING id, subject_id, email, email_norm, created_at, last_login_at`,
		id, subject, email, emailNorm, now,
	).Scan(&out.ID, &out.SubjectID, &out.Email, &out.EmailNorm, &out.CreatedAt, &out.LastLoginAt)
	if err != nil {
		return Principal{}, err
	}

	return out, nil
}

// GetByID returns the principal or ErrNotFound.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (Principal, error) {
	const op = "principal.GetByID"

	if s == nil || s.pool == nil {
		return Principal{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Principal{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing id"}
	}

	principals := pgIdent(s.schema, "principals")

	var out Principal
	err := s.pool.QueryRow(ctx,
		`SELECT id, subject_id, email, email_norm, created_at, last_login_at
		   FROM `+principals+`
		  WHERE id = $1`,
		id,
	).Scan(&out.ID, &out.SubjectID, &out.Email, &out.EmailNorm, &out.CreatedAt, &out.LastLoginAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, NotFoundError{Op: op, Resource: "principal"}
		}
		return Principal{}, err
	}

	return out, nil
}

// ---- helpers ----

// pgTrimPtr trims a string pointer, returning nil if result is empty.
func pgTrimPtr(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.TrimSpace(*p)
	if s == "" {
		return nil
	}
	return &s
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}
