package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/layer-3/tokenward/adapters/store/migrations"
	"github.com/layer-3/tokenward/core"
	"github.com/layer-3/tokenward/ports"
	"github.com/pressly/goose/v3"
)

// DBTX is the subset of database/sql used by the Postgres stores.
// Both *sql.DB and *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// OpenPostgres opens a pgx-backed *sql.DB and checks it is reachable
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return db, nil
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded schema
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}

const sessionColumns = `id, subject, current_refresh_token_id, created_at, last_rotated_at, expires_at,
	remember_me, user_agent, ip_address, platform, device_id, device_name`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*core.Session, error) {
	var (
		s        core.Session
		platform string
	)
	err := row.Scan(
		&s.ID, &s.Subject, &s.CurrentRefreshTokenID, &s.CreatedAt, &s.LastRotatedAt, &s.ExpiresAt,
		&s.RememberMe, &s.Client.UserAgent, &s.Client.IPAddress, &platform, &s.Client.DeviceID, &s.Client.DeviceName,
	)
	if err != nil {
		return nil, err
	}
	s.Client.Platform = core.Platform(platform)
	return &s, nil
}

// PostgresSessionStore keeps sessions in the sessions table
type PostgresSessionStore struct {
	db  DBTX
	now Clock
}

var _ ports.SessionStore = (*PostgresSessionStore)(nil)

// NewPostgresSessionStore constructs a session store bound to the given DBTX
func NewPostgresSessionStore(db DBTX, now Clock) *PostgresSessionStore {
	return &PostgresSessionStore{db: db, now: clockOrNow(now)}
}

func (r *PostgresSessionStore) Create(ctx context.Context, subject, refreshTokenID string, ttl time.Duration, opts core.SessionOptions) (string, error) {
	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	id := uuid.NewString()
	now := r.now()

	_, err := r.db.ExecContext(ctx, query,
		id, subject, refreshTokenID, now, now.Add(ttl), opts.RememberMe,
		opts.Client.UserAgent, opts.Client.IPAddress, string(opts.Client.Platform),
		opts.Client.DeviceID, opts.Client.DeviceName,
	)
	if err != nil {
		return "", unavailable("create session", err)
	}
	return id, nil
}

func (r *PostgresSessionStore) Get(ctx context.Context, sessionID string) (*core.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE id = $1 AND expires_at > $2
	`
	session, err := scanSession(r.db.QueryRowContext(ctx, query, sessionID, r.now()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, unavailable("get session", err)
	}
	return session, nil
}

// Rotate runs the compare-and-swap as one conditional UPDATE. When no row
// matches, a follow-up read tells a missing session from a stale token.
func (r *PostgresSessionStore) Rotate(ctx context.Context, sessionID, expectedRefreshTokenID, newRefreshTokenID string, extendTo time.Time) (*core.Session, error) {
	query := `
		UPDATE sessions
		SET current_refresh_token_id = $3,
		    last_rotated_at = $4,
		    expires_at = GREATEST(expires_at, $5)
		WHERE id = $1 AND current_refresh_token_id = $2 AND expires_at > $4
		RETURNING ` + sessionColumns

	now := r.now()
	extend := sql.NullTime{Time: extendTo, Valid: !extendTo.IsZero()}

	session, err := scanSession(r.db.QueryRowContext(ctx, query, sessionID, expectedRefreshTokenID, newRefreshTokenID, now, extend))
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, unavailable("rotate session", err)
	}

	var current string
	err = r.db.QueryRowContext(ctx, `
		SELECT current_refresh_token_id
		FROM sessions
		WHERE id = $1 AND expires_at > $2
	`, sessionID, now).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, core.ErrNotFound
	case err != nil:
		return nil, unavailable("rotate session", err)
	default:
		return nil, core.ErrConflict
	}
}

func (r *PostgresSessionStore) Revoke(ctx context.Context, sessionID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		return unavailable("revoke session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("revoke session", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *PostgresSessionStore) ListBySubject(ctx context.Context, subject string) ([]core.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE subject = $1 AND expires_at > $2
		ORDER BY last_rotated_at DESC, id
	`
	rows, err := r.db.QueryContext(ctx, query, subject, r.now())
	if err != nil {
		return nil, unavailable("list sessions", err)
	}
	defer rows.Close()

	var out []core.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, unavailable("list sessions", err)
		}
		out = append(out, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list sessions", err)
	}
	return out, nil
}

func (r *PostgresSessionStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, unavailable("purge sessions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("purge sessions", err)
	}
	return int(n), nil
}

// PostgresBlacklistStore keeps revoked access token ids in token_blacklist
type PostgresBlacklistStore struct {
	db  DBTX
	now Clock
}

var _ ports.BlacklistStore = (*PostgresBlacklistStore)(nil)

// NewPostgresBlacklistStore constructs a blacklist bound to the given DBTX
func NewPostgresBlacklistStore(db DBTX, now Clock) *PostgresBlacklistStore {
	return &PostgresBlacklistStore{db: db, now: clockOrNow(now)}
}

func (r *PostgresBlacklistStore) Add(ctx context.Context, tokenID string, expiresAt time.Time) error {
	query := `
		INSERT INTO token_blacklist (token_id, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (token_id) DO UPDATE
		SET expires_at = GREATEST(token_blacklist.expires_at, EXCLUDED.expires_at)
	`
	if _, err := r.db.ExecContext(ctx, query, tokenID, expiresAt); err != nil {
		return unavailable("blacklist token", err)
	}
	return nil
}

func (r *PostgresBlacklistStore) Contains(ctx context.Context, tokenID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM token_blacklist WHERE token_id = $1 AND expires_at > $2
		)
	`
	var found bool
	if err := r.db.QueryRowContext(ctx, query, tokenID, r.now()).Scan(&found); err != nil {
		return false, unavailable("check blacklist", err)
	}
	return found, nil
}

func (r *PostgresBlacklistStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM token_blacklist WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, unavailable("purge blacklist", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("purge blacklist", err)
	}
	return int(n), nil
}
