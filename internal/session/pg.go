package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGBackend stores sessions in Postgres through a pgx pool.
type PGBackend struct {
	pool *pgxpool.Pool
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS ui_sessions (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	ip_address TEXT,
	user_agent TEXT,
	metadata   JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS idx_ui_sessions_user ON ui_sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_ui_sessions_expires ON ui_sessions(expires_at);
`

// NewPGBackend connects, pings, and ensures the sessions table exists.
func NewPGBackend(ctx context.Context, dsn string) (*PGBackend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create sessions table: %w", err)
	}
	return &PGBackend{pool: pool}, nil
}

func (b *PGBackend) Insert(ctx context.Context, s *Session) error {
	metadata, err := json.Marshal(s.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = b.pool.Exec(ctx, `
		INSERT INTO ui_sessions (id, user_id, expires_at, created_at, ip_address, user_agent, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.UserID, s.ExpiresAt, s.CreatedAt, nullable(s.IPAddress), nullable(s.UserAgent), metadata)
	return err
}

func (b *PGBackend) Get(ctx context.Context, id string) (*Session, error) {
	return scanSession(b.pool.QueryRow(ctx, `
		SELECT id, user_id, expires_at, created_at, ip_address, user_agent, metadata
		FROM ui_sessions WHERE id = $1`, id))
}

func (b *PGBackend) Update(ctx context.Context, s *Session) error {
	metadata, err := json.Marshal(s.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	tag, err := b.pool.Exec(ctx, `
		UPDATE ui_sessions SET expires_at = $2, metadata = $3 WHERE id = $1`,
		s.ID, s.ExpiresAt, metadata)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *PGBackend) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := b.pool.Exec(ctx, `DELETE FROM ui_sessions WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (b *PGBackend) ListByUser(ctx context.Context, userID string) ([]*Session, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT id, user_id, expires_at, created_at, ip_address, user_agent, metadata
		FROM ui_sessions WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (b *PGBackend) List(ctx context.Context, limit int) ([]*Session, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT id, user_id, expires_at, created_at, ip_address, user_agent, metadata
		FROM ui_sessions ORDER BY expires_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (b *PGBackend) Close() {
	b.pool.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var s Session
	var ip, ua *string
	var metadata []byte
	err := row.Scan(&s.ID, &s.UserID, &s.ExpiresAt, &s.CreatedAt, &ip, &ua, &metadata)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if ip != nil {
		s.IPAddress = *ip
	}
	if ua != nil {
		s.UserAgent = *ua
	}
	if err := json.Unmarshal(metadata, &s.Metadata); err != nil {
		s.Metadata = map[string]interface{}{}
	}
	return &s, nil
}

func collectSessions(rows pgx.Rows) ([]*Session, error) {
	var out []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
