package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/limbodancer/limbodancer-mcp/internal/fault"
	"github.com/limbodancer/limbodancer-mcp/internal/tenancy"
)

// historyDDL creates the history schema. Idempotent.
const historyDDL = `
CREATE TABLE IF NOT EXISTS chat_sessions (
	tenant_id  TEXT        NOT NULL,
	session_id TEXT        NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (tenant_id, session_id)
);

CREATE TABLE IF NOT EXISTS chat_messages (
	id         TEXT        NOT NULL,
	tenant_id  TEXT        NOT NULL,
	session_id TEXT        NOT NULL,
	sender     TEXT        NOT NULL,
	body       TEXT        NOT NULL,
	metadata   JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (tenant_id, id),
	FOREIGN KEY (tenant_id, session_id)
		REFERENCES chat_sessions (tenant_id, session_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS chat_messages_session_ts
	ON chat_messages (tenant_id, session_id, created_at);
`

// PostgresHistory is the pgx-backed history store.
type PostgresHistory struct {
	pool *pgxpool.Pool
}

// NewPostgresHistory connects a pool to the given DSN.
func NewPostgresHistory(ctx context.Context, dsn string) (*PostgresHistory, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fault.Wrap(fault.UpstreamError, err, "connecting to history database")
	}
	return &PostgresHistory{pool: pool}, nil
}

// Migrate applies the schema. Safe to run repeatedly.
func (s *PostgresHistory) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, historyDDL); err != nil {
		return fault.Wrap(fault.UpstreamError, err, "applying history schema")
	}
	return nil
}

func (s *PostgresHistory) CreateSession(ctx context.Context, scope tenancy.Scope, sessionID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_sessions (tenant_id, session_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		scope.TenantID, sessionID)
	if err != nil {
		return fault.Wrap(fault.UpstreamError, err, "creating session")
	}
	return nil
}

func (s *PostgresHistory) AppendMessage(ctx context.Context, scope tenancy.Scope, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	// The WHERE EXISTS guard makes a foreign or missing session a no-op
	// insert, reported as not-found.
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO chat_messages (id, tenant_id, session_id, sender, body, metadata, created_at)
		 SELECT $1, $2, $3, $4, $5, $6, $7
		 WHERE EXISTS (
			SELECT 1 FROM chat_sessions
			WHERE tenant_id = $2 AND session_id = $3
		 )`,
		msg.ID, scope.TenantID, msg.SessionID, msg.Sender, msg.Text, msg.Metadata, msg.Timestamp)
	if err != nil {
		return fault.Wrap(fault.UpstreamError, err, "appending message")
	}
	if tag.RowsAffected() == 0 {
		return fault.New(fault.NotFound, "session %s not found", msg.SessionID)
	}
	return nil
}

func (s *PostgresHistory) ListMessages(ctx context.Context, scope tenancy.Scope, sessionID string, limit int, before time.Time) ([]Message, error) {
	if before.IsZero() {
		before = time.Now().UTC().Add(24 * time.Hour)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, sender, body, metadata, created_at FROM (
			SELECT id, session_id, sender, body, metadata, created_at
			FROM chat_messages
			WHERE tenant_id = $1 AND session_id = $2 AND created_at < $3
			ORDER BY created_at DESC
			LIMIT $4
		 ) window ORDER BY created_at ASC`,
		scope.TenantID, sessionID, before, limit)
	if err != nil {
		return nil, fault.Wrap(fault.UpstreamError, err, "listing messages")
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Sender, &m.Text, &m.Metadata, &m.Timestamp); err != nil {
			return nil, fault.Wrap(fault.UpstreamError, err, "scanning message row")
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Wrap(fault.UpstreamError, err, "reading message rows")
	}
	return out, nil
}

func (s *PostgresHistory) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fault.Wrap(fault.UpstreamError, err, "history database unreachable")
	}
	return nil
}

// Close releases the pool.
func (s *PostgresHistory) Close() {
	s.pool.Close()
}
