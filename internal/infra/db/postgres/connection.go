package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
)

// NewPgxPool connects a pgx pool with a bounded connect timeout.
func NewPgxPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool connect: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the orchestrator tables when they do not exist yet.
// Proper migrations are handled by ops tooling; this keeps dev and seed
// environments bootstrappable.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS activation_keys (
  id                TEXT PRIMARY KEY,
  code              TEXT NOT NULL UNIQUE,
  status            TEXT NOT NULL DEFAULT 'available',
  created_at        TIMESTAMPTZ NOT NULL,
  allocated_at      TIMESTAMPTZ,
  consumed_at       TIMESTAMPTZ,
  consumed_by_email TEXT,
  subscription_id   TEXT
);
CREATE INDEX IF NOT EXISTS activation_keys_status_idx ON activation_keys (status, created_at);

CREATE TABLE IF NOT EXISTS sessions (
  email      TEXT PRIMARY KEY,
  payload    TEXT NOT NULL,
  expires_at TIMESTAMPTZ,
  validity   TEXT NOT NULL DEFAULT 'unchecked',
  checked_at TIMESTAMPTZ,
  updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS subscriptions (
  id               TEXT PRIMARY KEY,
  email            TEXT NOT NULL,
  plan_rounds      INT NOT NULL,
  status           TEXT NOT NULL,
  start_at         TIMESTAMPTZ NOT NULL,
  completed_rounds INT NOT NULL DEFAULT 0,
  lifetime_rounds  INT NOT NULL DEFAULT 0,
  next_due_at      TIMESTAMPTZ,
  note             TEXT NOT NULL DEFAULT '',
  created_at       TIMESTAMPTZ NOT NULL,
  updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS subscriptions_due_idx ON subscriptions (status, next_due_at);
`
	_, err := pool.Exec(ctx, ddl)
	return err
}
