package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE SCHEMA IF NOT EXISTS race`,
	`CREATE TABLE IF NOT EXISTS race.snapshots (
		id         SMALLINT PRIMARY KEY CHECK (id = 1),
		seq        BIGINT NOT NULL,
		state      JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS race.journal (
		seq        BIGINT PRIMARY KEY,
		op_id      TEXT UNIQUE,
		kind       TEXT NOT NULL,
		sender     TEXT NOT NULL,
		at         BIGINT NOT NULL,
		op         JSONB NOT NULL,
		effects    JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS journal_sender_idx ON race.journal (sender, seq)`,
}

// EnsureSchema creates the race tables when missing. Safe to run on every
// start.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
