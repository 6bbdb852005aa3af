package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the settle store.
var Migrations = migrate.NewGroup("settle")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_settle_sessions",
			Version: "20260301000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS settle_sessions (
    session_id   TEXT PRIMARY KEY,
    user_address TEXT NOT NULL,
    active       BOOLEAN NOT NULL DEFAULT TRUE,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_settle_sessions_user ON settle_sessions (user_address, created_at);
CREATE INDEX IF NOT EXISTS idx_settle_sessions_active ON settle_sessions (active, created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS settle_sessions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_settle_settlements",
			Version: "20260301000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS settle_settlements (
    session_id     TEXT PRIMARY KEY,
    batch_id       TEXT NOT NULL,
    total          TEXT NOT NULL CHECK (total ~ '^[0-9]+$'),
    transfer_count INT NOT NULL CHECK (transfer_count > 0),
    settled_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS settle_settlements`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_settle_records",
			Version: "20260301000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS settle_records (
    id         TEXT PRIMARY KEY,
    position   BIGSERIAL NOT NULL,
    kind       TEXT NOT NULL,
    session_id TEXT NOT NULL DEFAULT '',
    batch_id   TEXT NOT NULL DEFAULT '',
    seq        INT NOT NULL DEFAULT 0,
    recipient  TEXT NOT NULL,
    amount     TEXT NOT NULL CHECK (amount ~ '^[0-9]+$'),
    caller     TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_settle_records_position ON settle_records (position);
CREATE INDEX IF NOT EXISTS idx_settle_records_session ON settle_records (session_id, seq);
CREATE INDEX IF NOT EXISTS idx_settle_records_recipient ON settle_records (recipient, position);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS settle_records`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_settle_payments",
			Version: "20260301000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS settle_payments (
    id         TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    seq        INT NOT NULL CHECK (seq >= 0),
    recipient  TEXT NOT NULL,
    amount     TEXT NOT NULL CHECK (amount ~ '^[0-9]+$'),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (session_id, seq)
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS settle_payments`)
				return err
			},
		},
	)
}
