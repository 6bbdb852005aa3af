package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the settle store (SQLite).
// Timestamps are declared DATETIME so the driver scans them into time.Time.
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
    active       BOOLEAN NOT NULL DEFAULT 1,
    created_at   DATETIME NOT NULL,
    updated_at   DATETIME NOT NULL
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
    total          TEXT NOT NULL,
    transfer_count INTEGER NOT NULL CHECK (transfer_count > 0),
    settled_at     DATETIME NOT NULL
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
    kind       TEXT NOT NULL,
    session_id TEXT NOT NULL DEFAULT '',
    batch_id   TEXT NOT NULL DEFAULT '',
    seq        INTEGER NOT NULL DEFAULT 0,
    recipient  TEXT NOT NULL,
    amount     TEXT NOT NULL,
    caller     TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_settle_records_session ON settle_records (session_id, seq);
CREATE INDEX IF NOT EXISTS idx_settle_records_recipient ON settle_records (recipient);
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
    seq        INTEGER NOT NULL,
    recipient  TEXT NOT NULL,
    amount     TEXT NOT NULL,
    created_at DATETIME NOT NULL,
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
