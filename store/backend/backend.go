// Package backend opens a store.Store by driver name, either from a DSN or
// from an existing grove database.
package backend

import (
	"context"
	"fmt"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/xraph/settle/store"
	"github.com/xraph/settle/store/memory"
	"github.com/xraph/settle/store/mongo"
	"github.com/xraph/settle/store/postgres"
	"github.com/xraph/settle/store/sqlite"
)

// Driver names accepted by Open.
const (
	Memory   = "memory"
	SQLite   = "sqlite"
	Postgres = "postgres"
	Mongo    = "mongo"
)

// Open connects to the named backend. dsn is ignored for Memory.
func Open(ctx context.Context, driver, dsn string) (store.Store, error) {
	var drv grove.GroveDriver
	switch driver {
	case Memory:
		return memory.New(), nil
	case SQLite:
		d := sqlitedriver.New()
		if err := d.Open(ctx, dsn); err != nil {
			return nil, fmt.Errorf("settle: open sqlite: %w", err)
		}
		drv = d
	case Postgres:
		d := pgdriver.New()
		if err := d.Open(ctx, dsn); err != nil {
			return nil, fmt.Errorf("settle: open postgres: %w", err)
		}
		drv = d
	case Mongo:
		d := mongodriver.New()
		if err := d.Open(ctx, dsn); err != nil {
			return nil, fmt.Errorf("settle: open mongo: %w", err)
		}
		drv = d
	default:
		return nil, fmt.Errorf("settle: unknown store driver %q", driver)
	}

	db, err := grove.Open(drv)
	if err != nil {
		_ = drv.Close()
		return nil, fmt.Errorf("settle: open grove: %w", err)
	}
	return FromGrove(db)
}

// FromGrove picks the store implementation matching db's driver.
func FromGrove(db *grove.DB) (store.Store, error) {
	switch name := db.Driver().Name(); name {
	case "pg":
		return postgres.New(db), nil
	case "sqlite":
		return sqlite.New(db), nil
	case "mongo":
		return mongo.New(db), nil
	default:
		return nil, fmt.Errorf("settle: unsupported grove driver %q", name)
	}
}
