// Package store defines the persistence contract of the settlement engine.
package store

import (
	"context"
	"time"

	"github.com/xraph/settle/session"
	"github.com/xraph/settle/settlement"
)

// Store keeps session metadata, settled flags and the settlement record log.
// Methods are declared explicitly rather than through embedded sub-interfaces
// so that every backend exposes one flat surface.
type Store interface {
	// Session registry
	CreateSession(ctx context.Context, s *session.Session) error
	GetSession(ctx context.Context, sessionID session.ID) (*session.Session, error)
	DeactivateSession(ctx context.Context, sessionID session.ID, at time.Time) (bool, error)
	ListSessions(ctx context.Context, opts session.ListOpts) ([]*session.Session, error)

	// Queued payments. ListPayments returns them in Seq order.
	AddPayment(ctx context.Context, p *session.Payment) error
	ListPayments(ctx context.Context, sessionID session.ID) ([]*session.Payment, error)

	// Settlement ledger
	IsSettled(ctx context.Context, sessionID session.ID) (bool, error)
	GetFlag(ctx context.Context, sessionID session.ID) (*settlement.Flag, error)
	MarkSettled(ctx context.Context, f *settlement.Flag) error
	AppendRecords(ctx context.Context, records []*settlement.Record) error
	ListRecords(ctx context.Context, opts settlement.ListOpts) ([]*settlement.Record, error)

	// RunInTx runs fn against a transactional view of the store. The
	// transaction commits when fn returns nil and rolls back otherwise.
	// Calling RunInTx on the view joins the running transaction.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
