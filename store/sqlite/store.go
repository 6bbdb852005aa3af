package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	// registers the sqlite migration executor
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate"

	"github.com/xraph/settle"
	"github.com/xraph/settle/session"
	"github.com/xraph/settle/settlement"
	settlestore "github.com/xraph/settle/store"
)

// compile-time interface check
var _ settlestore.Store = (*Store)(nil)

type querier interface {
	NewSelect(model ...any) *sqlitedriver.SelectQuery
	NewInsert(model any) *sqlitedriver.InsertQuery
	NewUpdate(model any) *sqlitedriver.UpdateQuery
}

// Store implements store.Store using SQLite via Grove ORM. It suits
// single-node deployments and tests.
type Store struct {
	db   *grove.DB
	sdb  *sqlitedriver.SqliteDB
	q    querier
	inTx bool
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	sdb := sqlitedriver.Unwrap(db)
	return &Store{db: db, sdb: sdb, q: sdb}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("settle/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("settle/sqlite: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		if errors.Is(err, grove.ErrDriverClosed) {
			return settle.ErrStoreClosed
		}
		return err
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Transactions ====================

// RunInTx runs fn inside a database transaction. Calls made on the tx view
// join the running transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx settlestore.Store) error) (err error) {
	if s.inTx {
		return fn(ctx, s)
	}

	tx, err := s.sdb.BeginTxQuery(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", settle.ErrTransactionFailed, err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, &Store{db: s.db, sdb: s.sdb, q: tx, inTx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", settle.ErrTransactionFailed, err)
	}
	return nil
}

// ==================== Session registry ====================

func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	res, err := s.q.NewInsert(toSessionModel(sess)).
		OnConflict("(session_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return settle.ErrDuplicateSession
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID session.ID) (*session.Session, error) {
	m := new(sessionModel)
	err := s.q.NewSelect(m).
		Where("session_id = ?", sessionID.Hex()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, settle.ErrSessionNotFound
		}
		return nil, err
	}
	return fromSessionModel(m)
}

func (s *Store) DeactivateSession(ctx context.Context, sessionID session.ID, at time.Time) (bool, error) {
	res, err := s.q.NewUpdate(&sessionModel{}).
		Set("active = ?", false).
		Set("updated_at = ?", at.UTC()).
		Where("session_id = ?", sessionID.Hex()).
		Where("active = ?", true).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) ListSessions(ctx context.Context, opts session.ListOpts) ([]*session.Session, error) {
	var models []sessionModel
	q := s.q.NewSelect(&models)

	if !opts.User.IsZero() {
		q = q.Where("user_address = ?", opts.User.Lower())
	}
	if opts.Active != nil {
		q = q.Where("active = ?", *opts.Active)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			// SQLite only accepts OFFSET after a LIMIT.
			q = q.Limit(math.MaxInt32)
		}
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC, session_id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*session.Session, len(models))
	for i := range models {
		sess, err := fromSessionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sess
	}
	return result, nil
}

// ==================== Queued payments ====================

func (s *Store) AddPayment(ctx context.Context, p *session.Payment) error {
	res, err := s.q.NewInsert(toPaymentModel(p)).
		OnConflict("(session_id, seq) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("settle/sqlite: payment seq %d already queued for session %s", p.Seq, p.SessionID)
	}
	return nil
}

func (s *Store) ListPayments(ctx context.Context, sessionID session.ID) ([]*session.Payment, error) {
	var models []paymentModel
	err := s.q.NewSelect(&models).
		Where("session_id = ?", sessionID.Hex()).
		OrderExpr("seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*session.Payment, len(models))
	for i := range models {
		p, err := fromPaymentModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

// ==================== Settlement ledger ====================

func (s *Store) IsSettled(ctx context.Context, sessionID session.ID) (bool, error) {
	_, err := s.GetFlag(ctx, sessionID)
	if errors.Is(err, settle.ErrSettlementNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) GetFlag(ctx context.Context, sessionID session.ID) (*settlement.Flag, error) {
	m := new(flagModel)
	err := s.q.NewSelect(m).
		Where("session_id = ?", sessionID.Hex()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, settle.ErrSettlementNotFound
		}
		return nil, err
	}
	return fromFlagModel(m)
}

func (s *Store) MarkSettled(ctx context.Context, f *settlement.Flag) error {
	res, err := s.q.NewInsert(toFlagModel(f)).
		OnConflict("(session_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return settle.ErrAlreadySettled
	}
	return nil
}

func (s *Store) AppendRecords(ctx context.Context, records []*settlement.Record) error {
	if len(records) == 0 {
		return nil
	}
	models := make([]recordModel, len(records))
	for i, r := range records {
		models[i] = toRecordModel(r)
	}
	_, err := s.q.NewInsert(&models).Exec(ctx)
	return err
}

func (s *Store) ListRecords(ctx context.Context, opts settlement.ListOpts) ([]*settlement.Record, error) {
	var models []recordModel
	q := s.q.NewSelect(&models)

	if !opts.SessionID.IsZero() {
		q = q.Where("session_id = ?", opts.SessionID.Hex())
	}
	if !opts.Recipient.IsZero() {
		q = q.Where("recipient = ?", opts.Recipient.Lower())
	}
	if opts.Kind != "" {
		q = q.Where("kind = ?", string(opts.Kind))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			// SQLite only accepts OFFSET after a LIMIT.
			q = q.Limit(math.MaxInt32)
		}
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("rowid ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*settlement.Record, len(models))
	for i := range models {
		r, err := fromRecordModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
