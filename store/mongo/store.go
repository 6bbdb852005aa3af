package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/settle"
	"github.com/xraph/settle/session"
	"github.com/xraph/settle/settlement"
	settlestore "github.com/xraph/settle/store"
)

// Collection name constants.
const (
	colSessions    = "settle_sessions"
	colSettlements = "settle_settlements"
	colRecords     = "settle_records"
	colPayments    = "settle_payments"
)

// compile-time interface check
var _ settlestore.Store = (*Store)(nil)

type querier interface {
	NewFind(model ...any) *mongodriver.FindQuery
	NewInsert(model any) *mongodriver.InsertQuery
	NewUpdate(model any) *mongodriver.UpdateQuery
}

// Store implements store.Store using MongoDB via Grove ORM. RunInTx needs a
// replica set or sharded cluster; standalone servers reject transactions.
type Store struct {
	db   *grove.DB
	mdb  *mongodriver.MongoDB
	q    querier
	inTx bool
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	mdb := mongodriver.Unwrap(db)
	return &Store{db: db, mdb: mdb, q: mdb}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all settle collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("settle/mongo: migrate %s indexes: %w", col, err)
		}
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

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx settlestore.Store) error) (err error) {
	if s.inTx {
		return fn(ctx, s)
	}

	gtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", settle.ErrTransactionFailed, err)
	}
	tx, ok := gtx.Raw().(*mongodriver.MongoTx)
	if !ok {
		_ = gtx.Rollback()
		return fmt.Errorf("%w: unexpected transaction type %T", settle.ErrTransactionFailed, gtx.Raw())
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx.SessionContext(ctx), &Store{db: s.db, mdb: s.mdb, q: tx, inTx: true}); err != nil {
		return err
	}
	committed = true
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", settle.ErrTransactionFailed, err)
	}
	return nil
}

// ==================== Session registry ====================

func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	if _, err := s.q.NewInsert(toSessionModel(sess)).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return settle.ErrDuplicateSession
		}
		return fmt.Errorf("settle/mongo: create session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID session.ID) (*session.Session, error) {
	var m sessionModel
	err := s.q.NewFind(&m).
		Filter(bson.M{"_id": sessionID.Hex()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, settle.ErrSessionNotFound
		}
		return nil, fmt.Errorf("settle/mongo: get session: %w", err)
	}
	return fromSessionModel(&m)
}

func (s *Store) DeactivateSession(ctx context.Context, sessionID session.ID, at time.Time) (bool, error) {
	res, err := s.q.NewUpdate(&sessionModel{}).
		Filter(bson.M{"_id": sessionID.Hex(), "active": true}).
		Set("active", false).
		Set("updated_at", at.UTC()).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("settle/mongo: deactivate session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) ListSessions(ctx context.Context, opts session.ListOpts) ([]*session.Session, error) {
	var models []sessionModel

	filter := bson.M{}
	if !opts.User.IsZero() {
		filter["user_address"] = opts.User.Lower()
	}
	if opts.Active != nil {
		filter["active"] = *opts.Active
	}

	q := s.q.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("settle/mongo: list sessions: %w", err)
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
	if _, err := s.q.NewInsert(toPaymentModel(p)).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("settle/mongo: payment seq %d already queued for session %s", p.Seq, p.SessionID)
		}
		return fmt.Errorf("settle/mongo: add payment: %w", err)
	}
	return nil
}

func (s *Store) ListPayments(ctx context.Context, sessionID session.ID) ([]*session.Payment, error) {
	var models []paymentModel
	err := s.q.NewFind(&models).
		Filter(bson.M{"session_id": sessionID.Hex()}).
		Sort(bson.D{{Key: "seq", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("settle/mongo: list payments: %w", err)
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
	var m flagModel
	err := s.q.NewFind(&m).
		Filter(bson.M{"_id": sessionID.Hex()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, settle.ErrSettlementNotFound
		}
		return nil, fmt.Errorf("settle/mongo: get settlement: %w", err)
	}
	return fromFlagModel(&m)
}

func (s *Store) MarkSettled(ctx context.Context, f *settlement.Flag) error {
	if _, err := s.q.NewInsert(toFlagModel(f)).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return settle.ErrAlreadySettled
		}
		return fmt.Errorf("settle/mongo: mark settled: %w", err)
	}
	return nil
}

// AppendRecords numbers records after the highest stored position. Callers
// serialize appends through RunInTx; the unique position index rejects a
// concurrent writer that slipped through.
func (s *Store) AppendRecords(ctx context.Context, records []*settlement.Record) error {
	if len(records) == 0 {
		return nil
	}

	last, err := s.lastPosition(ctx)
	if err != nil {
		return err
	}
	models := make([]recordModel, len(records))
	for i, r := range records {
		models[i] = toRecordModel(r, last+int64(i)+1)
	}
	if _, err := s.q.NewInsert(&models).Exec(ctx); err != nil {
		return fmt.Errorf("settle/mongo: append records: %w", err)
	}
	return nil
}

func (s *Store) lastPosition(ctx context.Context) (int64, error) {
	var m recordModel
	err := s.q.NewFind(&m).
		Sort(bson.D{{Key: "position", Value: -1}}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("settle/mongo: read last position: %w", err)
	}
	return m.Position, nil
}

func (s *Store) ListRecords(ctx context.Context, opts settlement.ListOpts) ([]*settlement.Record, error) {
	var models []recordModel

	filter := bson.M{}
	if !opts.SessionID.IsZero() {
		filter["session_id"] = opts.SessionID.Hex()
	}
	if !opts.Recipient.IsZero() {
		filter["recipient"] = opts.Recipient.Lower()
	}
	if opts.Kind != "" {
		filter["kind"] = string(opts.Kind)
	}

	q := s.q.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "position", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("settle/mongo: list records: %w", err)
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

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all settle collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colSessions: {
			{Keys: bson.D{{Key: "user_address", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "active", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		colSettlements: {
			{Keys: bson.D{{Key: "batch_id", Value: 1}}},
		},
		colRecords: {
			{
				Keys:    bson.D{{Key: "position", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "seq", Value: 1}}},
			{Keys: bson.D{{Key: "recipient", Value: 1}, {Key: "position", Value: 1}}},
		},
		colPayments: {
			{
				Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "seq", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}
}
