// Package memory provides an in-process store.Store. Transactions work on a
// private copy of the state that is swapped in on commit, so a failed
// transaction leaves no trace and readers never observe uncommitted writes.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xraph/settle"
	"github.com/xraph/settle/session"
	"github.com/xraph/settle/settlement"
	"github.com/xraph/settle/store"
)

var _ store.Store = (*Store)(nil)

type state struct {
	sessions map[session.ID]session.Session
	flags    map[session.ID]settlement.Flag
	records  []settlement.Record
	payments map[session.ID][]session.Payment
}

func newState() *state {
	return &state{
		sessions: make(map[session.ID]session.Session),
		flags:    make(map[session.ID]settlement.Flag),
		payments: make(map[session.ID][]session.Payment),
	}
}

func (st *state) clone() *state {
	c := &state{
		sessions: make(map[session.ID]session.Session, len(st.sessions)),
		flags:    make(map[session.ID]settlement.Flag, len(st.flags)),
		records:  make([]settlement.Record, len(st.records)),
		payments: make(map[session.ID][]session.Payment, len(st.payments)),
	}
	for k, v := range st.sessions {
		c.sessions[k] = v
	}
	for k, v := range st.flags {
		c.flags[k] = v
	}
	copy(c.records, st.records)
	for k, v := range st.payments {
		c.payments[k] = append([]session.Payment(nil), v...)
	}
	return c
}

// Store is safe for concurrent use. Transactions are serialized with each
// other; a write made outside a transaction while one is open is overwritten
// when it commits.
type Store struct {
	mu     sync.RWMutex
	txMu   sync.Mutex
	st     *state
	inTx   bool
	closed bool
}

// New returns an empty store.
func New() *Store {
	return &Store{st: newState()}
}

// ==================== Session registry ====================

func (s *Store) CreateSession(_ context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.st.sessions[sess.ID]; exists {
		return settle.ErrDuplicateSession
	}
	s.st.sessions[sess.ID] = *sess
	return nil
}

func (s *Store) GetSession(_ context.Context, sessionID session.ID) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.st.sessions[sessionID]
	if !ok {
		return nil, settle.ErrSessionNotFound
	}
	return &sess, nil
}

func (s *Store) DeactivateSession(_ context.Context, sessionID session.ID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.st.sessions[sessionID]
	if !ok || !sess.Active {
		return false, nil
	}
	sess.Active = false
	sess.Touch(at)
	s.st.sessions[sessionID] = sess
	return true, nil
}

func (s *Store) ListSessions(_ context.Context, opts session.ListOpts) ([]*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*session.Session, 0, len(s.st.sessions))
	for _, sess := range s.st.sessions {
		if !opts.User.IsZero() && sess.User != opts.User {
			continue
		}
		if opts.Active != nil && sess.Active != *opts.Active {
			continue
		}
		result = append(result, &sess)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID.Hex() < result[j].ID.Hex()
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// ==================== Queued payments ====================

func (s *Store) AddPayment(_ context.Context, p *session.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	queued := s.st.payments[p.SessionID]
	if p.Seq != len(queued) {
		return fmt.Errorf("settle/memory: payment seq %d, want %d", p.Seq, len(queued))
	}
	s.st.payments[p.SessionID] = append(queued, *p)
	return nil
}

func (s *Store) ListPayments(_ context.Context, sessionID session.ID) ([]*session.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	queued := s.st.payments[sessionID]
	result := make([]*session.Payment, len(queued))
	for i := range queued {
		p := queued[i]
		result[i] = &p
	}
	return result, nil
}

// ==================== Settlement ledger ====================

func (s *Store) IsSettled(_ context.Context, sessionID session.ID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.st.flags[sessionID]
	return ok, nil
}

func (s *Store) GetFlag(_ context.Context, sessionID session.ID) (*settlement.Flag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.st.flags[sessionID]
	if !ok {
		return nil, settle.ErrSettlementNotFound
	}
	return &f, nil
}

func (s *Store) MarkSettled(_ context.Context, f *settlement.Flag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.flags[f.SessionID]; ok {
		return settle.ErrAlreadySettled
	}
	s.st.flags[f.SessionID] = *f
	return nil
}

func (s *Store) AppendRecords(_ context.Context, records []*settlement.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		s.st.records = append(s.st.records, *r)
	}
	return nil
}

func (s *Store) ListRecords(_ context.Context, opts settlement.ListOpts) ([]*settlement.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*settlement.Record, 0)
	for i := range s.st.records {
		r := s.st.records[i]
		if !opts.SessionID.IsZero() && r.SessionID != opts.SessionID {
			continue
		}
		if !opts.Recipient.IsZero() && r.Recipient != opts.Recipient {
			continue
		}
		if opts.Kind != "" && r.Kind != opts.Kind {
			continue
		}
		result = append(result, &r)
	}
	return paginate(result, opts.Offset, opts.Limit), nil
}

// ==================== Transactions ====================

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := s.st.clone()
	s.mu.RUnlock()

	tx := &Store{st: work, inTx: true}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	s.st = work
	s.mu.Unlock()
	return nil
}

// ==================== Core ====================

// Migrate is a no-op for the memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports ErrStoreClosed after Close.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return settle.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Data stays readable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
