package sqlite

import (
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/settle/id"
	"github.com/xraph/settle/session"
	"github.com/xraph/settle/settlement"
	"github.com/xraph/settle/types"
)

// ==================== Session models ====================

type sessionModel struct {
	grove.BaseModel `grove:"table:settle_sessions"`

	SessionID string    `grove:"session_id,pk"`
	User      string    `grove:"user_address"`
	Active    bool      `grove:"active"`
	CreatedAt time.Time `grove:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"`
}

func toSessionModel(s *session.Session) *sessionModel {
	return &sessionModel{
		SessionID: s.ID.Hex(),
		User:      s.User.Lower(),
		Active:    s.Active,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func fromSessionModel(m *sessionModel) (*session.Session, error) {
	sid, err := session.ParseID(m.SessionID)
	if err != nil {
		return nil, err
	}
	user, err := types.ParseAddress(m.User)
	if err != nil {
		return nil, err
	}
	return &session.Session{
		Entity: types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:     sid,
		User:   user,
		Active: m.Active,
	}, nil
}

type paymentModel struct {
	grove.BaseModel `grove:"table:settle_payments"`

	ID        string    `grove:"id,pk"`
	SessionID string    `grove:"session_id"`
	Seq       int       `grove:"seq"`
	Recipient string    `grove:"recipient"`
	Amount    string    `grove:"amount"`
	CreatedAt time.Time `grove:"created_at"`
}

func toPaymentModel(p *session.Payment) *paymentModel {
	return &paymentModel{
		ID:        p.ID.String(),
		SessionID: p.SessionID.Hex(),
		Seq:       p.Seq,
		Recipient: p.Recipient.Lower(),
		Amount:    p.Amount.String(),
		CreatedAt: p.CreatedAt,
	}
}

func fromPaymentModel(m *paymentModel) (*session.Payment, error) {
	payID, err := parseID(m.ID)
	if err != nil {
		return nil, err
	}
	sid, err := session.ParseID(m.SessionID)
	if err != nil {
		return nil, err
	}
	recipient, err := types.ParseAddress(m.Recipient)
	if err != nil {
		return nil, err
	}
	amount, err := types.ParseAmount(m.Amount)
	if err != nil {
		return nil, err
	}
	return &session.Payment{
		ID:        payID,
		SessionID: sid,
		Seq:       m.Seq,
		Recipient: recipient,
		Amount:    amount,
		CreatedAt: m.CreatedAt.UTC(),
	}, nil
}

// ==================== Settlement models ====================

type flagModel struct {
	grove.BaseModel `grove:"table:settle_settlements"`

	SessionID string    `grove:"session_id,pk"`
	BatchID   string    `grove:"batch_id"`
	Total     string    `grove:"total"`
	Count     int       `grove:"transfer_count"`
	SettledAt time.Time `grove:"settled_at"`
}

func toFlagModel(f *settlement.Flag) *flagModel {
	return &flagModel{
		SessionID: f.SessionID.Hex(),
		BatchID:   f.BatchID.String(),
		Total:     f.Total.String(),
		Count:     f.Count,
		SettledAt: f.SettledAt,
	}
}

func fromFlagModel(m *flagModel) (*settlement.Flag, error) {
	sid, err := session.ParseID(m.SessionID)
	if err != nil {
		return nil, err
	}
	batchID, err := parseID(m.BatchID)
	if err != nil {
		return nil, err
	}
	total, err := types.ParseAmount(m.Total)
	if err != nil {
		return nil, err
	}
	return &settlement.Flag{
		SessionID: sid,
		BatchID:   batchID,
		Total:     total,
		Count:     m.Count,
		SettledAt: m.SettledAt.UTC(),
	}, nil
}

type recordModel struct {
	grove.BaseModel `grove:"table:settle_records"`

	ID        string    `grove:"id,pk"`
	Kind      string    `grove:"kind"`
	SessionID string    `grove:"session_id"`
	BatchID   string    `grove:"batch_id"`
	Seq       int       `grove:"seq"`
	Recipient string    `grove:"recipient"`
	Amount    string    `grove:"amount"`
	Caller    string    `grove:"caller"`
	CreatedAt time.Time `grove:"created_at"`
}

func toRecordModel(r *settlement.Record) recordModel {
	m := recordModel{
		ID:        r.ID.String(),
		Kind:      string(r.Kind),
		BatchID:   r.BatchID.String(),
		Seq:       r.Seq,
		Recipient: r.Recipient.Lower(),
		Amount:    r.Amount.String(),
		CreatedAt: r.CreatedAt,
	}
	if !r.SessionID.IsZero() {
		m.SessionID = r.SessionID.Hex()
	}
	if !r.Caller.IsZero() {
		m.Caller = r.Caller.Lower()
	}
	return m
}

func fromRecordModel(m *recordModel) (*settlement.Record, error) {
	recID, err := parseID(m.ID)
	if err != nil {
		return nil, err
	}
	batchID, err := parseID(m.BatchID)
	if err != nil {
		return nil, err
	}
	recipient, err := types.ParseAddress(m.Recipient)
	if err != nil {
		return nil, err
	}
	amount, err := types.ParseAmount(m.Amount)
	if err != nil {
		return nil, err
	}

	r := &settlement.Record{
		ID:        recID,
		Kind:      settlement.Kind(m.Kind),
		BatchID:   batchID,
		Seq:       m.Seq,
		Recipient: recipient,
		Amount:    amount,
		CreatedAt: m.CreatedAt.UTC(),
	}
	if m.SessionID != "" {
		if r.SessionID, err = session.ParseID(m.SessionID); err != nil {
			return nil, err
		}
	}
	if m.Caller != "" {
		if r.Caller, err = types.ParseAddress(m.Caller); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func parseID(s string) (id.ID, error) {
	var out id.ID
	if err := out.UnmarshalText([]byte(s)); err != nil {
		return id.Nil, fmt.Errorf("settle/sqlite: parse id %q: %w", s, err)
	}
	return out, nil
}
