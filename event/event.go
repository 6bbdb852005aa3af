// Package event defines the notifications the settlement engine emits. Each
// carries enough data to rebuild ledger state from a log of events.
package event

import (
	"time"

	"github.com/xraph/settle/id"
	"github.com/xraph/settle/session"
	"github.com/xraph/settle/types"
)

// Name identifies an event kind.
type Name string

const (
	NameSessionStarted      Name = "session.started"
	NamePaymentAdded        Name = "payment.added"
	NameSessionSettled      Name = "session.settled"
	NameBatchSettled        Name = "batch.settled"
	NameEmergencyWithdrawal Name = "emergency.withdrawal"
	NameSettlementRejected  Name = "settlement.rejected"
)

// SessionStarted is emitted once per created session.
type SessionStarted struct {
	SessionID session.ID    `json:"session_id"`
	User      types.Address `json:"user"`
	At        time.Time     `json:"at"`
}

// PaymentAdded is emitted when a payment is queued on an active session.
// Queued is the number of payments now pending, Total their sum.
type PaymentAdded struct {
	PaymentID id.PaymentID  `json:"payment_id"`
	SessionID session.ID    `json:"session_id"`
	Seq       int           `json:"seq"`
	Recipient types.Address `json:"recipient"`
	Amount    types.Amount  `json:"amount"`
	Queued    int           `json:"queued"`
	Total     types.Amount  `json:"total"`
	At        time.Time     `json:"at"`
}

// SessionSettled is emitted once per executed transfer, in instruction order.
type SessionSettled struct {
	SessionID session.ID    `json:"session_id"`
	BatchID   id.BatchID    `json:"batch_id"`
	RecordID  id.RecordID   `json:"record_id"`
	Seq       int           `json:"seq"`
	Recipient types.Address `json:"recipient"`
	Amount    types.Amount  `json:"amount"`
	At        time.Time     `json:"at"`
}

// BatchSettled is emitted once per batch finalize call, after its
// SessionSettled events.
type BatchSettled struct {
	SessionID session.ID   `json:"session_id"`
	BatchID   id.BatchID   `json:"batch_id"`
	Total     types.Amount `json:"total"`
	Count     int          `json:"count"`
	At        time.Time    `json:"at"`
}

// EmergencyWithdrawal is emitted for every administrative withdrawal.
type EmergencyWithdrawal struct {
	WithdrawalID id.WithdrawalID `json:"withdrawal_id"`
	Caller       types.Address   `json:"caller"`
	To           types.Address   `json:"to"`
	Amount       types.Amount    `json:"amount"`
	At           time.Time       `json:"at"`
}

// SettlementRejected is emitted when a mutating operation fails. Nothing it
// describes was committed.
type SettlementRejected struct {
	Op        string        `json:"op"`
	SessionID session.ID    `json:"session_id"`
	Caller    types.Address `json:"caller"`
	Reason    string        `json:"reason"`
	Err       error         `json:"-"`
	At        time.Time     `json:"at"`
}
