// Package settlement defines the settlement ledger's records: the terminal
// settled flag kept per session, the instructions a finalize call carries and
// the per-transfer records written alongside the flag.
package settlement

import (
	"time"

	"github.com/xraph/settle/id"
	"github.com/xraph/settle/session"
	"github.com/xraph/settle/types"
)

// Instruction is one recipient/amount pair of a finalize call.
type Instruction struct {
	Recipient types.Address `json:"recipient"`
	Amount    types.Amount  `json:"amount"`
}

// Kind tells settlement transfers apart from administrative withdrawals.
type Kind string

const (
	KindSettlement Kind = "settlement"
	KindWithdrawal Kind = "withdrawal"
)

// Flag marks a session as settled. Its presence is the single source of
// truth for "may this session still be settled".
type Flag struct {
	SessionID session.ID   `json:"session_id"`
	BatchID   id.BatchID   `json:"batch_id"`
	Total     types.Amount `json:"total"`
	Count     int          `json:"count"`
	SettledAt time.Time    `json:"settled_at"`
}

// Record is one executed transfer. Records are append-only.
type Record struct {
	ID        id.ID         `json:"id"`
	Kind      Kind          `json:"kind"`
	SessionID session.ID    `json:"session_id"`
	BatchID   id.BatchID    `json:"batch_id"`
	Seq       int           `json:"seq"`
	Recipient types.Address `json:"recipient"`
	Amount    types.Amount  `json:"amount"`
	Caller    types.Address `json:"caller"`
	CreatedAt time.Time     `json:"created_at"`
}

// Receipt is returned by a successful finalize call.
type Receipt struct {
	SessionID session.ID   `json:"session_id"`
	BatchID   id.BatchID   `json:"batch_id"`
	Total     types.Amount `json:"total"`
	Records   []*Record    `json:"records"`
	SettledAt time.Time    `json:"settled_at"`
}

// ListOpts filters record listings. Zero values disable a filter.
type ListOpts struct {
	SessionID session.ID
	Recipient types.Address
	Kind      Kind
	Limit     int
	Offset    int
}
