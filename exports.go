package settle

import (
	"github.com/xraph/settle/id"
	"github.com/xraph/settle/session"
	"github.com/xraph/settle/settlement"
	"github.com/xraph/settle/types"
)

// Re-exports so that callers of the engine rarely need the leaf packages.

type (
	Amount      = types.Amount
	Address     = types.Address
	SessionID   = session.ID
	Session     = session.Session
	Payment     = session.Payment
	Instruction = settlement.Instruction
	Record      = settlement.Record
	Receipt     = settlement.Receipt
	ID          = id.ID
)

var (
	ParseAmount  = types.ParseAmount
	ParseAddress = types.ParseAddress
	ParseID      = session.ParseID
	MustParseID  = session.MustParseID
	HashID       = session.HashID
)
