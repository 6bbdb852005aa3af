// Package asset declares the fungible-asset ledger the settlement engine pays
// out of. The engine never mutates balances itself; it only calls Transfer.
package asset

import (
	"context"
	"errors"

	"github.com/xraph/settle/types"
)

var (
	// ErrInsufficientFunds is returned by Transfer when the holder cannot
	// cover the amount.
	ErrInsufficientFunds = errors.New("asset: insufficient funds")

	// ErrTransferRejected is returned when the ledger refuses a transfer for
	// any other reason.
	ErrTransferRejected = errors.New("asset: transfer rejected")
)

// Ledger holds the pooled balance.
type Ledger interface {
	// Holder is the account whose balance funds settlements.
	Holder() types.Address

	// BalanceOf returns the current balance of holder.
	BalanceOf(ctx context.Context, holder types.Address) (types.Amount, error)

	// Transfer pushes amount from Holder to to. It either fully applies or
	// returns an error and changes nothing.
	//
	// ctx carries the engine call that issued the transfer. Code the ledger
	// runs on the recipient's behalf must hand this ctx, or one derived from
	// it, back to the engine: only then is a call into the engine recognized
	// as reentrant and refused. A callback that builds a fresh context sees
	// the session as settled but blocks on any other mutating call until
	// the issuing call returns, so it should at least bound its context
	// with a deadline.
	Transfer(ctx context.Context, to types.Address, amount types.Amount) error

	// Atomic runs fn so that the transfers it performs either all apply or,
	// when fn returns an error, are all undone. Nested calls join the
	// outer unit.
	Atomic(ctx context.Context, fn func(ctx context.Context) error) error
}
