// Package memory is an in-process asset.Ledger. It backs tests and the
// development server, and can stand in for a token contract wherever real
// settlement is not needed.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/xraph/settle/asset"
	"github.com/xraph/settle/types"
)

var _ asset.Ledger = (*Vault)(nil)

// TransferHook runs after a transfer has been applied. Returning an error
// undoes that transfer. Hooks may call back into the caller of Transfer.
type TransferHook func(ctx context.Context, to types.Address, amount types.Amount) error

// Option configures a Vault.
type Option func(*Vault)

// WithBalance seeds the balance of addr.
func WithBalance(addr types.Address, amount types.Amount) Option {
	return func(v *Vault) { v.balances[addr] = amount }
}

// WithTransferHook appends a hook run after every successful transfer.
func WithTransferHook(h TransferHook) Option {
	return func(v *Vault) { v.hooks = append(v.hooks, h) }
}

// Vault keeps balances in a map. Atomic units snapshot the balances and
// restore them on failure; they are not isolated from transfers made outside
// the unit.
type Vault struct {
	mu       sync.Mutex
	holder   types.Address
	balances map[types.Address]types.Amount
	hooks    []TransferHook
}

type atomicKey struct{}

// New creates a vault paying out of holder.
func New(holder types.Address, opts ...Option) *Vault {
	v := &Vault{
		holder:   holder,
		balances: make(map[types.Address]types.Amount),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Holder returns the paying account.
func (v *Vault) Holder() types.Address { return v.holder }

// BalanceOf returns the balance of holder.
func (v *Vault) BalanceOf(_ context.Context, holder types.Address) (types.Amount, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[holder], nil
}

// Mint credits addr, failing on overflow.
func (v *Vault) Mint(addr types.Address, amount types.Amount) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	next, ok := v.balances[addr].CheckedAdd(amount)
	if !ok {
		return fmt.Errorf("%w: balance of %s overflows", asset.ErrTransferRejected, addr.Short())
	}
	v.balances[addr] = next
	return nil
}

// Balances returns a copy of every non-zero balance.
func (v *Vault) Balances() map[types.Address]types.Amount {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make(map[types.Address]types.Amount, len(v.balances))
	for k, b := range v.balances {
		if b != 0 {
			out[k] = b
		}
	}
	return out
}

// Transfer moves amount from the holder to to.
func (v *Vault) Transfer(ctx context.Context, to types.Address, amount types.Amount) error {
	if to.IsZero() {
		return fmt.Errorf("%w: zero recipient", asset.ErrTransferRejected)
	}
	if err := v.move(v.holder, to, amount); err != nil {
		return err
	}

	for _, h := range v.hooks {
		if err := h(ctx, to, amount); err != nil {
			if undoErr := v.move(to, v.holder, amount); undoErr != nil {
				return fmt.Errorf("undo transfer after hook failure %v: %w", err, undoErr)
			}
			return err
		}
	}
	return nil
}

// Atomic snapshots balances, runs fn and restores the snapshot when fn fails.
func (v *Vault) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(atomicKey{}) == v {
		return fn(ctx)
	}

	v.mu.Lock()
	snapshot := make(map[types.Address]types.Amount, len(v.balances))
	for k, b := range v.balances {
		snapshot[k] = b
	}
	v.mu.Unlock()

	if err := fn(context.WithValue(ctx, atomicKey{}, v)); err != nil {
		v.mu.Lock()
		v.balances = snapshot
		v.mu.Unlock()
		return err
	}
	return nil
}

func (v *Vault) move(from, to types.Address, amount types.Amount) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	fromBal := v.balances[from]
	rest, ok := fromBal.CheckedSub(amount)
	if !ok {
		return fmt.Errorf("%w: %s holds %s, needs %s", asset.ErrInsufficientFunds, from.Short(), fromBal, amount)
	}
	if from == to {
		return nil
	}
	credited, ok := v.balances[to].CheckedAdd(amount)
	if !ok {
		return fmt.Errorf("%w: balance of %s overflows", asset.ErrTransferRejected, to.Short())
	}
	v.balances[from] = rest
	v.balances[to] = credited
	return nil
}
