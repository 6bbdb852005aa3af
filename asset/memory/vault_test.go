package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/settle/asset"
	"github.com/xraph/settle/asset/memory"
	"github.com/xraph/settle/types"
)

var (
	pool  = types.MustParseAddress("0x00000000000000000000000000000000000000f0")
	alice = types.MustParseAddress("0x00000000000000000000000000000000000000a1")
	bob   = types.MustParseAddress("0x00000000000000000000000000000000000000b2")
)

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	v := memory.New(pool, memory.WithBalance(pool, 100))

	require.NoError(t, v.Transfer(ctx, alice, 40))

	bal, err := v.BalanceOf(ctx, pool)
	require.NoError(t, err)
	assert.Equal(t, types.Amount(60), bal)

	got, err := v.BalanceOf(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, types.Amount(40), got)
}

func TestTransferInsufficient(t *testing.T) {
	ctx := context.Background()
	v := memory.New(pool, memory.WithBalance(pool, 10))

	err := v.Transfer(ctx, alice, 50)
	require.ErrorIs(t, err, asset.ErrInsufficientFunds)
	assert.Equal(t, map[types.Address]types.Amount{pool: 10}, v.Balances())
}

func TestTransferZeroRecipient(t *testing.T) {
	v := memory.New(pool, memory.WithBalance(pool, 10))
	err := v.Transfer(context.Background(), types.ZeroAddress, 1)
	require.ErrorIs(t, err, asset.ErrTransferRejected)
}

func TestHookFailureUndoesTransfer(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("recipient refused")
	v := memory.New(pool,
		memory.WithBalance(pool, 100),
		memory.WithTransferHook(func(_ context.Context, to types.Address, _ types.Amount) error {
			if to == bob {
				return boom
			}
			return nil
		}),
	)

	require.NoError(t, v.Transfer(ctx, alice, 10))
	require.ErrorIs(t, v.Transfer(ctx, bob, 10), boom)

	assert.Equal(t, map[types.Address]types.Amount{pool: 90, alice: 10}, v.Balances())
}

func TestAtomicRollsBack(t *testing.T) {
	ctx := context.Background()
	v := memory.New(pool, memory.WithBalance(pool, 100))

	err := v.Atomic(ctx, func(ctx context.Context) error {
		if err := v.Transfer(ctx, alice, 30); err != nil {
			return err
		}
		return v.Transfer(ctx, bob, 500)
	})
	require.ErrorIs(t, err, asset.ErrInsufficientFunds)
	assert.Equal(t, map[types.Address]types.Amount{pool: 100}, v.Balances())
}

func TestAtomicNested(t *testing.T) {
	ctx := context.Background()
	v := memory.New(pool, memory.WithBalance(pool, 100))

	err := v.Atomic(ctx, func(ctx context.Context) error {
		if err := v.Atomic(ctx, func(ctx context.Context) error {
			return v.Transfer(ctx, alice, 30)
		}); err != nil {
			return err
		}
		return errors.New("abort outer")
	})
	require.Error(t, err)
	assert.Equal(t, map[types.Address]types.Amount{pool: 100}, v.Balances())
}

func TestMintOverflow(t *testing.T) {
	v := memory.New(pool, memory.WithBalance(pool, types.MaxAmount))
	require.ErrorIs(t, v.Mint(pool, 1), asset.ErrTransferRejected)
	require.NoError(t, v.Mint(alice, 5))
}

func TestTransferToHolderKeepsBalance(t *testing.T) {
	ctx := context.Background()
	v := memory.New(pool, memory.WithBalance(pool, 10))

	require.NoError(t, v.Transfer(ctx, pool, 4))
	assert.Equal(t, map[types.Address]types.Amount{pool: 10}, v.Balances())

	require.ErrorIs(t, v.Transfer(ctx, pool, 11), asset.ErrInsufficientFunds)
}
