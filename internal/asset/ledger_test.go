package asset

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bettogether/internal/domain"
)

var (
	alice = common.HexToAddress("0xa11ce")
	bob   = common.HexToAddress("0xb0b")
	carol = common.HexToAddress("0xca201")
)

func balance(t *testing.T, l *Ledger, a common.Address) uint64 {
	t.Helper()
	b, err := l.BalanceOf(context.Background(), a)
	require.NoError(t, err)
	return b.Uint64()
}

func TestLedgerTransfer(t *testing.T) {
	ctx := context.Background()
	l := NewLedger("DAI", 18)
	require.NoError(t, l.Mint(ctx, alice, uint256.NewInt(100)))

	require.NoError(t, l.Transfer(ctx, alice, bob, uint256.NewInt(60)))
	assert.Equal(t, uint64(40), balance(t, l, alice))
	assert.Equal(t, uint64(60), balance(t, l, bob))

	err := l.Transfer(ctx, alice, bob, uint256.NewInt(41))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, uint64(40), balance(t, l, alice))
	assert.Equal(t, uint64(100), l.TotalSupply().Uint64())
}

func TestLedgerTransferFrom(t *testing.T) {
	ctx := context.Background()
	l := NewLedger("DAI", 18)
	require.NoError(t, l.Mint(ctx, alice, uint256.NewInt(100)))

	err := l.TransferFrom(ctx, carol, alice, carol, uint256.NewInt(10))
	require.ErrorIs(t, err, domain.ErrInsufficientAllowance)

	require.NoError(t, l.Approve(ctx, alice, carol, uint256.NewInt(30)))
	require.NoError(t, l.TransferFrom(ctx, carol, alice, bob, uint256.NewInt(25)))
	assert.Equal(t, uint64(5), l.Allowance(alice, carol).Uint64())
	assert.Equal(t, uint64(25), balance(t, l, bob))

	// Allowance survives a failed transfer.
	require.NoError(t, l.Approve(ctx, bob, carol, uint256.NewInt(1000)))
	err = l.TransferFrom(ctx, carol, bob, carol, uint256.NewInt(26))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, uint64(1000), l.Allowance(bob, carol).Uint64())
}

func TestOutcomeTokens(t *testing.T) {
	ctx := context.Background()
	f := NewOutcomeTokens()

	_, err := f.Deploy(ctx, "", "X")
	require.Error(t, err)

	tok, err := f.Deploy(ctx, "Joe Biden", "MBbiden")
	require.NoError(t, err)
	assert.Equal(t, "Joe Biden", tok.Name())
	assert.Equal(t, "MBbiden", tok.Symbol())

	require.NoError(t, tok.Mint(ctx, alice, uint256.NewInt(7)))
	require.NoError(t, tok.Mint(ctx, alice, uint256.NewInt(3)))
	got, err := tok.BalanceOf(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got.Uint64())
}
