package settlement_test

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bettogether/internal/domain"
	"github.com/alanyoungcy/bettogether/internal/settlement"
)

// hookedAsset lets a test run code inside an outbound transfer, the point
// where a malicious token could call back into the market.
type hookedAsset struct {
	domain.BaseAsset
	onTransfer func() error
}

func (a *hookedAsset) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if a.onTransfer != nil {
		if err := a.onTransfer(); err != nil {
			return err
		}
	}
	return a.BaseAsset.Transfer(ctx, from, to, amount)
}

type hookedBridge struct {
	domain.YieldBridge
	onDeposit func() error
	onRedeem  func() error
}

func (b *hookedBridge) Deposit(ctx context.Context, amount *uint256.Int) error {
	if b.onDeposit != nil {
		if err := b.onDeposit(); err != nil {
			return err
		}
	}
	return b.YieldBridge.Deposit(ctx, amount)
}

func (b *hookedBridge) RedeemAll(ctx context.Context) (*uint256.Int, error) {
	if b.onRedeem != nil {
		if err := b.onRedeem(); err != nil {
			return nil, err
		}
	}
	return b.YieldBridge.RedeemAll(ctx)
}

func withHookedAsset(a **hookedAsset) option {
	return func(_ *settlement.Config, d *settlement.Deps) {
		*a = &hookedAsset{BaseAsset: d.Asset}
		d.Asset = *a
	}
}

func withHookedBridge(b **hookedBridge) option {
	return func(_ *settlement.Config, d *settlement.Deps) {
		*b = &hookedBridge{YieldBridge: d.Bridge}
		d.Bridge = *b
	}
}

func TestReentrantWithdrawBlocked(t *testing.T) {
	var hooked *hookedAsset
	h := newHarness(t, withHookedAsset(&hooked))
	h.open()
	h.bet(userA, win, 100)
	h.bet(userB, lose, 100)
	h.close()
	h.resolve(win)

	var inner error
	calls := 0
	hooked.onTransfer = func() error {
		calls++
		if calls == 1 {
			_, inner = h.market.Withdraw(h.ctx, userA)
		}
		return nil
	}

	_, err := h.market.Withdraw(h.ctx, userA)
	require.NoError(t, err)
	require.ErrorIs(t, inner, domain.ErrAlreadyWithdrawn)
	assert.Equal(t, uint64(100), h.balance(userA), "paid exactly once")
}

func TestReentrantRedeemBlocked(t *testing.T) {
	var hooked *hookedBridge
	h := newHarness(t, withHookedBridge(&hooked))
	h.open()
	h.bet(userA, win, 100)

	var again, bet error
	hooked.onRedeem = func() error {
		again = h.market.IncrementState(h.ctx, owner)
		h.fund(userB, 5)
		bet = h.market.PlaceBet(h.ctx, userB, win, uint256.NewInt(5))
		return nil
	}
	h.close()

	require.ErrorIs(t, again, domain.ErrRedemptionAlreadyPerformed)
	require.ErrorIs(t, bet, domain.ErrMarketNotOpen)
	assert.Equal(t, uint64(100), h.market.Snapshot().TotalRedeemed.Uint64())
}

func TestFailedPayoutRollsBack(t *testing.T) {
	var hooked *hookedAsset
	h := newHarness(t, withHookedAsset(&hooked))
	h.open()
	h.bet(userA, win, 100)
	h.bet(userA, lose, 50)
	_, err := h.pool.Accrue(h.ctx, custody, 1000)
	require.NoError(t, err)
	h.close()
	h.resolve(win)

	hooked.onTransfer = func() error { return errBoom }
	_, err = h.market.Withdraw(h.ctx, userA)
	require.ErrorIs(t, err, errBoom)

	for _, p := range h.market.PositionsOf(userA) {
		assert.False(t, p.Withdrawn)
		assert.Nil(t, p.YieldShare)
	}
	snap := h.market.Snapshot()
	assert.True(t, snap.BetsWithdrawn.IsZero())
	assert.True(t, snap.YieldPaid.IsZero())
	assert.Zero(t, h.count(domain.EventWithdrawalMade))

	hooked.onTransfer = nil
	p, err := h.market.Withdraw(h.ctx, userA)
	require.NoError(t, err)
	assert.Equal(t, uint64(165), p.Total.Uint64())
}

func TestFailedPayoutKeepsConcurrentWithdrawal(t *testing.T) {
	var hooked *hookedAsset
	h := newHarness(t, withHookedAsset(&hooked))
	h.open()
	h.bet(userA, win, 100)
	h.bet(userB, lose, 100)
	h.close()
	h.resolve(win)

	var inner error
	calls := 0
	hooked.onTransfer = func() error {
		calls++
		if calls > 1 {
			return nil
		}
		_, inner = h.market.Withdraw(h.ctx, userB)
		return errBoom
	}
	_, err := h.market.Withdraw(h.ctx, userA)
	require.ErrorIs(t, err, errBoom)
	require.NoError(t, inner)
	assert.Equal(t, uint64(100), h.balance(userB))
	assert.Equal(t, uint64(100), h.market.Snapshot().BetsWithdrawn.Uint64())

	hooked.onTransfer = nil
	_, err = h.market.Withdraw(h.ctx, userA)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), h.balance(userA))
	assert.Equal(t, uint64(200), h.market.Snapshot().BetsWithdrawn.Uint64())
	assert.True(t, h.market.FullyWithdrawn())
	assert.True(t, h.market.Remaining().IsZero())
	assert.Zero(t, h.balance(custody))
}

func TestFailedRedeemReopensBetting(t *testing.T) {
	var hooked *hookedBridge
	h := newHarness(t, withHookedBridge(&hooked))
	h.open()
	h.bet(userA, win, 100)

	hooked.onRedeem = func() error { return errBoom }
	err := h.market.IncrementState(h.ctx, owner)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, domain.MarketStateBetting, h.market.State())

	h.bet(userB, lose, 50)
	hooked.onRedeem = nil
	h.close()
	assert.Equal(t, uint64(150), h.market.Snapshot().TotalRedeemed.Uint64())
}

func TestFailedDepositRefunds(t *testing.T) {
	var hooked *hookedBridge
	h := newHarness(t, withHookedBridge(&hooked))
	h.open()
	h.fund(userA, 100)

	hooked.onDeposit = func() error { return errBoom }
	err := h.market.PlaceBet(h.ctx, userA, win, uint256.NewInt(100))
	require.ErrorIs(t, err, errBoom)

	assert.Equal(t, uint64(100), h.balance(userA))
	assert.Zero(t, h.balance(custody))
	assert.True(t, h.market.PositionOf(userA, win).IsZero())
	assert.Zero(t, h.count(domain.EventBetPlaced))
}
