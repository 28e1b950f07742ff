package settlement

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/bettogether/internal/domain"
)

// YieldPool is the surplus of redeemed over principal, or zero when the
// bridge returned no more than was deposited.
func YieldPool(redeemed, principal *uint256.Int) *uint256.Int {
	if redeemed == nil || principal == nil || !redeemed.Gt(principal) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(redeemed, principal)
}

// YieldShare returns principal*pool/winningTotal truncated toward zero. The
// product is formed at 512 bits so it cannot overflow before the division.
func YieldShare(principal, pool, winningTotal *uint256.Int) (*uint256.Int, error) {
	if winningTotal.IsZero() || pool.IsZero() || principal.IsZero() {
		return new(uint256.Int), nil
	}
	share, overflow := new(uint256.Int).MulDivOverflow(principal, pool, winningTotal)
	if overflow {
		return nil, fmt.Errorf("settlement: yield share: %w", domain.ErrAmountOverflow)
	}
	return share, nil
}

// ComputePayout settles a user's positions against the resolved outcome.
// Every position returns its principal; positions on the winning outcome
// also take a proportional cut of pool.
func ComputePayout(positions []domain.Position, resolved int, pool, winningTotal *uint256.Int) (domain.Payout, error) {
	if len(positions) == 0 {
		return domain.Payout{}, domain.ErrNoStake
	}
	out := domain.Payout{
		MarketID:   positions[0].MarketID,
		User:       positions[0].User,
		Principal:  new(uint256.Int),
		YieldShare: new(uint256.Int),
		Total:      new(uint256.Int),
		Positions:  make([]domain.PositionPayout, 0, len(positions)),
	}
	for _, p := range positions {
		pp := domain.PositionPayout{
			Outcome:    p.Outcome,
			Principal:  p.Principal.Clone(),
			YieldShare: new(uint256.Int),
			Won:        p.Outcome == resolved,
		}
		if pp.Won {
			share, err := YieldShare(p.Principal, pool, winningTotal)
			if err != nil {
				return domain.Payout{}, err
			}
			pp.YieldShare = share
		}
		var o1, o2 bool
		out.Principal, o1 = out.Principal.AddOverflow(out.Principal, pp.Principal)
		out.YieldShare, o2 = out.YieldShare.AddOverflow(out.YieldShare, pp.YieldShare)
		if o1 || o2 {
			return domain.Payout{}, fmt.Errorf("settlement: payout sum: %w", domain.ErrAmountOverflow)
		}
		out.Positions = append(out.Positions, pp)
	}
	if _, overflow := out.Total.AddOverflow(out.Principal, out.YieldShare); overflow {
		return domain.Payout{}, fmt.Errorf("settlement: payout total: %w", domain.ErrAmountOverflow)
	}
	return out, nil
}
