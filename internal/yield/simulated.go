// Package yield provides the bridges that park a market's pooled
// principal in a yield-bearing position.
package yield

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/bettogether/internal/domain"
)

// MintableAsset is a base asset that can create new units. The simulated
// pool mints interest into its reserve.
type MintableAsset interface {
	domain.BaseAsset
	Mint(ctx context.Context, to common.Address, amount *uint256.Int) error
}

// SimulatedPool is an in-memory lending pool. Each custody account has one
// position; interest is credited on demand with Accrue.
type SimulatedPool struct {
	asset   MintableAsset
	reserve common.Address

	mu        sync.Mutex
	positions map[common.Address]*uint256.Int
	markets   map[common.Address]string
}

// NewSimulatedPool returns a pool holding deposits in reserve.
func NewSimulatedPool(asset MintableAsset, reserve common.Address) *SimulatedPool {
	return &SimulatedPool{
		asset:     asset,
		reserve:   reserve,
		positions: make(map[common.Address]*uint256.Int),
		markets:   make(map[common.Address]string),
	}
}

// BridgeFor returns the bridge for the market whose funds sit in custody.
// A custody account serves one market.
func (p *SimulatedPool) BridgeFor(_ context.Context, marketID string, custody common.Address) (domain.YieldBridge, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if owner, ok := p.markets[custody]; ok && owner != marketID {
		return nil, fmt.Errorf("yield: custody %s bound to market %s: %w", custody.Hex(), owner, domain.ErrLockHeld)
	}
	p.markets[custody] = marketID
	return &simBridge{pool: p, custody: custody}, nil
}

// Position returns custody's current balance in the pool.
func (p *SimulatedPool) Position(custody common.Address) *uint256.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pos, ok := p.positions[custody]; ok {
		return pos.Clone()
	}
	return new(uint256.Int)
}

// Accrue credits interest of bps basis points on custody's position and
// returns the amount credited.
func (p *SimulatedPool) Accrue(ctx context.Context, custody common.Address, bps uint64) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[custody]
	if !ok || pos.IsZero() {
		return new(uint256.Int), nil
	}
	interest, overflow := new(uint256.Int).MulDivOverflow(pos, uint256.NewInt(bps), uint256.NewInt(10_000))
	if overflow {
		return nil, domain.ErrAmountOverflow
	}
	if interest.IsZero() {
		return interest, nil
	}
	if err := p.asset.Mint(ctx, p.reserve, interest); err != nil {
		return nil, fmt.Errorf("yield: mint interest: %w", err)
	}
	p.positions[custody] = new(uint256.Int).Add(pos, interest)
	return interest, nil
}

func (p *SimulatedPool) deposit(ctx context.Context, custody common.Address, amount *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.positions[custody]
	if !ok {
		cur = new(uint256.Int)
	}
	next, overflow := new(uint256.Int).AddOverflow(cur, amount)
	if overflow {
		return domain.ErrAmountOverflow
	}
	if err := p.asset.Transfer(ctx, custody, p.reserve, amount); err != nil {
		return fmt.Errorf("yield: deposit: %w", err)
	}
	p.positions[custody] = next
	return nil
}

func (p *SimulatedPool) redeem(ctx context.Context, custody common.Address) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[custody]
	if !ok {
		pos = new(uint256.Int)
	}
	if !pos.IsZero() {
		if err := p.asset.Transfer(ctx, p.reserve, custody, pos); err != nil {
			return nil, fmt.Errorf("yield: redeem: %w", err)
		}
	}
	delete(p.positions, custody)
	return pos.Clone(), nil
}

type simBridge struct {
	pool    *SimulatedPool
	custody common.Address

	mu       sync.Mutex
	redeemed bool
}

func (b *simBridge) Deposit(ctx context.Context, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.redeemed {
		return domain.ErrRedemptionAlreadyPerformed
	}
	return b.pool.deposit(ctx, b.custody, amount)
}

func (b *simBridge) RedeemAll(ctx context.Context) (*uint256.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.redeemed {
		return nil, domain.ErrRedemptionAlreadyPerformed
	}
	total, err := b.pool.redeem(ctx, b.custody)
	if err != nil {
		return nil, err
	}
	b.redeemed = true
	return total, nil
}
