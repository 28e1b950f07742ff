package yield

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/bettogether/internal/chain"
	"github.com/alanyoungcy/bettogether/internal/domain"
)

const lendingPoolABI = `[
	{"name":"deposit","type":"function","inputs":[{"name":"_reserve","type":"address"},{"name":"_amount","type":"uint256"},{"name":"_referralCode","type":"uint16"}],"outputs":[]}
]`

const aTokenABI = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"_user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"redeem","type":"function","inputs":[{"name":"_amount","type":"uint256"}],"outputs":[]}
]`

// AaveConfig names the Aave v1 contracts a market deposits through.
type AaveConfig struct {
	LendingPool     common.Address
	LendingPoolCore common.Address
	AToken          common.Address
	// Reserve is the base asset token address.
	Reserve common.Address
}

// AavePool deposits into an Aave v1 lending pool from the operator wallet.
// aToken balances are per wallet, so the wallet serves one market at a
// time until that market redeems.
type AavePool struct {
	cfg      AaveConfig
	asset    domain.BaseAsset
	pool     *chain.Contract
	atoken   *chain.Contract
	operator common.Address
	logger   *slog.Logger

	mu     sync.Mutex
	active string
}

// NewAavePool binds the lending pool and aToken contracts.
func NewAavePool(backend chain.Backend, asset domain.BaseAsset, cfg AaveConfig, logger *slog.Logger) (*AavePool, error) {
	pool, err := chain.NewContract(backend, cfg.LendingPool, lendingPoolABI)
	if err != nil {
		return nil, err
	}
	atoken, err := chain.NewContract(backend, cfg.AToken, aTokenABI)
	if err != nil {
		return nil, err
	}
	return &AavePool{
		cfg:      cfg,
		asset:    asset,
		pool:     pool,
		atoken:   atoken,
		operator: backend.From(),
		logger:   logger.With(slog.String("component", "aave_pool")),
	}, nil
}

func (a *AavePool) BridgeFor(_ context.Context, marketID string, custody common.Address) (domain.YieldBridge, error) {
	if custody != a.operator {
		return nil, fmt.Errorf("yield: custody %s is not the operator wallet: %w", custody.Hex(), domain.ErrUnauthorized)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active != "" && a.active != marketID {
		return nil, fmt.Errorf("yield: operator wallet in use by market %s: %w", a.active, domain.ErrLockHeld)
	}
	a.active = marketID
	return &aaveBridge{pool: a, marketID: marketID}, nil
}

// Balance returns the operator's aToken balance, principal plus accrued
// interest.
func (a *AavePool) Balance(ctx context.Context) (*uint256.Int, error) {
	out, err := a.atoken.Call(ctx, "balanceOf", a.operator)
	if err != nil {
		return nil, fmt.Errorf("yield: atoken balance: %w", err)
	}
	return chain.Amount(out[0])
}

func (a *AavePool) release(marketID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == marketID {
		a.active = ""
	}
}

type aaveBridge struct {
	pool     *AavePool
	marketID string

	mu       sync.Mutex
	redeemed bool
}

func (b *aaveBridge) Deposit(ctx context.Context, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.redeemed {
		return domain.ErrRedemptionAlreadyPerformed
	}
	p := b.pool
	if err := p.asset.Approve(ctx, p.operator, p.cfg.LendingPoolCore, amount); err != nil {
		return fmt.Errorf("yield: approve core: %w", err)
	}
	if _, err := p.pool.Transact(ctx, "deposit", p.cfg.Reserve, chain.Big(amount), uint16(0)); err != nil {
		return fmt.Errorf("yield: deposit: %w", err)
	}
	return nil
}

func (b *aaveBridge) RedeemAll(ctx context.Context) (*uint256.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.redeemed {
		return nil, domain.ErrRedemptionAlreadyPerformed
	}
	p := b.pool
	bal, err := p.Balance(ctx)
	if err != nil {
		return nil, err
	}
	if !bal.IsZero() {
		if _, err := p.atoken.Transact(ctx, "redeem", chain.Big(bal)); err != nil {
			return nil, fmt.Errorf("yield: redeem: %w", err)
		}
	}
	b.redeemed = true
	p.release(b.marketID)
	p.logger.InfoContext(ctx, "position redeemed",
		slog.String("market_id", b.marketID),
		slog.String("amount", bal.Dec()),
	)
	return bal, nil
}
