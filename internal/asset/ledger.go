// Package asset implements the base asset and the outcome tokens, both in
// memory and over an ERC-20 contract.
package asset

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/bettogether/internal/domain"
)

// Ledger is an in-memory ERC-20 style balance sheet with mint and
// allowances. It backs the simulator and tests.
type Ledger struct {
	symbol   string
	decimals uint8

	mu         sync.Mutex
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
	supply     *uint256.Int
}

// NewLedger returns an empty ledger.
func NewLedger(symbol string, decimals uint8) *Ledger {
	return &Ledger{
		symbol:     symbol,
		decimals:   decimals,
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
		supply:     new(uint256.Int),
	}
}

func (l *Ledger) Symbol() string { return l.symbol }
func (l *Ledger) Decimals() uint8 { return l.decimals }

// Mint credits amount to account out of thin air.
func (l *Ledger) Mint(_ context.Context, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	supply, overflow := new(uint256.Int).AddOverflow(l.supply, amount)
	if overflow {
		return domain.ErrAmountOverflow
	}
	l.supply = supply
	l.balances[to] = new(uint256.Int).Add(l.balanceLocked(to), amount)
	return nil
}

func (l *Ledger) BalanceOf(_ context.Context, account common.Address) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(account).Clone(), nil
}

// TotalSupply returns everything ever minted.
func (l *Ledger) TotalSupply() *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.supply.Clone()
}

func (l *Ledger) Transfer(_ context.Context, from, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.moveLocked(from, to, amount)
}

func (l *Ledger) TransferFrom(_ context.Context, spender, from, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	allowed := l.allowanceLocked(from, spender)
	if allowed.Lt(amount) {
		return fmt.Errorf("asset: %s allows %s only %s of %s: %w",
			from.Hex(), spender.Hex(), allowed.Dec(), amount.Dec(), domain.ErrInsufficientAllowance)
	}
	if err := l.moveLocked(from, to, amount); err != nil {
		return err
	}
	l.allowances[from][spender] = new(uint256.Int).Sub(allowed, amount)
	return nil
}

func (l *Ledger) Approve(_ context.Context, owner, spender common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.allowances[owner] == nil {
		l.allowances[owner] = make(map[common.Address]*uint256.Int)
	}
	l.allowances[owner][spender] = amount.Clone()
	return nil
}

// Allowance returns how much spender may still move out of owner.
func (l *Ledger) Allowance(owner, spender common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowanceLocked(owner, spender).Clone()
}

func (l *Ledger) moveLocked(from, to common.Address, amount *uint256.Int) error {
	bal := l.balanceLocked(from)
	if bal.Lt(amount) {
		return fmt.Errorf("asset: %s holds %s, needs %s: %w",
			from.Hex(), bal.Dec(), amount.Dec(), domain.ErrInsufficientBalance)
	}
	l.balances[from] = new(uint256.Int).Sub(bal, amount)
	l.balances[to] = new(uint256.Int).Add(l.balanceLocked(to), amount)
	return nil
}

func (l *Ledger) balanceLocked(a common.Address) *uint256.Int {
	if b, ok := l.balances[a]; ok {
		return b
	}
	return new(uint256.Int)
}

func (l *Ledger) allowanceLocked(owner, spender common.Address) *uint256.Int {
	if m, ok := l.allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return a
		}
	}
	return new(uint256.Int)
}
