package chaintest

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

const tokenABI = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"transfer","type":"function","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"transferFrom","type":"function","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"approve","type":"function","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// Token is a fake ERC-20 registered on a Backend.
type Token struct {
	mu         sync.Mutex
	balances   map[common.Address]*big.Int
	allowances map[[2]common.Address]*big.Int
}

// NewToken registers an ERC-20 at addr on b.
func NewToken(b *Backend, addr common.Address) *Token {
	t := &Token{
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[[2]common.Address]*big.Int),
	}
	b.Handle(addr, tokenABI, "balanceOf", func(_ common.Address, args []any) ([]any, error) {
		return []any{t.Balance(args[0].(common.Address))}, nil
	})
	b.Handle(addr, tokenABI, "allowance", func(_ common.Address, args []any) ([]any, error) {
		return []any{t.Allowance(args[0].(common.Address), args[1].(common.Address))}, nil
	})
	b.Handle(addr, tokenABI, "transfer", func(from common.Address, args []any) ([]any, error) {
		return []any{true}, t.Move(from, args[0].(common.Address), args[1].(*big.Int))
	})
	b.Handle(addr, tokenABI, "transferFrom", func(spender common.Address, args []any) ([]any, error) {
		owner, to, amt := args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int)
		allowed := t.Allowance(owner, spender)
		if allowed.Cmp(amt) < 0 {
			return nil, errors.New("erc20: insufficient allowance")
		}
		if err := t.Move(owner, to, amt); err != nil {
			return nil, err
		}
		t.mu.Lock()
		t.allowances[[2]common.Address{owner, spender}] = allowed.Sub(allowed, amt)
		t.mu.Unlock()
		return []any{true}, nil
	})
	b.Handle(addr, tokenABI, "approve", func(owner common.Address, args []any) ([]any, error) {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.allowances[[2]common.Address{owner, args[0].(common.Address)}] = new(big.Int).Set(args[1].(*big.Int))
		return []any{true}, nil
	})
	return t
}

// Mint credits amount to account.
func (t *Token) Mint(account common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[account] = new(big.Int).Add(t.balanceLocked(account), amount)
}

// Balance returns account's balance.
func (t *Token) Balance(account common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.balanceLocked(account))
}

// Allowance returns what spender may move out of owner.
func (t *Token) Allowance(owner, spender common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a := t.allowances[[2]common.Address{owner, spender}]; a != nil {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// Move transfers amount between accounts, failing on insufficient balance.
func (t *Token) Move(from, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	bal := t.balanceLocked(from)
	if bal.Cmp(amount) < 0 {
		return errors.New("erc20: transfer amount exceeds balance")
	}
	t.balances[from] = new(big.Int).Sub(bal, amount)
	t.balances[to] = new(big.Int).Add(t.balanceLocked(to), amount)
	return nil
}

func (t *Token) balanceLocked(a common.Address) *big.Int {
	if b := t.balances[a]; b != nil {
		return b
	}
	return new(big.Int)
}

// SetAllowance sets what spender may move out of owner, as if owner had
// sent approve from their own wallet.
func (t *Token) SetAllowance(owner, spender common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allowances[[2]common.Address{owner, spender}] = new(big.Int).Set(amount)
}
