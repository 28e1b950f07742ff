package asset

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/bettogether/internal/chain"
	"github.com/alanyoungcy/bettogether/internal/domain"
)

// ERC20ABI is the subset of the ERC-20 interface the settlement service
// calls.
const ERC20ABI = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"transfer","type":"function","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"transferFrom","type":"function","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"approve","type":"function","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// ERC20 is the base asset as deployed on chain. Only the backend's
// operator account can move funds, so from, spender and owner arguments
// must name it.
type ERC20 struct {
	token    *chain.Contract
	operator common.Address
}

// NewERC20 binds the token at address.
func NewERC20(backend chain.Backend, address common.Address) (*ERC20, error) {
	c, err := chain.NewContract(backend, address, ERC20ABI)
	if err != nil {
		return nil, err
	}
	return &ERC20{token: c, operator: backend.From()}, nil
}

// Address returns the token contract address.
func (e *ERC20) Address() common.Address { return e.token.Address() }

func (e *ERC20) BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error) {
	out, err := e.token.Call(ctx, "balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("asset: balance of %s: %w", account.Hex(), err)
	}
	return chain.Amount(out[0])
}

// Allowance returns how much spender may move out of owner.
func (e *ERC20) Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error) {
	out, err := e.token.Call(ctx, "allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("asset: allowance: %w", err)
	}
	return chain.Amount(out[0])
}

func (e *ERC20) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if err := e.mustBeOperator("transfer from", from); err != nil {
		return err
	}
	if _, err := e.token.Transact(ctx, "transfer", to, chain.Big(amount)); err != nil {
		return fmt.Errorf("asset: transfer: %w", err)
	}
	return nil
}

func (e *ERC20) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error {
	if err := e.mustBeOperator("spend as", spender); err != nil {
		return err
	}
	allowed, err := e.Allowance(ctx, from, spender)
	if err != nil {
		return err
	}
	if allowed.Lt(amount) {
		return fmt.Errorf("asset: %s allows %s: %w", from.Hex(), allowed.Dec(), domain.ErrInsufficientAllowance)
	}
	if _, err := e.token.Transact(ctx, "transferFrom", from, to, chain.Big(amount)); err != nil {
		return fmt.Errorf("asset: transfer from: %w", err)
	}
	return nil
}

func (e *ERC20) Approve(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error {
	if err := e.mustBeOperator("approve for", owner); err != nil {
		return err
	}
	if _, err := e.token.Transact(ctx, "approve", spender, chain.Big(amount)); err != nil {
		return fmt.Errorf("asset: approve: %w", err)
	}
	return nil
}

func (e *ERC20) mustBeOperator(what string, a common.Address) error {
	if a != e.operator {
		return fmt.Errorf("asset: cannot %s %s, operator is %s: %w", what, a.Hex(), e.operator.Hex(), domain.ErrUnauthorized)
	}
	return nil
}
