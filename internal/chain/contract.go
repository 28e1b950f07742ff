package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Contract binds a minimal ABI to an address on a Backend.
type Contract struct {
	address common.Address
	abi     abi.ABI
	backend Backend
}

// NewContract parses abiJSON and binds it to address.
func NewContract(backend Backend, address common.Address, abiJSON string) (*Contract, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("chain: parse abi: %w", err)
	}
	return &Contract{address: address, abi: parsed, backend: backend}, nil
}

// Address returns the bound contract address.
func (c *Contract) Address() common.Address { return c.address }

// Call runs a read-only method and returns its decoded outputs.
func (c *Contract) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	out, err := c.backend.Call(ctx, c.address, data)
	if err != nil {
		return nil, err
	}
	vals, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	return vals, nil
}

// Transact sends a state-changing method call and waits for it to be mined.
func (c *Contract) Transact(ctx context.Context, method string, args ...any) (common.Hash, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	hash, err := c.backend.Send(ctx, c.address, data)
	if err != nil {
		return hash, fmt.Errorf("chain: %s: %w", method, err)
	}
	return hash, nil
}

// Big converts an amount for ABI packing.
func Big(x *uint256.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x.ToBig()
}

// Amount converts a decoded uint256 output back, rejecting anything that
// is not a non-negative value below 2^256.
func Amount(v any) (*uint256.Int, error) {
	b, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: expected *big.Int, got %T", v)
	}
	if b.Sign() < 0 {
		return nil, fmt.Errorf("chain: negative amount %s", b)
	}
	out, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("chain: amount %s overflows uint256", b)
	}
	return out, nil
}
