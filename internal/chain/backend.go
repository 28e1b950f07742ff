// Package chain is the thin layer every on-chain adapter goes through:
// read-only calls, signed transactions and ABI packing.
package chain

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// ErrReverted is returned when a mined transaction did not succeed.
var ErrReverted = errors.New("chain: transaction reverted")

// Backend executes contract calls as a single operator account.
type Backend interface {
	// From is the account transactions are sent from.
	From() common.Address
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	// Send signs, submits and waits for the transaction to be mined. A
	// reverted transaction returns ErrReverted.
	Send(ctx context.Context, to common.Address, data []byte) (common.Hash, error)
}
