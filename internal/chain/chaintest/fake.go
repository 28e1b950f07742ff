// Package chaintest provides an in-process chain.Backend that dispatches
// ABI-encoded calls to Go handlers.
package chaintest

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Handler serves one contract method. args are the decoded inputs; the
// returned values are packed as the method's outputs.
type Handler func(from common.Address, args []any) ([]any, error)

// Tx is a transaction the fake has executed.
type Tx struct {
	Hash   common.Hash
	To     common.Address
	Method string
	Args   []any
}

type contract struct {
	abi      abi.ABI
	handlers map[string]Handler
}

// Backend is a fake chain.Backend. Sends execute synchronously and never
// revert unless the handler returns an error.
type Backend struct {
	from common.Address

	mu        sync.Mutex
	contracts map[common.Address]*contract
	sent      []Tx
}

// New returns a Backend that sends as from.
func New(from common.Address) *Backend {
	return &Backend{from: from, contracts: make(map[common.Address]*contract)}
}

// Handle registers h for method on the contract at addr described by
// abiJSON.
func (b *Backend) Handle(addr common.Address, abiJSON, method string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.contracts[addr]
	if !ok {
		parsed, err := abi.JSON(strings.NewReader(abiJSON))
		if err != nil {
			panic(fmt.Sprintf("chaintest: parse abi: %v", err))
		}
		c = &contract{abi: parsed, handlers: make(map[string]Handler)}
		b.contracts[addr] = c
	}
	c.handlers[method] = h
}

// Sent returns every executed transaction in order.
func (b *Backend) Sent() []Tx {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Tx(nil), b.sent...)
}

func (b *Backend) From() common.Address { return b.from }

func (b *Backend) Call(_ context.Context, to common.Address, data []byte) ([]byte, error) {
	_, out, err := b.dispatch(to, data)
	return out, err
}

func (b *Backend) Send(_ context.Context, to common.Address, data []byte) (common.Hash, error) {
	tx, _, err := b.dispatch(to, data)
	if err != nil {
		return common.Hash{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(b.sent)))
	tx.Hash = crypto.Keccak256Hash(to[:], data, n[:])
	b.sent = append(b.sent, tx)
	return tx.Hash, nil
}

func (b *Backend) dispatch(to common.Address, data []byte) (Tx, []byte, error) {
	b.mu.Lock()
	c, ok := b.contracts[to]
	b.mu.Unlock()
	if !ok {
		return Tx{}, nil, fmt.Errorf("chaintest: no contract at %s", to.Hex())
	}
	if len(data) < 4 {
		return Tx{}, nil, fmt.Errorf("chaintest: short calldata")
	}
	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return Tx{}, nil, fmt.Errorf("chaintest: %w", err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return Tx{}, nil, fmt.Errorf("chaintest: unpack %s: %w", method.Name, err)
	}
	h, ok := c.handlers[method.Name]
	if !ok {
		return Tx{}, nil, fmt.Errorf("chaintest: no handler for %s", method.Name)
	}
	vals, err := h(b.from, args)
	if err != nil {
		return Tx{}, nil, err
	}
	out, err := method.Outputs.Pack(vals...)
	if err != nil {
		return Tx{}, nil, fmt.Errorf("chaintest: pack %s outputs: %w", method.Name, err)
	}
	return Tx{To: to, Method: method.Name, Args: args}, out, nil
}
