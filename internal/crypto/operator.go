package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Operator holds the key of the wallet that acts as market custody and
// sends every settlement transaction.
type Operator struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func newOperator(raw []byte) (*Operator, error) {
	pk, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return &Operator{key: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Address returns the operator wallet address.
func (o *Operator) Address() common.Address {
	return o.address
}

// SignTx signs tx for chainID with EIP-155 replay protection.
func (o *Operator) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.NewEIP155Signer(chainID), o.key)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign tx: %w", err)
	}
	return signed, nil
}

// String never prints key material.
func (o *Operator) String() string {
	return "Operator(" + o.address.Hex() + ")"
}
