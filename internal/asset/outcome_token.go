package asset

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/bettogether/internal/domain"
)

// OutcomeToken is an in-memory per-outcome receipt token. It can only be
// minted; it never moves value.
type OutcomeToken struct {
	name   string
	symbol string
	ledger *Ledger
}

func (t *OutcomeToken) Name() string { return t.name }
func (t *OutcomeToken) Symbol() string { return t.symbol }

func (t *OutcomeToken) Mint(ctx context.Context, to common.Address, amount *uint256.Int) error {
	return t.ledger.Mint(ctx, to, amount)
}

func (t *OutcomeToken) BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error) {
	return t.ledger.BalanceOf(ctx, account)
}

// TotalSupply returns the amount minted so far.
func (t *OutcomeToken) TotalSupply() *uint256.Int {
	return t.ledger.TotalSupply()
}

// OutcomeTokens deploys in-memory outcome tokens.
type OutcomeTokens struct{}

// NewOutcomeTokens returns the in-memory factory.
func NewOutcomeTokens() *OutcomeTokens { return &OutcomeTokens{} }

func (OutcomeTokens) Deploy(_ context.Context, name, symbol string) (domain.OutcomeToken, error) {
	if name == "" || symbol == "" {
		return nil, errors.New("asset: outcome token needs a name and a symbol")
	}
	return &OutcomeToken{name: name, symbol: symbol, ledger: NewLedger(symbol, 18)}, nil
}
