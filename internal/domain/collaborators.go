package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BaseAsset is the transferable stable-value asset every market settles in.
// All amounts are integers in the asset's smallest unit.
type BaseAsset interface {
	BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error)
	// Transfer moves amount out of from's balance.
	Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error
	// TransferFrom moves amount from one account to another on behalf of
	// spender, consuming spender's allowance.
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error
	Approve(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error
}

// YieldBridge moves pooled principal into a yield-bearing position and back.
// RedeemAll returns principal plus whatever yield accrued; callers must not
// assume any particular rate or even that the total covers the deposits.
type YieldBridge interface {
	Deposit(ctx context.Context, amount *uint256.Int) error
	RedeemAll(ctx context.Context) (*uint256.Int, error)
}

// BridgeProvider hands out the yield bridge bound to a market's custody
// account.
type BridgeProvider interface {
	BridgeFor(ctx context.Context, marketID string, custody common.Address) (YieldBridge, error)
}

// QuestionRequest is what gets posted to the outcome oracle when a market
// is created.
type QuestionRequest struct {
	Question       string
	OutcomeCount   int
	OpeningTime    time.Time
	ResolutionTime time.Time
	Arbitrator     common.Address
}

// OracleGateway posts market questions and reads finalized answers.
// FinalOutcome fails with ErrOutcomeNotFinal until the oracle has settled.
type OracleGateway interface {
	PostQuestion(ctx context.Context, req QuestionRequest) (common.Hash, error)
	FinalOutcome(ctx context.Context, questionID common.Hash) (int, error)
}

// OutcomeToken is the per-outcome accounting token minted to bettors.
type OutcomeToken interface {
	Name() string
	Symbol() string
	Mint(ctx context.Context, to common.Address, amount *uint256.Int) error
	BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error)
}

// OutcomeTokenFactory deploys outcome tokens.
type OutcomeTokenFactory interface {
	Deploy(ctx context.Context, name, symbol string) (OutcomeToken, error)
}
