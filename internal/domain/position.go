package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Position is a user's accumulated stake on one outcome of one market.
// Repeated bets on the same outcome add to the same position.
type Position struct {
	MarketID   string
	User       common.Address
	Outcome    int
	Principal  *uint256.Int
	Withdrawn  bool
	YieldShare *uint256.Int // set when the position is withdrawn
	UpdatedAt  time.Time
}

// PositionPayout is the settlement of one position inside a withdrawal.
type PositionPayout struct {
	Outcome    int
	Principal  *uint256.Int
	YieldShare *uint256.Int
	Won        bool
}

// Payout is the full amount owed to a user across all of their positions.
type Payout struct {
	MarketID   string
	User       common.Address
	Principal  *uint256.Int
	YieldShare *uint256.Int
	Total      *uint256.Int
	Positions  []PositionPayout
}
