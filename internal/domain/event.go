package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EventType names an observation emitted for external indexers. Events are
// advisory; the engine's own state is authoritative.
type EventType string

const (
	EventBetPlaced         EventType = "bet_placed"
	EventStateTransitioned EventType = "state_transitioned"
	EventOutcomeResolved   EventType = "outcome_resolved"
	EventWithdrawalMade    EventType = "withdrawal_made"
	EventTokenAttached     EventType = "outcome_token_attached"
)

// MarketEvent is a single observation about a market. Fields that do not
// apply to the event type are left zero.
type MarketEvent struct {
	Type      EventType      `json:"type"`
	MarketID  string         `json:"market_id"`
	User      common.Address `json:"user,omitempty"`
	Outcome   int            `json:"outcome"`
	Amount    *uint256.Int   `json:"amount,omitempty"`
	Yield     *uint256.Int   `json:"yield,omitempty"`
	From      MarketState    `json:"from"`
	To        MarketState    `json:"to"`
	Token     string         `json:"token,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
