package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// MarketState is the lifecycle stage of a market. States only ever move
// forward, one step at a time.
type MarketState uint8

const (
	MarketStateCreated MarketState = iota
	MarketStateBetting
	MarketStateAwaitingResolution
	MarketStateResolved
)

var marketStateNames = [...]string{
	MarketStateCreated:            "created",
	MarketStateBetting:            "betting",
	MarketStateAwaitingResolution: "awaiting_resolution",
	MarketStateResolved:           "resolved",
}

func (s MarketState) String() string {
	if int(s) < len(marketStateNames) {
		return marketStateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// MarshalText encodes the state by name so JSON and logs stay readable.
func (s MarketState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *MarketState) UnmarshalText(text []byte) error {
	st, err := ParseMarketState(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ParseMarketState maps a state name back to its MarketState.
func ParseMarketState(name string) (MarketState, error) {
	for i, n := range marketStateNames {
		if strings.EqualFold(n, name) {
			return MarketState(i), nil
		}
	}
	return 0, fmt.Errorf("unknown market state %q", name)
}

// Market is a point-in-time snapshot of a single market. The live state is
// owned by the settlement engine; this struct is what gets persisted,
// cached and served.
type Market struct {
	ID              string
	QuestionID      common.Hash
	EventName       string
	Question        string
	OutcomeNames    []string
	OutcomeCount    int
	Arbitrator      common.Address
	Owner           common.Address
	Custody         common.Address
	OpeningTime     time.Time
	ResolutionTime  time.Time
	State           MarketState
	ResolvedOutcome *int
	OutcomeTokens   []string
	OutcomeTotals   []*uint256.Int
	TotalPrincipal  *uint256.Int
	TotalRedeemed   *uint256.Int
	BetsWithdrawn   *uint256.Int
	YieldPaid       *uint256.Int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// YieldPool is the surplus the bridge returned over total principal. It is
// zero before redemption and whenever the bridge reported no surplus.
func (m Market) YieldPool() *uint256.Int {
	if m.TotalRedeemed == nil || m.TotalPrincipal == nil || !m.TotalRedeemed.Gt(m.TotalPrincipal) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(m.TotalRedeemed, m.TotalPrincipal)
}

// CreateMarketParams carries the factory inputs for a new market.
type CreateMarketParams struct {
	EventName      string
	Question       string
	OutcomeCount   int
	OpeningTime    time.Time
	ResolutionTime time.Time
	Arbitrator     common.Address
	Owner          common.Address
}
