package notify

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bettogether/internal/domain"
)

// Amounts renders token base units as human-readable decimals.
type Amounts struct {
	Symbol   string
	Decimals int32
}

// Format renders x with the asset's decimals and symbol, trimming trailing
// zeros: 1500000000000000000 with 18 decimals becomes "1.5 DAI".
func (a Amounts) Format(x *uint256.Int) string {
	if x == nil {
		x = new(uint256.Int)
	}
	s := decimal.NewFromBigInt(x.ToBig(), -a.Decimals).String()
	if a.Symbol == "" {
		return s
	}
	return s + " " + a.Symbol
}

// EventMessage builds the notification title and body for ev.
func (a Amounts) EventMessage(ev domain.MarketEvent) (title, body string) {
	switch ev.Type {
	case domain.EventBetPlaced:
		return "Bet placed",
			fmt.Sprintf("market %s: %s bet %s on outcome %d", ev.MarketID, ev.User.Hex(), a.Format(ev.Amount), ev.Outcome)
	case domain.EventStateTransitioned:
		return "Market state changed",
			fmt.Sprintf("market %s: %s -> %s", ev.MarketID, ev.From, ev.To)
	case domain.EventOutcomeResolved:
		return "Market resolved",
			fmt.Sprintf("market %s: winning outcome %d", ev.MarketID, ev.Outcome)
	case domain.EventWithdrawalMade:
		return "Withdrawal",
			fmt.Sprintf("market %s: %s withdrew principal %s plus yield %s", ev.MarketID, ev.User.Hex(), a.Format(ev.Amount), a.Format(ev.Yield))
	case domain.EventTokenAttached:
		return "Outcome token attached",
			fmt.Sprintf("market %s: outcome %d token %s", ev.MarketID, ev.Outcome, ev.Token)
	default:
		return string(ev.Type), fmt.Sprintf("market %s", ev.MarketID)
	}
}
