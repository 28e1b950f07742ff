package handler

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/bettogether/internal/domain"
)

// Amounts are rendered as base-unit decimal strings so clients never lose
// precision.

type marketView struct {
	ID              string             `json:"id"`
	QuestionID      string             `json:"question_id"`
	EventName       string             `json:"event_name,omitempty"`
	Question        string             `json:"question"`
	Outcomes        []string           `json:"outcomes"`
	OutcomeTokens   []string           `json:"outcome_tokens"`
	OutcomeTotals   []string           `json:"outcome_totals"`
	Arbitrator      string             `json:"arbitrator"`
	Owner           string             `json:"owner"`
	Custody         string             `json:"custody"`
	OpeningTime     time.Time          `json:"opening_time"`
	ResolutionTime  time.Time          `json:"resolution_time"`
	State           domain.MarketState `json:"state"`
	ResolvedOutcome *int               `json:"resolved_outcome,omitempty"`
	TotalPrincipal  string             `json:"total_principal"`
	TotalRedeemed   string             `json:"total_redeemed"`
	YieldPool       string             `json:"yield_pool"`
	BetsWithdrawn   string             `json:"bets_withdrawn"`
	YieldPaid       string             `json:"yield_paid"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

func newMarketView(m domain.Market) marketView {
	v := marketView{
		ID:              m.ID,
		QuestionID:      m.QuestionID.Hex(),
		EventName:       m.EventName,
		Question:        m.Question,
		Outcomes:        nonNil(m.OutcomeNames),
		OutcomeTokens:   nonNil(m.OutcomeTokens),
		OutcomeTotals:   make([]string, len(m.OutcomeTotals)),
		Arbitrator:      m.Arbitrator.Hex(),
		Owner:           m.Owner.Hex(),
		Custody:         m.Custody.Hex(),
		OpeningTime:     m.OpeningTime,
		ResolutionTime:  m.ResolutionTime,
		State:           m.State,
		ResolvedOutcome: m.ResolvedOutcome,
		TotalPrincipal:  amount(m.TotalPrincipal),
		TotalRedeemed:   amount(m.TotalRedeemed),
		YieldPool:       m.YieldPool().Dec(),
		BetsWithdrawn:   amount(m.BetsWithdrawn),
		YieldPaid:       amount(m.YieldPaid),
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	for i, t := range m.OutcomeTotals {
		v.OutcomeTotals[i] = amount(t)
	}
	return v
}

type positionView struct {
	MarketID   string    `json:"market_id"`
	User       string    `json:"user"`
	Outcome    int       `json:"outcome"`
	Principal  string    `json:"principal"`
	Withdrawn  bool      `json:"withdrawn"`
	YieldShare string    `json:"yield_share,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func newPositionViews(ps []domain.Position) []positionView {
	out := make([]positionView, 0, len(ps))
	for _, p := range ps {
		v := positionView{
			MarketID:  p.MarketID,
			User:      p.User.Hex(),
			Outcome:   p.Outcome,
			Principal: amount(p.Principal),
			Withdrawn: p.Withdrawn,
			UpdatedAt: p.UpdatedAt,
		}
		if p.YieldShare != nil {
			v.YieldShare = p.YieldShare.Dec()
		}
		out = append(out, v)
	}
	return out
}

type payoutView struct {
	MarketID   string           `json:"market_id"`
	User       string           `json:"user"`
	Principal  string           `json:"principal"`
	YieldShare string           `json:"yield_share"`
	Total      string           `json:"total"`
	Positions  []payoutLineView `json:"positions"`
}

type payoutLineView struct {
	Outcome    int    `json:"outcome"`
	Principal  string `json:"principal"`
	YieldShare string `json:"yield_share"`
	Won        bool   `json:"won"`
}

func newPayoutView(p domain.Payout) payoutView {
	v := payoutView{
		MarketID:   p.MarketID,
		User:       p.User.Hex(),
		Principal:  amount(p.Principal),
		YieldShare: amount(p.YieldShare),
		Total:      amount(p.Total),
		Positions:  make([]payoutLineView, 0, len(p.Positions)),
	}
	for _, l := range p.Positions {
		v.Positions = append(v.Positions, payoutLineView{
			Outcome:    l.Outcome,
			Principal:  amount(l.Principal),
			YieldShare: amount(l.YieldShare),
			Won:        l.Won,
		})
	}
	return v
}

func amount(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return x.Dec()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
