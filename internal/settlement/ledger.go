package settlement

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/bettogether/internal/domain"
)

type stakeKey struct {
	user    common.Address
	outcome int
}

type stake struct {
	principal  *uint256.Int
	withdrawn  bool
	yieldShare *uint256.Int
	updatedAt  time.Time
}

// Ledger tracks per-(user, outcome) principal and the running totals for a
// single market. It is not safe for concurrent use; Market serializes access.
type Ledger struct {
	marketID     string
	outcomeCount int
	stakes       map[stakeKey]*stake
	outcomeTotal []*uint256.Int
	total        *uint256.Int
}

// NewLedger returns an empty ledger for a market with outcomeCount outcomes.
func NewLedger(marketID string, outcomeCount int) *Ledger {
	totals := make([]*uint256.Int, outcomeCount)
	for i := range totals {
		totals[i] = new(uint256.Int)
	}
	return &Ledger{
		marketID:     marketID,
		outcomeCount: outcomeCount,
		stakes:       make(map[stakeKey]*stake),
		outcomeTotal: totals,
		total:        new(uint256.Int),
	}
}

// ValidateBet reports whether RecordBet would accept the bet, without
// mutating anything. Outcome is checked before amount.
func (l *Ledger) ValidateBet(user common.Address, outcome int, amount *uint256.Int) error {
	if outcome < 0 || outcome >= l.outcomeCount {
		return fmt.Errorf("%w: %d not in [0, %d)", domain.ErrInvalidOutcome, outcome, l.outcomeCount)
	}
	if amount == nil || amount.IsZero() {
		return domain.ErrZeroAmount
	}
	_, _, _, err := l.sums(user, outcome, amount)
	return err
}

// RecordBet adds amount to the user's position on outcome, to the outcome
// total and to the grand total. Either all three move or none does.
func (l *Ledger) RecordBet(user common.Address, outcome int, amount *uint256.Int, at time.Time) error {
	if err := l.ValidateBet(user, outcome, amount); err != nil {
		return err
	}
	pos, outTotal, grand, _ := l.sums(user, outcome, amount)

	key := stakeKey{user: user, outcome: outcome}
	s, ok := l.stakes[key]
	if !ok {
		s = &stake{}
		l.stakes[key] = s
	}
	s.principal = pos
	s.updatedAt = at
	l.outcomeTotal[outcome] = outTotal
	l.total = grand
	return nil
}

func (l *Ledger) sums(user common.Address, outcome int, amount *uint256.Int) (pos, outTotal, grand *uint256.Int, err error) {
	cur := new(uint256.Int)
	if s, ok := l.stakes[stakeKey{user: user, outcome: outcome}]; ok {
		cur = s.principal
	}
	var overflow bool
	if pos, overflow = new(uint256.Int).AddOverflow(cur, amount); overflow {
		return nil, nil, nil, domain.ErrAmountOverflow
	}
	if outTotal, overflow = new(uint256.Int).AddOverflow(l.outcomeTotal[outcome], amount); overflow {
		return nil, nil, nil, domain.ErrAmountOverflow
	}
	if grand, overflow = new(uint256.Int).AddOverflow(l.total, amount); overflow {
		return nil, nil, nil, domain.ErrAmountOverflow
	}
	return pos, outTotal, grand, nil
}

// PositionOf returns the user's principal on outcome, zero if they never
// bet on it.
func (l *Ledger) PositionOf(user common.Address, outcome int) *uint256.Int {
	if s, ok := l.stakes[stakeKey{user: user, outcome: outcome}]; ok {
		return s.principal.Clone()
	}
	return new(uint256.Int)
}

// PositionsOf returns every position the user holds, ordered by outcome.
func (l *Ledger) PositionsOf(user common.Address) []domain.Position {
	var out []domain.Position
	for o := 0; o < l.outcomeCount; o++ {
		if s, ok := l.stakes[stakeKey{user: user, outcome: o}]; ok {
			out = append(out, l.position(user, o, s))
		}
	}
	return out
}

// Positions returns every position in the ledger ordered by user then
// outcome.
func (l *Ledger) Positions() []domain.Position {
	out := make([]domain.Position, 0, len(l.stakes))
	for k, s := range l.stakes {
		out = append(out, l.position(k.user, k.outcome, s))
	}
	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].User[:], out[j].User[:]); c != 0 {
			return c < 0
		}
		return out[i].Outcome < out[j].Outcome
	})
	return out
}

func (l *Ledger) position(user common.Address, outcome int, s *stake) domain.Position {
	p := domain.Position{
		MarketID:  l.marketID,
		User:      user,
		Outcome:   outcome,
		Principal: s.principal.Clone(),
		Withdrawn: s.withdrawn,
		UpdatedAt: s.updatedAt,
	}
	if s.yieldShare != nil {
		p.YieldShare = s.yieldShare.Clone()
	}
	return p
}

// OutcomeTotal returns the sum of principal bet on outcome.
func (l *Ledger) OutcomeTotal(outcome int) *uint256.Int {
	if outcome < 0 || outcome >= l.outcomeCount {
		return new(uint256.Int)
	}
	return l.outcomeTotal[outcome].Clone()
}

// OutcomeTotals returns a copy of every outcome total.
func (l *Ledger) OutcomeTotals() []*uint256.Int {
	out := make([]*uint256.Int, len(l.outcomeTotal))
	for i, t := range l.outcomeTotal {
		out[i] = t.Clone()
	}
	return out
}

// Total returns the grand total of principal deposited.
func (l *Ledger) Total() *uint256.Int {
	return l.total.Clone()
}

// Bettors returns the number of distinct positions.
func (l *Ledger) Bettors() int {
	return len(l.stakes)
}

// settle marks every position in p as withdrawn and records its yield
// share.
func (l *Ledger) settle(user common.Address, p domain.Payout, at time.Time) {
	for _, pp := range p.Positions {
		s := l.stakes[stakeKey{user: user, outcome: pp.Outcome}]
		s.withdrawn = true
		s.yieldShare = pp.YieldShare.Clone()
		s.updatedAt = at
	}
}

// unsettle reverses settle after a failed transfer.
func (l *Ledger) unsettle(user common.Address, p domain.Payout) {
	for _, pp := range p.Positions {
		s := l.stakes[stakeKey{user: user, outcome: pp.Outcome}]
		s.withdrawn = false
		s.yieldShare = nil
	}
}
