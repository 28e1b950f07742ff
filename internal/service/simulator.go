package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/bettogether/internal/asset"
	"github.com/alanyoungcy/bettogether/internal/domain"
	"github.com/alanyoungcy/bettogether/internal/oracle"
	"github.com/alanyoungcy/bettogether/internal/yield"
)

// Simulator drives the in-memory collaborators: it mints and approves the
// base asset, accrues interest on a market's yield position and answers
// oracle questions. It only exists when the service runs without a chain.
type Simulator struct {
	svc    *MarketService
	asset  *asset.Ledger
	pool   *yield.SimulatedPool
	oracle *oracle.Manual
	logger *slog.Logger
}

// NewSimulator creates a Simulator over the in-memory collaborators.
func NewSimulator(svc *MarketService, a *asset.Ledger, pool *yield.SimulatedPool, o *oracle.Manual, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{
		svc:    svc,
		asset:  a,
		pool:   pool,
		oracle: o,
		logger: logger.With(slog.String("component", "simulator")),
	}
}

// Mint credits amount of the base asset to account.
func (s *Simulator) Mint(ctx context.Context, account common.Address, amount *uint256.Int) error {
	return s.asset.Mint(ctx, account, amount)
}

// Approve sets the allowance owner grants to the market's custody account.
func (s *Simulator) Approve(ctx context.Context, marketID string, owner common.Address, amount *uint256.Int) error {
	m, err := s.svc.Market(marketID)
	if err != nil {
		return err
	}
	return s.asset.Approve(ctx, owner, m.Custody(), amount)
}

// Balance returns account's base-asset balance.
func (s *Simulator) Balance(ctx context.Context, account common.Address) (*uint256.Int, error) {
	return s.asset.BalanceOf(ctx, account)
}

// Accrue grows the market's yield position by bps basis points and returns
// the interest added.
func (s *Simulator) Accrue(ctx context.Context, marketID string, bps uint64) (*uint256.Int, error) {
	m, err := s.svc.Market(marketID)
	if err != nil {
		return nil, err
	}
	return s.pool.Accrue(ctx, m.Custody(), bps)
}

// Answer finalizes the oracle answer for the market's question.
func (s *Simulator) Answer(_ context.Context, marketID string, outcome int) error {
	m, err := s.svc.Market(marketID)
	if err != nil {
		return err
	}
	return s.oracle.SetResult(m.Snapshot().QuestionID, outcome)
}

// ReferenceBet is one bet in the reference walkthrough.
type ReferenceBet struct {
	User    common.Address
	Outcome int
	Amount  uint64
}

// ReferenceRun is the outcome of RunReference.
type ReferenceRun struct {
	Market  domain.Market
	Payouts []domain.Payout
}

// ReferenceBets is the walkthrough's betting book: 1000 on outcome 0 from
// three users and 500 on outcome 1 from two, one of whom also backs 0.
func ReferenceBets() []ReferenceBet {
	a := common.HexToAddress("0x00000000000000000000000000000000000000a0")
	b := common.HexToAddress("0x00000000000000000000000000000000000000b0")
	c := common.HexToAddress("0x00000000000000000000000000000000000000c0")
	d := common.HexToAddress("0x00000000000000000000000000000000000000d0")
	return []ReferenceBet{
		{a, 0, 200},
		{b, 0, 300},
		{c, 0, 500},
		{c, 1, 100},
		{d, 1, 400},
	}
}

// RunReference plays a full market against the simulated collaborators:
// two outcomes, the ReferenceBets book, 10% yield, outcome 1 wins, and
// every bettor withdraws. With these numbers the winners receive 630 and
// 520 and the losers get their principal back.
func (s *Simulator) RunReference(ctx context.Context, owner common.Address) (ReferenceRun, error) {
	now := time.Now().UTC()
	q := oracle.Question{
		Title:    "Who will win the election?",
		Outcomes: []string{"Donald Trump", "Joe Biden"},
		Category: "politics",
		Lang:     "en",
	}
	snap, err := s.svc.CreateMarket(ctx, domain.CreateMarketParams{
		Question:       q.String(),
		OutcomeCount:   len(q.Outcomes),
		OpeningTime:    now,
		ResolutionTime: now,
		Owner:          owner,
	})
	if err != nil {
		return ReferenceRun{}, err
	}
	id := snap.ID

	for i, name := range q.Outcomes {
		if _, err := s.svc.DeployOutcomeToken(ctx, id, owner, name, fmt.Sprintf("OUT%d", i)); err != nil {
			return ReferenceRun{}, err
		}
	}
	if _, err := s.svc.IncrementState(ctx, id, owner); err != nil {
		return ReferenceRun{}, err
	}

	bets := ReferenceBets()
	for _, b := range bets {
		amt := uint256.NewInt(b.Amount)
		if err := s.Mint(ctx, b.User, amt); err != nil {
			return ReferenceRun{}, err
		}
		m, err := s.svc.Market(id)
		if err != nil {
			return ReferenceRun{}, err
		}
		allowance := new(uint256.Int).Add(s.asset.Allowance(b.User, m.Custody()), amt)
		if err := s.asset.Approve(ctx, b.User, m.Custody(), allowance); err != nil {
			return ReferenceRun{}, err
		}
		if _, err := s.svc.PlaceBet(ctx, id, b.User, b.Outcome, amt); err != nil {
			return ReferenceRun{}, err
		}
	}

	interest, err := s.Accrue(ctx, id, 1000)
	if err != nil {
		return ReferenceRun{}, err
	}
	s.logger.InfoContext(ctx, "yield accrued", slog.String("market_id", id), slog.String("interest", interest.Dec()))

	if _, err := s.svc.IncrementState(ctx, id, owner); err != nil {
		return ReferenceRun{}, err
	}
	if err := s.Answer(ctx, id, 1); err != nil {
		return ReferenceRun{}, err
	}
	if _, err := s.svc.DetermineWinner(ctx, id, owner); err != nil {
		return ReferenceRun{}, err
	}

	run := ReferenceRun{}
	seen := make(map[common.Address]bool)
	for _, b := range bets {
		if seen[b.User] {
			continue
		}
		seen[b.User] = true
		p, err := s.svc.Withdraw(ctx, id, b.User)
		if err != nil {
			return ReferenceRun{}, err
		}
		s.logger.InfoContext(ctx, "payout",
			slog.String("user", b.User.Hex()),
			slog.String("principal", p.Principal.Dec()),
			slog.String("yield", p.YieldShare.Dec()),
			slog.String("total", p.Total.Dec()),
		)
		run.Payouts = append(run.Payouts, p)
	}
	if run.Market, err = s.svc.GetMarket(ctx, id); err != nil {
		return ReferenceRun{}, err
	}
	return run, nil
}
