// Package settlement is the per-market settlement engine: the lifecycle
// state machine, the stake ledger and the payout arithmetic. It talks to
// the base asset, the yield bridge and the oracle only through the
// interfaces in domain.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/bettogether/internal/domain"
)

// Config fixes a market's identity and schedule at creation.
type Config struct {
	ID             string
	QuestionID     common.Hash
	EventName      string
	Question       string
	OutcomeNames   []string
	OutcomeCount   int
	OpeningTime    time.Time
	ResolutionTime time.Time
	Arbitrator     common.Address
	Owner          common.Address
	// Custody is the base-asset account that receives bets and pays out
	// withdrawals.
	Custody common.Address
	// MinBettingPeriod is how long betting must stay open before it can
	// be closed. Zero leaves the close entirely to the operator.
	MinBettingPeriod time.Duration
}

// Deps are the collaborators a market talks to.
type Deps struct {
	Asset  domain.BaseAsset
	Bridge domain.YieldBridge
	Oracle domain.OracleGateway
	Auth   Authorizer
	Sink   EventSink
	Clock  func() time.Time
	Logger *slog.Logger
}

// Market is the settlement engine for a single market. All mutation is
// serialized behind mu. Operations that pay value out commit their effects
// first, release the lock for the external call, and roll back if that call
// fails, so a re-entrant call sees the committed state.
type Market struct {
	cfg    Config
	asset  domain.BaseAsset
	bridge domain.YieldBridge
	oracle domain.OracleGateway
	auth   Authorizer
	sink   EventSink
	now    func() time.Time
	logger *slog.Logger

	mu              sync.Mutex
	state           domain.MarketState
	ledger          *Ledger
	tokens          []domain.OutcomeToken
	bettingOpenedAt time.Time
	redeeming       bool
	redeemed        bool
	totalRedeemed   *uint256.Int
	resolved        *int
	betsWithdrawn   *uint256.Int
	yieldPaid       *uint256.Int
	createdAt       time.Time
	updatedAt       time.Time
}

// NewMarket validates cfg and returns a market in the Created state.
func NewMarket(cfg Config, deps Deps) (*Market, error) {
	if cfg.ID == "" {
		return nil, errors.New("settlement: market id is required")
	}
	if cfg.OutcomeCount < 2 {
		return nil, fmt.Errorf("settlement: outcome count %d: %w", cfg.OutcomeCount, domain.ErrInvalidOutcome)
	}
	if len(cfg.OutcomeNames) != 0 && len(cfg.OutcomeNames) != cfg.OutcomeCount {
		return nil, fmt.Errorf("settlement: %d outcome names for %d outcomes: %w",
			len(cfg.OutcomeNames), cfg.OutcomeCount, domain.ErrInvalidOutcome)
	}
	if !cfg.ResolutionTime.IsZero() && cfg.ResolutionTime.Before(cfg.OpeningTime) {
		return nil, errors.New("settlement: resolution time before opening time")
	}
	if deps.Asset == nil || deps.Bridge == nil || deps.Oracle == nil {
		return nil, errors.New("settlement: asset, bridge and oracle are required")
	}
	if deps.Auth == nil {
		deps.Auth = OwnerPolicy{Owner: cfg.Owner}
	}
	if deps.Sink == nil {
		deps.Sink = nopSink{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	now := deps.Clock().UTC()
	return &Market{
		cfg:           cfg,
		asset:         deps.Asset,
		bridge:        deps.Bridge,
		oracle:        deps.Oracle,
		auth:          deps.Auth,
		sink:          deps.Sink,
		now:           deps.Clock,
		logger:        deps.Logger.With(slog.String("component", "market"), slog.String("market_id", cfg.ID)),
		state:         domain.MarketStateCreated,
		ledger:        NewLedger(cfg.ID, cfg.OutcomeCount),
		totalRedeemed: new(uint256.Int),
		betsWithdrawn: new(uint256.Int),
		yieldPaid:     new(uint256.Int),
		createdAt:     now,
		updatedAt:     now,
	}, nil
}

// ID returns the market identifier.
func (m *Market) ID() string { return m.cfg.ID }

// Custody returns the account holding the market's base asset.
func (m *Market) Custody() common.Address { return m.cfg.Custody }

// OutcomeCount returns the fixed number of outcomes.
func (m *Market) OutcomeCount() int { return m.cfg.OutcomeCount }

// State returns the current lifecycle state.
func (m *Market) State() domain.MarketState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// AttachOutcomeToken binds the next outcome's accounting token. Tokens are
// attached in outcome order and must have distinct names.
func (m *Market) AttachOutcomeToken(ctx context.Context, caller common.Address, token domain.OutcomeToken) error {
	if err := m.auth.Authorize(ctx, caller, ActionAttachToken); err != nil {
		return err
	}
	if token == nil {
		return errors.New("settlement: nil outcome token")
	}

	m.mu.Lock()
	if m.state != domain.MarketStateCreated {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("attach token in %s: %w", state, domain.ErrInvalidStateTransition)
	}
	if len(m.tokens) >= m.cfg.OutcomeCount {
		m.mu.Unlock()
		return fmt.Errorf("all %d outcome tokens attached: %w", m.cfg.OutcomeCount, domain.ErrAlreadyExists)
	}
	for _, t := range m.tokens {
		if t.Name() == token.Name() {
			m.mu.Unlock()
			return fmt.Errorf("outcome token %q: %w", token.Name(), domain.ErrAlreadyExists)
		}
	}
	outcome := len(m.tokens)
	m.tokens = append(m.tokens, token)
	m.updatedAt = m.now().UTC()
	m.mu.Unlock()

	m.emit(ctx, domain.MarketEvent{Type: domain.EventTokenAttached, Outcome: outcome, Token: token.Name()})
	return nil
}

// IncrementState advances the market one step. Created moves to Betting
// once every outcome has a token. Betting moves to AwaitingResolution and
// redeems the yield position exactly once. Resolution goes through
// DetermineWinner.
func (m *Market) IncrementState(ctx context.Context, caller common.Address) error {
	if err := m.auth.Authorize(ctx, caller, ActionIncrementState); err != nil {
		return err
	}

	m.mu.Lock()
	switch m.state {
	case domain.MarketStateCreated:
		if len(m.tokens) != m.cfg.OutcomeCount {
			n := len(m.tokens)
			m.mu.Unlock()
			return fmt.Errorf("%d of %d outcome tokens attached: %w", n, m.cfg.OutcomeCount, domain.ErrInvalidStateTransition)
		}
		now := m.now().UTC()
		m.state = domain.MarketStateBetting
		m.bettingOpenedAt = now
		m.updatedAt = now
		m.mu.Unlock()
		m.emitTransition(ctx, domain.MarketStateCreated, domain.MarketStateBetting)
		return nil

	case domain.MarketStateBetting:
		return m.closeBetting(ctx)

	case domain.MarketStateAwaitingResolution:
		redeeming := m.redeeming
		m.mu.Unlock()
		if redeeming {
			return domain.ErrRedemptionAlreadyPerformed
		}
		return fmt.Errorf("awaiting resolution, use determine winner: %w", domain.ErrInvalidStateTransition)

	default:
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("no transition from %s: %w", state, domain.ErrInvalidStateTransition)
	}
}

// closeBetting is entered with mu held.
func (m *Market) closeBetting(ctx context.Context) error {
	now := m.now().UTC()
	if earliest := m.bettingOpenedAt.Add(m.cfg.MinBettingPeriod); now.Before(earliest) {
		m.mu.Unlock()
		return fmt.Errorf("betting open until %s: %w", earliest.Format(time.RFC3339), domain.ErrInvalidStateTransition)
	}
	if m.redeeming || m.redeemed {
		m.mu.Unlock()
		return domain.ErrRedemptionAlreadyPerformed
	}
	m.state = domain.MarketStateAwaitingResolution
	m.redeeming = true
	m.updatedAt = now
	principal := m.ledger.Total()
	m.mu.Unlock()

	total, err := m.bridge.RedeemAll(ctx)

	m.mu.Lock()
	m.redeeming = false
	if err != nil {
		m.state = domain.MarketStateBetting
		m.mu.Unlock()
		m.logger.ErrorContext(ctx, "yield redemption failed, betting reopened",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("settlement: redeem all: %w", err)
	}
	if total == nil {
		total = new(uint256.Int)
	}
	m.redeemed = true
	m.totalRedeemed = total.Clone()
	m.updatedAt = m.now().UTC()
	m.mu.Unlock()

	pool := YieldPool(total, principal)
	if total.Lt(principal) {
		m.logger.WarnContext(ctx, "bridge returned less than principal",
			slog.String("principal", principal.Dec()),
			slog.String("redeemed", total.Dec()),
		)
	}
	m.logger.InfoContext(ctx, "betting closed",
		slog.String("principal", principal.Dec()),
		slog.String("redeemed", total.Dec()),
		slog.String("yield_pool", pool.Dec()),
	)
	m.emit(ctx, domain.MarketEvent{
		Type:   domain.EventStateTransitioned,
		From:   domain.MarketStateBetting,
		To:     domain.MarketStateAwaitingResolution,
		Amount: total.Clone(),
		Yield:  pool,
	})
	return nil
}

// PlaceBet pulls amount from user into custody, deposits it into the yield
// bridge and records it. The user must have approved the custody account.
// The lock is held across the deposit so redemption can never race it.
func (m *Market) PlaceBet(ctx context.Context, user common.Address, outcome int, amount *uint256.Int) error {
	m.mu.Lock()
	if m.state != domain.MarketStateBetting {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("bet in %s: %w", state, domain.ErrMarketNotOpen)
	}
	if err := m.ledger.ValidateBet(user, outcome, amount); err != nil {
		m.mu.Unlock()
		return err
	}
	amount = amount.Clone()

	if err := m.asset.TransferFrom(ctx, m.cfg.Custody, user, m.cfg.Custody, amount); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("settlement: pull stake: %w", err)
	}
	if err := m.bridge.Deposit(ctx, amount); err != nil {
		if rerr := m.asset.Transfer(ctx, m.cfg.Custody, user, amount); rerr != nil {
			m.logger.ErrorContext(ctx, "refund after failed deposit",
				slog.String("user", user.Hex()),
				slog.String("amount", amount.Dec()),
				slog.String("error", rerr.Error()),
			)
		}
		m.mu.Unlock()
		return fmt.Errorf("settlement: deposit: %w", err)
	}
	now := m.now().UTC()
	if err := m.ledger.RecordBet(user, outcome, amount, now); err != nil {
		// The stake already sits in the bridge; surface it for reconciliation.
		m.logger.ErrorContext(ctx, "ledger rejected validated bet",
			slog.String("user", user.Hex()),
			slog.Int("outcome", outcome),
			slog.String("amount", amount.Dec()),
			slog.String("error", err.Error()),
		)
		m.mu.Unlock()
		return fmt.Errorf("settlement: record bet: %w", err)
	}
	m.updatedAt = now
	token := m.tokens[outcome]
	m.mu.Unlock()

	// Outcome tokens are receipts only; the ledger stays authoritative.
	if err := token.Mint(ctx, user, amount); err != nil {
		m.logger.WarnContext(ctx, "outcome token mint failed",
			slog.String("user", user.Hex()),
			slog.Int("outcome", outcome),
			slog.String("error", err.Error()),
		)
	}

	m.emit(ctx, domain.MarketEvent{Type: domain.EventBetPlaced, User: user, Outcome: outcome, Amount: amount})
	return nil
}

// DetermineWinner reads the final answer from the oracle and resolves the
// market. It fails with ErrOutcomeNotFinal before ResolutionTime or while
// the oracle has not settled.
func (m *Market) DetermineWinner(ctx context.Context, caller common.Address) (int, error) {
	if err := m.auth.Authorize(ctx, caller, ActionDetermineWinner); err != nil {
		return 0, err
	}

	m.mu.Lock()
	if m.state != domain.MarketStateAwaitingResolution {
		state := m.state
		m.mu.Unlock()
		return 0, fmt.Errorf("determine winner in %s: %w", state, domain.ErrInvalidStateTransition)
	}
	if !m.redeemed {
		m.mu.Unlock()
		return 0, fmt.Errorf("redemption in progress: %w", domain.ErrInvalidStateTransition)
	}
	if now := m.now(); now.Before(m.cfg.ResolutionTime) {
		m.mu.Unlock()
		return 0, fmt.Errorf("resolution time %s not reached: %w",
			m.cfg.ResolutionTime.UTC().Format(time.RFC3339), domain.ErrOutcomeNotFinal)
	}
	qid := m.cfg.QuestionID
	m.mu.Unlock()

	outcome, err := m.oracle.FinalOutcome(ctx, qid)
	if err != nil {
		return 0, fmt.Errorf("settlement: final outcome: %w", err)
	}
	if outcome < 0 || outcome >= m.cfg.OutcomeCount {
		return 0, fmt.Errorf("oracle answered %d: %w", outcome, domain.ErrInvalidOutcome)
	}

	m.mu.Lock()
	if m.state != domain.MarketStateAwaitingResolution {
		m.mu.Unlock()
		return 0, fmt.Errorf("market already resolved: %w", domain.ErrInvalidStateTransition)
	}
	m.state = domain.MarketStateResolved
	m.resolved = &outcome
	m.updatedAt = m.now().UTC()
	winning := m.ledger.OutcomeTotal(outcome)
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "market resolved",
		slog.Int("outcome", outcome),
		slog.String("winning_total", winning.Dec()),
	)
	m.emitTransition(ctx, domain.MarketStateAwaitingResolution, domain.MarketStateResolved)
	m.emit(ctx, domain.MarketEvent{Type: domain.EventOutcomeResolved, Outcome: outcome, Amount: winning})
	return outcome, nil
}

// Withdraw pays the user principal on every position plus their yield share
// on the winning outcome. All positions settle in one call; a second call
// fails with ErrAlreadyWithdrawn.
func (m *Market) Withdraw(ctx context.Context, user common.Address) (domain.Payout, error) {
	m.mu.Lock()
	payout, err := m.payoutLocked(user)
	if err != nil {
		m.mu.Unlock()
		return domain.Payout{}, err
	}
	for _, p := range m.ledger.PositionsOf(user) {
		if p.Withdrawn {
			m.mu.Unlock()
			return domain.Payout{}, domain.ErrAlreadyWithdrawn
		}
	}
	newWithdrawn, o1 := new(uint256.Int).AddOverflow(m.betsWithdrawn, payout.Principal)
	newYield, o2 := new(uint256.Int).AddOverflow(m.yieldPaid, payout.YieldShare)
	if o1 || o2 {
		m.mu.Unlock()
		return domain.Payout{}, fmt.Errorf("settlement: withdraw totals: %w", domain.ErrAmountOverflow)
	}
	now := m.now().UTC()
	m.ledger.settle(user, payout, now)
	m.betsWithdrawn = newWithdrawn
	m.yieldPaid = newYield
	m.updatedAt = now
	m.mu.Unlock()

	if err := m.asset.Transfer(ctx, m.cfg.Custody, user, payout.Total); err != nil {
		m.mu.Lock()
		// Other withdrawals may have landed while mu was released; back out
		// only this payout.
		m.ledger.unsettle(user, payout)
		m.betsWithdrawn = new(uint256.Int).Sub(m.betsWithdrawn, payout.Principal)
		m.yieldPaid = new(uint256.Int).Sub(m.yieldPaid, payout.YieldShare)
		m.mu.Unlock()
		return domain.Payout{}, fmt.Errorf("settlement: pay out: %w", err)
	}

	m.logger.InfoContext(ctx, "withdrawal",
		slog.String("user", user.Hex()),
		slog.String("principal", payout.Principal.Dec()),
		slog.String("yield", payout.YieldShare.Dec()),
	)
	m.emit(ctx, domain.MarketEvent{
		Type:   domain.EventWithdrawalMade,
		User:   user,
		Amount: payout.Principal.Clone(),
		Yield:  payout.YieldShare.Clone(),
	})
	return payout, nil
}

// PreviewPayout computes what Withdraw would pay the user without moving
// anything. It ignores whether the positions were already withdrawn.
func (m *Market) PreviewPayout(user common.Address) (domain.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payoutLocked(user)
}

func (m *Market) payoutLocked(user common.Address) (domain.Payout, error) {
	if m.state != domain.MarketStateResolved {
		return domain.Payout{}, domain.ErrMarketNotResolved
	}
	positions := m.ledger.PositionsOf(user)
	if len(positions) == 0 {
		return domain.Payout{}, domain.ErrNoStake
	}
	resolved := *m.resolved
	pool := YieldPool(m.totalRedeemed, m.ledger.Total())
	return ComputePayout(positions, resolved, pool, m.ledger.OutcomeTotal(resolved))
}

// PositionOf returns the user's principal on outcome.
func (m *Market) PositionOf(user common.Address, outcome int) *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.PositionOf(user, outcome)
}

// PositionsOf returns every position the user holds.
func (m *Market) PositionsOf(user common.Address) []domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.PositionsOf(user)
}

// Positions returns every position in the market.
func (m *Market) Positions() []domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.Positions()
}

// Remaining is what custody still holds for the market after redemption:
// unwithdrawn principal and yield plus truncation dust. Dust is never swept.
func (m *Market) Remaining() *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remainingLocked()
}

func (m *Market) remainingLocked() *uint256.Int {
	out := m.totalRedeemed.Clone()
	paid := new(uint256.Int).Add(m.betsWithdrawn, m.yieldPaid)
	if out.Lt(paid) {
		return new(uint256.Int)
	}
	return out.Sub(out, paid)
}

// FullyWithdrawn reports whether every position has been paid out.
func (m *Market) FullyWithdrawn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == domain.MarketStateResolved && m.betsWithdrawn.Eq(m.ledger.Total())
}

// Snapshot returns a copy of the market's current state.
func (m *Market) Snapshot() domain.Market {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := domain.Market{
		ID:             m.cfg.ID,
		QuestionID:     m.cfg.QuestionID,
		EventName:      m.cfg.EventName,
		Question:       m.cfg.Question,
		OutcomeNames:   append([]string(nil), m.cfg.OutcomeNames...),
		OutcomeCount:   m.cfg.OutcomeCount,
		Arbitrator:     m.cfg.Arbitrator,
		Owner:          m.cfg.Owner,
		Custody:        m.cfg.Custody,
		OpeningTime:    m.cfg.OpeningTime,
		ResolutionTime: m.cfg.ResolutionTime,
		State:          m.state,
		OutcomeTotals:  m.ledger.OutcomeTotals(),
		TotalPrincipal: m.ledger.Total(),
		TotalRedeemed:  m.totalRedeemed.Clone(),
		BetsWithdrawn:  m.betsWithdrawn.Clone(),
		YieldPaid:      m.yieldPaid.Clone(),
		CreatedAt:      m.createdAt,
		UpdatedAt:      m.updatedAt,
	}
	if m.resolved != nil {
		r := *m.resolved
		snap.ResolvedOutcome = &r
	}
	for _, t := range m.tokens {
		snap.OutcomeTokens = append(snap.OutcomeTokens, t.Name())
	}
	return snap
}

func (m *Market) emitTransition(ctx context.Context, from, to domain.MarketState) {
	m.emit(ctx, domain.MarketEvent{Type: domain.EventStateTransitioned, From: from, To: to})
}

func (m *Market) emit(ctx context.Context, ev domain.MarketEvent) {
	ev.MarketID = m.cfg.ID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = m.now().UTC()
	}
	m.sink.Emit(ctx, ev)
}
