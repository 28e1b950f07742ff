package settlement_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bettogether/internal/asset"
	"github.com/alanyoungcy/bettogether/internal/domain"
	"github.com/alanyoungcy/bettogether/internal/oracle"
	"github.com/alanyoungcy/bettogether/internal/settlement"
	"github.com/alanyoungcy/bettogether/internal/yield"
)

const (
	lose = 0
	win  = 1

	electionQuestion = `Who will win the 2020 US General Election␟"Donald Trump","Joe Biden"␟news-politics␟en_US`
)

var (
	owner   = common.HexToAddress("0x0e")
	custody = common.HexToAddress("0xc0")
	reserve = common.HexToAddress("0x9001")
	userA   = common.HexToAddress("0xa0")
	userB   = common.HexToAddress("0xb0")
	userC   = common.HexToAddress("0xc2")
	userD   = common.HexToAddress("0xd0")
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	dai    *asset.Ledger
	pool   *yield.SimulatedPool
	oracle *oracle.Manual
	events *settlement.Recorder
	clock  *clock
	qid    common.Hash
	market *settlement.Market
}

type option func(*settlement.Config, *settlement.Deps)

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{
		t:      t,
		ctx:    ctx,
		dai:    asset.NewLedger("DAI", 18),
		oracle: oracle.NewManual(owner),
		events: &settlement.Recorder{},
		clock:  &clock{now: time.Unix(1_600_000_000, 0).UTC()},
	}
	h.pool = yield.NewSimulatedPool(h.dai, reserve)

	qid, err := h.oracle.PostQuestion(ctx, domain.QuestionRequest{Question: electionQuestion, OutcomeCount: 2})
	require.NoError(t, err)
	h.qid = qid
	bridge, err := h.pool.BridgeFor(ctx, "m1", custody)
	require.NoError(t, err)

	cfg := settlement.Config{
		ID:             "m1",
		QuestionID:     qid,
		EventName:      "Who will win the 2020 US General Election",
		Question:       electionQuestion,
		OutcomeNames:   []string{"Donald Trump", "Joe Biden"},
		OutcomeCount:   2,
		OpeningTime:    h.clock.Now(),
		ResolutionTime: h.clock.Now().Add(24 * time.Hour),
		Owner:          owner,
		Custody:        custody,
	}
	deps := settlement.Deps{
		Asset:  h.dai,
		Bridge: bridge,
		Oracle: h.oracle,
		Sink:   h.events,
		Clock:  h.clock.Now,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(&cfg, &deps)
	}
	h.market, err = settlement.NewMarket(cfg, deps)
	require.NoError(t, err)
	return h
}

// open attaches both outcome tokens and starts betting.
func (h *harness) open() {
	h.t.Helper()
	tokens := asset.NewOutcomeTokens()
	for _, n := range [][2]string{{"Donald Trump", "MBtrump"}, {"Joe Biden", "MBbiden"}} {
		tok, err := tokens.Deploy(h.ctx, n[0], n[1])
		require.NoError(h.t, err)
		require.NoError(h.t, h.market.AttachOutcomeToken(h.ctx, owner, tok))
	}
	require.NoError(h.t, h.market.IncrementState(h.ctx, owner))
}

func (h *harness) fund(user common.Address, n uint64) {
	h.t.Helper()
	amt := uint256.NewInt(n)
	require.NoError(h.t, h.dai.Mint(h.ctx, user, amt))
	allowed := new(uint256.Int).Add(h.dai.Allowance(user, custody), amt)
	require.NoError(h.t, h.dai.Approve(h.ctx, user, custody, allowed))
}

func (h *harness) bet(user common.Address, outcome int, n uint64) {
	h.t.Helper()
	h.fund(user, n)
	require.NoError(h.t, h.market.PlaceBet(h.ctx, user, outcome, uint256.NewInt(n)))
}

func (h *harness) close() {
	h.t.Helper()
	require.NoError(h.t, h.market.IncrementState(h.ctx, owner))
}

func (h *harness) resolve(outcome int) {
	h.t.Helper()
	require.NoError(h.t, h.oracle.SetResult(h.qid, outcome))
	h.clock.Advance(48 * time.Hour)
	got, err := h.market.DetermineWinner(h.ctx, userA)
	require.NoError(h.t, err)
	require.Equal(h.t, outcome, got)
}

func (h *harness) balance(a common.Address) uint64 {
	h.t.Helper()
	b, err := h.dai.BalanceOf(h.ctx, a)
	require.NoError(h.t, err)
	return b.Uint64()
}

func (h *harness) count(typ domain.EventType) int {
	n := 0
	for _, ev := range h.events.Events() {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func TestReferenceScenario(t *testing.T) {
	h := newHarness(t)
	h.open()

	h.bet(userA, lose, 200)
	h.bet(userB, lose, 300)
	h.bet(userC, lose, 500)
	h.bet(userC, win, 100)
	h.bet(userD, win, 400)

	interest, err := h.pool.Accrue(h.ctx, custody, 1000)
	require.NoError(t, err)
	require.Equal(t, uint64(150), interest.Uint64())

	h.close()
	snap := h.market.Snapshot()
	assert.Equal(t, domain.MarketStateAwaitingResolution, snap.State)
	assert.Equal(t, uint64(1500), snap.TotalPrincipal.Uint64())
	assert.Equal(t, uint64(1650), snap.TotalRedeemed.Uint64())
	assert.Equal(t, uint64(150), snap.YieldPool().Uint64())

	h.resolve(win)

	want := map[common.Address]uint64{userC: 630, userD: 520, userA: 200, userB: 300}
	for _, u := range []common.Address{userC, userD, userA, userB} {
		p, err := h.market.Withdraw(h.ctx, u)
		require.NoError(t, err)
		assert.Equal(t, want[u], p.Total.Uint64(), "payout for %s", u.Hex())
		assert.Equal(t, want[u], h.balance(u))
	}

	snap = h.market.Snapshot()
	assert.Equal(t, domain.MarketStateResolved, snap.State)
	require.NotNil(t, snap.ResolvedOutcome)
	assert.Equal(t, win, *snap.ResolvedOutcome)
	assert.Equal(t, uint64(1500), snap.BetsWithdrawn.Uint64())
	assert.Equal(t, uint64(150), snap.YieldPaid.Uint64())
	assert.Equal(t, []string{"Donald Trump", "Joe Biden"}, snap.OutcomeTokens)
	assert.True(t, h.market.Remaining().IsZero())
	assert.True(t, h.market.FullyWithdrawn())
	assert.Zero(t, h.balance(custody))

	assert.Equal(t, 5, h.count(domain.EventBetPlaced))
	assert.Equal(t, 3, h.count(domain.EventStateTransitioned))
	assert.Equal(t, 1, h.count(domain.EventOutcomeResolved))
	assert.Equal(t, 4, h.count(domain.EventWithdrawalMade))
}

func TestStateOrdering(t *testing.T) {
	h := newHarness(t)
	ctx := h.ctx
	h.fund(userA, 1000)

	err := h.market.PlaceBet(ctx, userA, win, uint256.NewInt(10))
	require.ErrorIs(t, err, domain.ErrMarketNotOpen)
	err = h.market.IncrementState(ctx, owner)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	_, err = h.market.DetermineWinner(ctx, owner)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	_, err = h.market.Withdraw(ctx, userA)
	require.ErrorIs(t, err, domain.ErrMarketNotResolved)

	h.open()
	require.NoError(t, h.market.PlaceBet(ctx, userA, win, uint256.NewInt(10)))
	_, err = h.market.DetermineWinner(ctx, owner)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	h.close()

	err = h.market.PlaceBet(ctx, userA, win, uint256.NewInt(10))
	require.ErrorIs(t, err, domain.ErrMarketNotOpen)

	_, err = h.market.DetermineWinner(ctx, owner)
	require.ErrorIs(t, err, domain.ErrOutcomeNotFinal, "resolution time not reached")
	h.clock.Advance(48 * time.Hour)
	_, err = h.market.DetermineWinner(ctx, owner)
	require.ErrorIs(t, err, domain.ErrOutcomeNotFinal, "oracle not finalized")
	assert.Equal(t, domain.MarketStateAwaitingResolution, h.market.State())

	_, err = h.market.Withdraw(ctx, userA)
	require.ErrorIs(t, err, domain.ErrMarketNotResolved)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	err = h.market.IncrementState(ctx, owner)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	h.resolve(win)
	err = h.market.IncrementState(ctx, owner)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	_, err = h.market.DetermineWinner(ctx, owner)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	err = h.market.PlaceBet(ctx, userA, win, uint256.NewInt(10))
	require.ErrorIs(t, err, domain.ErrMarketNotOpen)
}

func TestPlaceBetRejectsWithoutSideEffects(t *testing.T) {
	h := newHarness(t)
	h.open()
	h.fund(userA, 100)

	tests := []struct {
		name    string
		outcome int
		amount  *uint256.Int
		want    error
	}{
		{"outcome out of range", 2, uint256.NewInt(10), domain.ErrInvalidOutcome},
		{"negative outcome", -1, uint256.NewInt(10), domain.ErrInvalidOutcome},
		{"zero amount", win, new(uint256.Int), domain.ErrZeroAmount},
		{"beyond allowance", win, uint256.NewInt(101), domain.ErrInsufficientAllowance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.market.PlaceBet(h.ctx, userA, tt.outcome, tt.amount)
			require.ErrorIs(t, err, tt.want)
		})
	}

	assert.Equal(t, uint64(100), h.balance(userA))
	assert.True(t, h.market.Snapshot().TotalPrincipal.IsZero())
	assert.Empty(t, h.market.Positions())
	assert.Zero(t, h.count(domain.EventBetPlaced))
}

func TestNoDoubleWithdrawal(t *testing.T) {
	h := newHarness(t)
	h.open()
	h.bet(userA, win, 100)
	h.bet(userB, lose, 100)
	_, err := h.pool.Accrue(h.ctx, custody, 500)
	require.NoError(t, err)
	h.close()
	h.resolve(win)

	p, err := h.market.Withdraw(h.ctx, userA)
	require.NoError(t, err)
	assert.Equal(t, uint64(110), p.Total.Uint64())

	_, err = h.market.Withdraw(h.ctx, userA)
	require.ErrorIs(t, err, domain.ErrAlreadyWithdrawn)
	assert.Equal(t, uint64(110), h.balance(userA))

	_, err = h.market.Withdraw(h.ctx, userC)
	require.ErrorIs(t, err, domain.ErrNoStake)

	for _, pos := range h.market.PositionsOf(userA) {
		assert.True(t, pos.Withdrawn)
		assert.Equal(t, uint64(10), pos.YieldShare.Uint64())
	}
}

func TestPreviewMatchesWithdraw(t *testing.T) {
	h := newHarness(t)
	h.open()
	h.bet(userA, win, 333)
	h.bet(userB, win, 667)
	h.bet(userC, lose, 1000)
	_, err := h.pool.Accrue(h.ctx, custody, 700)
	require.NoError(t, err)
	h.close()

	_, err = h.market.PreviewPayout(userA)
	require.ErrorIs(t, err, domain.ErrMarketNotResolved)
	h.resolve(win)

	for _, u := range []common.Address{userA, userB, userC} {
		preview, err := h.market.PreviewPayout(u)
		require.NoError(t, err)
		got, err := h.market.Withdraw(h.ctx, u)
		require.NoError(t, err)
		assert.True(t, preview.Total.Eq(got.Total))
	}
	// 140 yield split 333:667 truncates to 46 + 93, leaving one unit of dust.
	assert.Equal(t, uint64(1), h.market.Remaining().Uint64())
}

func TestNoWinnersLocksYield(t *testing.T) {
	h := newHarness(t)
	h.open()
	h.bet(userA, lose, 400)
	h.bet(userB, lose, 600)
	_, err := h.pool.Accrue(h.ctx, custody, 1000)
	require.NoError(t, err)
	h.close()
	h.resolve(win)

	for _, u := range []common.Address{userA, userB} {
		_, err := h.market.Withdraw(h.ctx, u)
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(400), h.balance(userA))
	assert.Equal(t, uint64(600), h.balance(userB))
	assert.Equal(t, uint64(100), h.market.Remaining().Uint64())
	assert.Equal(t, uint64(100), h.balance(custody))
}

func TestAuthorization(t *testing.T) {
	h := newHarness(t)
	tok, err := asset.NewOutcomeTokens().Deploy(h.ctx, "Donald Trump", "MBtrump")
	require.NoError(t, err)

	err = h.market.AttachOutcomeToken(h.ctx, userA, tok)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	h.open()
	err = h.market.IncrementState(h.ctx, userA)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, domain.MarketStateBetting, h.market.State())
}

func TestRolePolicy(t *testing.T) {
	policy := settlement.NewRolePolicy().
		Grant(settlement.ActionAttachToken, owner).
		Grant(settlement.ActionIncrementState, owner).
		Grant(settlement.ActionIncrementState, userB)
	h := newHarness(t, func(_ *settlement.Config, d *settlement.Deps) { d.Auth = policy })
	h.open()

	h.bet(userA, win, 10)
	require.ErrorIs(t, h.market.IncrementState(h.ctx, userA), domain.ErrUnauthorized)
	require.NoError(t, h.market.IncrementState(h.ctx, userB))

	h.clock.Advance(48 * time.Hour)
	require.NoError(t, h.oracle.SetResult(h.qid, win))
	_, err := h.market.DetermineWinner(h.ctx, owner)
	require.ErrorIs(t, err, domain.ErrUnauthorized, "determine winner was never granted")
}

func TestAttachOutcomeTokens(t *testing.T) {
	h := newHarness(t)
	tokens := asset.NewOutcomeTokens()
	deploy := func(name string) domain.OutcomeToken {
		tok, err := tokens.Deploy(h.ctx, name, "T")
		require.NoError(t, err)
		return tok
	}

	require.NoError(t, h.market.AttachOutcomeToken(h.ctx, owner, deploy("yes")))
	err := h.market.AttachOutcomeToken(h.ctx, owner, deploy("yes"))
	require.ErrorIs(t, err, domain.ErrAlreadyExists)

	err = h.market.IncrementState(h.ctx, owner)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition, "one token missing")

	require.NoError(t, h.market.AttachOutcomeToken(h.ctx, owner, deploy("no")))
	err = h.market.AttachOutcomeToken(h.ctx, owner, deploy("maybe"))
	require.ErrorIs(t, err, domain.ErrAlreadyExists)

	require.NoError(t, h.market.IncrementState(h.ctx, owner))
	err = h.market.AttachOutcomeToken(h.ctx, owner, deploy("late"))
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

func TestOutcomeTokensMintedOnBet(t *testing.T) {
	h := newHarness(t)
	tokens := asset.NewOutcomeTokens()
	var minted []domain.OutcomeToken
	for _, name := range []string{"lose", "win"} {
		tok, err := tokens.Deploy(h.ctx, name, name)
		require.NoError(t, err)
		minted = append(minted, tok)
		require.NoError(t, h.market.AttachOutcomeToken(h.ctx, owner, tok))
	}
	require.NoError(t, h.market.IncrementState(h.ctx, owner))

	h.bet(userA, win, 25)
	h.bet(userA, win, 5)
	bal, err := minted[win].BalanceOf(h.ctx, userA)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), bal.Uint64())
	bal, err = minted[lose].BalanceOf(h.ctx, userA)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}

func TestMinBettingPeriod(t *testing.T) {
	h := newHarness(t, func(c *settlement.Config, _ *settlement.Deps) { c.MinBettingPeriod = time.Hour })
	h.open()

	err := h.market.IncrementState(h.ctx, owner)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	h.clock.Advance(time.Hour)
	h.close()
}

func TestInvalidOracleAnswer(t *testing.T) {
	h := newHarness(t)
	h.open()
	h.bet(userA, win, 10)
	h.close()
	h.clock.Advance(48 * time.Hour)

	for _, answer := range []int{2, oracle.InvalidAnswer} {
		require.NoError(t, h.oracle.SetResult(h.qid, answer))
		_, err := h.market.DetermineWinner(h.ctx, owner)
		require.ErrorIs(t, err, domain.ErrInvalidOutcome)
		assert.Equal(t, domain.MarketStateAwaitingResolution, h.market.State())
	}
	h.resolve(win)
}

func TestNewMarketValidation(t *testing.T) {
	deps := settlement.Deps{Asset: asset.NewLedger("DAI", 18), Bridge: stubBridge{}, Oracle: oracle.NewManual(owner)}
	tests := []struct {
		name string
		cfg  settlement.Config
		deps settlement.Deps
	}{
		{"missing id", settlement.Config{OutcomeCount: 2}, deps},
		{"one outcome", settlement.Config{ID: "m", OutcomeCount: 1}, deps},
		{"names mismatch", settlement.Config{ID: "m", OutcomeCount: 2, OutcomeNames: []string{"a"}}, deps},
		{"resolution before opening", settlement.Config{ID: "m", OutcomeCount: 2,
			OpeningTime: time.Unix(10, 0), ResolutionTime: time.Unix(5, 0)}, deps},
		{"missing bridge", settlement.Config{ID: "m", OutcomeCount: 2}, settlement.Deps{Asset: deps.Asset, Oracle: deps.Oracle}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := settlement.NewMarket(tt.cfg, tt.deps)
			require.Error(t, err)
		})
	}
}

type stubBridge struct{}

func (stubBridge) Deposit(context.Context, *uint256.Int) error { return nil }
func (stubBridge) RedeemAll(context.Context) (*uint256.Int, error) {
	return new(uint256.Int), nil
}

func TestConcurrentBets(t *testing.T) {
	h := newHarness(t)
	h.open()

	const n = 64
	users := make([]common.Address, n)
	for i := range users {
		users[i] = common.BigToAddress(uint256.NewInt(uint64(0x1000 + i)).ToBig())
		h.fund(users[i], 10)
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i, u := range users {
		wg.Add(1)
		go func(u common.Address, outcome int) {
			defer wg.Done()
			errs <- h.market.PlaceBet(h.ctx, u, outcome, uint256.NewInt(10))
		}(u, i%2)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	snap := h.market.Snapshot()
	assert.Equal(t, uint64(n*10), snap.TotalPrincipal.Uint64())
	assert.Equal(t, uint64(n*5), snap.OutcomeTotals[0].Uint64())
	assert.Equal(t, uint64(n*5), snap.OutcomeTotals[1].Uint64())
	assert.Equal(t, uint64(n*10), h.pool.Position(custody).Uint64())
	assert.Equal(t, n, h.count(domain.EventBetPlaced))
}

var errBoom = errors.New("boom")
