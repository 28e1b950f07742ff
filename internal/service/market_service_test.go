package service

import (
	"context"
	"encoding/json"
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
	memcache "github.com/alanyoungcy/bettogether/internal/cache/memory"
	"github.com/alanyoungcy/bettogether/internal/domain"
	"github.com/alanyoungcy/bettogether/internal/notify"
	"github.com/alanyoungcy/bettogether/internal/oracle"
	"github.com/alanyoungcy/bettogether/internal/registry"
	memstore "github.com/alanyoungcy/bettogether/internal/store/memory"
	"github.com/alanyoungcy/bettogether/internal/yield"
)

var owner = common.HexToAddress("0x0e")

type recordingArchiver struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (a *recordingArchiver) ArchiveMarket(_ context.Context, m domain.Market, positions []domain.Position) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	a.calls = append(a.calls, m.ID)
	return "markets/" + m.ID, nil
}

type fixture struct {
	svc       *MarketService
	sim       *Simulator
	markets   *memstore.MarketStore
	positions *memstore.PositionStore
	audit     *memstore.AuditStore
	cache     *memcache.MarketCache
	locks     *memcache.LockManager
	bus       *memcache.SignalBus
	archiver  *recordingArchiver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		markets:   memstore.NewMarketStore(),
		positions: memstore.NewPositionStore(),
		audit:     memstore.NewAuditStore(),
		cache:     memcache.NewMarketCache(),
		locks:     memcache.NewLockManager(),
		bus:       memcache.NewSignalBus(0),
		archiver:  &recordingArchiver{},
	}
	dai := asset.NewLedger("DAI", 18)
	pool := yield.NewSimulatedPool(dai, common.HexToAddress("0xfe"))
	manual := oracle.NewManual(owner)

	reg, err := registry.New(registry.Config{
		Asset:   dai,
		Bridges: pool,
		Oracle:  manual,
		Sink:    NewEventPublisher(f.bus, f.audit, nil, notify.Amounts{Symbol: "DAI", Decimals: 18}, logger),
		Logger:  logger,
	})
	require.NoError(t, err)

	f.svc, err = NewMarketService(MarketDeps{
		Registry:  reg,
		Tokens:    asset.NewOutcomeTokens(),
		Markets:   f.markets,
		Positions: f.positions,
		Cache:     f.cache,
		Locks:     f.locks,
		Archiver:  f.archiver,
		Logger:    logger,
	})
	require.NoError(t, err)
	f.sim = NewSimulator(f.svc, dai, pool, manual, logger)
	return f
}

func TestNewMarketServiceRequiresDeps(t *testing.T) {
	_, err := NewMarketService(MarketDeps{})
	assert.Error(t, err)
}

func TestReferenceRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, err := f.sim.RunReference(ctx, owner)
	require.NoError(t, err)

	totals := make([]uint64, len(run.Payouts))
	for i, p := range run.Payouts {
		totals[i] = p.Total.Uint64()
	}
	assert.Equal(t, []uint64{200, 300, 630, 520}, totals)

	assert.Equal(t, domain.MarketStateResolved, run.Market.State)
	assert.Equal(t, uint64(150), run.Market.YieldPaid.Uint64())

	stored, err := f.markets.GetByID(ctx, run.Market.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStateResolved, stored.State)
	assert.Equal(t, []string{"Donald Trump", "Joe Biden"}, stored.OutcomeTokens)

	persisted, err := f.positions.ListByMarket(ctx, run.Market.ID)
	require.NoError(t, err)
	require.Len(t, persisted, 5)
	for _, p := range persisted {
		assert.True(t, p.Withdrawn, "position %s/%d", p.User.Hex(), p.Outcome)
	}

	msgs, err := f.bus.StreamRead(ctx, EventStream, "0", 100)
	require.NoError(t, err)
	assert.Len(t, msgs, 15)

	entries, err := f.audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, entries, 15)
	assert.Equal(t, "market.withdrawal_made", entries[0].Event)

	c := ReferenceBets()[2].User
	history, err := f.svc.PositionHistory(ctx, c, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestArchiveSettled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateMarket(ctx, domain.CreateMarketParams{Question: "open market", OutcomeCount: 2, Owner: owner})
	require.NoError(t, err)
	run, err := f.sim.RunReference(ctx, owner)
	require.NoError(t, err)

	n, err := f.svc.ArchiveSettled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "markets/"+run.Market.ID, f.svc.ArchivePath(run.Market.ID))

	n, err = f.svc.ArchiveSettled(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{run.Market.ID}, f.archiver.calls)
}

func TestArchiveSettledSkipsLockedMarket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run, err := f.sim.RunReference(ctx, owner)
	require.NoError(t, err)

	unlock, err := f.locks.Acquire(ctx, "archive:"+run.Market.ID, time.Minute)
	require.NoError(t, err)
	n, err := f.svc.ArchiveSettled(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	unlock()
	n, err = f.svc.ArchiveSettled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestArchiveSettledReportsFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	boom := errors.New("bucket gone")
	f.archiver.err = boom
	_, err := f.sim.RunReference(ctx, owner)
	require.NoError(t, err)

	n, err := f.svc.ArchiveSettled(ctx)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, boom)
}

func TestGetMarketFallsBackToStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.markets.Upsert(ctx, domain.Market{ID: "elsewhere", State: domain.MarketStateBetting}))

	m, err := f.svc.GetMarket(ctx, "elsewhere")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStateBetting, m.State)

	cached, err := f.cache.Get(ctx, "elsewhere")
	require.NoError(t, err)
	assert.Equal(t, "elsewhere", cached.ID)

	_, err = f.svc.GetMarket(ctx, "nowhere")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListMarkets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.svc.CreateMarket(ctx, domain.CreateMarketParams{Question: "q", OutcomeCount: 2, Owner: owner})
		require.NoError(t, err)
	}
	first := f.svc.ListMarkets(ctx, nil, domain.ListOpts{})[0]
	_, err := f.svc.DeployOutcomeToken(ctx, first.ID, owner, "yes", "Y")
	require.NoError(t, err)
	_, err = f.svc.DeployOutcomeToken(ctx, first.ID, owner, "no", "N")
	require.NoError(t, err)
	_, err = f.svc.IncrementState(ctx, first.ID, owner)
	require.NoError(t, err)

	betting := domain.MarketStateBetting
	assert.Len(t, f.svc.ListMarkets(ctx, &betting, domain.ListOpts{}), 1)
	assert.Len(t, f.svc.ListMarkets(ctx, nil, domain.ListOpts{Offset: 1}), 2)
	assert.Len(t, f.svc.ListMarkets(ctx, nil, domain.ListOpts{Limit: 1}), 1)
	assert.Empty(t, f.svc.ListMarkets(ctx, nil, domain.ListOpts{Offset: 5}))
}

func TestEventsReachSubscribers(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := f.bus.Subscribe(ctx, MarketChannelPattern)
	require.NoError(t, err)

	m, err := f.svc.CreateMarket(ctx, domain.CreateMarketParams{Question: "q", OutcomeCount: 2, Owner: owner})
	require.NoError(t, err)
	_, err = f.svc.DeployOutcomeToken(ctx, m.ID, owner, "yes", "Y")
	require.NoError(t, err)

	var ev domain.MarketEvent
	require.NoError(t, json.Unmarshal(<-sub, &ev))
	assert.Equal(t, domain.EventTokenAttached, ev.Type)
	assert.Equal(t, m.ID, ev.MarketID)
	assert.Equal(t, "yes", ev.Token)
}

func TestOperationsOnUnknownMarket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.PlaceBet(ctx, "missing", owner, 0, uint256.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.Withdraw(ctx, "missing", owner)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	err = f.sim.Answer(ctx, "missing", 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPreviewMatchesWithdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run, err := f.sim.RunReference(ctx, owner)
	require.NoError(t, err)

	for i, u := range []common.Address{ReferenceBets()[0].User, ReferenceBets()[4].User} {
		preview, err := f.svc.PreviewPayout(ctx, run.Market.ID, u)
		require.NoError(t, err)
		want := run.Payouts[0].Total
		if i == 1 {
			want = run.Payouts[3].Total
		}
		assert.Equal(t, want.Dec(), preview.Total.Dec())
	}

	_, err = f.svc.Withdraw(ctx, run.Market.ID, ReferenceBets()[0].User)
	assert.ErrorIs(t, err, domain.ErrAlreadyWithdrawn)
}

func TestEventChannel(t *testing.T) {
	assert.Equal(t, "market:m1", EventChannel([]byte(`{"type":"bet_placed","market_id":"m1"}`)))
	assert.Equal(t, MarketChannelPattern, EventChannel([]byte(`not json`)))
	assert.Equal(t, MarketChannelPattern, EventChannel([]byte(`{}`)))
}
