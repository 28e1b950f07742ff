package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bettogether/internal/asset"
	"github.com/alanyoungcy/bettogether/internal/domain"
	"github.com/alanyoungcy/bettogether/internal/oracle"
	"github.com/alanyoungcy/bettogether/internal/registry"
	"github.com/alanyoungcy/bettogether/internal/yield"
)

const electionQuestion = `Who will win the 2020 US General Election␟"Donald Trump","Joe Biden"␟news-politics␟en_US`

var owner = common.HexToAddress("0x0e")

func newRegistry(t *testing.T) (*registry.Registry, *oracle.Manual) {
	t.Helper()
	dai := asset.NewLedger("DAI", 18)
	orc := oracle.NewManual(owner)
	r, err := registry.New(registry.Config{
		Asset:   dai,
		Bridges: yield.NewSimulatedPool(dai, common.HexToAddress("0x9001")),
		Oracle:  orc,
	})
	require.NoError(t, err)
	return r, orc
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	r, orc := newRegistry(t)
	opening := time.Unix(1_600_000_000, 0).UTC()

	m, err := r.Create(ctx, domain.CreateMarketParams{
		Question:       electionQuestion,
		OutcomeCount:   2,
		OpeningTime:    opening,
		ResolutionTime: opening.Add(24 * time.Hour),
		Arbitrator:     common.HexToAddress("0x34A971cA2fd6DA2Ce2969D716dF922F17aAA1dB0"),
		Owner:          owner,
	})
	require.NoError(t, err)

	snap := m.Snapshot()
	assert.Equal(t, domain.MarketStateCreated, snap.State)
	assert.Equal(t, "Who will win the 2020 US General Election", snap.EventName)
	assert.Equal(t, []string{"Donald Trump", "Joe Biden"}, snap.OutcomeNames)
	assert.Equal(t, registry.DerivedCustody(m.ID()), snap.Custody)
	assert.Equal(t, owner, snap.Owner)

	req, ok := orc.Request(snap.QuestionID)
	require.True(t, ok)
	assert.Equal(t, electionQuestion, req.Question)

	got, err := r.Get(m.ID())
	require.NoError(t, err)
	assert.Same(t, m, got)

	_, err = r.Get("nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateIndependentMarkets(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t)

	params := domain.CreateMarketParams{EventName: "rain", Question: "Will it rain?", OutcomeCount: 3, Owner: owner}
	a, err := r.Create(ctx, params)
	require.NoError(t, err)
	b, err := r.Create(ctx, params)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID(), b.ID())
	assert.NotEqual(t, a.Custody(), b.Custody())
	assert.Equal(t, []string{"Outcome 0", "Outcome 1", "Outcome 2"}, a.Snapshot().OutcomeNames)
	assert.Equal(t, "rain", a.Snapshot().EventName)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID(), list[0].ID())
	assert.Equal(t, 2, r.Len())
}

func TestCreateRejects(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t)

	tests := []struct {
		name   string
		params domain.CreateMarketParams
	}{
		{"empty question", domain.CreateMarketParams{OutcomeCount: 2}},
		{"one outcome", domain.CreateMarketParams{Question: "q", OutcomeCount: 1}},
		{"outcome names mismatch", domain.CreateMarketParams{Question: electionQuestion, OutcomeCount: 3}},
		{"resolution before opening", domain.CreateMarketParams{Question: "q", OutcomeCount: 2,
			OpeningTime: time.Unix(10, 0), ResolutionTime: time.Unix(5, 0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Create(ctx, tt.params)
			require.Error(t, err)
		})
	}
	assert.Zero(t, r.Len())
}

func TestFixedCustodySharesWallet(t *testing.T) {
	wallet := common.HexToAddress("0xfeed")
	f := registry.FixedCustody(wallet)
	assert.Equal(t, wallet, f("a"))
	assert.Equal(t, wallet, f("b"))
}
