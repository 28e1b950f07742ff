package oracle

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bettogether/internal/chain/chaintest"
	"github.com/alanyoungcy/bettogether/internal/domain"
)

type fakeRealitio struct {
	asked     []any
	finalized map[common.Hash]bool
	results   map[common.Hash][32]byte
}

func newFakeRealitio(b *chaintest.Backend, addr common.Address) *fakeRealitio {
	f := &fakeRealitio{finalized: map[common.Hash]bool{}, results: map[common.Hash][32]byte{}}
	b.Handle(addr, realitioABI, "askQuestion", func(_ common.Address, args []any) ([]any, error) {
		f.asked = args
		return []any{[32]byte{}}, nil
	})
	b.Handle(addr, realitioABI, "isFinalized", func(_ common.Address, args []any) ([]any, error) {
		return []any{f.finalized[common.Hash(args[0].([32]byte))]}, nil
	})
	b.Handle(addr, realitioABI, "resultFor", func(_ common.Address, args []any) ([]any, error) {
		return []any{f.results[common.Hash(args[0].([32]byte))]}, nil
	})
	return f
}

func TestRealitioPostQuestion(t *testing.T) {
	ctx := context.Background()
	operator := common.HexToAddress("0x0e")
	addr := common.HexToAddress("0x3e")
	arb := common.HexToAddress("0xa4b")

	backend := chaintest.New(operator)
	fake := newFakeRealitio(backend, addr)
	r, err := NewRealitio(backend, RealitioConfig{Address: addr, Timeout: 24 * time.Hour})
	require.NoError(t, err)
	r.nonce = func() *uint256.Int { return uint256.NewInt(77) }

	opening := time.Unix(1_700_000_000, 0)
	id, err := r.PostQuestion(ctx, domain.QuestionRequest{
		Question:    electionQuestion,
		OpeningTime: opening,
		Arbitrator:  arb,
	})
	require.NoError(t, err)

	require.Len(t, fake.asked, 6)
	assert.Equal(t, int64(SingleSelectTemplate), fake.asked[0].(*big.Int).Int64())
	assert.Equal(t, electionQuestion, fake.asked[1])
	assert.Equal(t, arb, fake.asked[2])
	assert.Equal(t, uint32(86400), fake.asked[3])
	assert.Equal(t, uint32(1_700_000_000), fake.asked[4])
	assert.Equal(t, int64(77), fake.asked[5].(*big.Int).Int64())

	want := QuestionID(SingleSelectTemplate, 1_700_000_000, electionQuestion, arb, 86400, operator, uint256.NewInt(77))
	assert.Equal(t, want, id)
}

func TestRealitioFinalOutcome(t *testing.T) {
	ctx := context.Background()
	addr := common.HexToAddress("0x3e")
	backend := chaintest.New(common.HexToAddress("0x0e"))
	fake := newFakeRealitio(backend, addr)
	r, err := NewRealitio(backend, RealitioConfig{Address: addr})
	require.NoError(t, err)

	qid := common.HexToHash("0xabc")
	_, err = r.FinalOutcome(ctx, qid)
	require.ErrorIs(t, err, domain.ErrOutcomeNotFinal)

	fake.finalized[qid] = true
	fake.results[qid] = uint256.NewInt(1).Bytes32()
	got, err := r.FinalOutcome(ctx, qid)
	require.NoError(t, err)
	assert.Equal(t, 1, got)

	var invalid [32]byte
	for i := range invalid {
		invalid[i] = 0xff
	}
	fake.results[qid] = invalid
	got, err = r.FinalOutcome(ctx, qid)
	require.NoError(t, err)
	assert.Equal(t, InvalidAnswer, got)
}
