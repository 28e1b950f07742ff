package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bettogether/internal/domain"
)

func TestManualOracle(t *testing.T) {
	ctx := context.Background()
	m := NewManual(common.HexToAddress("0x0e"))
	req := domain.QuestionRequest{
		Question:     electionQuestion,
		OutcomeCount: 2,
		OpeningTime:  time.Unix(1_600_000_000, 0),
	}

	q1, err := m.PostQuestion(ctx, req)
	require.NoError(t, err)
	q2, err := m.PostQuestion(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, q1, q2, "same question posted twice gets a fresh nonce")

	got, ok := m.Request(q1)
	require.True(t, ok)
	assert.Equal(t, 2, got.OutcomeCount)

	_, err = m.FinalOutcome(ctx, q1)
	require.ErrorIs(t, err, domain.ErrOutcomeNotFinal)

	require.NoError(t, m.SetResult(q1, 1))
	outcome, err := m.FinalOutcome(ctx, q1)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome)

	unknown := common.HexToHash("0x01")
	_, err = m.FinalOutcome(ctx, unknown)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.ErrorIs(t, m.SetResult(unknown, 0), domain.ErrNotFound)
}
