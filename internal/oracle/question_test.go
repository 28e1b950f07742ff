package oracle

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const electionQuestion = `Who will win the 2020 US General Election␟"Donald Trump","Joe Biden"␟news-politics␟en_US`

func TestParseQuestion(t *testing.T) {
	q, err := ParseQuestion(electionQuestion)
	require.NoError(t, err)
	assert.Equal(t, "Who will win the 2020 US General Election", q.Title)
	assert.Equal(t, []string{"Donald Trump", "Joe Biden"}, q.Outcomes)
	assert.Equal(t, "news-politics", q.Category)
	assert.Equal(t, "en_US", q.Lang)
	assert.Equal(t, electionQuestion, q.String())

	bare, err := ParseQuestion("Will it rain?")
	require.NoError(t, err)
	assert.Empty(t, bare.Outcomes)
	assert.Equal(t, "Will it rain?", bare.String())

	_, err = ParseQuestion("  ␟\"a\"")
	require.Error(t, err)
	_, err = ParseQuestion("title␟not json")
	require.Error(t, err)
}

func TestQuestionID(t *testing.T) {
	arb := common.HexToAddress("0x34A971cA2fd6DA2Ce2969D716dF922F17aAA1dB0")
	sender := common.HexToAddress("0x0e")

	base := QuestionID(2, 0, electionQuestion, arb, 86400, sender, uint256.NewInt(1))
	assert.Equal(t, base, QuestionID(2, 0, electionQuestion, arb, 86400, sender, uint256.NewInt(1)))

	variants := []common.Hash{
		QuestionID(3, 0, electionQuestion, arb, 86400, sender, uint256.NewInt(1)),
		QuestionID(2, 1, electionQuestion, arb, 86400, sender, uint256.NewInt(1)),
		QuestionID(2, 0, electionQuestion+"?", arb, 86400, sender, uint256.NewInt(1)),
		QuestionID(2, 0, electionQuestion, sender, 86400, sender, uint256.NewInt(1)),
		QuestionID(2, 0, electionQuestion, arb, 1, sender, uint256.NewInt(1)),
		QuestionID(2, 0, electionQuestion, arb, 86400, arb, uint256.NewInt(1)),
		QuestionID(2, 0, electionQuestion, arb, 86400, sender, uint256.NewInt(2)),
	}
	for i, v := range variants {
		assert.NotEqual(t, base, v, "variant %d", i)
	}
}
