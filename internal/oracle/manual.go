package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/bettogether/internal/domain"
)

// Manual is an in-process oracle. Questions get Realitio ids; answers are
// set by hand and are final as soon as they are set.
type Manual struct {
	asker common.Address

	mu        sync.Mutex
	nonce     uint64
	questions map[common.Hash]*manualQuestion
}

type manualQuestion struct {
	req    domain.QuestionRequest
	answer *int
}

// NewManual returns an oracle that posts questions as asker.
func NewManual(asker common.Address) *Manual {
	return &Manual{asker: asker, questions: make(map[common.Hash]*manualQuestion)}
}

func (m *Manual) PostQuestion(_ context.Context, req domain.QuestionRequest) (common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := QuestionID(SingleSelectTemplate, unixSeconds(req.OpeningTime), req.Question,
		req.Arbitrator, 0, m.asker, uint256.NewInt(m.nonce))
	m.nonce++
	m.questions[id] = &manualQuestion{req: req}
	return id, nil
}

// SetResult finalizes the answer to a question.
func (m *Manual) SetResult(questionID common.Hash, outcome int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[questionID]
	if !ok {
		return fmt.Errorf("oracle: question %s: %w", questionID.Hex(), domain.ErrNotFound)
	}
	q.answer = &outcome
	return nil
}

func (m *Manual) FinalOutcome(_ context.Context, questionID common.Hash) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[questionID]
	if !ok {
		return 0, fmt.Errorf("oracle: question %s: %w", questionID.Hex(), domain.ErrNotFound)
	}
	if q.answer == nil {
		return 0, domain.ErrOutcomeNotFinal
	}
	return *q.answer, nil
}

// Request returns what was posted for questionID.
func (m *Manual) Request(questionID common.Hash) (domain.QuestionRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[questionID]
	if !ok {
		return domain.QuestionRequest{}, false
	}
	return q.req, true
}
