package oracle

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/bettogether/internal/chain"
	"github.com/alanyoungcy/bettogether/internal/domain"
)

const realitioABI = `[
	{"name":"askQuestion","type":"function","inputs":[
		{"name":"template_id","type":"uint256"},
		{"name":"question","type":"string"},
		{"name":"arbitrator","type":"address"},
		{"name":"timeout","type":"uint32"},
		{"name":"opening_ts","type":"uint32"},
		{"name":"nonce","type":"uint256"}
	],"outputs":[{"name":"","type":"bytes32"}]},
	{"name":"isFinalized","type":"function","stateMutability":"view","inputs":[{"name":"question_id","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"resultFor","type":"function","stateMutability":"view","inputs":[{"name":"question_id","type":"bytes32"}],"outputs":[{"name":"","type":"bytes32"}]}
]`

// InvalidAnswer is what resultFor returns for a question ruled invalid.
const InvalidAnswer = -1

// RealitioConfig locates the Realitio contract and sets question terms.
type RealitioConfig struct {
	Address    common.Address
	TemplateID uint64
	// Timeout is how long an answer must stand unchallenged.
	Timeout time.Duration
}

// Realitio is the on-chain oracle gateway.
type Realitio struct {
	cfg      RealitioConfig
	contract *chain.Contract
	sender   common.Address
	nonce    func() *uint256.Int
}

// NewRealitio binds the Realitio contract at cfg.Address.
func NewRealitio(backend chain.Backend, cfg RealitioConfig) (*Realitio, error) {
	c, err := chain.NewContract(backend, cfg.Address, realitioABI)
	if err != nil {
		return nil, err
	}
	if cfg.TemplateID == 0 {
		cfg.TemplateID = SingleSelectTemplate
	}
	return &Realitio{cfg: cfg, contract: c, sender: backend.From(), nonce: randomNonce}, nil
}

func randomNonce() *uint256.Int {
	id := uuid.New()
	return new(uint256.Int).SetBytes(id[:])
}

func (r *Realitio) PostQuestion(ctx context.Context, req domain.QuestionRequest) (common.Hash, error) {
	timeout := uint32(r.cfg.Timeout / time.Second)
	opening := unixSeconds(req.OpeningTime)
	nonce := r.nonce()

	id := QuestionID(r.cfg.TemplateID, opening, req.Question, req.Arbitrator, timeout, r.sender, nonce)
	if _, err := r.contract.Transact(ctx, "askQuestion",
		new(big.Int).SetUint64(r.cfg.TemplateID), req.Question, req.Arbitrator, timeout, opening, nonce.ToBig(),
	); err != nil {
		return common.Hash{}, fmt.Errorf("oracle: ask question: %w", err)
	}
	return id, nil
}

// FinalOutcome returns InvalidAnswer when the oracle settled on an answer
// that is not an outcome index.
func (r *Realitio) FinalOutcome(ctx context.Context, questionID common.Hash) (int, error) {
	out, err := r.contract.Call(ctx, "isFinalized", [32]byte(questionID))
	if err != nil {
		return 0, fmt.Errorf("oracle: is finalized: %w", err)
	}
	if final, _ := out[0].(bool); !final {
		return 0, domain.ErrOutcomeNotFinal
	}

	out, err = r.contract.Call(ctx, "resultFor", [32]byte(questionID))
	if err != nil {
		return 0, fmt.Errorf("oracle: result for: %w", err)
	}
	raw, ok := out[0].([32]byte)
	if !ok {
		return 0, fmt.Errorf("oracle: unexpected result type %T", out[0])
	}
	answer := new(uint256.Int).SetBytes32(raw[:])
	if !answer.IsUint64() || answer.Uint64() > math.MaxInt32 {
		return InvalidAnswer, nil
	}
	return int(answer.Uint64()), nil
}

func unixSeconds(t time.Time) uint32 {
	if t.IsZero() || t.Unix() < 0 {
		return 0
	}
	if t.Unix() > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(t.Unix())
}
