// Package registry creates markets and maps market ids to their settlement
// engines. Markets share no state through the registry.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/alanyoungcy/bettogether/internal/domain"
	"github.com/alanyoungcy/bettogether/internal/oracle"
	"github.com/alanyoungcy/bettogether/internal/settlement"
)

// CustodyFunc picks the base-asset account for a new market.
type CustodyFunc func(marketID string) common.Address

// DerivedCustody gives every market its own synthetic account. Used with
// the in-memory asset.
func DerivedCustody(marketID string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("market:" + marketID))[12:])
}

// FixedCustody routes every market through one wallet, the operator's on
// chain.
func FixedCustody(wallet common.Address) CustodyFunc {
	return func(string) common.Address { return wallet }
}

// Config holds the registry's collaborators.
type Config struct {
	Asset   domain.BaseAsset
	Bridges domain.BridgeProvider
	Oracle  domain.OracleGateway
	Custody CustodyFunc
	Sink    settlement.EventSink
	// Policy builds the authorizer for a market; nil means OwnerPolicy.
	Policy           func(params domain.CreateMarketParams) settlement.Authorizer
	MinBettingPeriod time.Duration
	Clock            func() time.Time
	Logger           *slog.Logger
}

// Registry owns every market the service knows about.
type Registry struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	markets map[string]*settlement.Market
	order   []string
}

// New validates cfg and returns an empty registry.
func New(cfg Config) (*Registry, error) {
	if cfg.Asset == nil || cfg.Bridges == nil || cfg.Oracle == nil {
		return nil, errors.New("registry: asset, bridges and oracle are required")
	}
	if cfg.Custody == nil {
		cfg.Custody = DerivedCustody
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registry{
		cfg:     cfg,
		logger:  cfg.Logger.With(slog.String("component", "registry")),
		markets: make(map[string]*settlement.Market),
	}, nil
}

// Create posts the question to the oracle, binds a custody account and a
// yield bridge, and registers a new market in the Created state.
func (r *Registry) Create(ctx context.Context, params domain.CreateMarketParams) (*settlement.Market, error) {
	if strings.TrimSpace(params.Question) == "" {
		return nil, fmt.Errorf("registry: question is required: %w", domain.ErrInvalidParams)
	}
	if params.OutcomeCount < 2 {
		return nil, fmt.Errorf("registry: outcome count %d: %w", params.OutcomeCount, domain.ErrInvalidOutcome)
	}
	if !params.ResolutionTime.IsZero() && params.ResolutionTime.Before(params.OpeningTime) {
		return nil, fmt.Errorf("registry: resolution time before opening time: %w", domain.ErrInvalidParams)
	}

	q, err := oracle.ParseQuestion(params.Question)
	if err != nil {
		return nil, fmt.Errorf("registry: %w: %w", domain.ErrInvalidParams, err)
	}
	names := q.Outcomes
	if len(names) != params.OutcomeCount {
		if len(names) != 0 {
			return nil, fmt.Errorf("registry: question lists %d outcomes, market has %d: %w",
				len(names), params.OutcomeCount, domain.ErrInvalidOutcome)
		}
		names = make([]string, params.OutcomeCount)
		for i := range names {
			names[i] = fmt.Sprintf("Outcome %d", i)
		}
	}
	eventName := params.EventName
	if eventName == "" {
		eventName = q.Title
	}

	qid, err := r.cfg.Oracle.PostQuestion(ctx, domain.QuestionRequest{
		Question:       params.Question,
		OutcomeCount:   params.OutcomeCount,
		OpeningTime:    params.OpeningTime,
		ResolutionTime: params.ResolutionTime,
		Arbitrator:     params.Arbitrator,
	})
	if err != nil {
		return nil, fmt.Errorf("registry: post question: %w", err)
	}

	id := uuid.NewString()
	custody := r.cfg.Custody(id)
	bridge, err := r.cfg.Bridges.BridgeFor(ctx, id, custody)
	if err != nil {
		return nil, fmt.Errorf("registry: yield bridge: %w", err)
	}

	var auth settlement.Authorizer
	if r.cfg.Policy != nil {
		auth = r.cfg.Policy(params)
	}
	m, err := settlement.NewMarket(settlement.Config{
		ID:               id,
		QuestionID:       qid,
		EventName:        eventName,
		Question:         params.Question,
		OutcomeNames:     names,
		OutcomeCount:     params.OutcomeCount,
		OpeningTime:      params.OpeningTime,
		ResolutionTime:   params.ResolutionTime,
		Arbitrator:       params.Arbitrator,
		Owner:            params.Owner,
		Custody:          custody,
		MinBettingPeriod: r.cfg.MinBettingPeriod,
	}, settlement.Deps{
		Asset:  r.cfg.Asset,
		Bridge: bridge,
		Oracle: r.cfg.Oracle,
		Auth:   auth,
		Sink:   r.cfg.Sink,
		Clock:  r.cfg.Clock,
		Logger: r.cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	r.mu.Lock()
	r.markets[id] = m
	r.order = append(r.order, id)
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "market created",
		slog.String("market_id", id),
		slog.String("question_id", qid.Hex()),
		slog.String("custody", custody.Hex()),
		slog.Int("outcomes", params.OutcomeCount),
	)
	return m, nil
}

// Get returns the market with id.
func (r *Registry) Get(id string) (*settlement.Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[id]
	if !ok {
		return nil, fmt.Errorf("registry: market %q: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

// List returns markets in creation order.
func (r *Registry) List() []*settlement.Market {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*settlement.Market, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.markets[id])
	}
	return out
}

// Len returns the number of registered markets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
