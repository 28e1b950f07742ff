// Package service orchestrates the settlement engines with the read model
// (store, cache), cold storage and event delivery. The engines stay
// authoritative: persistence failures are logged, never returned.
package service

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
	"github.com/alanyoungcy/bettogether/internal/registry"
	"github.com/alanyoungcy/bettogether/internal/settlement"
)

const archiveLockTTL = 2 * time.Minute

// MarketDeps are MarketService's collaborators.
type MarketDeps struct {
	Registry  *registry.Registry
	Tokens    domain.OutcomeTokenFactory
	Markets   domain.MarketStore
	Positions domain.PositionStore
	Cache     domain.MarketCache
	Locks     domain.LockManager
	Archiver  domain.MarketArchiver
	Logger    *slog.Logger
}

// MarketService is the entry point the API and run modes use for every
// market operation.
type MarketService struct {
	registry  *registry.Registry
	tokens    domain.OutcomeTokenFactory
	markets   domain.MarketStore
	positions domain.PositionStore
	cache     domain.MarketCache
	locks     domain.LockManager
	archiver  domain.MarketArchiver
	logger    *slog.Logger

	mu       sync.Mutex
	archived map[string]string
}

// NewMarketService checks that every collaborator is present.
func NewMarketService(d MarketDeps) (*MarketService, error) {
	if d.Registry == nil || d.Tokens == nil || d.Markets == nil || d.Positions == nil ||
		d.Cache == nil || d.Locks == nil || d.Archiver == nil {
		return nil, errors.New("market_service: missing dependency")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &MarketService{
		registry:  d.Registry,
		tokens:    d.Tokens,
		markets:   d.Markets,
		positions: d.Positions,
		cache:     d.Cache,
		locks:     d.Locks,
		archiver:  d.Archiver,
		logger:    d.Logger.With(slog.String("component", "market_service")),
		archived:  make(map[string]string),
	}, nil
}

// CreateMarket registers a new market and records its first snapshot.
func (s *MarketService) CreateMarket(ctx context.Context, params domain.CreateMarketParams) (domain.Market, error) {
	m, err := s.registry.Create(ctx, params)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create: %w", err)
	}
	return s.sync(ctx, m), nil
}

// DeployOutcomeToken deploys a token through the factory and attaches it as
// the market's next outcome token.
func (s *MarketService) DeployOutcomeToken(ctx context.Context, id string, caller common.Address, name, symbol string) (domain.Market, error) {
	m, err := s.registry.Get(id)
	if err != nil {
		return domain.Market{}, err
	}
	tok, err := s.tokens.Deploy(ctx, name, symbol)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: deploy token %s: %w", name, err)
	}
	if err := m.AttachOutcomeToken(ctx, caller, tok); err != nil {
		return domain.Market{}, err
	}
	return s.sync(ctx, m), nil
}

// IncrementState advances the market one lifecycle step.
func (s *MarketService) IncrementState(ctx context.Context, id string, caller common.Address) (domain.Market, error) {
	m, err := s.registry.Get(id)
	if err != nil {
		return domain.Market{}, err
	}
	if err := m.IncrementState(ctx, caller); err != nil {
		return domain.Market{}, err
	}
	return s.sync(ctx, m), nil
}

// PlaceBet records a bet and returns the user's positions afterwards.
func (s *MarketService) PlaceBet(ctx context.Context, id string, user common.Address, outcome int, amount *uint256.Int) ([]domain.Position, error) {
	m, err := s.registry.Get(id)
	if err != nil {
		return nil, err
	}
	if err := m.PlaceBet(ctx, user, outcome, amount); err != nil {
		return nil, err
	}
	s.sync(ctx, m, user)
	return m.PositionsOf(user), nil
}

// DetermineWinner resolves the market from the oracle's final answer.
func (s *MarketService) DetermineWinner(ctx context.Context, id string, caller common.Address) (domain.Market, error) {
	m, err := s.registry.Get(id)
	if err != nil {
		return domain.Market{}, err
	}
	if _, err := m.DetermineWinner(ctx, caller); err != nil {
		return domain.Market{}, err
	}
	return s.sync(ctx, m), nil
}

// Withdraw pays out everything the user is owed.
func (s *MarketService) Withdraw(ctx context.Context, id string, user common.Address) (domain.Payout, error) {
	m, err := s.registry.Get(id)
	if err != nil {
		return domain.Payout{}, err
	}
	payout, err := m.Withdraw(ctx, user)
	if err != nil {
		return domain.Payout{}, err
	}
	s.sync(ctx, m, user)
	return payout, nil
}

// PreviewPayout computes what Withdraw would pay without moving funds.
func (s *MarketService) PreviewPayout(_ context.Context, id string, user common.Address) (domain.Payout, error) {
	m, err := s.registry.Get(id)
	if err != nil {
		return domain.Payout{}, err
	}
	return m.PreviewPayout(user)
}

// GetMarket returns the live snapshot of a registered market. Markets this
// process does not host are served from the cache, then the store.
func (s *MarketService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	if m, err := s.registry.Get(id); err == nil {
		return m.Snapshot(), nil
	}
	if snap, err := s.cache.Get(ctx, id); err == nil {
		return snap, nil
	}
	snap, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get %q: %w", id, err)
	}
	if err := s.cache.Set(ctx, snap); err != nil {
		s.warn(ctx, "cache set failed", id, err)
	}
	return snap, nil
}

// ListMarkets returns live snapshots in creation order, optionally only
// those in state.
func (s *MarketService) ListMarkets(_ context.Context, state *domain.MarketState, opts domain.ListOpts) []domain.Market {
	var out []domain.Market
	for _, m := range s.registry.List() {
		snap := m.Snapshot()
		if state != nil && snap.State != *state {
			continue
		}
		if opts.Since != nil && snap.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !snap.CreatedAt.Before(*opts.Until) {
			continue
		}
		out = append(out, snap)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out
}

// Positions returns every position in a market.
func (s *MarketService) Positions(_ context.Context, id string) ([]domain.Position, error) {
	m, err := s.registry.Get(id)
	if err != nil {
		return nil, err
	}
	return m.Positions(), nil
}

// UserPositions returns the user's positions in one market.
func (s *MarketService) UserPositions(_ context.Context, id string, user common.Address) ([]domain.Position, error) {
	m, err := s.registry.Get(id)
	if err != nil {
		return nil, err
	}
	return m.PositionsOf(user), nil
}

// PositionHistory returns the user's persisted positions across markets.
func (s *MarketService) PositionHistory(ctx context.Context, user common.Address, opts domain.ListOpts) ([]domain.Position, error) {
	out, err := s.positions.ListByUser(ctx, user, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: position history: %w", err)
	}
	return out, nil
}

// Market returns the live engine for id.
func (s *MarketService) Market(id string) (*settlement.Market, error) {
	return s.registry.Get(id)
}

// sync writes the market's snapshot, and the given users' positions, to the
// read model and refreshes the cache.
func (s *MarketService) sync(ctx context.Context, m *settlement.Market, users ...common.Address) domain.Market {
	snap := m.Snapshot()
	if err := s.markets.Upsert(ctx, snap); err != nil {
		s.warn(ctx, "snapshot upsert failed", snap.ID, err)
	}
	if err := s.cache.Set(ctx, snap); err != nil {
		s.warn(ctx, "cache set failed", snap.ID, err)
	}
	var batch []domain.Position
	for _, u := range users {
		batch = append(batch, m.PositionsOf(u)...)
	}
	if len(batch) > 0 {
		if err := s.positions.UpsertBatch(ctx, batch); err != nil {
			s.warn(ctx, "position upsert failed", snap.ID, err)
		}
	}
	return snap
}

func (s *MarketService) warn(ctx context.Context, msg, id string, err error) {
	s.logger.WarnContext(ctx, msg,
		slog.String("market_id", id),
		slog.String("error", err.Error()),
	)
}
