package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bettogether/internal/domain"
)

// MarketStore implements domain.MarketStore.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a MarketStore backed by pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, question_id, event_name, question, outcome_names, outcome_count,
	arbitrator, owner, custody, opening_time, resolution_time, state, resolved_outcome,
	outcome_tokens, outcome_totals::text[], total_principal::text, total_redeemed::text,
	bets_withdrawn::text, yield_paid::text, created_at, updated_at`

// Upsert inserts a snapshot or replaces the mutable columns of an existing
// one. Identity columns never change after creation.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, question_id, event_name, question, outcome_names, outcome_count,
			arbitrator, owner, custody, opening_time, resolution_time, state,
			resolved_outcome, outcome_tokens, outcome_totals,
			total_principal, total_redeemed, bets_withdrawn, yield_paid,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15::text[]::numeric[],
			$16::text::numeric, $17::text::numeric, $18::text::numeric, $19::text::numeric,
			$20, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			state            = EXCLUDED.state,
			resolved_outcome = EXCLUDED.resolved_outcome,
			outcome_tokens   = EXCLUDED.outcome_tokens,
			outcome_totals   = EXCLUDED.outcome_totals,
			total_principal  = EXCLUDED.total_principal,
			total_redeemed   = EXCLUDED.total_redeemed,
			bets_withdrawn   = EXCLUDED.bets_withdrawn,
			yield_paid       = EXCLUDED.yield_paid,
			updated_at       = NOW()`

	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = m.UpdatedAt
	}
	names, tokens := m.OutcomeNames, m.OutcomeTokens
	if names == nil {
		names = []string{}
	}
	if tokens == nil {
		tokens = []string{}
	}
	_, err := s.pool.Exec(ctx, query,
		m.ID, m.QuestionID.Hex(), m.EventName, m.Question, names, m.OutcomeCount,
		m.Arbitrator.Hex(), m.Owner.Hex(), m.Custody.Hex(), m.OpeningTime, m.ResolutionTime, m.State.String(),
		m.ResolvedOutcome, tokens, numerics(m.OutcomeTotals),
		numeric(m.TotalPrincipal), numeric(m.TotalRedeemed), numeric(m.BetsWithdrawn), numeric(m.YieldPaid),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.ID, err)
	}
	return nil
}

// GetByID returns domain.ErrNotFound when no snapshot exists.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Market{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// List returns snapshots newest first, bounded by opts on created_at.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	var f filter
	f.window("created_at", opts)
	return s.query(ctx, &f, opts)
}

// ListByState returns snapshots in state, newest first.
func (s *MarketStore) ListByState(ctx context.Context, state domain.MarketState, opts domain.ListOpts) ([]domain.Market, error) {
	var f filter
	f.add("state = ?", state.String())
	f.window("created_at", opts)
	return s.query(ctx, &f, opts)
}

func (s *MarketStore) query(ctx context.Context, f *filter, opts domain.ListOpts) ([]domain.Market, error) {
	query, args := f.build(`SELECT `+marketCols+` FROM markets`, "created_at DESC, id", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var questionID, arbitrator, owner, custody, state string
	var principal, redeemed, withdrawn, paidOut string
	var totals []string
	if err := row.Scan(
		&m.ID, &questionID, &m.EventName, &m.Question, &m.OutcomeNames, &m.OutcomeCount,
		&arbitrator, &owner, &custody, &m.OpeningTime, &m.ResolutionTime, &state, &m.ResolvedOutcome,
		&m.OutcomeTokens, &totals, &principal, &redeemed,
		&withdrawn, &paidOut, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return domain.Market{}, err
	}

	m.QuestionID = common.HexToHash(questionID)
	m.Arbitrator = common.HexToAddress(arbitrator)
	m.Owner = common.HexToAddress(owner)
	m.Custody = common.HexToAddress(custody)

	var err error
	if m.State, err = domain.ParseMarketState(state); err != nil {
		return domain.Market{}, err
	}
	if m.OutcomeTotals, err = parseAmounts(totals); err != nil {
		return domain.Market{}, err
	}
	if m.TotalPrincipal, err = parseAmount(principal); err != nil {
		return domain.Market{}, err
	}
	if m.TotalRedeemed, err = parseAmount(redeemed); err != nil {
		return domain.Market{}, err
	}
	if m.BetsWithdrawn, err = parseAmount(withdrawn); err != nil {
		return domain.Market{}, err
	}
	if m.YieldPaid, err = parseAmount(paidOut); err != nil {
		return domain.Market{}, err
	}
	return m, nil
}
