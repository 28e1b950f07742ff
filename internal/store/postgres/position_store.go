package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bettogether/internal/domain"
)

// PositionStore implements domain.PositionStore. Rows are keyed by
// (market_id, user_address, outcome).
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionCols = `market_id, user_address, outcome, principal::text, withdrawn,
	yield_share::text, updated_at`

// UpsertBatch writes every position in a single round trip.
func (s *PositionStore) UpsertBatch(ctx context.Context, positions []domain.Position) error {
	if len(positions) == 0 {
		return nil
	}
	const query = `
		INSERT INTO positions (market_id, user_address, outcome, principal, withdrawn, yield_share, updated_at)
		VALUES ($1, $2, $3, $4::text::numeric, $5, $6::text::numeric, $7)
		ON CONFLICT (market_id, user_address, outcome) DO UPDATE SET
			principal   = EXCLUDED.principal,
			withdrawn   = EXCLUDED.withdrawn,
			yield_share = EXCLUDED.yield_share,
			updated_at  = EXCLUDED.updated_at`

	batch := &pgx.Batch{}
	for _, p := range positions {
		var share *string
		if p.YieldShare != nil {
			v := p.YieldShare.Dec()
			share = &v
		}
		batch.Queue(query,
			p.MarketID, p.User.Hex(), p.Outcome, numeric(p.Principal), p.Withdrawn, share, p.UpdatedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range positions {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert positions: %w", err)
		}
	}
	return nil
}

// ListByMarket returns every position in the market ordered by user then
// outcome.
func (s *PositionStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Position, error) {
	var f filter
	f.add("market_id = ?", marketID)
	query, args := f.build(`SELECT `+positionCols+` FROM positions`, "user_address, outcome", domain.ListOpts{})
	return s.query(ctx, query, args)
}

// ListByUser returns the user's positions across markets, most recently
// updated first.
func (s *PositionStore) ListByUser(ctx context.Context, user common.Address, opts domain.ListOpts) ([]domain.Position, error) {
	var f filter
	f.add("user_address = ?", user.Hex())
	f.window("updated_at", opts)
	query, args := f.build(`SELECT `+positionCols+` FROM positions`, "updated_at DESC, market_id, outcome", opts)
	return s.query(ctx, query, args)
}

func (s *PositionStore) query(ctx context.Context, query string, args []any) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		var user, principal string
		var share *string
		if err := rows.Scan(&p.MarketID, &user, &p.Outcome, &principal, &p.Withdrawn, &share, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		p.User = common.HexToAddress(user)
		if p.Principal, err = parseAmount(principal); err != nil {
			return nil, err
		}
		if share != nil {
			if p.YieldShare, err = parseAmount(*share); err != nil {
				return nil, err
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
