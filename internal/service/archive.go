package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/bettogether/internal/domain"
)

// ArchiveSettled archives every resolved market whose bettors have all
// withdrawn. Each market is archived once per process under a distributed
// lock, so concurrent archivers skip rather than race. It returns the number
// of markets archived by this call.
func (s *MarketService) ArchiveSettled(ctx context.Context) (int, error) {
	var n int
	var errs []error
	for _, m := range s.registry.List() {
		if m.State() != domain.MarketStateResolved || !m.FullyWithdrawn() {
			continue
		}
		id := m.ID()
		if s.archivedPath(id) != "" {
			continue
		}

		unlock, err := s.locks.Acquire(ctx, "archive:"+id, archiveLockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("lock %s: %w", id, err))
			continue
		}

		snap := m.Snapshot()
		dir, err := s.archiver.ArchiveMarket(ctx, snap, m.Positions())
		unlock()
		if err != nil {
			errs = append(errs, fmt.Errorf("archive %s: %w", id, err))
			continue
		}

		s.mu.Lock()
		s.archived[id] = dir
		s.mu.Unlock()
		n++
		s.logger.InfoContext(ctx, "market archived",
			slog.String("market_id", id),
			slog.String("path", dir),
			slog.String("remaining", m.Remaining().Dec()),
		)
	}
	if len(errs) > 0 {
		return n, fmt.Errorf("market_service: archive settled: %w", errors.Join(errs...))
	}
	return n, nil
}

// ArchivePath returns where a market was archived, or "" if it was not
// archived by this process.
func (s *MarketService) ArchivePath(id string) string {
	return s.archivedPath(id)
}

func (s *MarketService) archivedPath(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.archived[id]
}
