package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// CheckIntegrity compares every product's aggregate stock with the sum of its batches.
// Divergences are reported and wrapped in ErrStockDiverged; nothing is repaired.
func (s *Service) CheckIntegrity(ctx context.Context) (IntegrityReport, error) {
	report := IntegrityReport{CheckedAt: s.now(), Divergences: []StockLevel{}}
	ids, err := s.repo.ListProductIDs(ctx)
	if err != nil {
		return report, err
	}
	report.Products = len(ids)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, id := range ids {
		g.Go(func() error {
			level, err := s.repo.StockLevel(gctx, id)
			if err != nil {
				return fmt.Errorf("inventory: stock level %d: %w", id, err)
			}
			if level.Diverged() {
				mu.Lock()
				report.Divergences = append(report.Divergences, level)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	if len(report.Divergences) == 0 {
		return report, nil
	}
	sort.Slice(report.Divergences, func(i, j int) bool {
		return report.Divergences[i].ProductID < report.Divergences[j].ProductID
	})
	for _, d := range report.Divergences {
		s.logger.Error("aggregate stock diverged from batches",
			slog.Int64("product_id", d.ProductID),
			slog.Int64("aggregate", d.Aggregate),
			slog.Int64("batch_sum", d.BatchSum))
	}
	if s.metrics != nil {
		s.metrics.AddIntegrityViolations(len(report.Divergences))
	}
	return report, fmt.Errorf("%w: %d of %d products", ErrStockDiverged, len(report.Divergences), report.Products)
}
