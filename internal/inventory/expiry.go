package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SweeperActor is recorded on provenance entries written by the expiry sweep.
const SweeperActor = "system:expiry-sweeper"

// SweepExpired marks active batches whose expiry is before asOf as expired and returns how
// many changed. Quantities are untouched, so a repeated sweep returns zero.
func (s *Service) SweepExpired(ctx context.Context, asOf time.Time) (int, error) {
	start := time.Now()
	if asOf.IsZero() {
		asOf = s.now()
	}
	asOf = asOf.UTC()

	var expired []Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batches, err := tx.ExpireBatches(ctx, asOf)
		if err != nil {
			return err
		}
		for _, b := range batches {
			if _, err := tx.InsertLedgerEvent(ctx, LedgerEvent{
				Type:      EventBatchExpired,
				EntityID:  b.BatchID,
				ProductID: b.ProductID,
				Payload: map[string]any{
					"as_of":       asOf,
					"expires_at":  b.ExpiresAt,
					"current_qty": b.CurrentQty,
				},
				Actor:      SweeperActor,
				OccurredAt: s.now(),
			}); err != nil {
				return fmt.Errorf("inventory: expiry provenance %s: %w", b.BatchID, err)
			}
		}
		expired = batches
		return nil
	})
	s.observe("sweep", start, err)
	if err != nil {
		return 0, err
	}
	if len(expired) > 0 {
		s.logger.Info("expired batches swept", slog.Time("as_of", asOf), slog.Int("count", len(expired)))
	}
	return len(expired), nil
}
