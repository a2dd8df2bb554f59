package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// AdjustBatch applies a manual correction to one batch. Quantity bounds are enforced and
// aggregate stock follows the change in the batch's stock contribution.
func (s *Service) AdjustBatch(ctx context.Context, input AdjustmentInput) (Batch, error) {
	start := time.Now()
	batch, err := s.adjust(ctx, input)
	s.observe("adjust", start, err)
	return batch, err
}

func (s *Service) adjust(ctx context.Context, input AdjustmentInput) (Batch, error) {
	if err := s.validateStruct(input); err != nil {
		return Batch{}, err
	}
	if input.Status != "" && !input.Status.Valid() {
		return Batch{}, fmt.Errorf("%w: unknown status %q", shared.ErrValidation, input.Status)
	}
	if input.Delta == 0 && input.Status == "" {
		return Batch{}, fmt.Errorf("%w: adjustment changes nothing", shared.ErrValidation)
	}
	existing, err := s.repo.GetBatch(ctx, input.BatchID)
	if err != nil {
		return Batch{}, err
	}

	var before, after Batch
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.LockProductStock(ctx, existing.ProductID); err != nil {
			return err
		}
		current, err := tx.GetBatchForUpdate(ctx, input.BatchID)
		if err != nil {
			return err
		}
		next, err := applyAdjustment(current, input)
		if err != nil {
			return err
		}
		updated, err := tx.UpdateBatch(ctx, next)
		if err != nil {
			return err
		}
		if diff := updated.StockContribution() - current.StockContribution(); diff != 0 {
			if _, err := tx.UpdateProductStock(ctx, updated.ProductID, diff); err != nil {
				return err
			}
		}
		if _, err := tx.InsertLedgerEvent(ctx, LedgerEvent{
			Type:      EventBatchAdjusted,
			EntityID:  updated.BatchID,
			ProductID: updated.ProductID,
			Payload: map[string]any{
				"delta":       input.Delta,
				"reason":      input.Reason,
				"from_qty":    current.CurrentQty,
				"to_qty":      updated.CurrentQty,
				"from_status": string(current.Status),
				"to_status":   string(updated.Status),
			},
			Actor:      input.Actor,
			OccurredAt: s.now(),
		}); err != nil {
			return fmt.Errorf("inventory: adjustment provenance: %w", err)
		}
		before, after = current, updated
		return nil
	})
	if err != nil {
		return Batch{}, err
	}

	s.recordAudit(ctx, shared.AuditLog{
		Actor:    input.Actor,
		Action:   "inventory:" + string(EventBatchAdjusted),
		Entity:   "inventory_batch",
		EntityID: after.BatchID,
		Meta: map[string]any{
			"reason":      input.Reason,
			"delta":       input.Delta,
			"from_status": string(before.Status),
			"to_status":   string(after.Status),
		},
		At: s.now(),
	})
	s.logger.Info("batch adjusted",
		slog.String("batch_id", after.BatchID),
		slog.Int64("delta", input.Delta),
		slog.String("status", string(after.Status)),
		slog.String("actor", input.Actor))
	return after, nil
}

// applyAdjustment computes the adjusted batch. An explicit status wins over the automatic
// depleted/active switch, except that a batch holding stock can never be marked depleted.
func applyAdjustment(b Batch, input AdjustmentInput) (Batch, error) {
	qty := b.CurrentQty + input.Delta
	switch {
	case qty < 0:
		return Batch{}, fmt.Errorf("%w: batch %s would drop below zero", ErrInvalidQuantity, b.BatchID)
	case qty > b.InitialQty:
		return Batch{}, fmt.Errorf("%w: batch %s would exceed initial quantity %d", ErrInvalidQuantity, b.BatchID, b.InitialQty)
	case qty < b.ReservedQty:
		return Batch{}, fmt.Errorf("%w: batch %s would drop below reserved quantity %d", ErrInvalidQuantity, b.BatchID, b.ReservedQty)
	}
	b.CurrentQty = qty

	if input.Status != "" {
		if input.Status == BatchStatusDepleted && qty > 0 {
			return Batch{}, fmt.Errorf("%w: batch %s still holds %d units", shared.ErrValidation, b.BatchID, qty)
		}
		b.Status = input.Status
		return b, nil
	}
	switch {
	case b.Status == BatchStatusActive && qty == 0:
		b.Status = BatchStatusDepleted
	case b.Status == BatchStatusDepleted && qty > 0:
		b.Status = BatchStatusActive
	}
	return b, nil
}
