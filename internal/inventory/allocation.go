package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

var hundred = decimal.NewFromInt(100)

// AllocateSale consumes eligible batches oldest first. Either the whole quantity is
// allocated or nothing changes.
func (s *Service) AllocateSale(ctx context.Context, input SaleInput) (AllocationResult, error) {
	start := time.Now()
	result, err := s.allocate(ctx, input)
	s.observe("allocate", start, err)
	return result, err
}

// PreviewAllocation quotes the FIFO breakdown of a sale without consuming stock.
func (s *Service) PreviewAllocation(ctx context.Context, input SaleInput) (AllocationResult, error) {
	if err := s.validateSale(input); err != nil {
		return AllocationResult{}, err
	}
	var result AllocationResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batches, err := tx.ListEligibleBatches(ctx, input.ProductID, s.now())
		if err != nil {
			return err
		}
		lines, err := planAllocation(batches, input.Qty, input.PriceOverride)
		if err != nil {
			return err
		}
		result = summarize(input.ProductID, input.SaleRef, lines)
		return nil
	})
	if err != nil {
		return AllocationResult{}, err
	}
	return result, nil
}

func (s *Service) allocate(ctx context.Context, input SaleInput) (AllocationResult, error) {
	if err := s.validateSale(input); err != nil {
		return AllocationResult{}, err
	}
	if input.SaleRef == "" {
		input.SaleRef = uuid.NewString()
	}

	key, err := s.claimIdempotency(ctx, "sale", input.IdempotencyKey)
	if err != nil {
		return AllocationResult{}, err
	}

	var result AllocationResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.LockProductStock(ctx, input.ProductID); err != nil {
			return err
		}
		now := s.now()
		batches, err := tx.ListEligibleBatches(ctx, input.ProductID, now)
		if err != nil {
			return err
		}
		// Plan fully before mutating so a short or underpriced sale has no side effects.
		lines, err := planAllocation(batches, input.Qty, input.PriceOverride)
		if err != nil {
			return err
		}
		for _, line := range lines {
			if _, err := tx.DecrementBatch(ctx, line.BatchID, line.Qty); err != nil {
				return err
			}
			rec := AllocationRecord{
				ID:          uuid.New(),
				ProductID:   input.ProductID,
				BatchID:     line.BatchID,
				Qty:         line.Qty,
				UnitCost:    line.UnitCost,
				UnitPrice:   line.UnitPrice,
				SaleRef:     input.SaleRef,
				Actor:       input.Actor,
				AllocatedAt: now,
			}
			if err := tx.InsertAllocation(ctx, rec); err != nil {
				return fmt.Errorf("inventory: allocation record %s: %w", line.BatchID, err)
			}
		}
		if _, err := tx.UpdateProductStock(ctx, input.ProductID, -input.Qty); err != nil {
			return err
		}
		result = summarize(input.ProductID, input.SaleRef, lines)
		return nil
	})
	if err != nil {
		s.releaseIdempotency(ctx, key)
		if errors.Is(err, shared.ErrIntegrity) {
			s.logger.Error("allocation failed on ledger integrity, manual reconciliation required",
				slog.Int64("product_id", input.ProductID),
				slog.Int64("qty", input.Qty),
				slog.String("sale_ref", input.SaleRef),
				slog.Any("error", err))
		}
		return AllocationResult{}, err
	}

	s.afterAllocation(ctx, input, result)
	return result, nil
}

func (s *Service) afterAllocation(ctx context.Context, input SaleInput, result AllocationResult) {
	at := s.now()
	for _, line := range result.Lines {
		s.recordAudit(ctx, shared.AuditLog{
			Actor:    input.Actor,
			Action:   "inventory:allocation",
			Entity:   "inventory_batch",
			EntityID: line.BatchID,
			Meta: map[string]any{
				"product_id": input.ProductID,
				"sale_ref":   result.SaleRef,
				"qty":        line.Qty,
				"unit_cost":  line.UnitCost.String(),
				"unit_price": line.UnitPrice.String(),
			},
			At: at,
		})
	}
	if s.integration != nil {
		evt := SaleAllocatedEvent{
			ProductID:    input.ProductID,
			SaleRef:      result.SaleRef,
			Qty:          input.Qty,
			Lines:        result.Lines,
			TotalCost:    result.TotalCost,
			TotalRevenue: result.TotalRevenue,
			Profit:       result.Profit,
			Actor:        input.Actor,
			AllocatedAt:  at,
		}
		if err := s.integration.HandleSaleAllocated(ctx, evt); err != nil {
			s.logger.Warn("publish sale allocated", slog.String("sale_ref", result.SaleRef), slog.Any("error", err))
		}
	}
}

func (s *Service) validateSale(input SaleInput) error {
	if err := s.validateStruct(input); err != nil {
		return err
	}
	if input.PriceOverride != nil && input.PriceOverride.IsNegative() {
		return fmt.Errorf("%w: price override must be >= 0", ErrInvalidPrice)
	}
	if input.PriceOverride != nil && !fitsPriceScale(*input.PriceOverride) {
		return fmt.Errorf("%w: price override carries more than %d decimal places", ErrInvalidPrice, maxPriceScale)
	}
	return nil
}

// planAllocation walks FIFO-ordered batches until qty is covered.
func planAllocation(batches []Batch, qty int64, priceOverride *decimal.Decimal) ([]AllocationLine, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	var available int64
	for _, b := range batches {
		if b.Available() > 0 {
			available += b.Available()
		}
	}
	if available < qty {
		return nil, fmt.Errorf("%w: requested %d, available %d", ErrInsufficientStock, qty, available)
	}

	remaining := qty
	lines := make([]AllocationLine, 0, len(batches))
	for _, b := range batches {
		if remaining == 0 {
			break
		}
		take := min(remaining, b.Available())
		if take <= 0 {
			continue
		}
		price := b.SellingPrice
		if priceOverride != nil {
			if priceOverride.LessThan(b.CostPrice) {
				return nil, fmt.Errorf("%w: %s < %s on batch %s", ErrPriceBelowCost, priceOverride.String(), b.CostPrice.String(), b.BatchID)
			}
			price = *priceOverride
		}
		lines = append(lines, AllocationLine{
			BatchID:   b.BatchID,
			Qty:       take,
			UnitCost:  b.CostPrice,
			UnitPrice: price,
		})
		remaining -= take
	}
	return lines, nil
}

func summarize(productID int64, saleRef string, lines []AllocationLine) AllocationResult {
	result := AllocationResult{
		ProductID:    productID,
		SaleRef:      saleRef,
		Lines:        lines,
		TotalCost:    decimal.Zero,
		TotalRevenue: decimal.Zero,
	}
	for _, line := range lines {
		qty := decimal.NewFromInt(line.Qty)
		result.TotalCost = result.TotalCost.Add(line.UnitCost.Mul(qty))
		result.TotalRevenue = result.TotalRevenue.Add(line.UnitPrice.Mul(qty))
	}
	result.Profit = result.TotalRevenue.Sub(result.TotalCost)
	result.ProfitMargin = profitMargin(result.Profit, result.TotalRevenue)
	return result
}

func profitMargin(profit, revenue decimal.Decimal) decimal.Decimal {
	if revenue.IsZero() {
		return decimal.Zero
	}
	return profit.Div(revenue).Mul(hundred).Round(2)
}
