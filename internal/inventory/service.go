package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/sequence"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBatch(ctx context.Context, batchID string) (Batch, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error)
	ListAllocations(ctx context.Context, batchID string) ([]AllocationRecord, error)
	GetProductStock(ctx context.Context, productID int64) (ProductStock, error)
	ListProductIDs(ctx context.Context) ([]int64, error)
	StockLevel(ctx context.Context, productID int64) (StockLevel, error)
}

// IdempotencyPort guards retried requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// MetricsRecorder receives ledger instrumentation.
type MetricsRecorder interface {
	ObserveOperation(op, outcome string, elapsed time.Duration)
	AddIntegrityViolations(n int)
}

// Service coordinates the batch ledger: receipts, FIFO allocation, adjustments and expiry.
type Service struct {
	repo        RepositoryPort
	seq         sequence.Allocator
	audit       shared.AuditSink
	idempotency IdempotencyPort
	integration IntegrationHandler
	metrics     MetricsRecorder
	logger      *slog.Logger
	validate    *validator.Validate
	now         func() time.Time
	workers     int
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Logger  *slog.Logger
	Metrics MetricsRecorder
	// IntegrityWorkers bounds concurrent product checks. Defaults to 4.
	IntegrityWorkers int
	// Now overrides the clock, mostly for tests.
	Now func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, seq sequence.Allocator, audit shared.AuditSink, idem IdempotencyPort, cfg ServiceConfig, integration IntegrationHandler) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	workers := cfg.IntegrityWorkers
	if workers <= 0 {
		workers = 4
	}
	return &Service{
		repo:        repo,
		seq:         seq,
		audit:       audit,
		idempotency: idem,
		integration: integration,
		metrics:     cfg.Metrics,
		logger:      logger,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		now:         now,
		workers:     workers,
	}
}

const (
	idempotencyModule = "inventory"
	refModuleBackfill = "backfill"

	// receiptClockSkew bounds how far a client-supplied received_at may drift from the server clock.
	receiptClockSkew = 5 * time.Minute
	// maxPriceScale is the number of fractional digits the money columns hold.
	maxPriceScale = 4
)

// ReceiveStock turns purchase lines into batches stamped with the server clock.
// Every line is applied or none is.
func (s *Service) ReceiveStock(ctx context.Context, input ReceiveInput) (ReceiptResult, error) {
	start := time.Now()
	result, err := s.receive(ctx, input, false)
	s.observe("receive", start, err)
	return result, err
}

// Backfill records legacy batches with their historical purchase time. It runs through the
// same validation and transaction as ReceiveStock.
func (s *Service) Backfill(ctx context.Context, input ReceiveInput) (ReceiptResult, error) {
	start := time.Now()
	if input.ReceivedAt.IsZero() {
		err := fmt.Errorf("%w: backfill requires received_at", shared.ErrValidation)
		s.observe("backfill", start, err)
		return ReceiptResult{}, err
	}
	if input.ReceiptRef == "" {
		input.ReceiptRef = refModuleBackfill
	}
	result, err := s.receive(ctx, input, true)
	s.observe("backfill", start, err)
	return result, err
}

func (s *Service) receive(ctx context.Context, input ReceiveInput, backfill bool) (ReceiptResult, error) {
	if !backfill {
		now := s.now().UTC()
		if !input.ReceivedAt.IsZero() && absDuration(input.ReceivedAt.Sub(now)) > receiptClockSkew {
			return ReceiptResult{}, fmt.Errorf("%w: received_at %s is more than %s from server time, use backfill for historical stock",
				shared.ErrValidation, input.ReceivedAt.UTC().Format(time.RFC3339), receiptClockSkew)
		}
		input.ReceivedAt = now
	}
	input.ReceivedAt = input.ReceivedAt.UTC()
	if err := s.validateReceipt(input, backfill); err != nil {
		return ReceiptResult{}, err
	}

	key, err := s.claimIdempotency(ctx, "receipt", input.IdempotencyKey)
	if err != nil {
		return ReceiptResult{}, err
	}

	// Batch numbers are drawn before the transaction opens. The Postgres allocator
	// takes its own pool connection and must not wait behind the ledger transaction.
	batchIDs, err := s.drawBatchIDs(ctx, input.ReceivedAt, len(input.Lines))
	if err != nil {
		s.releaseIdempotency(ctx, key)
		return ReceiptResult{}, err
	}

	var result ReceiptResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = ReceiptResult{}
		if _, err := tx.LockProductStock(ctx, input.ProductID); err != nil {
			return err
		}
		for i, line := range input.Lines {
			batch, err := tx.CreateBatch(ctx, Batch{
				BatchID:        batchIDs[i],
				ProductID:      input.ProductID,
				ReceiptRef:     input.ReceiptRef,
				SupplierID:     input.SupplierID,
				CostPrice:      line.CostPrice,
				SellingPrice:   line.SellingPrice,
				MRP:            line.MRP,
				InitialQty:     line.Qty,
				CurrentQty:     line.Qty,
				PurchasedAt:    input.ReceivedAt,
				ExpiresAt:      utcPtr(line.ExpiresAt),
				ManufacturedAt: utcPtr(line.ManufacturedAt),
				Status:         BatchStatusActive,
			})
			if err != nil {
				return fmt.Errorf("inventory: line %d: %w", i+1, err)
			}
			if _, err := tx.UpdateProductStock(ctx, input.ProductID, line.Qty); err != nil {
				return fmt.Errorf("inventory: line %d: %w", i+1, err)
			}
			ref, err := tx.InsertLedgerEvent(ctx, LedgerEvent{
				Type:      EventBatchReceived,
				EntityID:  batch.BatchID,
				ProductID: input.ProductID,
				Payload: map[string]any{
					"line":          i + 1,
					"qty":           line.Qty,
					"cost_price":    line.CostPrice.String(),
					"selling_price": line.SellingPrice.String(),
					"receipt_ref":   input.ReceiptRef,
					"backfill":      backfill,
				},
				Actor:      input.Actor,
				OccurredAt: s.now(),
			})
			if err != nil {
				return fmt.Errorf("inventory: line %d: provenance: %w", i+1, err)
			}
			result.Batches = append(result.Batches, batch)
			result.AuditRefs = append(result.AuditRefs, ref)
		}
		return nil
	})
	if err != nil {
		s.releaseIdempotency(ctx, key)
		if errors.Is(err, shared.ErrIntegrity) {
			s.logger.Error("receipt rollback failed, manual reconciliation required",
				slog.Int64("product_id", input.ProductID),
				slog.String("receipt_ref", input.ReceiptRef),
				slog.String("actor", input.Actor),
				slog.Any("lines", input.Lines),
				slog.Any("error", err))
		}
		return ReceiptResult{}, err
	}

	s.afterReceipt(ctx, input, result)
	return result, nil
}

// drawBatchIDs reserves one batch number per receipt line. Values drawn for a receipt
// that later rolls back are never reissued.
func (s *Service) drawBatchIDs(ctx context.Context, receivedAt time.Time, lines int) ([]string, error) {
	namespace := sequence.BatchNamespace(receivedAt)
	ids := make([]string, 0, lines)
	for i := 0; i < lines; i++ {
		n, err := s.seq.Next(ctx, namespace)
		if err != nil {
			return nil, fmt.Errorf("inventory: line %d: batch number: %w", i+1, err)
		}
		ids = append(ids, sequence.FormatBatchID(receivedAt, n))
	}
	return ids, nil
}

func (s *Service) afterReceipt(ctx context.Context, input ReceiveInput, result ReceiptResult) {
	var total int64
	ids := make([]string, 0, len(result.Batches))
	for _, b := range result.Batches {
		total += b.InitialQty
		ids = append(ids, b.BatchID)
		s.recordAudit(ctx, shared.AuditLog{
			Actor:    input.Actor,
			Action:   "inventory:" + string(EventBatchReceived),
			Entity:   "inventory_batch",
			EntityID: b.BatchID,
			Meta: map[string]any{
				"product_id":  b.ProductID,
				"qty":         b.InitialQty,
				"cost_price":  b.CostPrice.String(),
				"receipt_ref": b.ReceiptRef,
			},
			At: s.now(),
		})
	}
	if s.integration != nil {
		evt := BatchesReceivedEvent{
			ProductID:  input.ProductID,
			ReceiptRef: input.ReceiptRef,
			BatchIDs:   ids,
			TotalQty:   total,
			Actor:      input.Actor,
			ReceivedAt: input.ReceivedAt,
		}
		if err := s.integration.HandleBatchesReceived(ctx, evt); err != nil {
			s.logger.Warn("publish batches received", slog.Int64("product_id", input.ProductID), slog.Any("error", err))
		}
	}
	s.logger.Info("stock received",
		slog.Int64("product_id", input.ProductID),
		slog.Int("batches", len(result.Batches)),
		slog.Int64("qty", total))
}

func (s *Service) validateReceipt(input ReceiveInput, backfill bool) error {
	if err := s.validateStruct(input); err != nil {
		return err
	}
	for i, line := range input.Lines {
		if line.CostPrice.IsNegative() || line.SellingPrice.IsNegative() || line.MRP.IsNegative() {
			return fmt.Errorf("%w: line %d: prices must be >= 0", ErrInvalidPrice, i+1)
		}
		if !fitsPriceScale(line.CostPrice) || !fitsPriceScale(line.SellingPrice) || !fitsPriceScale(line.MRP) {
			return fmt.Errorf("%w: line %d: prices carry at most %d decimal places", ErrInvalidPrice, i+1, maxPriceScale)
		}
		if line.MRP.IsPositive() && line.SellingPrice.GreaterThan(line.MRP) {
			return fmt.Errorf("%w: line %d: selling price above MRP", ErrInvalidPrice, i+1)
		}
		if line.ExpiresAt != nil && line.ManufacturedAt != nil && !line.ExpiresAt.After(*line.ManufacturedAt) {
			return fmt.Errorf("%w: line %d: expiry must follow manufacture date", shared.ErrValidation, i+1)
		}
		if !backfill && line.ExpiresAt != nil && !line.ExpiresAt.After(input.ReceivedAt) {
			return fmt.Errorf("%w: line %d: expiry already passed", shared.ErrValidation, i+1)
		}
	}
	return nil
}

func (s *Service) validateStruct(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		msgs := make([]string, 0, len(fieldErrs))
		for _, fieldErr := range fieldErrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fieldErr.Namespace(), fieldErr.Tag()))
		}
		return fmt.Errorf("%w: %s", shared.ErrValidation, strings.Join(msgs, "; "))
	}
	return fmt.Errorf("%w: %v", shared.ErrValidation, err)
}

// GetBatch returns one batch.
func (s *Service) GetBatch(ctx context.Context, batchID string) (Batch, error) {
	if strings.TrimSpace(batchID) == "" {
		return Batch{}, fmt.Errorf("%w: batch id required", shared.ErrValidation)
	}
	return s.repo.GetBatch(ctx, batchID)
}

// ListBatches lists a product's batches in FIFO order.
func (s *Service) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error) {
	if filter.ProductID <= 0 {
		return nil, fmt.Errorf("%w: product required", shared.ErrValidation)
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", shared.ErrValidation, filter.Status)
	}
	return s.repo.ListBatches(ctx, filter)
}

// ListAllocations returns the allocation trail of one batch.
func (s *Service) ListAllocations(ctx context.Context, batchID string) ([]AllocationRecord, error) {
	if _, err := s.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}
	return s.repo.ListAllocations(ctx, batchID)
}

// GetProductStock returns the aggregate stock of a product.
func (s *Service) GetProductStock(ctx context.Context, productID int64) (ProductStock, error) {
	if productID <= 0 {
		return ProductStock{}, fmt.Errorf("%w: product required", shared.ErrValidation)
	}
	return s.repo.GetProductStock(ctx, productID)
}

func (s *Service) claimIdempotency(ctx context.Context, scope, key string) (string, error) {
	if s.idempotency == nil || key == "" {
		return "", nil
	}
	full := fmt.Sprintf("%s:%s:%s", idempotencyModule, scope, key)
	if err := s.idempotency.CheckAndInsert(ctx, full, idempotencyModule); err != nil {
		return "", err
	}
	return full, nil
}

func (s *Service) releaseIdempotency(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.idempotency.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit record", slog.String("action", log.Action), slog.String("entity_id", log.EntityID), slog.Any("error", err))
	}
}

func (s *Service) observe(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveOperation(op, shared.Kind(err), time.Since(start))
}

func fitsPriceScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(maxPriceScale))
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
