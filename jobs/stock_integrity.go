package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-pos/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// IntegrityChecker is the slice of the inventory service the integrity job needs.
type IntegrityChecker interface {
	CheckIntegrity(ctx context.Context) (inventory.IntegrityReport, error)
}

// StockIntegrityJob audits aggregate stock against batch sums.
type StockIntegrityJob struct {
	Checker IntegrityChecker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewStockIntegrityJob initialises the integrity handler.
func NewStockIntegrityJob(checker IntegrityChecker, logger *slog.Logger, metrics *jobmetrics.Metrics) *StockIntegrityJob {
	return &StockIntegrityJob{Checker: checker, Logger: logger, Metrics: metrics}
}

// Handle runs the check. Divergences fail the run without retry; they need a human.
func (j *StockIntegrityJob) Handle(ctx context.Context, _ *asynq.Task) (resultErr error) {
	if j == nil || j.Checker == nil {
		return errors.New("stock integrity: handler not configured")
	}
	tracker := j.Metrics.Track(TaskStockIntegrity)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	report, err := j.Checker.CheckIntegrity(ctx)
	j.Metrics.SetDivergedProducts(len(report.Divergences))
	switch {
	case errors.Is(err, shared.ErrIntegrity):
		logger.Error("stock integrity check found divergences",
			slog.Int("products", report.Products),
			slog.Int("diverged", len(report.Divergences)))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	case err != nil:
		return err
	}
	logger.Info("stock integrity check passed", slog.Int("products", report.Products))
	return nil
}
