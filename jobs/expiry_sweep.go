package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
)

// Sweeper is the slice of the inventory service the sweep job needs.
type Sweeper interface {
	SweepExpired(ctx context.Context, asOf time.Time) (int, error)
}

// ExpirySweepJob runs the expiry sweep on schedule.
type ExpirySweepJob struct {
	Sweeper Sweeper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewExpirySweepJob initialises the expiry sweep handler.
func NewExpirySweepJob(sweeper Sweeper, logger *slog.Logger, metrics *jobmetrics.Metrics) *ExpirySweepJob {
	return &ExpirySweepJob{
		Sweeper: sweeper,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the sweep.
func (j *ExpirySweepJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Sweeper == nil {
		return errors.New("expiry sweep: handler not configured")
	}
	var payload ExpirySweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	asOf := payload.AsOf
	if asOf.IsZero() {
		asOf = j.now()
	}

	tracker := j.metrics().Track(TaskExpirySweep)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	count, err := j.Sweeper.SweepExpired(ctx, asOf)
	if err != nil {
		j.logger().Error("expiry sweep failed", slog.Time("as_of", asOf), slog.Any("error", err))
		return err
	}
	j.metrics().AddExpiredBatches(count)
	j.logger().Info("expiry sweep completed",
		slog.Time("as_of", asOf),
		slog.Int("expired", count),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// WithClock overrides the clock used when the payload carries no timestamp.
func (j *ExpirySweepJob) WithClock(clock func() time.Time) {
	if j == nil || clock == nil {
		return
	}
	j.clock = clock
}

func (j *ExpirySweepJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}

func (j *ExpirySweepJob) metrics() *jobmetrics.Metrics {
	return j.Metrics
}

func (j *ExpirySweepJob) now() time.Time {
	if j.clock == nil {
		return time.Now().UTC()
	}
	return j.clock()
}
