package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-pos/internal/inventory"
)

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Publisher forwards committed ledger events to the events queue.
type Publisher struct {
	enqueuer Enqueuer
}

var _ inventory.IntegrationHandler = (*Publisher)(nil)

// NewPublisher constructs a Publisher.
func NewPublisher(enqueuer Enqueuer) *Publisher {
	return &Publisher{enqueuer: enqueuer}
}

// HandleBatchesReceived enqueues a receipt event.
func (p *Publisher) HandleBatchesReceived(ctx context.Context, evt inventory.BatchesReceivedEvent) error {
	return p.publish(ctx, TaskBatchesReceived, evt)
}

// HandleSaleAllocated enqueues an allocation event.
func (p *Publisher) HandleSaleAllocated(ctx context.Context, evt inventory.SaleAllocatedEvent) error {
	return p.publish(ctx, TaskSaleAllocated, evt)
}

func (p *Publisher) publish(ctx context.Context, taskType string, evt any) error {
	if p == nil || p.enqueuer == nil {
		return errors.New("jobs: publisher not configured")
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("jobs: encode %s: %w", taskType, err)
	}
	task := asynq.NewTask(taskType, body)
	if _, err := p.enqueuer.EnqueueContext(ctx, task, asynq.Queue(QueueEvents), asynq.MaxRetry(10), asynq.Retention(24*time.Hour)); err != nil {
		return fmt.Errorf("jobs: enqueue %s: %w", taskType, err)
	}
	return nil
}

// LedgerEventConsumer drains the events queue. Profit posting lives outside this
// service, so events are logged for the downstream collector.
type LedgerEventConsumer struct {
	Logger *slog.Logger
}

// HandleBatchesReceived processes TaskBatchesReceived tasks.
func (c LedgerEventConsumer) HandleBatchesReceived(_ context.Context, t *asynq.Task) error {
	var evt inventory.BatchesReceivedEvent
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		return asynq.SkipRetry
	}
	c.logger().Info("batches received",
		slog.Int64("product_id", evt.ProductID),
		slog.String("receipt_ref", evt.ReceiptRef),
		slog.Any("batch_ids", evt.BatchIDs),
		slog.Int64("qty", evt.TotalQty))
	return nil
}

// HandleSaleAllocated processes TaskSaleAllocated tasks.
func (c LedgerEventConsumer) HandleSaleAllocated(_ context.Context, t *asynq.Task) error {
	var evt inventory.SaleAllocatedEvent
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		return asynq.SkipRetry
	}
	c.logger().Info("sale allocated",
		slog.Int64("product_id", evt.ProductID),
		slog.String("sale_ref", evt.SaleRef),
		slog.Int("lines", len(evt.Lines)),
		slog.String("cost", evt.TotalCost.String()),
		slog.String("revenue", evt.TotalRevenue.String()),
		slog.String("profit", evt.Profit.String()))
	return nil
}

func (c LedgerEventConsumer) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
