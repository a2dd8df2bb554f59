package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueEvents carries committed ledger events to downstream consumers.
	QueueEvents = "events"

	// TaskExpirySweep flips batches past their expiry date to expired.
	TaskExpirySweep = "inventory:expiry_sweep"
	// TaskStockIntegrity compares aggregate stock with batch sums.
	TaskStockIntegrity = "inventory:stock_integrity"
	// TaskBatchesReceived announces a committed receipt.
	TaskBatchesReceived = "inventory:batches_received"
	// TaskSaleAllocated announces a committed FIFO allocation.
	TaskSaleAllocated = "inventory:sale_allocated"
)

// ExpirySweepPayload carries scheduling metadata. A zero AsOf means "now" at execution.
type ExpirySweepPayload struct {
	AsOf time.Time `json:"as_of,omitempty"`
}

// NewExpirySweepTask constructs an Asynq task for the expiry sweep.
func NewExpirySweepTask(asOf time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ExpirySweepPayload{AsOf: asOf})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExpirySweep, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3), asynq.Timeout(10*time.Minute)), nil
}

// NewStockIntegrityTask constructs an Asynq task for the stock integrity check.
func NewStockIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskStockIntegrity, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(1), asynq.Timeout(30*time.Minute))
}
