package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

type fakeSweeper struct {
	asOf  time.Time
	count int
	err   error
}

func (f *fakeSweeper) SweepExpired(_ context.Context, asOf time.Time) (int, error) {
	f.asOf = asOf
	return f.count, f.err
}

func TestExpirySweepJobUsesPayloadTimestamp(t *testing.T) {
	sweeper := &fakeSweeper{count: 3}
	job := NewExpirySweepJob(sweeper, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	asOf := time.Date(2025, 3, 1, 0, 5, 0, 0, time.UTC)

	task, err := NewExpirySweepTask(asOf)
	require.NoError(t, err)
	require.Equal(t, TaskExpirySweep, task.Type())
	require.NoError(t, job.Handle(context.Background(), task))
	require.True(t, asOf.Equal(sweeper.asOf))
}

func TestExpirySweepJobDefaultsToClock(t *testing.T) {
	sweeper := &fakeSweeper{}
	job := NewExpirySweepJob(sweeper, nil, nil)
	now := time.Date(2025, 4, 2, 0, 5, 0, 0, time.UTC)
	job.WithClock(func() time.Time { return now })

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskExpirySweep, nil)))
	require.Equal(t, now, sweeper.asOf)

	task, err := NewExpirySweepTask(time.Time{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, now, sweeper.asOf)
}

func TestExpirySweepJobErrors(t *testing.T) {
	sweeper := &fakeSweeper{err: shared.ErrTransient}
	job := NewExpirySweepJob(sweeper, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskExpirySweep, nil))
	require.ErrorIs(t, err, shared.ErrTransient)

	err = job.Handle(context.Background(), asynq.NewTask(TaskExpirySweep, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	var unset *ExpirySweepJob
	require.Error(t, unset.Handle(context.Background(), asynq.NewTask(TaskExpirySweep, nil)))
}

type fakeChecker struct {
	report inventory.IntegrityReport
	err    error
}

func (f fakeChecker) CheckIntegrity(context.Context) (inventory.IntegrityReport, error) {
	return f.report, f.err
}

func TestStockIntegrityJob(t *testing.T) {
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())

	clean := NewStockIntegrityJob(fakeChecker{report: inventory.IntegrityReport{Products: 4}}, nil, metrics)
	require.NoError(t, clean.Handle(context.Background(), NewStockIntegrityTask()))

	diverged := NewStockIntegrityJob(fakeChecker{
		report: inventory.IntegrityReport{Products: 4, Divergences: []inventory.StockLevel{{ProductID: 2, Aggregate: 8, BatchSum: 5}}},
		err:    fmt.Errorf("%w: 1 of 4 products", inventory.ErrStockDiverged),
	}, nil, metrics)
	err := diverged.Handle(context.Background(), NewStockIntegrityTask())
	require.ErrorIs(t, err, shared.ErrIntegrity)
	require.ErrorIs(t, err, asynq.SkipRetry)

	failing := NewStockIntegrityJob(fakeChecker{err: shared.ErrTransient}, nil, metrics)
	err = failing.Handle(context.Background(), NewStockIntegrityTask())
	require.ErrorIs(t, err, shared.ErrTransient)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func TestPublisherEnqueuesLedgerEvents(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	publisher := NewPublisher(enqueuer)
	ctx := context.Background()

	require.NoError(t, publisher.HandleBatchesReceived(ctx, inventory.BatchesReceivedEvent{ProductID: 1, BatchIDs: []string{"BT-20250301-000001"}, TotalQty: 10}))
	require.NoError(t, publisher.HandleSaleAllocated(ctx, inventory.SaleAllocatedEvent{ProductID: 1, SaleRef: "INV-1", Profit: decimal.NewFromInt(620)}))
	require.Len(t, enqueuer.tasks, 2)
	require.Equal(t, TaskBatchesReceived, enqueuer.tasks[0].Type())
	require.Equal(t, TaskSaleAllocated, enqueuer.tasks[1].Type())

	var queue string
	for _, opt := range enqueuer.opts[1] {
		if opt.Type() == asynq.QueueOpt {
			queue = opt.Value().(string)
		}
	}
	require.Equal(t, QueueEvents, queue)

	var evt inventory.SaleAllocatedEvent
	require.NoError(t, json.Unmarshal(enqueuer.tasks[1].Payload(), &evt))
	require.Equal(t, "INV-1", evt.SaleRef)
	require.True(t, evt.Profit.Equal(decimal.NewFromInt(620)))

	enqueuer.err = errors.New("redis down")
	require.Error(t, publisher.HandleSaleAllocated(ctx, inventory.SaleAllocatedEvent{}))
}

func TestLedgerEventConsumer(t *testing.T) {
	consumer := LedgerEventConsumer{}
	body, err := json.Marshal(inventory.SaleAllocatedEvent{SaleRef: "INV-2"})
	require.NoError(t, err)
	require.NoError(t, consumer.HandleSaleAllocated(context.Background(), asynq.NewTask(TaskSaleAllocated, body)))
	require.ErrorIs(t, consumer.HandleBatchesReceived(context.Background(), asynq.NewTask(TaskBatchesReceived, []byte("nope"))), asynq.SkipRetry)
}

func TestServeMuxRoutesRegisteredTasks(t *testing.T) {
	called := false
	mux := NewServeMux([]TaskHandler{
		{Type: TaskStockIntegrity, Handler: func(context.Context, *asynq.Task) error {
			called = true
			return nil
		}},
		{Type: "", Handler: nil},
	})
	require.NoError(t, mux.ProcessTask(context.Background(), NewStockIntegrityTask()))
	require.True(t, called)
	require.Error(t, mux.ProcessTask(context.Background(), asynq.NewTask("unknown", nil)))
}

type stubInspector struct {
	infos map[string]*asynq.QueueInfo
	err   error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.infos[queue], nil
}

func serveHealth(t *testing.T, inspector QueueInspector) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(inspector, nil).MountRoutes)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	return rec
}

func TestJobsHealthWithoutInspector(t *testing.T) {
	rec := serveHealth(t, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Queues []queueHealth `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Queues, 2)
	require.Equal(t, QueueDefault, body.Queues[0].Queue)
	require.Equal(t, QueueEvents, body.Queues[1].Queue)
}

func TestJobsHealthReportsQueueDepth(t *testing.T) {
	rec := serveHealth(t, stubInspector{infos: map[string]*asynq.QueueInfo{
		QueueDefault: {Queue: QueueDefault, Pending: 3, Retry: 1, Latency: 2 * time.Second},
		QueueEvents:  {Queue: QueueEvents, Pending: 40, Paused: true},
	}})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Queues []queueHealth `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 3, body.Queues[0].Pending)
	require.EqualValues(t, 2000, body.Queues[0].LatencyMS)
	require.True(t, body.Queues[1].Paused)
	require.Equal(t, 40, body.Queues[1].Pending)
}

func TestJobsHealthUnavailable(t *testing.T) {
	rec := serveHealth(t, stubInspector{err: errors.New("dial tcp: connection refused")})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
