package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/inventory"
	"github.com/odyssey-erp/odyssey-pos/internal/observability"
	"github.com/odyssey-erp/odyssey-pos/internal/sequence"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

func memoryConfig() *Config {
	return &Config{
		AppEnv:                "test",
		AppRequestTimeout:     5 * time.Second,
		StoreDriver:           DriverMemory,
		SequenceBackend:       DriverMemory,
		LedgerTxTimeout:       time.Second,
		IntegrityCheckWorkers: 2,
		RateLimitPerMinute:    1000,
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *observability.Metrics) {
	t.Helper()
	cfg := memoryConfig()
	metrics := observability.NewMetrics()
	ledger, err := NewLedger(context.Background(), cfg, LedgerDeps{Logger: testLogger(), Metrics: observability.NewLedgerMetrics(metrics.Registerer())})
	require.NoError(t, err)
	t.Cleanup(ledger.Close)
	require.Nil(t, ledger.Pool)
	require.Nil(t, ledger.Redis)

	router := NewRouter(RouterParams{
		Logger:           testLogger(),
		Config:           cfg,
		InventoryHandler: inventory.NewHandler(testLogger(), ledger.Service),
		SequenceHandler:  sequence.NewHandler(ledger.Sequences),
		Metrics:          metrics,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, metrics
}

func TestRouterHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestRouterReceiptFlowThroughMemoryLedger(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"receipt_ref":"PO-7","lines":[{"qty":5,"cost_price":"1000","selling_price":"1500"}]}`
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/inventory/products/42/receipts", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ActorHeader, "cashier-1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	stockResp, err := http.Get(srv.URL + "/inventory/products/42/stock")
	require.NoError(t, err)
	defer stockResp.Body.Close()
	var stock map[string]any
	require.NoError(t, json.NewDecoder(stockResp.Body).Decode(&stock))
	require.EqualValues(t, 5, stock["qty"])

	metricsResp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	require.Equal(t, http.StatusOK, metricsResp.StatusCode)
}

func TestRouterSequenceEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/sequences/barcode/next", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.EqualValues(t, 1, payload["value"])
	require.NotEmpty(t, payload["barcode"])
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestActorMiddleware(t *testing.T) {
	var seen string
	h := ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = shared.ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ActorHeader, "  manager-2 ")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, "manager-2", seen)

	seen = "unset"
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Empty(t, seen)
}
