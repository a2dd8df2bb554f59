package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T, metrics *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsHandlerExposesLedgerMetrics(t *testing.T) {
	metrics := NewMetrics()
	ledger := NewLedgerMetrics(metrics.Registerer())
	ledger.ObserveOperation("allocate", "ok", 20*time.Millisecond)
	ledger.ObserveOperation("allocate", "insufficient_stock", time.Millisecond)
	ledger.AddIntegrityViolations(2)
	ledger.AddIntegrityViolations(0)

	body := scrape(t, metrics)
	for _, want := range []string{
		`odyssey_inventory_operations_total{op="allocate",outcome="ok"} 1`,
		`odyssey_inventory_operations_total{op="allocate",outcome="insufficient_stock"} 1`,
		`odyssey_inventory_integrity_violations_total 2`,
		`odyssey_inventory_operation_duration_seconds_count{op="allocate"} 2`,
		`go_goroutines`,
		`promhttp_metric_handler_requests_total{code="200"}`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected body to contain %s, got: %s", want, body)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	var ledger *LedgerMetrics
	ledger.ObserveOperation("receive", "ok", time.Millisecond)
	ledger.AddIntegrityViolations(1)

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from nil metrics, got %d", rr.Code)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	metricsBody := scrape(t, metrics)
	if !strings.Contains(metricsBody, "odyssey_pos_http_requests_total{code=\"418\",method=\"GET\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, "odyssey_pos_http_request_duration_seconds_bucket{method=\"GET\",route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", metricsBody)
	}
}

func TestLedgerMetricsRegisterOncePerRegistry(t *testing.T) {
	metrics := NewMetrics()
	NewLedgerMetrics(metrics.Registerer())

	defer func() {
		if recover() == nil {
			t.Fatal("expected duplicate registration to panic")
		}
	}()
	NewLedgerMetrics(metrics.Registerer())
}

func TestMetricsMiddlewareKeepsFirstStatus(t *testing.T) {
	metrics := NewMetrics()
	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/sales", nil))

	body := scrape(t, metrics)
	if !strings.Contains(body, `odyssey_pos_http_requests_total{code="409",method="POST",route="unmatched"} 1`) {
		t.Fatalf("expected first status to be recorded, got: %s", body)
	}
	if !strings.Contains(body, "odyssey_pos_http_requests_in_flight 0") {
		t.Fatalf("expected in-flight gauge to settle, got: %s", body)
	}
}
