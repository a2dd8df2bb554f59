package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

func newTestRouter(t *testing.T) (http.Handler, testEnv) {
	t.Helper()
	env := newTestEnv(t, nil)
	handler := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), env.svc)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.ContextWithActor(r.Context(), r.Header.Get("X-Actor"))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	r.Route("/inventory", handler.MountRoutes)
	return r, env
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor", "tester")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerReceiveAndAllocate(t *testing.T) {
	h, env := newTestRouter(t)

	rec := doJSON(t, h, http.MethodPost, "/inventory/products/1/receipts",
		`{"receipt_ref":"PO-1","lines":[{"qty":100,"cost_price":"20","selling_price":"25"},{"qty":50,"cost_price":"22","selling_price":"28"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var receipt ReceiptResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &receipt))
	require.Len(t, receipt.Batches, 2)

	rec = doJSON(t, h, http.MethodPost, "/inventory/products/1/allocations/preview", `{"qty":120}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodPost, "/inventory/products/1/allocations", `{"qty":120,"sale_ref":"INV-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var result AllocationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, "INV-1", result.SaleRef)
	require.Equal(t, "620", result.Profit.String())

	rec = doJSON(t, h, http.MethodGet, "/inventory/products/1/stock", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stock ProductStock
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stock))
	require.Equal(t, int64(30), stock.Qty)

	rec = doJSON(t, h, http.MethodGet, "/inventory/batches/"+receipt.Batches[1].BatchID+"/allocations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var records []AllocationRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	require.Equal(t, "tester", records[0].Actor)

	records, err := env.repo.ListAllocations(t.Context(), receipt.Batches[0].BatchID)
	require.NoError(t, err)
	require.Equal(t, int64(100), records[0].Qty)
}

func TestHandlerErrorMapping(t *testing.T) {
	h, _ := newTestRouter(t)
	doJSON(t, h, http.MethodPost, "/inventory/products/1/receipts", `{"lines":[{"qty":5,"cost_price":"10","selling_price":"12"}]}`)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"bad product id", http.MethodGet, "/inventory/products/abc/stock", "", http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/inventory/products/1/allocations", `{"qty":1,"bogus":true}`, http.StatusBadRequest},
		{"insufficient", http.MethodPost, "/inventory/products/1/allocations", `{"qty":6}`, http.StatusUnprocessableEntity},
		{"below cost", http.MethodPost, "/inventory/products/1/allocations", `{"qty":1,"price_override":"9"}`, http.StatusBadRequest},
		{"missing batch", http.MethodGet, "/inventory/batches/BT-19990101-000001", "", http.StatusNotFound},
		{"missing reason", http.MethodPost, "/inventory/batches/BT-20250301-000001/adjustments", `{"delta":-1}`, http.StatusBadRequest},
		{"empty body", http.MethodPost, "/inventory/products/1/receipts", "", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, h, tc.method, tc.path, tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestHandlerAdjustSweepAndIntegrity(t *testing.T) {
	h, env := newTestRouter(t)
	expiry := testNow.Add(24 * time.Hour).Format(time.RFC3339)
	rec := doJSON(t, h, http.MethodPost, "/inventory/products/9/receipts",
		`{"lines":[{"qty":5,"cost_price":"10","selling_price":"12","expires_at":"`+expiry+`"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodPost, "/inventory/batches/BT-20250301-000001/adjustments", `{"delta":-1,"reason":"broken seal"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	asOf := testNow.Add(48 * time.Hour).Format(time.RFC3339)
	rec = doJSON(t, h, http.MethodPost, "/inventory/sweeps", `{"as_of":"`+asOf+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sweep sweepResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sweep))
	require.Equal(t, 1, sweep.Updated)

	rec = doJSON(t, h, http.MethodGet, "/inventory/products/9/batches?status=expired", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var batches []Batch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batches))
	require.Len(t, batches, 1)
	require.Equal(t, int64(4), batches[0].CurrentQty)

	rec = doJSON(t, h, http.MethodGet, "/inventory/integrity", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.NoError(t, env.repo.WithTx(t.Context(), func(ctx context.Context, tx TxRepository) error {
		_, err := tx.UpdateProductStock(ctx, 9, 1)
		return err
	}))
	rec = doJSON(t, h, http.MethodGet, "/inventory/integrity", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	var report IntegrityReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Len(t, report.Divergences, 1)
}
