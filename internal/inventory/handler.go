package inventory

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/products/{productID}", func(r chi.Router) {
		r.Post("/receipts", h.handleReceive)
		r.Post("/allocations", h.handleAllocate)
		r.Post("/allocations/preview", h.handlePreview)
		r.Get("/batches", h.handleListBatches)
		r.Get("/stock", h.handleStock)
	})
	r.Route("/batches/{batchID}", func(r chi.Router) {
		r.Get("/", h.handleGetBatch)
		r.Get("/allocations", h.handleListAllocations)
		r.Post("/adjustments", h.handleAdjust)
	})
	r.Post("/backfill", h.handleBackfill)
	r.Post("/sweeps", h.handleSweep)
	r.Get("/integrity", h.handleIntegrity)
}

type receiptRequest struct {
	ReceiptRef     string     `json:"receipt_ref"`
	SupplierID     int64      `json:"supplier_id"`
	ReceivedAt     time.Time  `json:"received_at"`
	IdempotencyKey string     `json:"idempotency_key"`
	Lines          []LineItem `json:"lines"`
}

type backfillRequest struct {
	receiptRequest
	ProductID int64 `json:"product_id"`
}

type saleRequest struct {
	Qty            int64            `json:"qty"`
	PriceOverride  *decimal.Decimal `json:"price_override,omitempty"`
	SaleRef        string           `json:"sale_ref"`
	IdempotencyKey string           `json:"idempotency_key"`
}

type adjustmentRequest struct {
	Delta  int64       `json:"delta"`
	Status BatchStatus `json:"status"`
	Reason string      `json:"reason"`
}

type sweepRequest struct {
	AsOf *time.Time `json:"as_of"`
}

type sweepResponse struct {
	AsOf    time.Time `json:"as_of"`
	Updated int       `json:"updated"`
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	productID, err := productParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req receiptRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.service.ReceiveStock(r.Context(), req.input(productID, shared.ActorFromContext(r.Context())))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) handleBackfill(w http.ResponseWriter, r *http.Request) {
	var req backfillRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.service.Backfill(r.Context(), req.input(req.ProductID, shared.ActorFromContext(r.Context())))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (req receiptRequest) input(productID int64, actor string) ReceiveInput {
	return ReceiveInput{
		ProductID:      productID,
		ReceiptRef:     req.ReceiptRef,
		SupplierID:     req.SupplierID,
		Actor:          actor,
		ReceivedAt:     req.ReceivedAt,
		IdempotencyKey: req.IdempotencyKey,
		Lines:          req.Lines,
	}
}

func (h *Handler) handleAllocate(w http.ResponseWriter, r *http.Request) {
	input, err := h.saleInput(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.service.AllocateSale(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	input, err := h.saleInput(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.service.PreviewAllocation(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) saleInput(r *http.Request) (SaleInput, error) {
	productID, err := productParam(r)
	if err != nil {
		return SaleInput{}, err
	}
	var req saleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return SaleInput{}, err
	}
	return SaleInput{
		ProductID:      productID,
		Qty:            req.Qty,
		PriceOverride:  req.PriceOverride,
		SaleRef:        req.SaleRef,
		Actor:          shared.ActorFromContext(r.Context()),
		IdempotencyKey: req.IdempotencyKey,
	}, nil
}

func (h *Handler) handleListBatches(w http.ResponseWriter, r *http.Request) {
	productID, err := productParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter := BatchFilter{ProductID: productID, Status: BatchStatus(r.URL.Query().Get("status"))}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			h.fail(w, r, fmt.Errorf("%w: invalid limit", shared.ErrValidation))
			return
		}
		filter.Limit = limit
	}
	batches, err := h.service.ListBatches(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batches)
}

func (h *Handler) handleStock(w http.ResponseWriter, r *http.Request) {
	productID, err := productParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	stock, err := h.service.GetProductStock(r.Context(), productID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stock)
}

func (h *Handler) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := h.service.GetBatch(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func (h *Handler) handleListAllocations(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListAllocations(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, records)
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	batch, err := h.service.AdjustBatch(r.Context(), AdjustmentInput{
		BatchID: chi.URLParam(r, "batchID"),
		Delta:   req.Delta,
		Status:  req.Status,
		Reason:  req.Reason,
		Actor:   shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	asOf := time.Now().UTC()
	if req.AsOf != nil {
		asOf = req.AsOf.UTC()
	}
	updated, err := h.service.SweepExpired(r.Context(), asOf)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sweepResponse{AsOf: asOf, Updated: updated})
}

func (h *Handler) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.CheckIntegrity(r.Context())
	if err != nil && !errors.Is(err, ErrStockDiverged) {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if len(report.Divergences) > 0 {
		status = http.StatusConflict
	}
	httpx.JSON(w, status, report)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if kind := shared.Kind(err); kind == "integrity" || kind == "internal" {
		h.logger.Error("inventory request failed", slog.String("path", r.URL.Path), slog.String("kind", kind), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func productParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid product id", shared.ErrValidation)
	}
	return id, nil
}
