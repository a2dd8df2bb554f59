package sequence

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
)

// Handler exposes the allocator over HTTP for collaborators that need raw numbers.
type Handler struct {
	allocator Allocator
}

// NewHandler constructs sequence handler.
func NewHandler(allocator Allocator) *Handler {
	return &Handler{allocator: allocator}
}

type nextResponse struct {
	Key     string `json:"key"`
	Value   uint64 `json:"value"`
	Barcode string `json:"barcode,omitempty"`
}

// MountRoutes registers sequence routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/{key}/next", h.handleNext)
}

func (h *Handler) handleNext(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, err := h.allocator.Next(r.Context(), key)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := nextResponse{Key: key, Value: value}
	if key == BarcodeKey {
		code, err := FormatBarcode(BarcodePrefix, value)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		resp.Barcode = code
	}
	httpx.JSON(w, http.StatusOK, resp)
}
