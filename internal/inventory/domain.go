package inventory

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/sequence"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// BatchStatus enumerates the lifecycle states of a purchase batch.
type BatchStatus string

const (
	// BatchStatusActive batches are eligible for allocation.
	BatchStatusActive BatchStatus = "active"
	// BatchStatusDepleted batches have no remaining quantity.
	BatchStatusDepleted BatchStatus = "depleted"
	// BatchStatusExpired batches passed their expiry date. Stock is still on hand.
	BatchStatusExpired BatchStatus = "expired"
	// BatchStatusDamaged batches were written off.
	BatchStatusDamaged BatchStatus = "damaged"
	// BatchStatusReturned batches went back to the supplier.
	BatchStatusReturned BatchStatus = "returned"
)

// Valid reports whether s is a known status.
func (s BatchStatus) Valid() bool {
	switch s {
	case BatchStatusActive, BatchStatusDepleted, BatchStatusExpired, BatchStatusDamaged, BatchStatusReturned:
		return true
	}
	return false
}

// Terminal statuses no longer count towards a product's aggregate stock.
func (s BatchStatus) Terminal() bool {
	return s == BatchStatusDamaged || s == BatchStatusReturned
}

// Batch is one purchase lot of a product at a specific cost and price point.
type Batch struct {
	BatchID        string          `json:"batch_id"`
	ProductID      int64           `json:"product_id"`
	ReceiptRef     string          `json:"receipt_ref,omitempty"`
	SupplierID     int64           `json:"supplier_id,omitempty"`
	CostPrice      decimal.Decimal `json:"cost_price"`
	SellingPrice   decimal.Decimal `json:"selling_price"`
	MRP            decimal.Decimal `json:"mrp"`
	InitialQty     int64           `json:"initial_qty"`
	CurrentQty     int64           `json:"current_qty"`
	ReservedQty    int64           `json:"reserved_qty"`
	PurchasedAt    time.Time       `json:"purchased_at"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	ManufacturedAt *time.Time      `json:"manufactured_at,omitempty"`
	Status         BatchStatus     `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Available is the quantity that may still be allocated.
func (b Batch) Available() int64 {
	return b.CurrentQty - b.ReservedQty
}

// Eligible reports whether FIFO allocation may draw from the batch at asOf.
func (b Batch) Eligible(asOf time.Time) bool {
	if b.Status != BatchStatusActive || b.CurrentQty <= 0 {
		return false
	}
	return b.ExpiresAt == nil || b.ExpiresAt.After(asOf)
}

// StockContribution is the quantity the batch adds to its product's aggregate stock.
func (b Batch) StockContribution() int64 {
	if b.Status.Terminal() {
		return 0
	}
	return b.CurrentQty
}

// fifoLess orders batches oldest purchase first, ties broken by batch sequence.
func fifoLess(a, b Batch) bool {
	if !a.PurchasedAt.Equal(b.PurchasedAt) {
		return a.PurchasedAt.Before(b.PurchasedAt)
	}
	return sequence.CompareBatchIDs(a.BatchID, b.BatchID) < 0
}

func sortFIFO(batches []Batch) {
	sort.SliceStable(batches, func(i, j int) bool { return fifoLess(batches[i], batches[j]) })
}

// ProductStock is the denormalised aggregate stock of one product.
type ProductStock struct {
	ProductID int64     `json:"product_id"`
	Qty       int64     `json:"qty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AllocationRecord is the immutable trail of one batch's contribution to one sale.
type AllocationRecord struct {
	ID          uuid.UUID       `json:"id"`
	ProductID   int64           `json:"product_id"`
	BatchID     string          `json:"batch_id"`
	Qty         int64           `json:"qty"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	SaleRef     string          `json:"sale_ref"`
	Actor       string          `json:"actor"`
	AllocatedAt time.Time       `json:"allocated_at"`
}

// LedgerEventType classifies provenance entries written alongside batch mutations.
type LedgerEventType string

const (
	// EventBatchReceived is written once per batch created by a receipt.
	EventBatchReceived LedgerEventType = "batch.received"
	// EventBatchAdjusted is written for every manual adjustment.
	EventBatchAdjusted LedgerEventType = "batch.adjusted"
	// EventBatchExpired is written when the sweeper expires a batch.
	EventBatchExpired LedgerEventType = "batch.expired"
)

// LedgerEvent is a provenance record stored in the same transaction as the change it describes.
type LedgerEvent struct {
	ID         int64           `json:"id"`
	Type       LedgerEventType `json:"type"`
	EntityID   string          `json:"entity_id"`
	ProductID  int64           `json:"product_id"`
	Payload    map[string]any  `json:"payload"`
	Actor      string          `json:"actor"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// LineItem describes one purchase line turned into one batch.
type LineItem struct {
	Qty            int64           `json:"qty" validate:"gt=0"`
	CostPrice      decimal.Decimal `json:"cost_price"`
	SellingPrice   decimal.Decimal `json:"selling_price"`
	MRP            decimal.Decimal `json:"mrp"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	ManufacturedAt *time.Time      `json:"manufactured_at,omitempty"`
}

// ReceiveInput is the "purchase order received" request.
type ReceiveInput struct {
	ProductID      int64      `json:"product_id" validate:"gt=0"`
	ReceiptRef     string     `json:"receipt_ref" validate:"max=64"`
	SupplierID     int64      `json:"supplier_id" validate:"gte=0"`
	Actor          string     `json:"actor" validate:"required,max=128"`
	ReceivedAt     time.Time  `json:"received_at"`
	IdempotencyKey string     `json:"idempotency_key" validate:"max=128"`
	Lines          []LineItem `json:"lines" validate:"required,min=1,max=500,dive"`
}

// ReceiptResult lists the batches created by a receipt and their provenance entries.
type ReceiptResult struct {
	Batches   []Batch `json:"batches"`
	AuditRefs []int64 `json:"audit_refs"`
}

// SaleInput requests FIFO allocation of a sale line.
type SaleInput struct {
	ProductID      int64            `json:"product_id" validate:"gt=0"`
	Qty            int64            `json:"qty" validate:"gt=0"`
	PriceOverride  *decimal.Decimal `json:"price_override,omitempty"`
	SaleRef        string           `json:"sale_ref" validate:"max=64"`
	Actor          string           `json:"actor" validate:"required,max=128"`
	IdempotencyKey string           `json:"idempotency_key" validate:"max=128"`
}

// AllocationLine is one batch's share of a sale.
type AllocationLine struct {
	BatchID   string          `json:"batch_id"`
	Qty       int64           `json:"qty"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// AllocationResult is the breakdown handed back to billing.
type AllocationResult struct {
	ProductID    int64            `json:"product_id"`
	SaleRef      string           `json:"sale_ref"`
	Lines        []AllocationLine `json:"lines"`
	TotalCost    decimal.Decimal  `json:"total_cost"`
	TotalRevenue decimal.Decimal  `json:"total_revenue"`
	Profit       decimal.Decimal  `json:"profit"`
	// ProfitMargin is profit as a percentage of revenue, zero when revenue is zero.
	ProfitMargin decimal.Decimal `json:"profit_margin"`
}

// AdjustmentInput is a manual correction of one batch.
type AdjustmentInput struct {
	BatchID string      `json:"batch_id" validate:"required,max=64"`
	Delta   int64       `json:"delta"`
	Status  BatchStatus `json:"status,omitempty"`
	Reason  string      `json:"reason" validate:"required,max=512"`
	Actor   string      `json:"actor" validate:"required,max=128"`
}

// BatchFilter narrows batch listings.
type BatchFilter struct {
	ProductID int64
	Status    BatchStatus
	Limit     int
}

// StockLevel compares aggregate stock with the live batch sum.
type StockLevel struct {
	ProductID int64 `json:"product_id"`
	Aggregate int64 `json:"aggregate"`
	BatchSum  int64 `json:"batch_sum"`
}

// Diverged reports whether the aggregate disagrees with the batches.
func (l StockLevel) Diverged() bool {
	return l.Aggregate != l.BatchSum
}

// IntegrityReport summarises an aggregate-stock audit.
type IntegrityReport struct {
	CheckedAt   time.Time    `json:"checked_at"`
	Products    int          `json:"products"`
	Divergences []StockLevel `json:"divergences"`
}

var (
	// ErrInvalidQuantity indicates a non-positive or out-of-range quantity.
	ErrInvalidQuantity = fmt.Errorf("%w: inventory: invalid quantity", shared.ErrValidation)
	// ErrInvalidPrice indicates a negative or inconsistent price.
	ErrInvalidPrice = fmt.Errorf("%w: inventory: invalid price", shared.ErrValidation)
	// ErrPriceBelowCost rejects a price override under the consumed batch's cost.
	ErrPriceBelowCost = fmt.Errorf("%w: inventory: price override below batch cost", shared.ErrValidation)
	// ErrInsufficientStock indicates eligible stock cannot satisfy the request.
	ErrInsufficientStock = fmt.Errorf("%w: inventory: eligible stock below requested quantity", shared.ErrInsufficientStock)
	// ErrBatchNotFound indicates an unknown batch id.
	ErrBatchNotFound = fmt.Errorf("%w: inventory: batch", shared.ErrNotFound)
	// ErrDuplicateBatch indicates a batch id collision.
	ErrDuplicateBatch = fmt.Errorf("%w: inventory: batch id already exists", shared.ErrConflict)
	// ErrStockDiverged indicates aggregate stock would go negative or disagrees with batches.
	ErrStockDiverged = fmt.Errorf("%w: inventory: aggregate stock diverged from batches", shared.ErrIntegrity)
)
