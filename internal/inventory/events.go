package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// BatchesReceivedEvent is published after a receipt commits.
type BatchesReceivedEvent struct {
	ProductID  int64     `json:"product_id"`
	ReceiptRef string    `json:"receipt_ref"`
	BatchIDs   []string  `json:"batch_ids"`
	TotalQty   int64     `json:"total_qty"`
	Actor      string    `json:"actor"`
	ReceivedAt time.Time `json:"received_at"`
}

// SaleAllocatedEvent is published after an allocation commits, ready for profit posting.
type SaleAllocatedEvent struct {
	ProductID    int64            `json:"product_id"`
	SaleRef      string           `json:"sale_ref"`
	Qty          int64            `json:"qty"`
	Lines        []AllocationLine `json:"lines"`
	TotalCost    decimal.Decimal  `json:"total_cost"`
	TotalRevenue decimal.Decimal  `json:"total_revenue"`
	Profit       decimal.Decimal  `json:"profit"`
	Actor        string           `json:"actor"`
	AllocatedAt  time.Time        `json:"allocated_at"`
}

// IntegrationHandler receives committed ledger events for downstream consumers.
type IntegrationHandler interface {
	HandleBatchesReceived(ctx context.Context, evt BatchesReceivedEvent) error
	HandleSaleAllocated(ctx context.Context, evt SaleAllocatedEvent) error
}
