package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/odyssey-pos/internal/app"
	"github.com/odyssey-erp/odyssey-pos/internal/inventory"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

const seedActor = "system:seed"

type seedProduct struct {
	id       int64
	name     string
	supplier int64
	lots     []seedLot
}

type seedLot struct {
	qty       int64
	cost      string
	price     string
	mrp       string
	expiresIn time.Duration
	ageDays   int
}

var products = []seedProduct{
	{id: 1001, name: "Beras Premium 5kg", supplier: 11, lots: []seedLot{
		{qty: 40, cost: "62000", price: "71000", mrp: "75000", ageDays: 20},
		{qty: 60, cost: "64500", price: "72000", mrp: "75000", ageDays: 3},
	}},
	{id: 1002, name: "Susu UHT 1L", supplier: 12, lots: []seedLot{
		{qty: 24, cost: "15500", price: "18900", mrp: "19500", expiresIn: -48 * time.Hour, ageDays: 90},
		{qty: 48, cost: "15800", price: "18900", mrp: "19500", expiresIn: 30 * 24 * time.Hour, ageDays: 7},
		{qty: 48, cost: "16100", price: "19200", mrp: "19500", expiresIn: 75 * 24 * time.Hour, ageDays: 1},
	}},
	{id: 1003, name: "Minyak Goreng 2L", supplier: 13, lots: []seedLot{
		{qty: 30, cost: "33000", price: "38500", mrp: "40000", expiresIn: 365 * 24 * time.Hour, ageDays: 12},
	}},
}

// Seeds a development ledger through the service so batch ids, audit rows and
// stock counters line up exactly as they would for real receipts.
func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := app.NewLogger(cfg)

	ledger, err := app.NewLedger(ctx, cfg, app.LedgerDeps{Logger: logger})
	if err != nil {
		log.Fatalf("init ledger: %v", err)
	}
	defer ledger.Close()

	// Rupiah amounts print with Indonesian digit grouping.
	p := message.NewPrinter(language.Indonesian)
	now := time.Now().UTC()
	for _, prod := range products {
		fmt.Printf("→ Receiving %s (%d)...\n", prod.name, prod.id)
		for i, lot := range prod.lots {
			receivedAt := now.AddDate(0, 0, -lot.ageDays)
			line := inventory.LineItem{
				Qty:          lot.qty,
				CostPrice:    decimal.RequireFromString(lot.cost),
				SellingPrice: decimal.RequireFromString(lot.price),
				MRP:          decimal.RequireFromString(lot.mrp),
			}
			if lot.expiresIn != 0 {
				expires := now.Add(lot.expiresIn)
				line.ExpiresAt = &expires
			}
			input := inventory.ReceiveInput{
				ProductID:      prod.id,
				ReceiptRef:     fmt.Sprintf("SEED-%d-%d", prod.id, i+1),
				SupplierID:     prod.supplier,
				Actor:          seedActor,
				ReceivedAt:     receivedAt,
				IdempotencyKey: fmt.Sprintf("seed-%d-%d", prod.id, i+1),
				Lines:          []inventory.LineItem{line},
			}
			// Past-dated lots go through backfill so the purchase date is kept.
			result, err := ledger.Service.Backfill(ctx, input)
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				fmt.Printf("  lot %d already seeded\n", i+1)
				continue
			}
			if err != nil {
				log.Fatalf("receive %s lot %d: %v", prod.name, i+1, err)
			}
			p.Printf("  %s qty=%d cost=Rp%d\n", result.Batches[0].BatchID, lot.qty, line.CostPrice.IntPart())
		}
	}

	fmt.Println("→ Sweeping expired batches...")
	swept, err := ledger.Service.SweepExpired(ctx, now)
	if err != nil {
		log.Fatalf("sweep: %v", err)
	}
	fmt.Printf("  %d batch(es) expired\n", swept)

	fmt.Println("→ Recording a sample sale...")
	sale, err := ledger.Service.AllocateSale(ctx, inventory.SaleInput{
		ProductID:      1001,
		Qty:            45,
		SaleRef:        "SEED-SALE-1",
		Actor:          seedActor,
		IdempotencyKey: "seed-sale-1",
	})
	switch {
	case errors.Is(err, shared.ErrIdempotencyConflict):
		fmt.Println("  sample sale already recorded")
	case err != nil:
		log.Fatalf("allocate: %v", err)
	default:
		p.Printf("  revenue=Rp%d cost=Rp%d profit=Rp%d margin=%s%%\n",
			sale.TotalRevenue.IntPart(), sale.TotalCost.IntPart(), sale.Profit.IntPart(), sale.ProfitMargin)
	}

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}
