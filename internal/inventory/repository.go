package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
)

// Repository persists the batch ledger in PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	txOpts db.TxOptions
}

// NewRepository constructs Repository. txTimeout bounds every ledger transaction.
func NewRepository(pool *pgxpool.Pool, txTimeout time.Duration) *Repository {
	return &Repository{
		pool: pool,
		// Row locks on the product stock row serialise writers per product; read committed
		// lets the atomic conditional updates see the latest committed quantities.
		txOpts: db.TxOptions{IsoLevel: pgx.ReadCommitted, Timeout: txTimeout},
	}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	LockProductStock(ctx context.Context, productID int64) (ProductStock, error)
	UpdateProductStock(ctx context.Context, productID int64, delta int64) (ProductStock, error)
	CreateBatch(ctx context.Context, batch Batch) (Batch, error)
	GetBatchForUpdate(ctx context.Context, batchID string) (Batch, error)
	ListEligibleBatches(ctx context.Context, productID int64, asOf time.Time) ([]Batch, error)
	DecrementBatch(ctx context.Context, batchID string, qty int64) (Batch, error)
	UpdateBatch(ctx context.Context, batch Batch) (Batch, error)
	InsertAllocation(ctx context.Context, rec AllocationRecord) error
	InsertLedgerEvent(ctx context.Context, evt LedgerEvent) (int64, error)
	ExpireBatches(ctx context.Context, asOf time.Time) ([]Batch, error)
}

type txRepository struct {
	tx pgx.Tx
}

const batchColumns = `batch_id, product_id, receipt_ref, COALESCE(supplier_id, 0), cost_price, selling_price, mrp,
initial_qty, current_qty, reserved_qty, purchased_at, expires_at, manufactured_at, status, created_at, updated_at`

// WithTx executes the callback inside a bounded read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, r.txOpts, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *Repository) GetBatch(ctx context.Context, batchID string) (Batch, error) {
	batch, err := scanBatch(r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM inventory_batches WHERE batch_id=$1`, batchID))
	if err != nil {
		return Batch{}, batchError(batchID, err)
	}
	return batch, nil
}

func (r *Repository) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT `+batchColumns+` FROM inventory_batches
WHERE product_id=$1 AND ($2 = '' OR status = $2)
ORDER BY purchased_at ASC, length(batch_id) ASC, batch_id ASC
LIMIT $3`, filter.ProductID, string(filter.Status), limit)
	if err != nil {
		return nil, db.Classify(err)
	}
	return collectBatches(rows)
}

func (r *Repository) ListAllocations(ctx context.Context, batchID string) ([]AllocationRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, batch_id, qty, unit_cost, unit_price, sale_ref, actor, allocated_at
FROM inventory_allocations WHERE batch_id=$1 ORDER BY allocated_at ASC, id ASC`, batchID)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	records := []AllocationRecord{}
	for rows.Next() {
		var rec AllocationRecord
		if err := rows.Scan(&rec.ID, &rec.ProductID, &rec.BatchID, &rec.Qty, &rec.UnitCost, &rec.UnitPrice, &rec.SaleRef, &rec.Actor, &rec.AllocatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	return records, nil
}

func (r *Repository) GetProductStock(ctx context.Context, productID int64) (ProductStock, error) {
	stock := ProductStock{ProductID: productID}
	err := r.pool.QueryRow(ctx, `SELECT qty, updated_at FROM inventory_product_stock WHERE product_id=$1`, productID).
		Scan(&stock.Qty, &stock.UpdatedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return ProductStock{}, db.Classify(err)
	}
	return stock, nil
}

func (r *Repository) ListProductIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT product_id FROM inventory_product_stock
UNION SELECT DISTINCT product_id FROM inventory_batches
ORDER BY 1`)
	if err != nil {
		return nil, db.Classify(err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, db.Classify(err)
	}
	return ids, nil
}

// StockLevel reads aggregate and batch sum in one statement so both come from the same snapshot.
func (r *Repository) StockLevel(ctx context.Context, productID int64) (StockLevel, error) {
	level := StockLevel{ProductID: productID}
	err := r.pool.QueryRow(ctx, `SELECT
COALESCE((SELECT qty FROM inventory_product_stock WHERE product_id=$1), 0),
COALESCE((SELECT SUM(current_qty) FROM inventory_batches WHERE product_id=$1 AND status NOT IN ('damaged','returned')), 0)::BIGINT`,
		productID).Scan(&level.Aggregate, &level.BatchSum)
	if err != nil {
		return StockLevel{}, db.Classify(err)
	}
	return level, nil
}

func (r *txRepository) LockProductStock(ctx context.Context, productID int64) (ProductStock, error) {
	if _, err := r.tx.Exec(ctx, `INSERT INTO inventory_product_stock (product_id, qty, updated_at) VALUES ($1, 0, NOW())
ON CONFLICT (product_id) DO NOTHING`, productID); err != nil {
		return ProductStock{}, err
	}
	stock := ProductStock{ProductID: productID}
	err := r.tx.QueryRow(ctx, `SELECT qty, updated_at FROM inventory_product_stock WHERE product_id=$1 FOR UPDATE`, productID).
		Scan(&stock.Qty, &stock.UpdatedAt)
	return stock, err
}

func (r *txRepository) UpdateProductStock(ctx context.Context, productID int64, delta int64) (ProductStock, error) {
	stock := ProductStock{ProductID: productID}
	err := r.tx.QueryRow(ctx, `UPDATE inventory_product_stock SET qty = qty + $2, updated_at = NOW()
WHERE product_id=$1 AND qty + $2 >= 0
RETURNING qty, updated_at`, productID, delta).Scan(&stock.Qty, &stock.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ProductStock{}, fmt.Errorf("%w: product %d delta %d", ErrStockDiverged, productID, delta)
	}
	return stock, err
}

func (r *txRepository) CreateBatch(ctx context.Context, b Batch) (Batch, error) {
	created, err := scanBatch(r.tx.QueryRow(ctx, `INSERT INTO inventory_batches (batch_id, product_id, receipt_ref, supplier_id, cost_price, selling_price, mrp,
initial_qty, current_qty, reserved_qty, purchased_at, expires_at, manufactured_at, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,NOW(),NOW())
RETURNING `+batchColumns,
		b.BatchID, b.ProductID, b.ReceiptRef, nullInt(b.SupplierID), b.CostPrice, b.SellingPrice, b.MRP,
		b.InitialQty, b.CurrentQty, b.ReservedQty, b.PurchasedAt, b.ExpiresAt, b.ManufacturedAt, string(b.Status)))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Batch{}, fmt.Errorf("%w: %s", ErrDuplicateBatch, b.BatchID)
		}
		return Batch{}, err
	}
	return created, nil
}

func (r *txRepository) GetBatchForUpdate(ctx context.Context, batchID string) (Batch, error) {
	batch, err := scanBatch(r.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM inventory_batches WHERE batch_id=$1 FOR UPDATE`, batchID))
	if err != nil {
		return Batch{}, batchError(batchID, err)
	}
	return batch, nil
}

func (r *txRepository) ListEligibleBatches(ctx context.Context, productID int64, asOf time.Time) ([]Batch, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+batchColumns+` FROM inventory_batches
WHERE product_id=$1 AND status='active' AND current_qty > 0 AND (expires_at IS NULL OR expires_at > $2)
ORDER BY purchased_at ASC, length(batch_id) ASC, batch_id ASC
FOR UPDATE`, productID, asOf)
	if err != nil {
		return nil, err
	}
	return collectBatches(rows)
}

func (r *txRepository) DecrementBatch(ctx context.Context, batchID string, qty int64) (Batch, error) {
	batch, err := scanBatch(r.tx.QueryRow(ctx, `UPDATE inventory_batches
SET current_qty = current_qty - $2,
    status = CASE WHEN current_qty - $2 = 0 AND status = 'active' THEN 'depleted' ELSE status END,
    updated_at = NOW()
WHERE batch_id=$1 AND $2 > 0 AND current_qty - reserved_qty >= $2
RETURNING `+batchColumns, batchID, qty))
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, fmt.Errorf("%w: batch %s cannot supply %d", ErrInsufficientStock, batchID, qty)
	}
	return batch, err
}

func (r *txRepository) UpdateBatch(ctx context.Context, b Batch) (Batch, error) {
	batch, err := scanBatch(r.tx.QueryRow(ctx, `UPDATE inventory_batches SET current_qty=$2, status=$3, updated_at=NOW()
WHERE batch_id=$1
RETURNING `+batchColumns, b.BatchID, b.CurrentQty, string(b.Status)))
	if err != nil {
		return Batch{}, batchError(b.BatchID, err)
	}
	return batch, nil
}

func (r *txRepository) InsertAllocation(ctx context.Context, rec AllocationRecord) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_allocations (id, product_id, batch_id, qty, unit_cost, unit_price, sale_ref, actor, allocated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, rec.ID, rec.ProductID, rec.BatchID, rec.Qty, rec.UnitCost, rec.UnitPrice, rec.SaleRef, rec.Actor, rec.AllocatedAt)
	return err
}

func (r *txRepository) InsertLedgerEvent(ctx context.Context, evt LedgerEvent) (int64, error) {
	payload := evt.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_ledger_events (event_type, entity_id, product_id, payload, actor, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, string(evt.Type), evt.EntityID, evt.ProductID, payload, evt.Actor, evt.OccurredAt).Scan(&id)
	return id, err
}

func (r *txRepository) ExpireBatches(ctx context.Context, asOf time.Time) ([]Batch, error) {
	rows, err := r.tx.Query(ctx, `UPDATE inventory_batches SET status='expired', updated_at=NOW()
WHERE status='active' AND current_qty > 0 AND expires_at IS NOT NULL AND expires_at < $1
RETURNING `+batchColumns, asOf)
	if err != nil {
		return nil, err
	}
	batches, err := collectBatches(rows)
	if err != nil {
		return nil, err
	}
	sortFIFO(batches)
	return batches, nil
}

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	err := row.Scan(&b.BatchID, &b.ProductID, &b.ReceiptRef, &b.SupplierID, &b.CostPrice, &b.SellingPrice, &b.MRP,
		&b.InitialQty, &b.CurrentQty, &b.ReservedQty, &b.PurchasedAt, &b.ExpiresAt, &b.ManufacturedAt, &b.Status, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func collectBatches(rows pgx.Rows) ([]Batch, error) {
	batches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Batch, error) {
		return scanBatch(row)
	})
	if err != nil {
		return nil, err
	}
	if batches == nil {
		batches = []Batch{}
	}
	return batches, nil
}

func batchError(batchID string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w %s", ErrBatchNotFound, batchID)
	}
	return db.Classify(err)
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
