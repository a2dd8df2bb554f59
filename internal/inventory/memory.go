package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// MemoryRepository is an in-process ledger store. Transactions buffer their writes and
// publish them on commit; per-product locks serialise writers of the same product only.
type MemoryRepository struct {
	mu          sync.RWMutex
	batches     map[string]Batch
	stock       map[int64]ProductStock
	allocations []AllocationRecord
	events      []LedgerEvent

	locksMu sync.Mutex
	locks   map[int64]chan struct{}

	eventSeq  atomic.Int64
	txTimeout time.Duration
}

// NewMemoryRepository constructs an empty store. txTimeout bounds every transaction.
func NewMemoryRepository(txTimeout time.Duration) *MemoryRepository {
	return &MemoryRepository{
		batches:   make(map[string]Batch),
		stock:     make(map[int64]ProductStock),
		locks:     make(map[int64]chan struct{}),
		txTimeout: txTimeout,
	}
}

// WithTx runs fn against a private write buffer that is published only when fn succeeds.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.txTimeout)
		defer cancel()
	}
	tx := &memoryTx{
		repo:    r,
		held:    make(map[int64]chan struct{}),
		batches: make(map[string]Batch),
		stock:   make(map[int64]ProductStock),
	}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return db.Classify(err)
	}
	if err := ctx.Err(); err != nil {
		return db.Classify(fmt.Errorf("inventory: commit: %w", err))
	}
	return r.commit(tx)
}

func (r *MemoryRepository) commit(tx *memoryTx) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range tx.created {
		if _, exists := r.batches[id]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateBatch, id)
		}
	}
	for id, b := range tx.batches {
		r.batches[id] = b
	}
	for id, s := range tx.stock {
		r.stock[id] = s
	}
	r.allocations = append(r.allocations, tx.allocations...)
	r.events = append(r.events, tx.events...)
	return nil
}

func (r *MemoryRepository) productLock(productID int64) chan struct{} {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	ch, ok := r.locks[productID]
	if !ok {
		ch = make(chan struct{}, 1)
		r.locks[productID] = ch
	}
	return ch
}

func (r *MemoryRepository) GetBatch(_ context.Context, batchID string) (Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.batches[batchID]
	if !ok {
		return Batch{}, fmt.Errorf("%w %s", ErrBatchNotFound, batchID)
	}
	return b, nil
}

func (r *MemoryRepository) ListBatches(_ context.Context, filter BatchFilter) ([]Batch, error) {
	r.mu.RLock()
	batches := []Batch{}
	for _, b := range r.batches {
		if b.ProductID != filter.ProductID {
			continue
		}
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		batches = append(batches, b)
	}
	r.mu.RUnlock()
	sortFIFO(batches)
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	if len(batches) > limit {
		batches = batches[:limit]
	}
	return batches, nil
}

func (r *MemoryRepository) ListAllocations(_ context.Context, batchID string) ([]AllocationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	records := []AllocationRecord{}
	for _, rec := range r.allocations {
		if rec.BatchID == batchID {
			records = append(records, rec)
		}
	}
	return records, nil
}

func (r *MemoryRepository) GetProductStock(_ context.Context, productID int64) (ProductStock, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stock, ok := r.stock[productID]
	if !ok {
		return ProductStock{ProductID: productID}, nil
	}
	return stock, nil
}

func (r *MemoryRepository) ListProductIDs(_ context.Context) ([]int64, error) {
	r.mu.RLock()
	seen := make(map[int64]struct{})
	for id := range r.stock {
		seen[id] = struct{}{}
	}
	for _, b := range r.batches {
		seen[b.ProductID] = struct{}{}
	}
	r.mu.RUnlock()
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *MemoryRepository) StockLevel(_ context.Context, productID int64) (StockLevel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	level := StockLevel{ProductID: productID, Aggregate: r.stock[productID].Qty}
	for _, b := range r.batches {
		if b.ProductID == productID {
			level.BatchSum += b.StockContribution()
		}
	}
	return level, nil
}

// LedgerEvents returns committed provenance entries, oldest first.
func (r *MemoryRepository) LedgerEvents() []LedgerEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LedgerEvent, len(r.events))
	copy(out, r.events)
	return out
}

type memoryTx struct {
	repo        *MemoryRepository
	held        map[int64]chan struct{}
	batches     map[string]Batch
	stock       map[int64]ProductStock
	created     []string
	allocations []AllocationRecord
	events      []LedgerEvent
}

func (tx *memoryTx) lock(ctx context.Context, productID int64) error {
	if _, ok := tx.held[productID]; ok {
		return nil
	}
	ch := tx.repo.productLock(productID)
	select {
	case ch <- struct{}{}:
		tx.held[productID] = ch
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: lock product %d: %w", shared.ErrTransient, productID, ctx.Err())
	}
}

func (tx *memoryTx) release() {
	for id, ch := range tx.held {
		<-ch
		delete(tx.held, id)
	}
}

func (tx *memoryTx) batch(batchID string) (Batch, bool) {
	if b, ok := tx.batches[batchID]; ok {
		return b, true
	}
	tx.repo.mu.RLock()
	defer tx.repo.mu.RUnlock()
	b, ok := tx.repo.batches[batchID]
	return b, ok
}

func (tx *memoryTx) productStock(productID int64) ProductStock {
	if s, ok := tx.stock[productID]; ok {
		return s
	}
	tx.repo.mu.RLock()
	defer tx.repo.mu.RUnlock()
	if s, ok := tx.repo.stock[productID]; ok {
		return s
	}
	return ProductStock{ProductID: productID}
}

// productBatches merges committed batches with this transaction's writes.
func (tx *memoryTx) productBatches(productID int64) []Batch {
	merged := make(map[string]Batch)
	tx.repo.mu.RLock()
	for id, b := range tx.repo.batches {
		if b.ProductID == productID {
			merged[id] = b
		}
	}
	tx.repo.mu.RUnlock()
	for id, b := range tx.batches {
		if b.ProductID == productID {
			merged[id] = b
		}
	}
	out := make([]Batch, 0, len(merged))
	for _, b := range merged {
		out = append(out, b)
	}
	return out
}

func (tx *memoryTx) LockProductStock(ctx context.Context, productID int64) (ProductStock, error) {
	if err := tx.lock(ctx, productID); err != nil {
		return ProductStock{}, err
	}
	return tx.productStock(productID), nil
}

func (tx *memoryTx) UpdateProductStock(ctx context.Context, productID int64, delta int64) (ProductStock, error) {
	if err := tx.lock(ctx, productID); err != nil {
		return ProductStock{}, err
	}
	stock := tx.productStock(productID)
	if stock.Qty+delta < 0 {
		return ProductStock{}, fmt.Errorf("%w: product %d delta %d", ErrStockDiverged, productID, delta)
	}
	stock.Qty += delta
	stock.UpdatedAt = time.Now().UTC()
	tx.stock[productID] = stock
	return stock, nil
}

func (tx *memoryTx) CreateBatch(ctx context.Context, b Batch) (Batch, error) {
	if b.InitialQty < 0 || b.CurrentQty < 0 || b.CurrentQty > b.InitialQty {
		return Batch{}, fmt.Errorf("%w: batch %s", ErrInvalidQuantity, b.BatchID)
	}
	if err := tx.lock(ctx, b.ProductID); err != nil {
		return Batch{}, err
	}
	if _, exists := tx.batch(b.BatchID); exists {
		return Batch{}, fmt.Errorf("%w: %s", ErrDuplicateBatch, b.BatchID)
	}
	now := time.Now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now
	tx.batches[b.BatchID] = b
	tx.created = append(tx.created, b.BatchID)
	return b, nil
}

func (tx *memoryTx) GetBatchForUpdate(ctx context.Context, batchID string) (Batch, error) {
	b, ok := tx.batch(batchID)
	if !ok {
		return Batch{}, fmt.Errorf("%w %s", ErrBatchNotFound, batchID)
	}
	if err := tx.lock(ctx, b.ProductID); err != nil {
		return Batch{}, err
	}
	// Re-read now that no other writer can touch the product.
	b, _ = tx.batch(batchID)
	return b, nil
}

func (tx *memoryTx) ListEligibleBatches(ctx context.Context, productID int64, asOf time.Time) ([]Batch, error) {
	if err := tx.lock(ctx, productID); err != nil {
		return nil, err
	}
	eligible := []Batch{}
	for _, b := range tx.productBatches(productID) {
		if b.Eligible(asOf) {
			eligible = append(eligible, b)
		}
	}
	sortFIFO(eligible)
	return eligible, nil
}

func (tx *memoryTx) DecrementBatch(ctx context.Context, batchID string, qty int64) (Batch, error) {
	b, err := tx.GetBatchForUpdate(ctx, batchID)
	if err != nil {
		return Batch{}, err
	}
	if qty <= 0 || b.Available() < qty {
		return Batch{}, fmt.Errorf("%w: batch %s cannot supply %d", ErrInsufficientStock, batchID, qty)
	}
	b.CurrentQty -= qty
	if b.CurrentQty == 0 && b.Status == BatchStatusActive {
		b.Status = BatchStatusDepleted
	}
	b.UpdatedAt = time.Now().UTC()
	tx.batches[batchID] = b
	return b, nil
}

func (tx *memoryTx) UpdateBatch(ctx context.Context, b Batch) (Batch, error) {
	current, err := tx.GetBatchForUpdate(ctx, b.BatchID)
	if err != nil {
		return Batch{}, err
	}
	current.CurrentQty = b.CurrentQty
	current.Status = b.Status
	current.UpdatedAt = time.Now().UTC()
	tx.batches[b.BatchID] = current
	return current, nil
}

func (tx *memoryTx) InsertAllocation(_ context.Context, rec AllocationRecord) error {
	tx.allocations = append(tx.allocations, rec)
	return nil
}

func (tx *memoryTx) InsertLedgerEvent(_ context.Context, evt LedgerEvent) (int64, error) {
	evt.ID = tx.repo.eventSeq.Add(1)
	tx.events = append(tx.events, evt)
	return evt.ID, nil
}

func (tx *memoryTx) ExpireBatches(ctx context.Context, asOf time.Time) ([]Batch, error) {
	tx.repo.mu.RLock()
	candidates := make(map[int64]struct{})
	for _, b := range tx.repo.batches {
		if expiredAt(b, asOf) {
			candidates[b.ProductID] = struct{}{}
		}
	}
	tx.repo.mu.RUnlock()
	for _, b := range tx.batches {
		if expiredAt(b, asOf) {
			candidates[b.ProductID] = struct{}{}
		}
	}
	products := make([]int64, 0, len(candidates))
	for id := range candidates {
		products = append(products, id)
	}
	sort.Slice(products, func(i, j int) bool { return products[i] < products[j] })

	expired := []Batch{}
	now := time.Now().UTC()
	for _, productID := range products {
		if err := tx.lock(ctx, productID); err != nil {
			return nil, err
		}
		for _, b := range tx.productBatches(productID) {
			if !expiredAt(b, asOf) {
				continue
			}
			b.Status = BatchStatusExpired
			b.UpdatedAt = now
			tx.batches[b.BatchID] = b
			expired = append(expired, b)
		}
	}
	sortFIFO(expired)
	return expired, nil
}

func expiredAt(b Batch, asOf time.Time) bool {
	return b.Status == BatchStatusActive && b.CurrentQty > 0 && b.ExpiresAt != nil && b.ExpiresAt.Before(asOf)
}
