package sequence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
)

// PostgresAllocator keeps one counter row per key in sequence_counters.
type PostgresAllocator struct {
	pool *pgxpool.Pool
}

// NewPostgresAllocator constructs the allocator.
func NewPostgresAllocator(pool *pgxpool.Pool) *PostgresAllocator {
	return &PostgresAllocator{pool: pool}
}

// Next upserts and increments the counter in a single autocommit statement, so the
// row lock is held only for the duration of that statement.
func (a *PostgresAllocator) Next(ctx context.Context, key string) (uint64, error) {
	if err := ValidateKey(key); err != nil {
		return 0, err
	}
	var value int64
	err := a.pool.QueryRow(ctx, `INSERT INTO sequence_counters (key, value, updated_at) VALUES ($1, 1, NOW())
ON CONFLICT (key) DO UPDATE SET value = sequence_counters.value + 1, updated_at = NOW()
RETURNING value`, key).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("sequence: next %q: %w", key, db.Classify(err))
	}
	return uint64(value), nil
}
