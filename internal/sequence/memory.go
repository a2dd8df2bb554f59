package sequence

import (
	"context"
	"fmt"
	"sync"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// MemoryAllocator keeps counters in process memory.
type MemoryAllocator struct {
	mu       sync.Mutex
	counters map[string]uint64
}

// NewMemoryAllocator constructs an empty allocator.
func NewMemoryAllocator() *MemoryAllocator {
	return &MemoryAllocator{counters: make(map[string]uint64)}
}

// Next increments the counter for key.
func (a *MemoryAllocator) Next(ctx context.Context, key string) (uint64, error) {
	if err := ValidateKey(key); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: sequence: next %q: %w", shared.ErrTransient, key, err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counters[key]++
	return a.counters[key], nil
}
