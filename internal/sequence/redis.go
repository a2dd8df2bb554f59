package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// RedisAllocator maps each key onto an INCR counter.
type RedisAllocator struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisAllocator constructs the allocator. Keys are stored under "seq:<key>".
func NewRedisAllocator(client redis.UniversalClient) *RedisAllocator {
	return &RedisAllocator{client: client, prefix: "seq:"}
}

// Next increments the counter. Redis replies (e.g. WRONGTYPE) surface as-is; network
// failures are reported as shared.ErrTransient.
func (a *RedisAllocator) Next(ctx context.Context, key string) (uint64, error) {
	if err := ValidateKey(key); err != nil {
		return 0, err
	}
	value, err := a.client.Incr(ctx, a.prefix+key).Result()
	if err != nil {
		var replyErr redis.Error
		if errors.As(err, &replyErr) {
			return 0, fmt.Errorf("sequence: next %q: %w", key, err)
		}
		return 0, fmt.Errorf("%w: sequence: next %q: %w", shared.ErrTransient, key, err)
	}
	return uint64(value), nil
}
