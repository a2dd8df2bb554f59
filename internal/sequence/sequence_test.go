package sequence

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

func TestMemoryAllocatorConcurrentUniqueness(t *testing.T) {
	assertConcurrentUniqueness(t, NewMemoryAllocator())
}

func TestRedisAllocatorConcurrentUniqueness(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	assertConcurrentUniqueness(t, NewRedisAllocator(client))
}

func assertConcurrentUniqueness(t *testing.T, alloc Allocator) {
	t.Helper()
	const workers = 64
	ctx := context.Background()
	key := BatchNamespace(time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC))

	values := make([]uint64, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			values[i], errs[i] = alloc.Next(ctx, key)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	seen := make(map[uint64]struct{}, workers)
	for _, v := range values {
		_, dup := seen[v]
		require.False(t, dup, "value %d issued twice", v)
		seen[v] = struct{}{}
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	next, err := alloc.Next(ctx, key)
	require.NoError(t, err)
	require.Greater(t, next, values[workers-1])
}

func TestAllocatorKeysAreIndependent(t *testing.T) {
	alloc := NewMemoryAllocator()
	ctx := context.Background()

	a1, err := alloc.Next(ctx, "batch:20261016")
	require.NoError(t, err)
	b1, err := alloc.Next(ctx, "batch:20261017")
	require.NoError(t, err)
	a2, err := alloc.Next(ctx, "batch:20261016")
	require.NoError(t, err)

	require.Equal(t, uint64(1), a1)
	require.Equal(t, uint64(1), b1)
	require.Equal(t, uint64(2), a2)
}

func TestAllocatorRejectsEmptyKey(t *testing.T) {
	_, err := NewMemoryAllocator().Next(context.Background(), "  ")
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = NewMemoryAllocator().Next(context.Background(), strings.Repeat("k", maxKeyLength+1))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRedisAllocatorUnreachableIsTransient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	_, err := NewRedisAllocator(client).Next(context.Background(), BarcodeKey)
	require.ErrorIs(t, err, shared.ErrTransient)
}

func TestRedisAllocatorWrongTypeIsNotTransient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.LPush(context.Background(), "seq:"+BarcodeKey, "x").Err())

	_, err := NewRedisAllocator(client).Next(context.Background(), BarcodeKey)
	require.Error(t, err)
	require.NotErrorIs(t, err, shared.ErrTransient)
}

func TestFormatBatchID(t *testing.T) {
	day := time.Date(2026, 3, 9, 23, 30, 0, 0, time.UTC)
	require.Equal(t, "BT-20260309-000042", FormatBatchID(day, 42))
	require.Equal(t, "batch:20260309", BatchNamespace(day))
	require.Less(t, FormatBatchID(day, 9), FormatBatchID(day, 10))
}

func TestCompareBatchIDsPastSixDigits(t *testing.T) {
	day := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	high, wide := FormatBatchID(day, 999_999), FormatBatchID(day, 1_000_000)
	require.Equal(t, "BT-20260309-1000000", wide)
	require.Greater(t, high, wide, "plain string order inverts here")
	require.Equal(t, -1, CompareBatchIDs(high, wide))
	require.Equal(t, 1, CompareBatchIDs(wide, high))
	require.Equal(t, 0, CompareBatchIDs(wide, wide))

	next := FormatBatchID(day.AddDate(0, 0, 1), 1)
	require.Equal(t, -1, CompareBatchIDs(wide, next))
}

func TestMemoryAllocatorCancelledContextIsTransient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryAllocator().Next(ctx, BarcodeKey)
	require.ErrorIs(t, err, shared.ErrTransient)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, shared.Retryable(err))
}

func TestFormatBarcode(t *testing.T) {
	code, err := FormatBarcode("400638", 133393)
	require.NoError(t, err)
	require.Equal(t, "4006381333931", code)

	code, err = FormatBarcode(BarcodePrefix, 7)
	require.NoError(t, err)
	require.Len(t, code, 13)
	require.True(t, strings.HasPrefix(code, "200000000007"))

	_, err = FormatBarcode(BarcodePrefix, 1_000_000_000)
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = FormatBarcode("2a", 1)
	require.ErrorIs(t, err, shared.ErrValidation)
}
