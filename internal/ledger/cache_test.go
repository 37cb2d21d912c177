package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute, nil), mr
}

func TestCacheServesUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)
	var calls atomic.Int32
	pending := amt("10")
	loader := func(context.Context) (Summary, error) {
		calls.Add(1)
		return Summary{RetailerID: 100, Billed: pending, Collected: amt("0"), Pending: pending}, nil
	}

	first, err := cache.Summary(ctx, 100, loader)
	require.NoError(t, err)
	second, err := cache.Summary(ctx, 100, loader)
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())
	require.True(t, first.Pending.Equal(second.Pending))

	pending = amt("25")
	require.NoError(t, cache.Invalidate(ctx, 100))
	third, err := cache.Summary(ctx, 100, loader)
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
	require.True(t, third.Pending.Equal(amt("25")))
}

func TestCacheCollapsesConcurrentLoads(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)
	var calls atomic.Int32
	release := make(chan struct{})
	loader := func(context.Context) (Summary, error) {
		calls.Add(1)
		<-release
		return Summary{RetailerID: 7, Billed: amt("1"), Collected: amt("0"), Pending: amt("1")}, nil
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Summary(ctx, 7, loader)
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.LessOrEqual(t, calls.Load(), int32(8))
	require.GreaterOrEqual(t, calls.Load(), int32(1))

	before := calls.Load()
	_, err := cache.Summary(ctx, 7, loader)
	require.NoError(t, err)
	require.Equal(t, before, calls.Load(), "value is cached after the shared load")
}

func TestCacheFallsBackWhenRedisDown(t *testing.T) {
	cache, mr := newTestCache(t)
	mr.Close()
	summary, err := cache.Summary(context.Background(), 1, func(context.Context) (Summary, error) {
		return Summary{RetailerID: 1, Pending: amt("3")}, nil
	})
	require.NoError(t, err)
	require.True(t, summary.Pending.Equal(amt("3")))
}

func TestServiceSummaryUsesCache(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)
	repo := newMemoryRepo()
	svc := NewService(repo, retailers, cache, nil, nil)

	_, err := svc.AppendEntry(ctx, distributor, AppendInput{RetailerID: 100, Type: EntryDebit, Amount: amt("80")})
	require.NoError(t, err)
	summary, err := svc.Summary(ctx, distributor, 100)
	require.NoError(t, err)
	require.True(t, summary.Pending.Equal(amt("80")))

	_, err = svc.AppendEntry(ctx, distributor, AppendInput{RetailerID: 100, Type: EntryCredit, Amount: amt("30")})
	require.NoError(t, err)
	summary, err = svc.Summary(ctx, distributor, 100)
	require.NoError(t, err)
	require.True(t, summary.Pending.Equal(amt("50")), "append invalidates the cached summary")
}
