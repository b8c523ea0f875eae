package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ========== Test Helpers ==========

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type payload struct {
	N int `json:"n"`
}

type countingFetcher struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (f *countingFetcher) Fetch(context.Context) (payload, error) {
	n := f.calls.Add(1)
	if f.fail.Load() {
		return payload{}, errors.New("upstream down")
	}
	return payload{N: int(n)}, nil
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

// ========== Slot Tests ==========

func TestSlot_FreshEntrySkipsUpstream(t *testing.T) {
	clk := newClock()
	f := &countingFetcher{}
	slot := NewSlot("markets", 30*time.Second, NewMemoryStore(), f.Fetch, WithClock(clk.Now))
	ctx := context.Background()

	first, err := slot.Get(ctx)
	require.NoError(t, err)

	clk.Advance(29 * time.Second)
	second, err := slot.Get(ctx)
	require.NoError(t, err)

	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, first, second)
}

func TestSlot_StaleEntryRefetches(t *testing.T) {
	clk := newClock()
	f := &countingFetcher{}
	slot := NewSlot("news", 30*time.Second, NewMemoryStore(), f.Fetch, WithClock(clk.Now))
	ctx := context.Background()

	_, err := slot.Get(ctx)
	require.NoError(t, err)

	clk.Advance(30 * time.Second)
	got, err := slot.Get(ctx)
	require.NoError(t, err)

	assert.Equal(t, int32(2), f.calls.Load())
	assert.Equal(t, 2, got.N)
}

func TestSlot_ServesStaleOnFailure(t *testing.T) {
	clk := newClock()
	f := &countingFetcher{}
	slot := NewSlot("prices", time.Minute, NewMemoryStore(), f.Fetch, WithClock(clk.Now))
	ctx := context.Background()

	_, err := slot.Get(ctx)
	require.NoError(t, err)

	f.fail.Store(true)
	clk.Advance(2 * time.Minute)

	got, err := slot.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, got.N)
}

func TestSlot_FailureWithNothingCached(t *testing.T) {
	f := &countingFetcher{}
	f.fail.Store(true)
	slot := NewSlot("x", time.Minute, NewMemoryStore(), f.Fetch)

	_, err := slot.Get(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch x")
}

func TestSlot_Refresh(t *testing.T) {
	f := &countingFetcher{}
	slot := NewSlot("telegram", time.Hour, NewMemoryStore(), f.Fetch)
	ctx := context.Background()

	_, err := slot.Get(ctx)
	require.NoError(t, err)
	_, err = slot.Refresh(ctx)
	require.NoError(t, err)

	got, fetchedAt, ok := slot.Peek(ctx)
	require.True(t, ok)
	assert.Equal(t, 2, got.N)
	assert.False(t, fetchedAt.IsZero())
}

func TestSlot_CoalescesConcurrentMisses(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(context.Context) (payload, error) {
		calls.Add(1)
		<-release
		return payload{N: 7}, nil
	}
	slot := NewSlot("markets", time.Minute, NewMemoryStore(), fetch, WithCoalesce(true))

	const callers = 8
	var started, done sync.WaitGroup
	started.Add(callers)
	done.Add(callers)
	results := make([]payload, callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer done.Done()
			started.Done()
			results[i], _ = slot.Get(context.Background())
		}(i)
	}

	started.Wait()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	done.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, 7, r.N)
	}
}

func TestSlot_CoalescedFetchOutlivesCancelledCaller(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	var fetchErr atomic.Value
	fetch := func(ctx context.Context) (payload, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		fetchErr.Store(fmt.Sprint(ctx.Err()))
		return payload{N: 3}, nil
	}
	slot := NewSlot("markets", time.Minute, NewMemoryStore(), fetch, WithCoalesce(true), WithFetchTimeout(time.Minute))

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := slot.Get(firstCtx)
		firstErr <- err
	}()
	<-started

	second := make(chan payload, 1)
	go func() {
		v, err := slot.Get(context.Background())
		assert.NoError(t, err)
		second <- v
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	assert.Equal(t, 3, (<-second).N)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "<nil>", fetchErr.Load(), "shared fetch must not inherit the first caller's cancellation")

	got, _, ok := slot.Peek(context.Background())
	require.True(t, ok)
	assert.Equal(t, 3, got.N)
}

func TestSlot_CoalescedFetchTimeout(t *testing.T) {
	fetch := func(ctx context.Context) (payload, error) {
		<-ctx.Done()
		return payload{}, ctx.Err()
	}
	slot := NewSlot("markets", time.Minute, NewMemoryStore(), fetch, WithCoalesce(true), WithFetchTimeout(20*time.Millisecond))

	_, err := slot.Get(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// ========== Redis Store Tests ==========

func TestRedisStore_RoundTrip(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewRedisStore(client, "test:cache:", time.Hour)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "markets")
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Set(ctx, "markets", Entry{Data: []byte(`{"n":1}`), FetchedAt: at}))

	assert.True(t, mr.Exists("test:cache:markets"))
	assert.Equal(t, time.Hour, mr.TTL("test:cache:markets"))

	got, ok, err := store.Get(ctx, "markets")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"n":1}`, string(got.Data))
	assert.True(t, at.Equal(got.FetchedAt))
}

func TestRedisStore_Retention(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewRedisStore(client, "", time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "news", Entry{Data: []byte(`[]`), FetchedAt: time.Now()}))
	assert.True(t, mr.Exists(DefaultPrefix+"news"))

	mr.FastForward(2 * time.Minute)

	_, ok, err := store.Get(ctx, "news")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_CorruptEntry(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewRedisStore(client, "", 0)

	require.NoError(t, mr.Set(DefaultPrefix+"x", "garbage"))

	_, _, err := store.Get(context.Background(), "x")
	assert.Error(t, err)
}

func TestSlot_SharedRedisAcrossInstances(t *testing.T) {
	_, client := setupTestRedis(t)
	store := NewRedisStore(client, "", 0)
	ctx := context.Background()

	a := &countingFetcher{}
	b := &countingFetcher{}
	slotA := NewSlot("markets", time.Minute, store, a.Fetch)
	slotB := NewSlot("markets", time.Minute, store, b.Fetch)

	_, err := slotA.Get(ctx)
	require.NoError(t, err)
	got, err := slotB.Get(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, got.N)
	assert.Equal(t, int32(0), b.calls.Load(), "second instance reads the shared entry")
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedisClient(ctx, RedisConfig{Addr: addr})
	assert.Error(t, err)
}
