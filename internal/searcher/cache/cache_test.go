package cache

import (
	"context"
	"errors"
	"path"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/search"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/resilience"
)

type mapStore struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMapStore() *mapStore { return &mapStore{data: map[string][]byte{}} }

func (m *mapStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	v, ok := m.data[key]
	if !ok {
		return nil, goredis.Nil
	}
	return v, nil
}

func (m *mapStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	return nil
}

func (m *mapStore) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func (m *mapStore) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func result(total uint64) *search.Result {
	return &search.Result{Total: total, Hits: []search.Hit{{ID: "a", Score: 1.5}}}
}

func TestKeyIncludesGeneration(t *testing.T) {
	fp := []byte(`{"query":"go"}`)
	assert.Equal(t, Key(3, fp), Key(3, fp))
	assert.NotEqual(t, Key(3, fp), Key(4, fp))
	assert.NotEqual(t, Key(3, fp), Key(3, []byte(`{"query":"rust"}`)))
	assert.Regexp(t, `^search:3:[0-9a-f]{32}$`, Key(3, fp))
}

func TestGetOrCompute(t *testing.T) {
	store := newMapStore()
	mt := metrics.New(prometheus.NewRegistry())
	c := New(store, time.Minute, resilience.CircuitBreakerConfig{}, mt)
	ctx := context.Background()
	calls := 0
	compute := func(context.Context) (*search.Result, error) {
		calls++
		return result(7), nil
	}

	got, status, err := c.GetOrCompute(ctx, 1, []byte("q"), compute)
	require.NoError(t, err)
	assert.Equal(t, Miss, status)
	assert.Equal(t, uint64(7), got.Total)

	got, status, err = c.GetOrCompute(ctx, 1, []byte("q"), compute)
	require.NoError(t, err)
	assert.Equal(t, Hit, status)
	assert.Equal(t, uint64(7), got.Total)
	assert.Equal(t, "a", got.Hits[0].ID)
	assert.Equal(t, 1, calls)

	_, status, err = c.GetOrCompute(ctx, 2, []byte("q"), compute)
	require.NoError(t, err)
	assert.Equal(t, Miss, status, "a new generation never reuses older entries")
	assert.Equal(t, 2, calls)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(2), misses)

	var m dto.Metric
	require.NoError(t, mt.CacheHitsTotal.Write(&m))
	assert.Equal(t, 1.0, m.GetCounter().GetValue())
}

func TestGetOrComputePropagatesErrors(t *testing.T) {
	c := New(newMapStore(), time.Minute, resilience.CircuitBreakerConfig{}, nil)
	boom := errors.New("boom")
	_, _, err := c.GetOrCompute(context.Background(), 1, []byte("q"), func(context.Context) (*search.Result, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	_, ok := c.Get(context.Background(), Key(1, []byte("q")))
	assert.False(t, ok, "failed computations are not cached")
}

func TestGetOrComputeCoalesces(t *testing.T) {
	c := New(newMapStore(), time.Minute, resilience.CircuitBreakerConfig{}, nil)
	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) (*search.Result, error) {
		calls.Add(1)
		<-release
		return result(1), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.GetOrCompute(context.Background(), 1, []byte("same"), compute)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.LessOrEqual(t, calls.Load(), int32(8))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}

func TestBreakerBypassesFailingRedis(t *testing.T) {
	store := newMapStore()
	store.fail(errors.New("connection refused"))
	mt := metrics.New(prometheus.NewRegistry())
	c := New(store, time.Minute, resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
	}, mt)
	compute := func(context.Context) (*search.Result, error) { return result(1), nil }

	// The failed lookup and the failed store each count once.
	_, status, err := c.GetOrCompute(context.Background(), 1, []byte("q"), compute)
	require.NoError(t, err)
	assert.Equal(t, Miss, status)
	assert.Equal(t, resilience.StateOpen, c.BreakerState())

	got, status, err := c.GetOrCompute(context.Background(), 1, []byte("q"), compute)
	require.NoError(t, err)
	assert.Equal(t, Bypass, status)
	assert.Equal(t, uint64(1), got.Total)

	var m dto.Metric
	require.NoError(t, mt.CircuitBreakerState.WithLabelValues("query-cache").Write(&m))
	assert.Equal(t, float64(resilience.StateOpen), m.GetGauge().GetValue())
}

func TestHandleCommitFlushes(t *testing.T) {
	store := newMapStore()
	c := New(store, time.Minute, resilience.CircuitBreakerConfig{}, nil)
	ctx := context.Background()
	c.Set(ctx, Key(1, []byte("a")), result(1))
	c.Set(ctx, Key(1, []byte("b")), result(2))
	store.data["unrelated"] = []byte("x")

	require.NoError(t, c.HandleCommit()(ctx, []byte("commit"), []byte(`{"generation":2,"indexed":1}`)))
	assert.Len(t, store.data, 1)
	assert.Contains(t, store.data, "unrelated")

	assert.NoError(t, c.HandleCommit()(ctx, nil, []byte("not json")), "undecodable events are skipped")
}

func TestCancelledLeaderDoesNotFailWaiters(t *testing.T) {
	c := New(newMapStore(), time.Minute, resilience.CircuitBreakerConfig{}, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	compute := func(ctx context.Context) (*search.Result, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
			return result(7), ctx.Err()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(leaderCtx, 1, []byte("q"), compute)
		leaderErr <- err
	}()
	<-started

	waiter := make(chan *search.Result, 1)
	go func() {
		got, _, err := c.GetOrCompute(context.Background(), 1, []byte("q"), compute)
		assert.NoError(t, err)
		waiter <- got
	}()

	cancel()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)
	close(release)

	select {
	case got := <-waiter:
		require.NotNil(t, got)
		assert.Equal(t, uint64(7), got.Total)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never received the shared result")
	}
	got, ok := c.Get(context.Background(), Key(1, []byte("q")))
	require.True(t, ok, "the shared result is cached")
	assert.Equal(t, uint64(7), got.Total)
}
