package fetch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/flipbook/internal/loading"
	"github.com/sakif/flipbook/internal/navigation"
	"github.com/sakif/flipbook/internal/testutil"
)

func countingFunc(calls *int32, value []string) Func[[]string] {
	return func(ctx context.Context) ([]string, error) {
		atomic.AddInt32(calls, 1)
		return value, nil
	}
}

func TestFetch_FreshCacheHitSkipsCall(t *testing.T) {
	clk := testutil.FixedClock()
	c := NewCoordinator("pubs", NewCache[[]string](clk))
	var calls int32

	first, err := c.Fetch(context.Background(), "user-1", countingFunc(&calls, []string{"a"}), Options{CacheDuration: 5 * time.Minute})
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.NotEmpty(t, first.FetchID)

	clk.Advance(4 * time.Minute)
	second, err := c.Fetch(context.Background(), "user-1", countingFunc(&calls, []string{"b"}), Options{CacheDuration: 5 * time.Minute})
	require.NoError(t, err)

	assert.True(t, second.FromCache)
	assert.Equal(t, []string{"a"}, second.Data)
	assert.Empty(t, second.FetchID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetch_StaleEntryRefetches(t *testing.T) {
	clk := testutil.FixedClock()
	c := NewCoordinator("pubs", NewCache[[]string](clk))
	var calls int32

	_, err := c.Fetch(context.Background(), "k", countingFunc(&calls, []string{"old"}), Options{CacheDuration: 2 * time.Minute})
	require.NoError(t, err)

	clk.Advance(2 * time.Minute) // exactly at the boundary counts as stale
	res, err := c.Fetch(context.Background(), "k", countingFunc(&calls, []string{"new"}), Options{CacheDuration: 2 * time.Minute})
	require.NoError(t, err)

	assert.False(t, res.FromCache)
	assert.Equal(t, []string{"new"}, res.Data)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetch_ForceRefreshBypassesCache(t *testing.T) {
	c := NewCoordinator("pubs", NewCache[[]string](testutil.FixedClock()))
	var calls int32

	_, err := c.Fetch(context.Background(), "k", countingFunc(&calls, []string{"a"}), Options{})
	require.NoError(t, err)
	res, err := c.Fetch(context.Background(), "k", countingFunc(&calls, []string{"b"}), Options{ForceRefresh: true})
	require.NoError(t, err)

	assert.False(t, res.FromCache)
	assert.Equal(t, []string{"b"}, res.Data)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetch_DefaultDurationFromOption(t *testing.T) {
	clk := testutil.FixedClock()
	c := NewCoordinator("pubs", NewCache[[]string](clk), WithCacheDuration(time.Minute))
	var calls int32

	_, err := c.Fetch(context.Background(), "k", countingFunc(&calls, nil), Options{})
	require.NoError(t, err)
	clk.Advance(61 * time.Second)
	_, err = c.Fetch(context.Background(), "k", countingFunc(&calls, nil), Options{})
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetch_ErrorIsWrappedAndNotCached(t *testing.T) {
	cache := NewCache[[]string](testutil.FixedClock())
	c := NewCoordinator("pubs", cache)
	boom := errors.New("backend down")

	_, err := c.Fetch(context.Background(), "k", func(ctx context.Context) ([]string, error) {
		return nil, boom
	}, Options{})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, cache.Len())
}

// Two overlapping fetches resolved in reverse order: only the later-issued
// one may land, and the cache holds its data.
func TestFetch_SupersededFetchIsDiscarded(t *testing.T) {
	cache := NewCache[[]string](testutil.FixedClock())
	c := NewCoordinator("pubs", cache, WithIDGenerator(testutil.NewSequentialIDs("fetch")))

	releaseA := make(chan struct{})
	startedA := make(chan struct{})
	var cancelledA atomic.Bool

	type outcome struct {
		res Result[[]string]
		err error
	}
	doneA := make(chan outcome, 1)

	go func() {
		res, err := c.Fetch(context.Background(), "k", func(ctx context.Context) ([]string, error) {
			close(startedA)
			<-releaseA
			cancelledA.Store(ctx.Err() != nil)
			return []string{"A"}, nil
		}, Options{ForceRefresh: true})
		doneA <- outcome{res, err}
	}()
	<-startedA

	resB, err := c.Fetch(context.Background(), "k", func(ctx context.Context) ([]string, error) {
		return []string{"B"}, nil
	}, Options{ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, resB.Data)
	assert.Equal(t, "fetch-2", resB.FetchID)

	close(releaseA)
	a := <-doneA

	assert.ErrorIs(t, a.err, ErrSuperseded)
	assert.True(t, cancelledA.Load(), "superseded fetch should see its context cancelled")

	data, _, ok := cache.Peek("k")
	require.True(t, ok)
	assert.Equal(t, []string{"B"}, data)
}

func TestFetch_SupersededFailureIsAlsoDiscarded(t *testing.T) {
	c := NewCoordinator("pubs", NewCache[[]string](testutil.FixedClock()))

	started := make(chan struct{})
	release := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Fetch(context.Background(), "k", func(ctx context.Context) ([]string, error) {
			close(started)
			<-release
			return nil, errors.New("late failure")
		}, Options{})
		errCh <- err
	}()
	<-started

	_, err := c.Fetch(context.Background(), "k", func(ctx context.Context) ([]string, error) {
		return []string{"ok"}, nil
	}, Options{ForceRefresh: true})
	require.NoError(t, err)

	close(release)
	assert.ErrorIs(t, <-errCh, ErrSuperseded)
}

func TestFetch_RegistersAndUnregistersExactlyOnce(t *testing.T) {
	tr := navigation.New(navigation.Options{Settle: time.Hour})
	defer tr.ForceClear()
	reg := loading.NewRegistry(tr)
	defer reg.Close()

	c := NewCoordinator("pubs", NewCache[[]string](testutil.FixedClock()),
		WithTracker(tr), WithLoading(reg), WithIDGenerator(testutil.NewSequentialIDs("f")))

	var sawLoading, sawPending bool
	_, err := c.Fetch(context.Background(), "k", func(ctx context.Context) ([]string, error) {
		sawLoading = reg.Has("f-1")
		sawPending = tr.PendingFetches() == 1
		return nil, nil
	}, Options{Message: "Loading publications"})
	require.NoError(t, err)

	assert.True(t, sawLoading)
	assert.True(t, sawPending)
	assert.False(t, reg.Has("f-1"))
	assert.Equal(t, 0, tr.PendingFetches())
	assert.False(t, c.InFlight())
}

func TestFetch_LastFetchClearsNavigation(t *testing.T) {
	tr := navigation.New(navigation.Options{Settle: time.Hour})
	defer tr.ForceClear()
	c := NewCoordinator("pubs", NewCache[[]string](testutil.FixedClock()), WithTracker(tr))

	tr.OnRouteChange("/dashboard")
	_, err := c.Fetch(context.Background(), "k", func(ctx context.Context) ([]string, error) {
		assert.True(t, tr.IsNavigating())
		return nil, nil
	}, Options{})
	require.NoError(t, err)

	assert.False(t, tr.IsNavigating())
}

func TestCancel_AbortsInFlight(t *testing.T) {
	c := NewCoordinator("pubs", NewCache[[]string](testutil.FixedClock()))

	started := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Fetch(context.Background(), "k", func(ctx context.Context) ([]string, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}, Options{})
		errCh <- err
	}()
	<-started

	c.Cancel()
	assert.ErrorIs(t, <-errCh, ErrSuperseded)
}
