package pricecache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/marketcache/internal/domain/marketdata"
)

type loaderFixture struct {
	primary   *fakeBulkSource
	secondary *fakeTickerSource
	store     *memStore
	recorder  *fakeRecorder
	publisher *fakePublisher
	loader    *Loader
}

func newLoaderFixture(primaryData, secondaryData map[string][]marketdata.Bar) *loaderFixture {
	f := &loaderFixture{
		primary:   &fakeBulkSource{data: primaryData},
		secondary: &fakeTickerSource{data: secondaryData},
		store:     &memStore{},
		recorder:  &fakeRecorder{},
		publisher: &fakePublisher{},
	}
	orch := NewOrchestrator(f.primary, f.secondary, testConfig(&recordingSleeper{}))
	f.loader = NewLoader(f.store, orch,
		WithRecorder(f.recorder),
		WithPublisher(f.publisher),
		WithClock(func() time.Time { return d3.Add(18 * time.Hour) }),
	)
	return f
}

func (f *loaderFixture) providerCalls() int {
	return f.primary.callCount() + len(f.secondary.tickers())
}

func TestLoader_Idempotent(t *testing.T) {
	f := newLoaderFixture(map[string][]marketdata.Bar{
		"AAA": bars(d1, 10, 11, 12),
		"BBB": bars(d1, 20, 21, 22),
	}, nil)
	ctx := context.Background()

	first, err := f.loader.FetchPrices(ctx, []string{"aaa", "BBB"}, true)
	require.NoError(t, err)
	assert.True(t, first.Persisted)
	assert.Equal(t, marketdata.StateWarm, first.State)

	calls := f.providerCalls()
	second, err := f.loader.FetchPrices(ctx, []string{"AAA", "BBB"}, true)
	require.NoError(t, err)

	assert.Equal(t, calls, f.providerCalls(), "second call must not touch providers")
	assert.True(t, first.Open.Equal(second.Open))
	assert.True(t, first.Close.Equal(second.Close))
	assert.Equal(t, 1, f.store.saves)
	assert.Empty(t, second.Outcomes)
}

func TestLoader_DeltaMerge(t *testing.T) {
	f := newLoaderFixture(nil, map[string][]marketdata.Bar{
		"AAA": bars(d2, 16, 17),
	})
	f.store.snap = snapshotOf(
		map[string]map[time.Time]float64{"AAA": {d1: 5, d2: 5}},
		map[string]map[time.Time]float64{"AAA": {d1: 5, d2: 5}},
	)

	prices, err := f.loader.FetchPrices(context.Background(), []string{"AAA"}, true)
	require.NoError(t, err)

	assert.Equal(t, []time.Time{d1, d2, d3}, prices.Close.Dates())
	v, _ := prices.Close.Get("AAA", d1)
	assert.Equal(t, 5.0, v)
	v, _ = prices.Close.Get("AAA", d2)
	assert.Equal(t, 16.0, v)
	v, _ = prices.Close.Get("AAA", d3)
	assert.Equal(t, 17.0, v)

	require.Len(t, f.secondary.calls, 1)
	assert.Equal(t, d2, f.secondary.calls[0].start)
	assert.Equal(t, 0, f.primary.callCount())
}

func TestLoader_PreservesColumns(t *testing.T) {
	f := newLoaderFixture(map[string][]marketdata.Bar{
		"NEW": bars(d1, 1, 2, 3),
	}, nil)
	f.store.snap = snapshotOf(
		map[string]map[time.Time]float64{"OLD": {d1: 5, d3: 6}},
		map[string]map[time.Time]float64{"OLD": {d1: 5, d3: 6}},
	)

	prices, err := f.loader.FetchPrices(context.Background(), []string{"NEW"}, true)
	require.NoError(t, err)

	assert.Equal(t, []string{"NEW"}, prices.Close.Tickers())
	assert.ElementsMatch(t, []string{"OLD", "NEW"}, f.store.snap.Close.Tickers())
	assert.True(t, f.store.snap.Available("OLD"))
}

func TestLoader_NoCacheKeepsFailedColumns(t *testing.T) {
	f := newLoaderFixture(nil, nil)
	f.secondary.errs = map[string]error{"OLD": marketdata.NewStatusError("ticker", "OLD", 404)}
	f.store.snap = snapshotOf(
		map[string]map[time.Time]float64{"OLD": {d1: 5}},
		map[string]map[time.Time]float64{"OLD": {d1: 5}},
	)

	prices, err := f.loader.FetchPrices(context.Background(), []string{"OLD"}, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"OLD"}, prices.Failed())
	assert.True(t, prices.Close.HasTicker("OLD"), "cached column survives a failed refetch")
	assert.False(t, prices.Persisted, "nothing fetched, nothing saved")
	assert.Equal(t, 0, f.store.saves)
}

func TestLoader_NoCacheRefetches(t *testing.T) {
	f := newLoaderFixture(map[string][]marketdata.Bar{"AAA": bars(d1, 7, 8, 9)}, nil)
	f.store.snap = snapshotOf(
		map[string]map[time.Time]float64{"AAA": {d1: 5, d3: 5}},
		map[string]map[time.Time]float64{"AAA": {d1: 5, d3: 5}},
	)

	prices, err := f.loader.FetchPrices(context.Background(), []string{"AAA"}, false)
	require.NoError(t, err)

	assert.Equal(t, 1, f.primary.callCount())
	v, _ := prices.Close.Get("AAA", d3)
	assert.Equal(t, 9.0, v)
}

func TestLoader_UnreadableCacheStartsCold(t *testing.T) {
	f := newLoaderFixture(map[string][]marketdata.Bar{"AAA": bars(d1, 1)}, nil)
	f.store.loadErr = marketdata.ErrCacheUnreadable

	prices, err := f.loader.FetchPrices(context.Background(), []string{"AAA"}, true)
	require.NoError(t, err)
	assert.True(t, prices.Close.HasTicker("AAA"))
	assert.Equal(t, 1, f.primary.callCount())
}

func TestLoader_SaveFailureIsSwallowed(t *testing.T) {
	f := newLoaderFixture(map[string][]marketdata.Bar{"AAA": bars(d1, 1, 2, 3)}, nil)
	f.store.saveErr = errors.New("disk full")

	prices, err := f.loader.FetchPrices(context.Background(), []string{"AAA"}, true)
	require.NoError(t, err)

	assert.False(t, prices.Persisted)
	assert.Equal(t, 3, prices.Close.Len())
	assert.Nil(t, f.publisher.latest, "nothing is published for unsaved data")
	require.Len(t, f.recorder.runs, 1)
	assert.False(t, f.recorder.runs[0].Persisted)
}

func TestLoader_RecordsAndPublishes(t *testing.T) {
	f := newLoaderFixture(map[string][]marketdata.Bar{
		"AAA": append(bars(d1, 1, 2, 3), marketdata.NewBar(d3.AddDate(0, 0, -5), 10, 9, 11, 10, 1)),
	}, nil)

	prices, err := f.loader.FetchPrices(context.Background(), []string{"AAA", "MISSING"}, true)
	require.NoError(t, err)

	require.Len(t, f.recorder.runs, 1)
	run := f.recorder.runs[0]
	assert.Equal(t, prices.RunID, run.ID)
	assert.Equal(t, "fetch", run.RunType)
	assert.Equal(t, 2, run.TickersProcessed)
	assert.Equal(t, 1, run.TickersSucceeded)
	assert.Equal(t, 1, run.TickersFailed)
	assert.Equal(t, 3, run.RowsFetched)
	assert.Equal(t, 1, run.RowsRejected)
	assert.Equal(t, marketdata.RunCompletedWithErrors, run.Status)
	assert.Len(t, f.recorder.issues, 1)

	require.Contains(t, f.publisher.latest, "AAA")
	assert.Equal(t, marketdata.LatestPrice{Date: d3, Value: 3}, f.publisher.latest["AAA"])
	assert.Equal(t, []string{"MISSING"}, prices.Failed())
}

func TestLoader_NoTickers(t *testing.T) {
	f := newLoaderFixture(nil, nil)
	_, err := f.loader.FetchPrices(context.Background(), []string{" ", ""}, true)
	assert.ErrorIs(t, err, marketdata.ErrNoTickers)
}

func TestLoader_ConcurrentRequests(t *testing.T) {
	f := newLoaderFixture(map[string][]marketdata.Bar{"AAA": bars(d1, 1, 2, 3)}, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*Prices, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := f.loader.FetchPrices(ctx, []string{"AAA"}, true)
			assert.NoError(t, err)
			results[i] = p
		}(i)
	}
	wg.Wait()

	for _, p := range results {
		require.NotNil(t, p)
		assert.True(t, results[0].Close.Equal(p.Close))
	}
	assert.Equal(t, 1, f.primary.callCount(), "later cycles find the cache warm")
}

func TestLoader_CancelledContextFinishesCycle(t *testing.T) {
	f := newLoaderFixture(map[string][]marketdata.Bar{"AAA": bars(d1, 1, 2, 3)}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	prices, err := f.loader.FetchPrices(ctx, []string{"AAA"}, true)
	require.NoError(t, err)
	assert.True(t, prices.Persisted)
}

func TestLoader_Status(t *testing.T) {
	f := newLoaderFixture(nil, nil)
	f.store.snap = snapshotOf(
		map[string]map[time.Time]float64{"AAA": {d1: 1, d2: 1}, "HALF": {d1: 1}},
		map[string]map[time.Time]float64{"AAA": {d1: 1, d2: 1}},
	)

	status, err := f.loader.Status(context.Background())
	require.NoError(t, err)

	assert.Equal(t, marketdata.StateDegraded, status.State)
	assert.Equal(t, 2, status.Tickers)
	assert.Equal(t, []string{"HALF"}, status.Degraded)
	assert.Equal(t, map[string]time.Time{"AAA": d2}, status.LastDates)
	assert.Empty(t, status.Rejections)
}

func TestLoader_StatusReportsRejections(t *testing.T) {
	bad := bar(d2, 11)
	bad.High = 5 // below low
	f := newLoaderFixture(map[string][]marketdata.Bar{
		"AAA": {bar(d1, 10), bad, bar(d3, 12)},
		"BBB": bars(d1, 20, 21, 22),
	}, nil)

	_, err := f.loader.FetchPrices(context.Background(), []string{"AAA", "BBB"}, true)
	require.NoError(t, err)

	status, err := f.loader.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, status.Recent, 1)
	assert.Equal(t, map[string]int{"AAA": 1}, status.Rejections)
}
