package pricecache

import (
	"context"
	"sync"
	"time"

	"github.com/wonny/marketcache/internal/domain/marketdata"
)

var (
	d1 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	d2 = time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	d3 = time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)
)

// bar returns a valid bar whose open and close equal v.
func bar(d time.Time, v float64) marketdata.Bar {
	return marketdata.NewBar(d, v, v+1, v-0.5, v, 1000)
}

func bars(d0 time.Time, values ...float64) []marketdata.Bar {
	out := make([]marketdata.Bar, 0, len(values))
	for i, v := range values {
		out = append(out, bar(d0.AddDate(0, 0, i), v))
	}
	return out
}

// fakeBulkSource serves fixed bars and records every batch call.
type fakeBulkSource struct {
	mu    sync.Mutex
	data  map[string][]marketdata.Bar
	errs  []error // returned in order before data is served
	calls [][]string
}

func (f *fakeBulkSource) Name() string { return "bulk" }

func (f *fakeBulkSource) FetchBulk(_ context.Context, tickers []string, _, _ time.Time) (map[string][]marketdata.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), tickers...))
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	out := make(map[string][]marketdata.Bar)
	for _, ticker := range tickers {
		if b, ok := f.data[ticker]; ok {
			out[ticker] = b
		}
	}
	return out, nil
}

func (f *fakeBulkSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type tickerCall struct {
	ticker string
	start  time.Time
}

// fakeTickerSource serves fixed bars per ticker, filtered to [start, end].
type fakeTickerSource struct {
	name  string
	mu    sync.Mutex
	data  map[string][]marketdata.Bar
	errs  map[string]error
	calls []tickerCall
}

func (f *fakeTickerSource) Name() string {
	if f.name == "" {
		return "ticker"
	}
	return f.name
}

func (f *fakeTickerSource) FetchTicker(_ context.Context, ticker string, start, end time.Time) ([]marketdata.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, tickerCall{ticker: ticker, start: start})
	if err, ok := f.errs[ticker]; ok {
		return nil, err
	}
	var out []marketdata.Bar
	for _, b := range f.data[ticker] {
		if !b.Date.Before(start) && !b.Date.After(end) {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return nil, marketdata.ErrNoData
	}
	return out, nil
}

func (f *fakeTickerSource) tickers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.ticker)
	}
	return out
}

// memStore keeps the snapshot in memory.
type memStore struct {
	mu      sync.Mutex
	snap    *marketdata.Snapshot
	loadErr error
	saveErr error
	saves   int
}

func (m *memStore) Load(context.Context) (*marketdata.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.snap == nil {
		return marketdata.NewSnapshot(), nil
	}
	return m.snap.Clone(), nil
}

func (m *memStore) Save(_ context.Context, s *marketdata.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.snap = s.Clone()
	return nil
}

// recordingSleeper records requested delays without sleeping.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func (r *recordingSleeper) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

type fakeRecorder struct {
	mu        sync.Mutex
	runs      []*marketdata.FetchRun
	issues    []marketdata.QualityIssue
	runIssues [][]marketdata.QualityIssue // parallel to runs
	err       error
}

func (f *fakeRecorder) RecordRun(_ context.Context, run *marketdata.FetchRun, issues []marketdata.QualityIssue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	f.issues = append(f.issues, issues...)
	f.runIssues = append(f.runIssues, issues)
	return f.err
}

func (f *fakeRecorder) RejectionsByTicker(_ context.Context, lastRuns int) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.runIssues) < lastRuns {
		lastRuns = len(f.runIssues)
	}
	out := make(map[string]int)
	for _, issues := range f.runIssues[len(f.runIssues)-lastRuns:] {
		for _, issue := range issues {
			out[issue.Ticker]++
		}
	}
	return out, nil
}

func (f *fakeRecorder) RecentRuns(_ context.Context, limit int) ([]*marketdata.FetchRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.runs) < limit {
		limit = len(f.runs)
	}
	return f.runs[len(f.runs)-limit:], nil
}

type fakePublisher struct {
	latest map[string]marketdata.LatestPrice
}

func (f *fakePublisher) PublishLatest(_ context.Context, latest map[string]marketdata.LatestPrice) error {
	f.latest = latest
	return nil
}

// testConfig returns an orchestrator config that never sleeps.
func testConfig(sleeper *recordingSleeper) OrchestratorConfig {
	policy := DefaultRetryPolicy()
	policy.Sleep = sleeper.Sleep
	return OrchestratorConfig{
		Workers:   3,
		StartDate: d1,
		Retry:     policy,
	}
}

func snapshotOf(open, close map[string]map[time.Time]float64) *marketdata.Snapshot {
	s := marketdata.NewSnapshot()
	for ticker, col := range open {
		for d, v := range col {
			s.Open.Set(ticker, d, v)
		}
	}
	for ticker, col := range close {
		for d, v := range col {
			s.Close.Set(ticker, d, v)
		}
	}
	s.Align()
	return s
}
