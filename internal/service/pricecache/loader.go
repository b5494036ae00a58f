package pricecache

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/wonny/marketcache/internal/domain/marketdata"
)

// Prices is the result of one FetchPrices call.
type Prices struct {
	RunID     uuid.UUID
	Open      *marketdata.PriceTable
	Close     *marketdata.PriceTable
	Outcomes  []marketdata.FetchOutcome
	State     marketdata.CacheState
	Persisted bool
}

// Tables returns the tables keyed by field name.
func (p *Prices) Tables() map[marketdata.Field]*marketdata.PriceTable {
	return map[marketdata.Field]*marketdata.PriceTable{
		marketdata.FieldOpen:  p.Open,
		marketdata.FieldClose: p.Close,
	}
}

// Failed lists the tickers whose fetch failed this cycle.
func (p *Prices) Failed() []string {
	var out []string
	for _, o := range p.Outcomes {
		if !o.Success {
			out = append(out, o.Ticker)
		}
	}
	return out
}

func (p *Prices) clone() *Prices {
	c := *p
	c.Open = p.Open.Clone()
	c.Close = p.Close.Clone()
	c.Outcomes = append([]marketdata.FetchOutcome(nil), p.Outcomes...)
	return &c
}

// CacheStatus describes the persisted snapshot.
type CacheStatus struct {
	State     marketdata.CacheState
	Tickers   int
	Dates     int
	Degraded  []string
	LastDates map[string]time.Time
	Recent    []*marketdata.FetchRun

	// Rejections counts rows dropped by validation per ticker over the
	// Recent runs. Empty without a recorder.
	Rejections map[string]int
}

// statusRuns is how many runs Status looks back over.
const statusRuns = 5

// Loader is the entry point of the market-data layer: plan, fetch, merge,
// persist, and return the requested subset.
type Loader struct {
	store     marketdata.SnapshotStore
	orch      *Orchestrator
	recorder  marketdata.RunRecorder
	publisher marketdata.PricePublisher
	now       func() time.Time
	runType   string

	// One writer per process; identical concurrent requests share a cycle.
	mu sync.Mutex
	sf singleflight.Group

	logger zerolog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithRecorder stores run history and rejected rows.
func WithRecorder(r marketdata.RunRecorder) LoaderOption {
	return func(l *Loader) { l.recorder = r }
}

// WithPublisher publishes latest closes after each persisted cycle.
func WithPublisher(p marketdata.PricePublisher) LoaderOption {
	return func(l *Loader) { l.publisher = p }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) LoaderOption {
	return func(l *Loader) { l.now = now }
}

// WithRunType labels recorded runs (fetch, update, schedule).
func WithRunType(runType string) LoaderOption {
	return func(l *Loader) { l.runType = runType }
}

// NewLoader creates a loader.
func NewLoader(store marketdata.SnapshotStore, orch *Orchestrator, opts ...LoaderOption) *Loader {
	l := &Loader{
		store:   store,
		orch:    orch,
		now:     time.Now,
		runType: "fetch",
		logger:  log.With().Str("component", "loader").Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FetchPrices returns open and close tables for tickers, fetching only what
// the cache lacks. With useCache false every ticker is refetched in full, but
// cached columns that fail to refetch are kept.
//
// The fetch phase is not cancelled with ctx: calls already in flight finish so
// spent rate-limit budget is not wasted.
func (l *Loader) FetchPrices(ctx context.Context, tickers []string, useCache bool) (*Prices, error) {
	tickers = NormalizeTickers(tickers)
	if len(tickers) == 0 {
		return nil, marketdata.ErrNoTickers
	}

	key := strconv.FormatBool(useCache) + "|" + strings.Join(tickers, ",")
	v, err, shared := l.sf.Do(key, func() (interface{}, error) {
		return l.runCycle(context.WithoutCancel(ctx), tickers, useCache), nil
	})
	if err != nil {
		return nil, err
	}

	prices := v.(*Prices)
	if shared {
		prices = prices.clone()
	}
	return prices, nil
}

func (l *Loader) runCycle(ctx context.Context, tickers []string, useCache bool) *Prices {
	l.mu.Lock()
	defer l.mu.Unlock()

	run := &marketdata.FetchRun{
		ID:        uuid.New(),
		RunType:   l.runType,
		StartedAt: l.now(),
	}
	today := marketdata.Day(run.StartedAt)
	logger := l.logger.With().Str("run_id", run.ID.String()).Logger()

	// 1. Load
	cached := l.load(ctx, logger)
	state := cached.State()

	// 2. Plan
	plan := PlanFull(tickers)
	if useCache {
		plan = Plan(tickers, cached, today)
	}
	logger.Info().
		Int("requested", len(tickers)).
		Int("up_to_date", len(plan.UpToDate)).
		Int("delta", len(plan.Delta)).
		Int("full", len(plan.Full)).
		Str("cache_state", string(state)).
		Msg("Fetch plan ready")

	if plan.IsEmpty() {
		selected := cached.Select(tickers)
		return &Prices{RunID: run.ID, Open: selected.Open, Close: selected.Close, State: state}
	}

	// 3. Fetch
	res := l.orch.Execute(ctx, plan, today)

	// 4. Merge
	merged := Merge(cached, res.Delta, res.Full)
	state = merged.State()

	// 5. Persist (best effort)
	persisted := false
	if res.RowsFetched() > 0 {
		if err := l.store.Save(ctx, merged); err != nil {
			logger.Error().
				Err(err).
				Str("kind", string(marketdata.KindPersistence)).
				Msg("Failed to persist cache snapshot, returning in-memory result")
		} else {
			persisted = true
		}
	}

	run.FinishedAt = l.now()
	run.Persisted = persisted
	run.Summarize(res.Outcomes)
	l.record(ctx, logger, run, res.Issues)

	selected := merged.Select(tickers)
	if persisted {
		l.publish(ctx, logger, selected)
	}

	logger.Info().
		Int("returned", selected.Close.Width()).
		Int("succeeded", run.TickersSucceeded).
		Int("failed", run.TickersFailed).
		Int("rows", run.RowsFetched).
		Bool("persisted", persisted).
		Str("status", string(run.Status)).
		Msg("Fetch cycle completed")

	return &Prices{
		RunID:     run.ID,
		Open:      selected.Open,
		Close:     selected.Close,
		Outcomes:  res.Outcomes,
		State:     state,
		Persisted: persisted,
	}
}

func (l *Loader) load(ctx context.Context, logger zerolog.Logger) *marketdata.Snapshot {
	cached, err := l.store.Load(ctx)
	if err != nil || cached == nil {
		logger.Warn().Err(err).Msg("Cache unreadable, starting cold")
		return marketdata.NewSnapshot()
	}
	cached.Align()

	if degraded := cached.DegradedTickers(); len(degraded) > 0 {
		logger.Warn().
			Strs("tickers", degraded).
			Msg("Cache has unreadable columns, they will be refetched in full")
	}
	return cached
}

func (l *Loader) record(ctx context.Context, logger zerolog.Logger, run *marketdata.FetchRun, issues []marketdata.QualityIssue) {
	if l.recorder == nil {
		return
	}
	if err := l.recorder.RecordRun(ctx, run, issues); err != nil {
		logger.Warn().Err(err).Msg("Failed to record fetch run")
	}
}

func (l *Loader) publish(ctx context.Context, logger zerolog.Logger, snap *marketdata.Snapshot) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.PublishLatest(ctx, snap.LatestCloses()); err != nil {
		logger.Warn().Err(err).Msg("Failed to publish latest closes")
	}
}

// Status reports the state of the persisted snapshot.
func (l *Loader) Status(ctx context.Context) (*CacheStatus, error) {
	snap, err := l.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	snap.Align()

	status := &CacheStatus{
		State:     snap.State(),
		Degraded:  snap.DegradedTickers(),
		LastDates: make(map[string]time.Time),
		Dates:     snap.Close.Len(),
	}
	tickers := snap.Tickers()
	sort.Strings(tickers)
	status.Tickers = len(tickers)
	for _, ticker := range tickers {
		if d, ok := snap.LastDate(ticker); ok {
			status.LastDates[ticker] = d
		}
	}

	if l.recorder != nil {
		runs, err := l.recorder.RecentRuns(ctx, statusRuns)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to load recent runs")
		}
		status.Recent = runs

		rejections, err := l.recorder.RejectionsByTicker(ctx, statusRuns)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to count rejected rows")
		}
		status.Rejections = rejections
	}
	return status, nil
}
