package pricecache

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/wonny/marketcache/internal/domain/marketdata"
)

// DefaultStartDate is where full histories begin unless configured.
var DefaultStartDate = time.Date(2005, 1, 1, 0, 0, 0, 0, time.UTC)

// OrchestratorConfig 오케스트레이터 설정
type OrchestratorConfig struct {
	Workers   int         // parallel per-ticker calls
	StartDate time.Time   // first day of a full history
	Retry     RetryPolicy // wraps every provider call
	Limiter   *TickerLimiter

	// SecondaryOnly reports tickers the primary provider must not be asked
	// for, e.g. listings whose bare symbol means a different security there.
	SecondaryOnly func(ticker string) bool

	// QualityLogger receives every rejected row. Defaults to the global logger.
	QualityLogger *zerolog.Logger
}

// DefaultOrchestratorConfig 기본 설정
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Workers:   5,
		StartDate: DefaultStartDate,
		Retry:     DefaultRetryPolicy(),
		Limiter:   NewTickerLimiter(DefaultMinRequestInterval),
	}
}

// FetchResult is everything one Execute call produced.
type FetchResult struct {
	Delta    *marketdata.Snapshot
	Full     *marketdata.Snapshot
	Outcomes []marketdata.FetchOutcome
	Issues   []marketdata.QualityIssue
}

// RowsFetched counts validated rows that entered the delta or full tables.
func (r *FetchResult) RowsFetched() int {
	n := 0
	for _, o := range r.Outcomes {
		n += o.RowsFetched
	}
	return n
}

// Orchestrator executes a FetchPlan against the primary and secondary providers.
type Orchestrator struct {
	primary   marketdata.BulkSource // optional
	secondary marketdata.TickerSource

	cfg     OrchestratorConfig
	quality zerolog.Logger
	logger  zerolog.Logger
}

// NewOrchestrator creates an orchestrator. primary may be nil, in which case
// full histories come from the secondary provider.
func NewOrchestrator(primary marketdata.BulkSource, secondary marketdata.TickerSource, cfg OrchestratorConfig) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.StartDate.IsZero() {
		cfg.StartDate = DefaultStartDate
	}

	quality := log.Logger
	if cfg.QualityLogger != nil {
		quality = *cfg.QualityLogger
	}

	return &Orchestrator{
		primary:   primary,
		secondary: secondary,
		cfg:       cfg,
		quality:   quality,
		logger:    log.With().Str("component", "orchestrator").Logger(),
	}
}

// job is one per-ticker secondary call.
type job struct {
	ticker string
	mode   marketdata.Source
	start  time.Time
}

type jobResult struct {
	outcome marketdata.FetchOutcome
	data    tickerData
}

// Execute fetches the delta and full sets of plan. It never fails as a whole:
// per-ticker failures are reported in the outcomes and the ticker is left out
// of the tables.
func (o *Orchestrator) Execute(ctx context.Context, plan marketdata.FetchPlan, today time.Time) *FetchResult {
	today = marketdata.Day(today)
	startTime := time.Now()

	res := &FetchResult{
		Delta: marketdata.NewSnapshot(),
		Full:  marketdata.NewSnapshot(),
	}

	// 1. Full histories: one batch call to the primary provider
	bulk, fallback := o.splitFull(plan.Full)
	if len(bulk) > 0 {
		fallback = append(fallback, o.fetchPrimary(ctx, bulk, today, res)...)
	}

	// 2. Secondary provider per ticker: primary leftovers, then deltas
	jobs := make([]job, 0, len(fallback)+len(plan.Delta))
	for _, ticker := range fallback {
		jobs = append(jobs, job{ticker: ticker, mode: marketdata.SourceFull, start: o.cfg.StartDate})
	}
	for _, ticker := range plan.DeltaTickers() {
		jobs = append(jobs, job{ticker: ticker, mode: marketdata.SourceDelta, start: plan.Delta[ticker]})
	}

	// Each worker writes only its own slot; tables are built after Wait.
	results := make([]jobResult, len(jobs))
	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)
	for i, j := range jobs {
		g.Go(func() error {
			results[i] = o.runJob(ctx, j, today)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		res.Outcomes = append(res.Outcomes, r.outcome)
		res.Issues = append(res.Issues, r.data.issues...)
		if !r.outcome.Success || r.data.rows == 0 {
			continue
		}
		target := res.Delta
		if r.outcome.Mode == marketdata.SourceFull {
			target = res.Full
		}
		addColumns(target, r.data)
	}

	o.logIssues(res.Issues)

	failed := 0
	for _, out := range res.Outcomes {
		if !out.Success {
			failed++
		}
	}
	o.logger.Info().
		Int("full", len(plan.Full)).
		Int("delta", len(plan.Delta)).
		Int("fallback", len(fallback)).
		Int("failed", failed).
		Int("rows", res.RowsFetched()).
		Int("rejected", len(res.Issues)).
		Dur("duration", time.Since(startTime)).
		Msg("Fetch plan executed")

	return res
}

// splitFull separates the tickers the primary provider is asked for from those
// that go straight to the secondary provider.
func (o *Orchestrator) splitFull(tickers []string) (bulk, direct []string) {
	if o.primary == nil {
		return nil, tickers
	}
	if o.cfg.SecondaryOnly == nil {
		return tickers, nil
	}
	for _, ticker := range tickers {
		if o.cfg.SecondaryOnly(ticker) {
			direct = append(direct, ticker)
		} else {
			bulk = append(bulk, ticker)
		}
	}
	return bulk, direct
}

// fetchPrimary runs the batch call and returns the tickers it did not serve.
func (o *Orchestrator) fetchPrimary(ctx context.Context, tickers []string, today time.Time, res *FetchResult) []string {
	name := o.primary.Name()

	bars, err := Retry(ctx, o.cfg.Retry, name+" bulk", func(ctx context.Context) (map[string][]marketdata.Bar, error) {
		if err := o.cfg.Limiter.WaitAll(ctx, tickers); err != nil {
			return nil, err
		}
		return o.primary.FetchBulk(ctx, tickers, o.cfg.StartDate, today)
	})
	if err != nil {
		o.logger.Warn().
			Err(err).
			Str("source", name).
			Int("tickers", len(tickers)).
			Msg("Primary bulk fetch failed, falling back per ticker")
		return tickers
	}

	var missing []string
	for _, ticker := range tickers {
		rows, ok := bars[ticker]
		if !ok || len(rows) == 0 {
			missing = append(missing, ticker)
			continue
		}

		data := buildColumns(ticker, rows)
		res.Issues = append(res.Issues, data.issues...)
		if data.rows == 0 {
			missing = append(missing, ticker)
			continue
		}

		addColumns(res.Full, data)
		res.Outcomes = append(res.Outcomes, marketdata.FetchOutcome{
			Ticker:       ticker,
			Mode:         marketdata.SourceFull,
			Source:       name,
			Success:      true,
			RowsFetched:  data.rows,
			RowsRejected: data.rejected,
		})
	}

	if len(missing) > 0 {
		o.logger.Info().
			Str("source", name).
			Strs("missing", missing).
			Msg("Primary provider omitted tickers")
	}
	return missing
}

// runJob fetches one ticker from the secondary provider.
func (o *Orchestrator) runJob(ctx context.Context, j job, today time.Time) jobResult {
	name := o.secondary.Name()
	outcome := marketdata.FetchOutcome{Ticker: j.ticker, Mode: j.mode, Source: name}

	bars, err := Retry(ctx, o.cfg.Retry, name+" "+j.ticker, func(ctx context.Context) ([]marketdata.Bar, error) {
		if err := o.cfg.Limiter.Wait(ctx, j.ticker); err != nil {
			return nil, err
		}
		return o.secondary.FetchTicker(ctx, j.ticker, j.start, today)
	})

	// Nothing new since the last cached date is not a failure.
	if err != nil && j.mode == marketdata.SourceDelta && errors.Is(err, marketdata.ErrNoData) {
		err = nil
	}
	if err != nil {
		outcome.ErrorKind = o.cfg.Retry.Classify(err)
		outcome.Error = err.Error()
		o.logger.Warn().
			Err(err).
			Str("ticker", j.ticker).
			Str("mode", j.mode.String()).
			Str("kind", string(outcome.ErrorKind)).
			Msg("Ticker fetch failed")
		return jobResult{outcome: outcome}
	}

	data := buildColumns(j.ticker, bars)
	outcome.RowsFetched = data.rows
	outcome.RowsRejected = data.rejected
	outcome.Success = data.rows > 0 || j.mode == marketdata.SourceDelta
	if !outcome.Success {
		outcome.ErrorKind = marketdata.KindPermanent
		outcome.Error = marketdata.ErrNoData.Error()
	}

	o.logger.Debug().
		Str("ticker", j.ticker).
		Str("mode", j.mode.String()).
		Time("start", j.start).
		Int("rows", data.rows).
		Int("rejected", data.rejected).
		Msg("Ticker fetched")

	return jobResult{outcome: outcome, data: data}
}

func (o *Orchestrator) logIssues(issues []marketdata.QualityIssue) {
	for _, issue := range issues {
		o.quality.Warn().
			Str("ticker", issue.Ticker).
			Str("date", issue.Date.Format("2006-01-02")).
			Str("reason", issue.Reason).
			Msg("Data quality issue, row dropped")
	}
}

// addColumns puts a ticker's validated columns into snap.
func addColumns(snap *marketdata.Snapshot, data tickerData) {
	for d, v := range data.open.Values {
		snap.Open.Set(data.open.Ticker, d, v)
	}
	for d, v := range data.close.Values {
		snap.Close.Set(data.close.Ticker, d, v)
	}
}
