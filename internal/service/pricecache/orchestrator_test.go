package pricecache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/marketcache/internal/domain/marketdata"
)

func outcomeFor(t *testing.T, res *FetchResult, ticker string) marketdata.FetchOutcome {
	t.Helper()
	for _, o := range res.Outcomes {
		if o.Ticker == ticker {
			return o
		}
	}
	t.Fatalf("no outcome for %s", ticker)
	return marketdata.FetchOutcome{}
}

func TestOrchestrator_FallbackRouting(t *testing.T) {
	primary := &fakeBulkSource{data: map[string][]marketdata.Bar{
		"A": bars(d1, 10, 11, 12),
		"B": bars(d1, 20, 21, 22),
	}}
	secondary := &fakeTickerSource{data: map[string][]marketdata.Bar{
		"X": bars(d1, 30, 31, 32),
	}}

	orch := NewOrchestrator(primary, secondary, testConfig(&recordingSleeper{}))
	res := orch.Execute(context.Background(), PlanFull([]string{"A", "B", "X"}), d3)

	assert.Equal(t, 1, primary.callCount())
	assert.Equal(t, []string{"X"}, secondary.tickers())

	for _, ticker := range []string{"A", "B", "X"} {
		assert.True(t, res.Full.Available(ticker), ticker)
		assert.True(t, outcomeFor(t, res, ticker).Success, ticker)
	}
	assert.Equal(t, "bulk", outcomeFor(t, res, "A").Source)
	assert.Equal(t, "ticker", outcomeFor(t, res, "X").Source)
	assert.Equal(t, 9, res.RowsFetched())
	assert.True(t, res.Delta.IsEmpty())
}

func TestOrchestrator_PrimaryRetried(t *testing.T) {
	sleeper := &recordingSleeper{}
	primary := &fakeBulkSource{
		data: map[string][]marketdata.Bar{"A": bars(d1, 10)},
		errs: []error{
			marketdata.NewStatusError("bulk", "", 503),
			marketdata.NewStatusError("bulk", "", 429),
		},
	}
	secondary := &fakeTickerSource{}

	orch := NewOrchestrator(primary, secondary, testConfig(sleeper))
	res := orch.Execute(context.Background(), PlanFull([]string{"A"}), d3)

	assert.Equal(t, 3, primary.callCount())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.Delays())
	assert.Empty(t, secondary.tickers())
	assert.True(t, res.Full.Available("A"))
}

func TestOrchestrator_PrimaryFailureFallsBack(t *testing.T) {
	sleeper := &recordingSleeper{}
	primary := &fakeBulkSource{errs: []error{marketdata.NewStatusError("bulk", "", 401)}}
	secondary := &fakeTickerSource{data: map[string][]marketdata.Bar{
		"A": bars(d1, 10),
		"B": bars(d1, 20),
	}}

	orch := NewOrchestrator(primary, secondary, testConfig(sleeper))
	res := orch.Execute(context.Background(), PlanFull([]string{"A", "B"}), d3)

	assert.Equal(t, 1, primary.callCount())
	assert.Empty(t, sleeper.Delays())
	assert.ElementsMatch(t, []string{"A", "B"}, secondary.tickers())
	assert.True(t, res.Full.Available("A"))
	assert.True(t, res.Full.Available("B"))
}

func TestOrchestrator_RejectedRowsFallBack(t *testing.T) {
	broken := []marketdata.Bar{marketdata.NewBar(d1, 10, 9, 11, 10, 100)}
	primary := &fakeBulkSource{data: map[string][]marketdata.Bar{"A": broken}}
	secondary := &fakeTickerSource{data: map[string][]marketdata.Bar{"A": bars(d1, 10)}}

	orch := NewOrchestrator(primary, secondary, testConfig(&recordingSleeper{}))
	res := orch.Execute(context.Background(), PlanFull([]string{"A"}), d3)

	assert.Equal(t, []string{"A"}, secondary.tickers())
	require.Len(t, res.Issues, 1)
	assert.Equal(t, "high < low", res.Issues[0].Reason)
	assert.True(t, res.Full.Available("A"))
}

func TestOrchestrator_SecondaryOnlySkipsPrimary(t *testing.T) {
	primary := &fakeBulkSource{data: map[string][]marketdata.Bar{
		"AAPL": bars(d1, 10, 11),
		"BHP":  bars(d1, 999, 999), // a different listing under the same symbol
	}}
	secondary := &fakeTickerSource{data: map[string][]marketdata.Bar{
		"BHP": bars(d1, 45, 46),
	}}

	cfg := testConfig(&recordingSleeper{})
	cfg.SecondaryOnly = func(ticker string) bool { return ticker == "BHP" }

	orch := NewOrchestrator(primary, secondary, cfg)
	res := orch.Execute(context.Background(), PlanFull([]string{"AAPL", "BHP"}), d3)

	require.Equal(t, 1, primary.callCount())
	assert.Equal(t, []string{"AAPL"}, primary.calls[0])
	assert.Equal(t, []string{"BHP"}, secondary.tickers())

	assert.Equal(t, "bulk", outcomeFor(t, res, "AAPL").Source)
	assert.Equal(t, "ticker", outcomeFor(t, res, "BHP").Source)
	v, ok := res.Full.Close.Get("BHP", d1)
	require.True(t, ok)
	assert.Equal(t, 45.0, v)
}

func TestOrchestrator_AllSecondaryOnlyNoBulkCall(t *testing.T) {
	primary := &fakeBulkSource{}
	secondary := &fakeTickerSource{data: map[string][]marketdata.Bar{
		"005930": bars(d1, 70000),
	}}

	cfg := testConfig(&recordingSleeper{})
	cfg.SecondaryOnly = IsKRXCode

	orch := NewOrchestrator(primary, secondary, cfg)
	res := orch.Execute(context.Background(), PlanFull([]string{"005930"}), d3)

	assert.Equal(t, 0, primary.callCount())
	assert.True(t, res.Full.Available("005930"))
}

func TestOrchestrator_PartialFailure(t *testing.T) {
	secondary := &fakeTickerSource{
		data: map[string][]marketdata.Bar{"A": bars(d1, 10, 11)},
		errs: map[string]error{"BAD": marketdata.NewStatusError("ticker", "BAD", 404)},
	}

	orch := NewOrchestrator(nil, secondary, testConfig(&recordingSleeper{}))
	res := orch.Execute(context.Background(), PlanFull([]string{"A", "BAD", "EMPTY"}), d3)

	assert.True(t, res.Full.Available("A"))
	assert.False(t, res.Full.Open.HasTicker("BAD"))
	assert.False(t, res.Full.Open.HasTicker("EMPTY"))

	bad := outcomeFor(t, res, "BAD")
	assert.False(t, bad.Success)
	assert.Equal(t, marketdata.KindPermanent, bad.ErrorKind)

	empty := outcomeFor(t, res, "EMPTY")
	assert.False(t, empty.Success)
	assert.Equal(t, marketdata.ErrNoData.Error(), empty.Error)

	assert.True(t, outcomeFor(t, res, "A").Success)
}

func TestOrchestrator_Delta(t *testing.T) {
	secondary := &fakeTickerSource{data: map[string][]marketdata.Bar{
		"A": bars(d1, 10, 11, 12),
	}}
	plan := marketdata.FetchPlan{Delta: map[string]time.Time{"A": d2, "QUIET": d2}}

	orch := NewOrchestrator(&fakeBulkSource{}, secondary, testConfig(&recordingSleeper{}))
	res := orch.Execute(context.Background(), plan, d3)

	_, ok := res.Delta.Close.Get("A", d1)
	assert.False(t, ok, "delta starts at the last cached date")
	v, _ := res.Delta.Close.Get("A", d3)
	assert.Equal(t, 12.0, v)

	quiet := outcomeFor(t, res, "QUIET")
	assert.True(t, quiet.Success, "no new rows is not a failure")
	assert.Equal(t, 0, quiet.RowsFetched)
	assert.Equal(t, marketdata.SourceDelta, quiet.Mode)
	assert.False(t, res.Delta.Close.HasTicker("QUIET"))
	assert.True(t, res.Full.IsEmpty())
}

func TestOrchestrator_TransientTickerErrorExhausts(t *testing.T) {
	sleeper := &recordingSleeper{}
	secondary := &fakeTickerSource{errs: map[string]error{
		"A": marketdata.NewTransientError("ticker", "A", errors.New("connection reset")),
	}}

	orch := NewOrchestrator(nil, secondary, testConfig(sleeper))
	res := orch.Execute(context.Background(), PlanFull([]string{"A"}), d3)

	out := outcomeFor(t, res, "A")
	assert.False(t, out.Success)
	assert.Equal(t, marketdata.KindTransient, out.ErrorKind)
	assert.Contains(t, out.Error, "max retries exceeded")
	assert.Len(t, secondary.tickers(), 4)
	assert.Len(t, sleeper.Delays(), 3)
}
