package pricecache

import (
	"strings"
	"time"

	"github.com/wonny/marketcache/internal/domain/marketdata"
)

// NormalizeTickers trims, upper-cases and de-duplicates tickers, keeping the
// first occurrence order.
func NormalizeTickers(tickers []string) []string {
	seen := make(map[string]struct{}, len(tickers))
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Plan classifies the requested tickers against the cached snapshot.
//
//   - no usable data in the cache (absent, all null, one-sided) → Full
//   - last known date on or after today                         → UpToDate
//   - otherwise                                                 → Delta from the last known date
//
// Plan never touches the network.
func Plan(tickers []string, cached *marketdata.Snapshot, today time.Time) marketdata.FetchPlan {
	today = marketdata.Day(today)
	plan := marketdata.FetchPlan{Delta: make(map[string]time.Time)}

	for _, ticker := range tickers {
		last, ok := cached.LastDate(ticker)
		switch {
		case !ok:
			plan.Full = append(plan.Full, ticker)
		case !last.Before(today):
			plan.UpToDate = append(plan.UpToDate, ticker)
		default:
			plan.Delta[ticker] = last
		}
	}

	return plan
}

// PlanFull schedules every ticker for a full history fetch.
func PlanFull(tickers []string) marketdata.FetchPlan {
	full := make([]string, len(tickers))
	copy(full, tickers)
	return marketdata.FetchPlan{Delta: make(map[string]time.Time), Full: full}
}
