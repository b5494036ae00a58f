package marketdata

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Provider rows
// =============================================================================

// Bar is one daily row returned by a provider. Missing values are NaN.
type Bar struct {
	Date     time.Time `json:"date"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	AdjOpen  float64   `json:"adj_open"`
	AdjClose float64   `json:"adj_close"`
	Volume   float64   `json:"volume"`
}

// NewBar creates a bar with unknown adjusted prices.
func NewBar(date time.Time, open, high, low, close, volume float64) Bar {
	return Bar{
		Date:     Day(date),
		Open:     open,
		High:     high,
		Low:      low,
		Close:    close,
		AdjOpen:  math.NaN(),
		AdjClose: math.NaN(),
		Volume:   volume,
	}
}

// AdjustedClose returns the split/dividend adjusted close, falling back to close.
func (b Bar) AdjustedClose() float64 {
	if ValidPrice(b.AdjClose) {
		return b.AdjClose
	}
	return b.Close
}

// AdjustedOpen returns the adjusted open. Without one from the provider, the
// raw open is scaled by the close adjustment factor.
func (b Bar) AdjustedOpen() float64 {
	if ValidPrice(b.AdjOpen) {
		return b.AdjOpen
	}
	if ValidPrice(b.AdjClose) && ValidPrice(b.Close) {
		return b.Open * b.AdjClose / b.Close
	}
	return b.Open
}

// Source identifies where a table came from during a fetch cycle. The order of
// the constants is the merge precedence: full > delta > cached.
type Source int

const (
	SourceCached Source = iota
	SourceDelta
	SourceFull
)

func (s Source) String() string {
	switch s {
	case SourceDelta:
		return "delta"
	case SourceFull:
		return "full"
	default:
		return "cached"
	}
}

// MarshalText renders the source name in JSON and logs.
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a source name written by MarshalText.
func (s *Source) UnmarshalText(b []byte) error {
	switch string(b) {
	case "cached":
		*s = SourceCached
	case "delta":
		*s = SourceDelta
	case "full":
		*s = SourceFull
	default:
		return fmt.Errorf("unknown source %q", b)
	}
	return nil
}

// =============================================================================
// Plan / Outcome
// =============================================================================

// FetchPlan splits a request into disjoint work sets.
type FetchPlan struct {
	UpToDate []string
	Delta    map[string]time.Time // ticker → since date (inclusive)
	Full     []string
}

// IsEmpty reports whether the plan needs no provider calls.
func (p FetchPlan) IsEmpty() bool {
	return len(p.Delta) == 0 && len(p.Full) == 0
}

// DeltaTickers returns the delta tickers sorted.
func (p FetchPlan) DeltaTickers() []string {
	out := make([]string, 0, len(p.Delta))
	for ticker := range p.Delta {
		out = append(out, ticker)
	}
	sort.Strings(out)
	return out
}

// FetchOutcome records what happened to one ticker in a cycle.
type FetchOutcome struct {
	Ticker       string    `json:"ticker"`
	Mode         Source    `json:"mode"`   // SourceDelta or SourceFull
	Source       string    `json:"source"` // provider that answered, if any
	Success      bool      `json:"success"`
	RowsFetched  int       `json:"rows_fetched"`
	RowsRejected int       `json:"rows_rejected"`
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// QualityIssue is a row dropped by validation.
type QualityIssue struct {
	Ticker string    `json:"ticker"`
	Date   time.Time `json:"date"`
	Reason string    `json:"reason"`
}

// =============================================================================
// Run history
// =============================================================================

// RunStatus is the final status of a fetch run.
type RunStatus string

const (
	RunCompleted           RunStatus = "completed"
	RunCompletedWithErrors RunStatus = "completed_with_errors"
	RunFailed              RunStatus = "failed"
)

// FetchRun summarises one fetch cycle (market.fetch_runs).
type FetchRun struct {
	ID               uuid.UUID `json:"id" db:"id"`
	RunType          string    `json:"run_type" db:"run_type"`
	TickersProcessed int       `json:"tickers_processed" db:"tickers_processed"`
	TickersSucceeded int       `json:"tickers_succeeded" db:"tickers_succeeded"`
	TickersFailed    int       `json:"tickers_failed" db:"tickers_failed"`
	RowsFetched      int       `json:"rows_fetched" db:"rows_fetched"`
	RowsRejected     int       `json:"rows_rejected" db:"rows_rejected"`
	Persisted        bool      `json:"persisted" db:"persisted"`
	Status           RunStatus `json:"status" db:"status"`
	ErrorMessage     *string   `json:"error_message" db:"error_message"`
	StartedAt        time.Time `json:"started_at" db:"started_at"`
	FinishedAt       time.Time `json:"finished_at" db:"finished_at"`
}

// Summarize fills the counters and status from outcomes.
func (r *FetchRun) Summarize(outcomes []FetchOutcome) {
	r.TickersProcessed = len(outcomes)
	r.TickersSucceeded, r.TickersFailed = 0, 0
	r.RowsFetched, r.RowsRejected = 0, 0
	r.ErrorMessage = nil

	var failed []string
	for _, o := range outcomes {
		if o.Success {
			r.TickersSucceeded++
		} else {
			r.TickersFailed++
			failed = append(failed, o.Ticker)
		}
		r.RowsFetched += o.RowsFetched
		r.RowsRejected += o.RowsRejected
	}

	if len(failed) > 0 {
		msg := fmt.Sprintf("%d tickers failed: %s", len(failed), strings.Join(failed, ", "))
		r.ErrorMessage = &msg
	}

	switch {
	case r.TickersFailed == 0:
		r.Status = RunCompleted
	case r.TickersSucceeded == 0:
		r.Status = RunFailed
	default:
		r.Status = RunCompletedWithErrors
	}
}
