package marketdata

import (
	"math"
	"sort"
	"time"
)

// Day normalises t to its calendar day at UTC midnight.
// Every date stored in a PriceTable goes through Day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ValidPrice reports whether v can be stored as a price cell.
func ValidPrice(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// =============================================================================
// Column
// =============================================================================

// Column is a single ticker's date-indexed series.
type Column struct {
	Ticker string
	Values map[time.Time]float64
}

// RankedColumn is a column tagged with the precedence of the table it came from.
// Higher ranks win in DedupeColumns.
type RankedColumn struct {
	Column
	Rank int
}

// DedupeColumns keeps exactly one column per ticker: the one with the highest
// rank. Equal ranks keep the first occurrence. Output order follows the first
// appearance of each ticker.
func DedupeColumns(cols []RankedColumn) []Column {
	best := make(map[string]int, len(cols))
	order := make([]string, 0, len(cols))

	for i, c := range cols {
		j, seen := best[c.Ticker]
		if !seen {
			best[c.Ticker] = i
			order = append(order, c.Ticker)
			continue
		}
		if c.Rank > cols[j].Rank {
			best[c.Ticker] = i
		}
	}

	out := make([]Column, 0, len(order))
	for _, ticker := range order {
		out = append(out, cols[best[ticker]].Column)
	}
	return out
}

// =============================================================================
// PriceTable
// =============================================================================

// JoinPrecedence decides which side keeps a ticker present in both tables of a Join.
type JoinPrecedence int

const (
	KeepLeft    JoinPrecedence = iota // receiver's column survives
	PreferRight                       // argument's column replaces the receiver's
)

// PriceTable is a date-indexed, ticker-keyed table of nullable prices.
//
// Columns are unique by construction and keep insertion order. A missing cell
// is null. The date index is the sorted union of dates holding at least one
// value, so it is strictly increasing with no duplicates.
type PriceTable struct {
	tickers []string
	cols    map[string]map[time.Time]float64
}

// NewPriceTable creates an empty table.
func NewPriceTable() *PriceTable {
	return &PriceTable{cols: make(map[string]map[time.Time]float64)}
}

// FromColumns builds a table from columns. Later duplicates overwrite earlier
// ones; callers wanting explicit precedence run DedupeColumns first.
func FromColumns(cols []Column) *PriceTable {
	t := NewPriceTable()
	for _, c := range cols {
		t.DropColumn(c.Ticker)
		t.AddColumn(c.Ticker)
		for d, v := range c.Values {
			t.Set(c.Ticker, d, v)
		}
	}
	return t
}

// AddColumn ensures an (empty) column exists for ticker.
func (t *PriceTable) AddColumn(ticker string) {
	if _, ok := t.cols[ticker]; ok {
		return
	}
	t.cols[ticker] = make(map[time.Time]float64)
	t.tickers = append(t.tickers, ticker)
}

// DropColumn removes ticker's column if present.
func (t *PriceTable) DropColumn(ticker string) {
	if _, ok := t.cols[ticker]; !ok {
		return
	}
	delete(t.cols, ticker)
	for i, tk := range t.tickers {
		if tk == ticker {
			t.tickers = append(t.tickers[:i], t.tickers[i+1:]...)
			break
		}
	}
}

// Set stores v at (ticker, date). Non-finite or non-positive values clear the
// cell; the column is created either way.
func (t *PriceTable) Set(ticker string, date time.Time, v float64) {
	t.AddColumn(ticker)
	d := Day(date)
	if !ValidPrice(v) {
		delete(t.cols[ticker], d)
		return
	}
	t.cols[ticker][d] = v
}

// Get returns the value at (ticker, date) and whether it is non-null.
func (t *PriceTable) Get(ticker string, date time.Time) (float64, bool) {
	col, ok := t.cols[ticker]
	if !ok {
		return 0, false
	}
	v, ok := col[Day(date)]
	return v, ok
}

// HasTicker reports whether ticker has a column (possibly empty).
func (t *PriceTable) HasTicker(ticker string) bool {
	_, ok := t.cols[ticker]
	return ok
}

// Tickers returns the column names in order.
func (t *PriceTable) Tickers() []string {
	out := make([]string, len(t.tickers))
	copy(out, t.tickers)
	return out
}

// Width returns the number of columns.
func (t *PriceTable) Width() int { return len(t.tickers) }

// Len returns the number of dates in the index.
func (t *PriceTable) Len() int { return len(t.Dates()) }

// IsEmpty reports whether the table holds no values at all.
func (t *PriceTable) IsEmpty() bool {
	for _, col := range t.cols {
		if len(col) > 0 {
			return false
		}
	}
	return true
}

// Dates returns the strictly increasing date index.
func (t *PriceTable) Dates() []time.Time {
	seen := make(map[time.Time]struct{})
	for _, col := range t.cols {
		for d := range col {
			seen[d] = struct{}{}
		}
	}
	dates := make([]time.Time, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// LastDate returns the last date with a non-null value for ticker.
func (t *PriceTable) LastDate(ticker string) (time.Time, bool) {
	col, ok := t.cols[ticker]
	if !ok || len(col) == 0 {
		return time.Time{}, false
	}
	var last time.Time
	for d := range col {
		if d.After(last) {
			last = d
		}
	}
	return last, true
}

// Column returns a copy of ticker's column.
func (t *PriceTable) Column(ticker string) (Column, bool) {
	col, ok := t.cols[ticker]
	if !ok {
		return Column{}, false
	}
	values := make(map[time.Time]float64, len(col))
	for d, v := range col {
		values[d] = v
	}
	return Column{Ticker: ticker, Values: values}, true
}

// Columns returns copies of all columns in order.
func (t *PriceTable) Columns() []Column {
	out := make([]Column, 0, len(t.tickers))
	for _, ticker := range t.tickers {
		c, _ := t.Column(ticker)
		out = append(out, c)
	}
	return out
}

// Clone returns a deep copy.
func (t *PriceTable) Clone() *PriceTable {
	return FromColumns(t.Columns())
}

// Select returns a table holding only the given tickers that exist, in the
// order requested.
func (t *PriceTable) Select(tickers []string) *PriceTable {
	out := NewPriceTable()
	for _, ticker := range tickers {
		c, ok := t.Column(ticker)
		if !ok || out.HasTicker(ticker) {
			continue
		}
		out.AddColumn(ticker)
		for d, v := range c.Values {
			out.Set(ticker, d, v)
		}
	}
	return out
}

// Equal reports whether both tables have the same columns in the same order
// and identical cells.
func (t *PriceTable) Equal(o *PriceTable) bool {
	if len(t.tickers) != len(o.tickers) {
		return false
	}
	for i, ticker := range t.tickers {
		if o.tickers[i] != ticker {
			return false
		}
		a, b := t.cols[ticker], o.cols[ticker]
		if len(a) != len(b) {
			return false
		}
		for d, v := range a {
			if w, ok := b[d]; !ok || w != v {
				return false
			}
		}
	}
	return true
}

// OverlayNewer returns a copy of t with newer laid on top cell by cell.
// The date index grows to include newer's dates, overlapping cells take
// newer's value, and newer's unknown tickers are appended.
func (t *PriceTable) OverlayNewer(newer *PriceTable) *PriceTable {
	out := t.Clone()
	for _, c := range newer.Columns() {
		out.AddColumn(c.Ticker)
		for d, v := range c.Values {
			out.Set(c.Ticker, d, v)
		}
	}
	return out
}

// Join outer-joins the date indexes and appends other's columns. A ticker
// present on both sides is resolved as a whole column according to prec.
func (t *PriceTable) Join(other *PriceTable, prec JoinPrecedence) *PriceTable {
	leftRank, rightRank := 1, 0
	if prec == PreferRight {
		leftRank, rightRank = 0, 1
	}

	ranked := make([]RankedColumn, 0, t.Width()+other.Width())
	for _, c := range t.Columns() {
		ranked = append(ranked, RankedColumn{Column: c, Rank: leftRank})
	}
	for _, c := range other.Columns() {
		ranked = append(ranked, RankedColumn{Column: c, Rank: rightRank})
	}
	return FromColumns(DedupeColumns(ranked))
}
