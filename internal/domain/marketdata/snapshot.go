package marketdata

import "time"

// Field names one of the two persisted price tables.
type Field string

const (
	FieldOpen  Field = "open"
	FieldClose Field = "close"
)

// Fields lists the persisted fields in a stable order.
var Fields = []Field{FieldOpen, FieldClose}

// CacheState is the health of a persisted snapshot.
type CacheState string

const (
	StateCold     CacheState = "cold"     // no valid persisted data
	StateWarm     CacheState = "warm"     // every column readable
	StateDegraded CacheState = "degraded" // some columns unreadable or one-sided
)

// LatestPrice is the most recent close known for a ticker.
type LatestPrice struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Snapshot is the aligned pair of open and close tables.
type Snapshot struct {
	Open  *PriceTable
	Close *PriceTable
}

// NewSnapshot creates an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{Open: NewPriceTable(), Close: NewPriceTable()}
}

// Table returns the table for f.
func (s *Snapshot) Table(f Field) *PriceTable {
	if f == FieldOpen {
		return s.Open
	}
	return s.Close
}

// SetTable replaces the table for f.
func (s *Snapshot) SetTable(f Field, t *PriceTable) {
	if f == FieldOpen {
		s.Open = t
		return
	}
	s.Close = t
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	return &Snapshot{Open: s.Open.Clone(), Close: s.Close.Clone()}
}

// Equal reports whether both tables are equal.
func (s *Snapshot) Equal(o *Snapshot) bool {
	return s.Open.Equal(o.Open) && s.Close.Equal(o.Close)
}

// IsEmpty reports whether neither table holds a value.
func (s *Snapshot) IsEmpty() bool {
	return s.Open.IsEmpty() && s.Close.IsEmpty()
}

// Tickers returns the union of column names, close table order first.
func (s *Snapshot) Tickers() []string {
	out := s.Close.Tickers()
	for _, ticker := range s.Open.Tickers() {
		if !s.Close.HasTicker(ticker) {
			out = append(out, ticker)
		}
	}
	return out
}

// Align gives both tables the same column set by adding empty columns.
func (s *Snapshot) Align() {
	for _, ticker := range s.Tickers() {
		s.Open.AddColumn(ticker)
		s.Close.AddColumn(ticker)
	}
}

// Available reports whether ticker holds data in both tables.
func (s *Snapshot) Available(ticker string) bool {
	_, ok := s.LastDate(ticker)
	return ok
}

// LastDate returns the ticker's freshness: the earlier of the last non-null
// open and close dates. A ticker missing data in either table has none.
func (s *Snapshot) LastDate(ticker string) (time.Time, bool) {
	lastOpen, ok := s.Open.LastDate(ticker)
	if !ok {
		return time.Time{}, false
	}
	lastClose, ok := s.Close.LastDate(ticker)
	if !ok {
		return time.Time{}, false
	}
	if lastOpen.Before(lastClose) {
		return lastOpen, true
	}
	return lastClose, true
}

// DegradedTickers lists columns that exist but are not usable.
func (s *Snapshot) DegradedTickers() []string {
	var out []string
	for _, ticker := range s.Tickers() {
		if !s.Available(ticker) {
			out = append(out, ticker)
		}
	}
	return out
}

// State classifies the snapshot as cold, warm or degraded.
func (s *Snapshot) State() CacheState {
	available := 0
	for _, ticker := range s.Tickers() {
		if s.Available(ticker) {
			available++
		}
	}
	switch {
	case available == 0:
		return StateCold
	case len(s.DegradedTickers()) > 0:
		return StateDegraded
	default:
		return StateWarm
	}
}

// Select restricts both tables to the requested tickers that are available,
// keeping request order.
func (s *Snapshot) Select(tickers []string) *Snapshot {
	available := make([]string, 0, len(tickers))
	for _, ticker := range tickers {
		if s.Available(ticker) {
			available = append(available, ticker)
		}
	}
	return &Snapshot{
		Open:  s.Open.Select(available),
		Close: s.Close.Select(available),
	}
}

// LatestCloses returns the last close for every available ticker.
func (s *Snapshot) LatestCloses() map[string]LatestPrice {
	out := make(map[string]LatestPrice)
	for _, ticker := range s.Close.Tickers() {
		d, ok := s.Close.LastDate(ticker)
		if !ok {
			continue
		}
		v, _ := s.Close.Get(ticker, d)
		out[ticker] = LatestPrice{Date: d, Value: v}
	}
	return out
}
