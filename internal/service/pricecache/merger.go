package pricecache

import "github.com/wonny/marketcache/internal/domain/marketdata"

// Merge combines the cached snapshot with a cycle's delta and full tables.
// Both fields go through MergeTables, then the column sets are aligned.
// Inputs are not modified; nil inputs count as empty.
func Merge(cached, delta, full *marketdata.Snapshot) *marketdata.Snapshot {
	out := marketdata.NewSnapshot()
	for _, f := range marketdata.Fields {
		out.SetTable(f, MergeTables(table(cached, f), table(delta, f), table(full, f)))
	}
	out.Align()
	return out
}

// MergeTables applies the precedence full > delta > cached:
//
//  1. start from cached
//  2. overlay delta cell by cell, growing the date index
//  3. append full columns; a full column replaces any existing column whole
//  4. keep exactly one column per ticker
func MergeTables(cached, delta, full *marketdata.PriceTable) *marketdata.PriceTable {
	running := cached.OverlayNewer(delta)

	ranked := make([]marketdata.RankedColumn, 0, running.Width()+full.Width())
	for _, c := range running.Columns() {
		rank := marketdata.SourceCached
		if delta.HasTicker(c.Ticker) {
			rank = marketdata.SourceDelta
		}
		ranked = append(ranked, marketdata.RankedColumn{Column: c, Rank: int(rank)})
	}
	for _, c := range full.Columns() {
		ranked = append(ranked, marketdata.RankedColumn{Column: c, Rank: int(marketdata.SourceFull)})
	}

	return marketdata.FromColumns(marketdata.DedupeColumns(ranked))
}

func table(s *marketdata.Snapshot, f marketdata.Field) *marketdata.PriceTable {
	if s == nil || s.Table(f) == nil {
		return marketdata.NewPriceTable()
	}
	return s.Table(f)
}
