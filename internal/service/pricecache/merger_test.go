package pricecache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/marketcache/internal/domain/marketdata"
)

func tableOf(cols map[string]map[time.Time]float64, order ...string) *marketdata.PriceTable {
	t := marketdata.NewPriceTable()
	for _, ticker := range order {
		t.AddColumn(ticker)
		for d, v := range cols[ticker] {
			t.Set(ticker, d, v)
		}
	}
	return t
}

func TestMergeTables_Precedence(t *testing.T) {
	t.Run("delta overlays cached cell by cell", func(t *testing.T) {
		cached := tableOf(map[string]map[time.Time]float64{"T": {d1: 5}}, "T")
		delta := tableOf(map[string]map[time.Time]float64{"T": {d1: 6, d2: 7}}, "T")

		merged := MergeTables(cached, delta, marketdata.NewPriceTable())

		assert.Equal(t, []time.Time{d1, d2}, merged.Dates())
		v, _ := merged.Get("T", d1)
		assert.Equal(t, 6.0, v)
		v, _ = merged.Get("T", d2)
		assert.Equal(t, 7.0, v)
	})

	t.Run("delta keeps cached cells it does not cover", func(t *testing.T) {
		cached := tableOf(map[string]map[time.Time]float64{"T": {d1: 5, d2: 5}}, "T")
		delta := tableOf(map[string]map[time.Time]float64{"T": {d2: 6, d3: 7}}, "T")

		merged := MergeTables(cached, delta, marketdata.NewPriceTable())

		v, ok := merged.Get("T", d1)
		require.True(t, ok)
		assert.Equal(t, 5.0, v)
		v, _ = merged.Get("T", d3)
		assert.Equal(t, 7.0, v)
	})

	t.Run("full replaces the whole column", func(t *testing.T) {
		cached := tableOf(map[string]map[time.Time]float64{"T": {d1: 5, d3: 5}}, "T")
		delta := tableOf(map[string]map[time.Time]float64{"T": {d3: 6}}, "T")
		full := tableOf(map[string]map[time.Time]float64{"T": {d1: 9, d2: 9}}, "T")

		merged := MergeTables(cached, delta, full)

		assert.Equal(t, []string{"T"}, merged.Tickers())
		_, ok := merged.Get("T", d3)
		assert.False(t, ok, "cells of the replaced column must not survive")
		v, _ := merged.Get("T", d2)
		assert.Equal(t, 9.0, v)
	})

	t.Run("untouched columns are preserved", func(t *testing.T) {
		cached := tableOf(map[string]map[time.Time]float64{"A": {d1: 1}, "B": {d1: 2}}, "A", "B")
		full := tableOf(map[string]map[time.Time]float64{"C": {d2: 3}}, "C")

		merged := MergeTables(cached, marketdata.NewPriceTable(), full)

		assert.Equal(t, []string{"A", "B", "C"}, merged.Tickers())
		v, _ := merged.Get("B", d1)
		assert.Equal(t, 2.0, v)
	})

	t.Run("inputs are not modified", func(t *testing.T) {
		cached := tableOf(map[string]map[time.Time]float64{"T": {d1: 5}}, "T")
		delta := tableOf(map[string]map[time.Time]float64{"T": {d1: 6}}, "T")
		before := cached.Clone()

		MergeTables(cached, delta, marketdata.NewPriceTable())

		assert.True(t, before.Equal(cached))
	})
}

func TestMerge(t *testing.T) {
	cached := snapshotOf(
		map[string]map[time.Time]float64{"A": {d1: 1}},
		map[string]map[time.Time]float64{"A": {d1: 1}},
	)
	full := marketdata.NewSnapshot()
	full.Close.Set("B", d2, 2) // one-sided: open column must still appear

	merged := Merge(cached, nil, full)

	assert.ElementsMatch(t, merged.Open.Tickers(), merged.Close.Tickers())
	assert.True(t, merged.Open.HasTicker("B"))
	assert.True(t, merged.Available("A"))
	assert.False(t, merged.Available("B"))
}
