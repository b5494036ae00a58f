package pricecache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/marketcache/internal/domain/marketdata"
)

func TestIsKRXCode(t *testing.T) {
	assert.True(t, IsKRXCode("005930"))
	assert.False(t, IsKRXCode("AAPL"))
	assert.False(t, IsKRXCode("05930"))
	assert.False(t, IsKRXCode("005930.KS"))
}

func TestRoutedTickerSource(t *testing.T) {
	yahoo := &fakeTickerSource{name: "yahoo", data: map[string][]marketdata.Bar{"AAPL": bars(d1, 1)}}
	naver := &fakeTickerSource{name: "naver", data: map[string][]marketdata.Bar{"005930": bars(d1, 70000)}}

	router := NewRoutedTickerSource(yahoo).Route(IsKRXCode, naver)

	assert.Equal(t, "yahoo+naver", router.Name())
	assert.Same(t, naver, router.SourceFor("005930"))
	assert.Same(t, yahoo, router.SourceFor("AAPL"))

	_, err := router.FetchTicker(context.Background(), "005930", d1, d3)
	require.NoError(t, err)
	_, err = router.FetchTicker(context.Background(), "AAPL", d1, d3)
	require.NoError(t, err)

	assert.Equal(t, []string{"005930"}, naver.tickers())
	assert.Equal(t, []string{"AAPL"}, yahoo.tickers())
}
