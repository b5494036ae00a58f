package marketdata

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBar_Adjusted(t *testing.T) {
	b := NewBar(d1, 20, 22, 18, 21, 100)
	assert.Equal(t, 21.0, b.AdjustedClose())
	assert.Equal(t, 20.0, b.AdjustedOpen())

	b.AdjClose = 10.5
	assert.Equal(t, 10.5, b.AdjustedClose())
	assert.InDelta(t, 10.0, b.AdjustedOpen(), 1e-9)

	b.AdjOpen = 9
	assert.Equal(t, 9.0, b.AdjustedOpen())

	b.AdjClose = math.NaN()
	assert.Equal(t, 21.0, b.AdjustedClose())
}

func TestFetchRun_Summarize(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []FetchOutcome
		want     RunStatus
	}{
		{"all succeeded", []FetchOutcome{{Success: true, RowsFetched: 3}}, RunCompleted},
		{"nothing to do", nil, RunCompleted},
		{"partial", []FetchOutcome{{Success: true, RowsFetched: 3}, {Success: false}}, RunCompletedWithErrors},
		{"all failed", []FetchOutcome{{Success: false}, {Success: false}}, RunFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := &FetchRun{}
			run.Summarize(tt.outcomes)
			assert.Equal(t, tt.want, run.Status)
			assert.Equal(t, len(tt.outcomes), run.TickersProcessed)
			assert.Equal(t, run.TickersFailed > 0, run.ErrorMessage != nil)
		})
	}
}

func TestNewStatusError(t *testing.T) {
	tests := []struct {
		status int
		kind   ErrorKind
		is     error
	}{
		{429, KindTransient, ErrRateLimited},
		{503, KindTransient, nil},
		{401, KindPermanent, ErrUnauthorized},
		{403, KindPermanent, ErrUnauthorized},
		{404, KindPermanent, ErrTickerNotFound},
		{400, KindPermanent, nil},
	}
	for _, tt := range tests {
		err := NewStatusError("tiingo", "AAPL", tt.status)
		assert.Equal(t, tt.kind, err.Kind, "status %d", tt.status)
		if tt.is != nil {
			assert.True(t, errors.Is(err, tt.is), "status %d", tt.status)
		}
		assert.Contains(t, err.Error(), "tiingo AAPL")
	}
}

func TestSource_String(t *testing.T) {
	assert.Equal(t, "full", SourceFull.String())
	assert.Equal(t, "delta", SourceDelta.String())
	assert.Equal(t, "cached", SourceCached.String())
	assert.Greater(t, int(SourceFull), int(SourceDelta))
	assert.Greater(t, int(SourceDelta), int(SourceCached))
}

func TestFetchOutcome_JSONMode(t *testing.T) {
	data, err := json.Marshal(FetchOutcome{Ticker: "AAPL", Mode: SourceDelta, Success: true})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"mode":"delta"`)

	var out FetchOutcome
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, SourceDelta, out.Mode)

	require.NoError(t, json.Unmarshal([]byte(`{"ticker":"X","mode":"full"}`), &out))
	assert.Equal(t, SourceFull, out.Mode)

	err = json.Unmarshal([]byte(`{"ticker":"X","mode":"stale"}`), &out)
	assert.ErrorContains(t, err, "unknown source")
}
