package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tfmr/engine"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestScanRunRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := &ScanRun{
		StartedAt:  time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2026, 8, 28, 9, 1, 30, 0, time.UTC),
		Source:     "nasdaq_screener",
		Result: &engine.ScanResult{
			Candidates: []engine.Candidate{
				{Symbol: "NVDA", Index: 512, Close: 181.25, SortKey: 2.4},
				{Symbol: "AAPL", Index: 512, Close: 232.10, SortKey: 1.1},
			},
			Errors:  []engine.ScanError{{Symbol: "GONE", Kind: "unavailable", Err: "no such symbol"}},
			Scanned: 100,
		},
	}
	require.NoError(t, s.SaveScanRun(ctx, run))
	assert.NotEmpty(t, run.ID, "an ID must be assigned on save")

	got, err := s.GetScanRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Source, got.Source)
	require.NotNil(t, got.Result)
	assert.Len(t, got.Result.Candidates, 2)
	assert.Equal(t, "NVDA", got.Result.Candidates[0].Symbol)
	assert.Equal(t, 100, got.Result.Scanned)
	assert.Len(t, got.Result.Errors, 1)
}

func TestGetScanRunMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetScanRun(context.Background(), "nope")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestListScanRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		run := &ScanRun{
			StartedAt:  base.AddDate(0, 0, i),
			FinishedAt: base.AddDate(0, 0, i).Add(time.Minute),
			Result:     &engine.ScanResult{Scanned: i},
		}
		require.NoError(t, s.SaveScanRun(ctx, run))
	}

	sums, err := s.ListScanRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.True(t, sums[0].StartedAt.After(sums[1].StartedAt))
}

func TestBacktestRunRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := &BacktestRun{
		StartedAt:  time.Now().UTC().Truncate(time.Second),
		FinishedAt: time.Now().UTC().Truncate(time.Second),
		Reports: []*engine.Report{
			{Symbol: "MSFT", Bars: 1300, Trades: []engine.Trade{
				{Symbol: "MSFT", Direction: engine.DirectionLong, NetPnL: 120.5},
			}},
		},
		Errors: []engine.ScanError{{Symbol: "BAD", Kind: "corrupt", Err: "bars out of order"}},
	}
	require.NoError(t, s.SaveBacktestRun(ctx, run))

	got, err := s.GetBacktestRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got.Reports, 1)
	assert.Equal(t, "MSFT", got.Reports[0].Symbol)
	assert.Equal(t, 120.5, got.Reports[0].Trades[0].NetPnL)
	assert.Len(t, got.Errors, 1)

	sums, err := s.ListBacktestRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, 1, sums[0].Count)
	assert.Equal(t, 1, sums[0].Failures)
}
