package gormstore

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"trendflip/internal/backtest"
	"trendflip/internal/report"
	"trendflip/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	st, err := NewGormStore(filepath.Join(t.TempDir(), "nested", "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func sampleLedger(base time.Time) []strategy.Trade {
	return []strategy.Trade{
		{
			EntryTime: base, ExitTime: base.Add(30 * time.Minute), Side: strategy.SideLong,
			EntryPrice: 1.1000, ExitPrice: 1.1020, InitialStop: 1.0990, FinalStop: 1.1015,
			StopDistance: 10, Pips: 20, Executed: true,
		},
		{
			EntryTime: base.Add(time.Hour), Side: strategy.SideLong,
			EntryPrice: 1.1050, InitialStop: 1.0400, StopDistance: 650,
			Reason: strategy.ReasonDistanceCap,
		},
		{
			EntryTime: base.Add(2 * time.Hour), ExitTime: base.Add(3 * time.Hour), Side: strategy.SideShort,
			EntryPrice: 1.1060, ExitPrice: 1.1070, InitialStop: 1.1080, FinalStop: 1.1070,
			StopDistance: 20, Pips: -10, Executed: true,
		},
	}
}

func TestNewGormStoreRequiresPath(t *testing.T) {
	_, err := NewGormStore("  ")
	assert.Error(t, err)
}

func TestRunLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

	run := backtest.Run{
		ID:        "run-1",
		Label:     "st10_m3.6",
		Status:    backtest.RunStatusRunning,
		CreatedAt: created,
		Config: backtest.RunConfig{
			Symbol:          "EURUSD",
			Timeframe:       "1m",
			Source:          "csv",
			TrendLength:     10,
			TrendMultiplier: 3.6,
			PipSize:         0.0001,
			MaxStopDistance: 520,
			EntryHours:      "13-16",
			AllowedSides:    []string{"long", "short"},
		},
	}
	require.NoError(t, st.CreateRun(ctx, run))

	got, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, backtest.RunStatusRunning, got.Status)
	assert.Equal(t, run.Config, got.Config)
	assert.True(t, got.CompletedAt.IsZero())
	assert.True(t, got.CreatedAt.Equal(created))

	ledger := sampleLedger(created)
	run.Status = backtest.RunStatusDone
	run.Bars = 4320
	run.Stats = report.Summarize(ledger)
	run.CompletedAt = created.Add(time.Minute)
	require.NoError(t, st.FinishRun(ctx, run, ledger))

	got, err = st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, backtest.RunStatusDone, got.Status)
	assert.Equal(t, 4320, got.Bars)
	assert.Equal(t, 2, got.Stats.Trades)
	assert.Equal(t, 1, got.Stats.Filtered)
	assert.InDelta(t, 10.0, got.Stats.TotalPips, 1e-9)
	assert.InDelta(t, 2.0, float64(got.Stats.ProfitFactor), 1e-9)
	assert.True(t, got.CompletedAt.Equal(run.CompletedAt))

	trades, err := st.ListTrades(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, trades, 3)
	for i := range ledger {
		assert.True(t, ledger[i].EntryTime.Equal(trades[i].EntryTime))
		assert.Equal(t, ledger[i].Side, trades[i].Side)
		assert.Equal(t, ledger[i].Executed, trades[i].Executed)
		assert.Equal(t, ledger[i].Reason, trades[i].Reason)
		assert.InDelta(t, ledger[i].Pips, trades[i].Pips, 1e-12)
	}
	assert.True(t, trades[1].ExitTime.IsZero())
	assert.Zero(t, trades[1].FinalStop)

	// 重复完成会替换账本而不是追加
	require.NoError(t, st.FinishRun(ctx, run, ledger[:1]))
	trades, err = st.ListTrades(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestProfitFactorInfinitySurvivesRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ledger := sampleLedger(time.Date(2024, 6, 3, 13, 0, 0, 0, time.UTC))[:1]
	run := backtest.Run{ID: "inf", Status: backtest.RunStatusDone, CreatedAt: time.Now(), Stats: report.Summarize(ledger)}
	require.NoError(t, st.CreateRun(ctx, run))

	got, err := st.GetRun(ctx, "inf")
	require.NoError(t, err)
	assert.True(t, math.IsInf(float64(got.Stats.ProfitFactor), 1))
	assert.True(t, math.IsNaN(float64(got.Stats.SharpePerTrade)))
}

func TestTradableDatesSurviveRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	runs := map[string][]string{
		"listed": {"2024-06-03", "2024-06-05"},
		"empty":  {},
		"none":   nil,
	}
	for id, dates := range runs {
		run := backtest.Run{ID: id, Status: backtest.RunStatusDone, CreatedAt: time.Now(),
			Config: backtest.RunConfig{TradableDates: dates}}
		require.NoError(t, st.CreateRun(ctx, run))
	}
	for id, dates := range runs {
		got, err := st.GetRun(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, dates, got.Config.TradableDates, id)
	}
}

func TestMissingRun(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.GetRun(ctx, "nope")
	assert.ErrorIs(t, err, backtest.ErrRunNotFound)
	_, err = st.ListTrades(ctx, "nope")
	assert.ErrorIs(t, err, backtest.ErrRunNotFound)
	err = st.FinishRun(ctx, backtest.Run{ID: "nope"}, nil)
	assert.ErrorIs(t, err, backtest.ErrRunNotFound)
}

func TestListRunsNewestFirst(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, st.CreateRun(ctx, backtest.Run{ID: id, Status: backtest.RunStatusPending, CreatedAt: base.Add(time.Duration(i) * time.Hour)}))
	}
	runs, err := st.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
}
