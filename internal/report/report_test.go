package report

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendflip/internal/market"
	"trendflip/internal/strategy"
)

func trade(entry time.Time, side strategy.Side, pips float64) strategy.Trade {
	return strategy.Trade{
		EntryTime:  entry,
		ExitTime:   entry.Add(30 * time.Minute),
		Side:       side,
		EntryPrice: 2650,
		ExitPrice:  2650 + pips*0.01*side.Sign(),
		FinalStop:  2645,
		Pips:       pips,
		Executed:   true,
	}
}

func sampleLedger() []strategy.Trade {
	day := time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC)
	return []strategy.Trade{
		trade(day, strategy.SideLong, 100),
		{EntryTime: day.AddDate(0, 1, 0), Side: strategy.SideLong, EntryPrice: 2600, InitialStop: 2594.795, StopDistance: 520.5, Reason: strategy.ReasonDistanceCap},
		trade(day.AddDate(0, 2, 0), strategy.SideShort, -50),
		trade(day.AddDate(0, 6, 0), strategy.SideLong, 200),
		trade(day.AddDate(1, 0, 0), strategy.SideLong, -100),
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleLedger())

	assert.Equal(t, 5, s.Attempts)
	assert.Equal(t, 1, s.Filtered)
	assert.Equal(t, map[string]int{"distance_cap": 1}, s.FilteredBy)
	assert.Equal(t, 4, s.Trades)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 2, s.Losses)
	assert.InDelta(t, 0.5, s.WinRate, 1e-12)
	assert.InDelta(t, 150, s.TotalPips, 1e-9)
	assert.InDelta(t, 37.5, s.AvgTrade, 1e-9)
	assert.InDelta(t, 150, s.AvgWin, 1e-9)
	assert.InDelta(t, -75, s.AvgLoss, 1e-9)
	assert.InDelta(t, 200, s.BestTrade, 1e-9)
	assert.InDelta(t, -100, s.WorstTrade, 1e-9)
	assert.InDelta(t, 300, s.GrossGain, 1e-9)
	assert.InDelta(t, -150, s.GrossLoss, 1e-9)
	assert.InDelta(t, 2, float64(s.ProfitFactor), 1e-12)
	// 累计 100,50,250,150：最大回撤出现在 250 -> 150
	assert.InDelta(t, -100, s.MaxDrawdown, 1e-9)

	perTrade := 37.5 / math.Sqrt(56875.0/3)
	assert.InDelta(t, perTrade, float64(s.SharpePerTrade), 1e-9)
	years := 366 / 365.25
	assert.InDelta(t, perTrade*math.Sqrt(4/years), float64(s.SharpeAnnual), 1e-9)
	assert.Equal(t, time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC), s.FirstEntry)
	assert.Equal(t, time.Date(2025, 1, 1, 14, 0, 0, 0, time.UTC), s.LastEntry)

	text := s.Text()
	assert.Contains(t, text, "Total trades: 4 (filtered 1, distance_cap=1)")
	assert.Contains(t, text, "Profit factor: 2.00")
}

func TestSummarizeEdgeCases(t *testing.T) {
	empty := Summarize(nil)
	assert.Zero(t, empty.Trades)
	assert.True(t, math.IsNaN(float64(empty.ProfitFactor)))
	assert.Contains(t, empty.Text(), "No trades were executed.")

	onlyWins := Summarize([]strategy.Trade{trade(time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC), strategy.SideLong, 580)})
	assert.True(t, math.IsInf(float64(onlyWins.ProfitFactor), 1))
	assert.True(t, math.IsNaN(float64(onlyWins.SharpePerTrade)), "single trade has no sample variance")
	assert.Zero(t, onlyWins.MaxDrawdown)
	assert.Zero(t, onlyWins.AvgLoss)

	raw, err := json.Marshal(onlyWins)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"profit_factor":"inf"`)
	assert.Contains(t, string(raw), `"sharpe_per_trade":null`)

	var back Summary
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.True(t, math.IsInf(float64(back.ProfitFactor), 1))
	assert.True(t, math.IsNaN(float64(back.SharpeAnnual)))
	assert.Equal(t, onlyWins.Trades, back.Trades)
}

func TestWriteSimpleCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSimpleCSV(&buf, sampleLedger()[:3]))
	assert.Equal(t, "entry_time,pips,final_stop,side\n"+
		"2024-01-01 14:00,100.0,2645,long\n"+
		"2024-03-01 14:00,-50.0,2645,short\n", buf.String())
}

func TestWriteTradesCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTradesCSV(&buf, sampleLedger()[:2]))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(tradeHeader, ","), lines[0])
	assert.Equal(t, "2024-01-01T14:00:00Z,2024-01-01T14:30:00Z,long,2650,2651,0,2645,0.0,100.0,true,", lines[1])
	assert.Equal(t, "2024-02-01T14:00:00Z,,long,2600,,2594.795,,520.5,,false,distance_cap", lines[2])
}

func TestWriteSummaryYAML(t *testing.T) {
	var buf bytes.Buffer
	doc := SummaryDocument{
		Symbol:    "XAUUSDT",
		Timeframe: "1m",
		Bars:      1440,
		Params:    map[string]any{"trend_length": 10},
		Summary:   Summarize(sampleLedger()),
	}
	require.NoError(t, WriteSummaryYAML(&buf, doc))
	out := buf.String()
	assert.Contains(t, out, "symbol: XAUUSDT")
	assert.Contains(t, out, "  trend_length: 10")
	assert.Contains(t, out, "  profit_factor: 2\n")
	assert.Contains(t, out, "  max_drawdown: -100\n")
}

func chartBars(n int) []market.Bar {
	start := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, n)
	price := 2650.0
	for i := range bars {
		step := 0.4
		if (i/6)%2 == 1 {
			step = -0.4
		}
		open := price
		price += step
		bars[i] = market.Bar{
			Time:  start.Add(time.Duration(i) * time.Minute),
			Open:  open,
			High:  math.Max(open, price) + 0.2,
			Low:   math.Min(open, price) - 0.2,
			Close: price,
		}
	}
	return bars
}

func TestRenderChart(t *testing.T) {
	bars := chartBars(40)
	trades := []strategy.Trade{{
		EntryTime: bars[12].Time, ExitTime: bars[20].Time, Side: strategy.SideLong,
		EntryPrice: bars[12].Close, ExitPrice: bars[20].Close, Pips: 100, Executed: true,
	}}
	var buf bytes.Buffer
	require.NoError(t, RenderChart(&buf, bars, trades, ChartOptions{Title: "XAUUSDT 1m", TrendLength: 3, TrendMultiplier: 1.5}))
	html := buf.String()
	assert.Contains(t, html, "SuperTrend")
	assert.Contains(t, html, "Long entry")
	assert.Contains(t, html, "XAUUSDT 1m")

	err := RenderChart(&bytes.Buffer{}, nil, nil, ChartOptions{})
	assert.Error(t, err)
	err = RenderChart(&bytes.Buffer{}, bars, nil, ChartOptions{})
	assert.Error(t, err, "missing trend parameters")
}

func TestExport(t *testing.T) {
	dir := t.TempDir()
	bars := chartBars(30)
	files, err := Export(dir, "up_buy_only", Bundle{
		Doc:    SummaryDocument{Symbol: "XAUUSDT", Timeframe: "1m", Bars: len(bars)},
		Trades: sampleLedger(),
		Bars:   bars,
		Chart:  ChartOptions{TrendLength: 3, TrendMultiplier: 2},
	})
	require.NoError(t, err)
	for _, path := range []string{files.Trades, files.Simple, files.Summary, files.Chart} {
		info, err := os.Stat(path)
		require.NoError(t, err, path)
		assert.Positive(t, info.Size(), path)
	}
	assert.True(t, strings.HasSuffix(files.Simple, "trades_simple_up_buy_only.csv"))
}
