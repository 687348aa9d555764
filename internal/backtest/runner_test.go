package backtest

import (
	"bytes"
	"context"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendflip/internal/analysis/indicator"
	"trendflip/internal/config"
	"trendflip/internal/config/loader"
	"trendflip/internal/market"
	"trendflip/internal/report"
	"trendflip/internal/strategy"
)

// memRepo 是线程安全的内存结果库。
type memRepo struct {
	mu     sync.Mutex
	runs   map[string]Run
	trades map[string][]strategy.Trade
}

func newMemRepo() *memRepo {
	return &memRepo{runs: make(map[string]Run), trades: make(map[string][]strategy.Trade)}
}

func (m *memRepo) CreateRun(_ context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return nil
}

func (m *memRepo) FinishRun(_ context.Context, run Run, trades []strategy.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		return ErrRunNotFound
	}
	m.runs[run.ID] = run
	m.trades[run.ID] = append([]strategy.Trade(nil), trades...)
	return nil
}

func (m *memRepo) GetRun(_ context.Context, id string) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return Run{}, ErrRunNotFound
	}
	return run, nil
}

func (m *memRepo) ListRuns(_ context.Context, limit int) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Run, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) ListTrades(_ context.Context, runID string) ([]strategy.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[runID]; !ok {
		return nil, ErrRunNotFound
	}
	return m.trades[runID], nil
}

// walkBars 生成三天的分钟级随机游走，带周期性趋势段以产生翻转。
func walkBars(seed int64) []market.Bar {
	rng := rand.New(rand.NewSource(seed))
	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	n := 3 * 24 * 60
	bars := make([]market.Bar, n)
	price := 2300.0
	for i := range bars {
		drift := 0.08 * math.Sin(float64(i)/45)
		open := price
		price += drift + rng.NormFloat64()*0.3
		bars[i] = market.Bar{
			Time:  start.Add(time.Duration(i) * time.Minute),
			Open:  open,
			High:  math.Max(open, price) + rng.Float64()*0.2,
			Low:   math.Min(open, price) - rng.Float64()*0.2,
			Close: price,
		}
	}
	return bars
}

func writeBarsCSV(t *testing.T, dir string, bars []market.Bar) string {
	t.Helper()
	path := filepath.Join(dir, "bars.csv")
	var buf bytes.Buffer
	require.NoError(t, market.WriteCSV(&buf, bars))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func testConfig(t *testing.T, csvPath string) *config.Config {
	t.Helper()
	return &config.Config{
		Strategy: config.StrategyConfig{
			TrendLength:     10,
			TrendMultiplier: 3.6,
			PipSize:         0.01,
			MaxStopDistance: 520,
			EntryHours:      config.HourRange{Enabled: true, Start: 13, End: 16},
			AllowedSides:    config.SideList{"long", "short"},
		},
		Data:    config.DataConfig{Symbol: "XAUUSDT", Timeframe: "1m", BarsCSV: csvPath},
		Filters: config.FiltersConfig{Trend: "both"},
		Store:   config.StoreConfig{OutDir: filepath.Join(t.TempDir(), "out")},
	}
}

func TestParamsFromConfig(t *testing.T) {
	p, err := ParamsFromConfig(config.StrategyConfig{
		TrendLength: 10, TrendMultiplier: 3.6, PipSize: 0.01, MaxStopDistance: 520,
		EntryHours:   config.HourRange{Enabled: true, Start: 13, End: 16},
		AllowedSides: config.SideList{"LONG"},
	}, strategy.AlwaysPass)
	require.NoError(t, err)
	assert.Equal(t, &strategy.HourWindow{Start: 13, End: 16}, p.EntryHours)
	assert.Equal(t, strategy.SideSet{strategy.SideLong}, p.AllowedSides)
	assert.NotNil(t, p.Gate)

	p, err = ParamsFromConfig(config.StrategyConfig{TrendLength: 10, TrendMultiplier: 3.6, PipSize: 0.01, MaxStopDistance: 520}, nil)
	require.NoError(t, err)
	assert.Nil(t, p.EntryHours)
	assert.Empty(t, p.AllowedSides)

	_, err = ParamsFromConfig(config.StrategyConfig{TrendLength: 10, TrendMultiplier: 3.6, PipSize: 0.01, MaxStopDistance: 520, AllowedSides: config.SideList{"sideways"}}, nil)
	assert.Error(t, err)
	_, err = ParamsFromConfig(config.StrategyConfig{TrendLength: 0, TrendMultiplier: 3.6, PipSize: 0.01, MaxStopDistance: 520}, nil)
	assert.Error(t, err)
}

func TestLoadDatasetFilters(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeBarsCSV(t, dir, walkBars(1))
	trendPath := filepath.Join(dir, "trend_15m.csv")
	require.NoError(t, os.WriteFile(trendPath, []byte("date,trend\n2024-06-03,Up\n2024-06-04,Down\n2024-06-05,Up\n"), 0o644))

	ds, err := LoadDataset(context.Background(),
		config.DataConfig{Symbol: "XAUUSDT", Timeframe: "1m", BarsCSV: csvPath, DateStart: "2024-06-04", DateEnd: "2024-06-05"},
		config.FiltersConfig{TrendFiles: []string{trendPath}, Trend: "up"}, nil)
	require.NoError(t, err)
	assert.Equal(t, csvPath, ds.Source)
	assert.Equal(t, []string{"2024-06-03", "2024-06-05"}, ds.TrendDays.Sorted())
	require.Len(t, ds.Bars, 24*60, "only 2024-06-05 survives date range and trend filter")
	assert.Equal(t, "2024-06-05", market.DateKey(ds.Bars[0].Time))

	_, err = LoadDataset(context.Background(), config.DataConfig{Symbol: "XAUUSDT", Timeframe: "1m"}, config.FiltersConfig{}, nil)
	assert.ErrorContains(t, err, "no bar source")

	bad := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("timestamp,Open,High,Low,Close\n2024-06-03 00:01:00,1,2,0.5,1.5\n2024-06-03 00:00:00,1,2,0.5,1.5\n"), 0o644))
	_, err = LoadDataset(context.Background(), config.DataConfig{BarsCSV: bad}, config.FiltersConfig{}, nil)
	assert.ErrorIs(t, err, market.ErrInvalidSeries)
}

func TestLoadDatasetFromStore(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	bars := walkBars(2)
	_, err = store.InsertBars(context.Background(), "XAUUSDT", "1m", bars)
	require.NoError(t, err)

	ds, err := LoadDataset(context.Background(),
		config.DataConfig{Symbol: "XAUUSDT", Timeframe: "1m", DateStart: "2024-06-04", DateEnd: "2024-06-04"},
		config.FiltersConfig{}, store)
	require.NoError(t, err)
	assert.Equal(t, "store", ds.Source)
	assert.Nil(t, ds.TrendDays)
	assert.Len(t, ds.Bars, 24*60)
}

func TestTradableDates(t *testing.T) {
	set, err := TradableDates(config.StrategyConfig{})
	require.NoError(t, err)
	assert.Nil(t, set, "no restriction")

	path := filepath.Join(t.TempDir(), "dates.csv")
	require.NoError(t, os.WriteFile(path, []byte("date\n# holidays excluded\n2024-06-04,up\n"), 0o644))
	set, err = TradableDates(config.StrategyConfig{TradableDates: []string{"2024-06-03"}, TradableDatesFile: path})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-06-03", "2024-06-04"}, set.Sorted())

	_, err = TradableDates(config.StrategyConfig{TradableDates: []string{"06/03/2024"}})
	assert.Error(t, err)
}

func TestRunnerExecute(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, writeBarsCSV(t, dir, walkBars(3)))
	cfg.Strategy.TradableDates = []string{"2024-06-03", "2024-06-04"}
	repo := newMemRepo()
	runner, err := NewRunner(RunnerConfig{Config: cfg, Repo: repo})
	require.NoError(t, err)

	spec := runner.DefaultSpec()
	res, err := runner.Execute(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, RunStatusDone, res.Run.Status)
	assert.Equal(t, 2*24*60, res.Run.Bars)
	assert.Equal(t, []string{"2024-06-03", "2024-06-04"}, res.Run.Config.TradableDates)
	assert.Equal(t, "13-16", res.Run.Config.EntryHours)
	assert.Equal(t, len(res.Trades), res.Run.Stats.Attempts)
	assert.Len(t, res.Points, res.Run.Bars)
	for _, tr := range res.Trades {
		assert.NotEqual(t, "2024-06-05", market.DateKey(tr.EntryTime))
		h := tr.EntryTime.Hour()
		assert.True(t, h >= 13 && h < 16, "entry %s outside window", tr.EntryTime)
	}

	stored, err := repo.GetRun(context.Background(), res.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusDone, stored.Status)
	trades, err := repo.ListTrades(context.Background(), res.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Trades, trades)

	for _, path := range []string{res.Files.Trades, res.Files.Simple, res.Files.Summary, res.Files.Chart} {
		_, err := os.Stat(path)
		assert.NoError(t, err, path)
	}
	assert.True(t, strings.HasPrefix(res.Files.Trades, filepath.Join(cfg.Store.OutDir, "1m", "default")))
}

func TestRunConfigReproducesEngineBars(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, writeBarsCSV(t, dir, walkBars(3)))
	cfg.Strategy.TradableDates = []string{"2024-06-03", "2024-06-05"}
	repo := newMemRepo()
	runner, err := NewRunner(RunnerConfig{Config: cfg, Repo: repo})
	require.NoError(t, err)

	res, err := runner.Execute(context.Background(), runner.DefaultSpec())
	require.NoError(t, err)
	stored, err := repo.GetRun(context.Background(), res.Run.ID)
	require.NoError(t, err)

	ds, err := runner.Dataset(context.Background())
	require.NoError(t, err)
	require.Len(t, ds.Bars, 3*24*60)
	days, err := stored.Config.DateFilter()
	require.NoError(t, err)
	bars := market.FilterDates(ds.Bars, days)
	require.Len(t, bars, res.Run.Bars)

	// 用还原的序列重算 SuperTrend，应与引擎实际使用的一致
	points := indicator.ComputeSuperTrend(bars, stored.Config.TrendLength, stored.Config.TrendMultiplier)
	require.Len(t, points, len(res.Points))
	for i := range points {
		require.Equal(t, res.Points[i].Direction, points[i].Direction, "bar %d", i)
		if points[i].Defined() {
			assert.InDelta(t, res.Points[i].Band, points[i].Band, 1e-9, "bar %d", i)
		}
	}
}

func TestRunConfigDateFilter(t *testing.T) {
	days, err := RunConfig{}.DateFilter()
	require.NoError(t, err)
	assert.Nil(t, days, "no date restriction")

	days, err = RunConfig{TradableDates: []string{}}.DateFilter()
	require.NoError(t, err)
	assert.NotNil(t, days)
	assert.Empty(t, days)

	_, err = RunConfig{TradableDates: []string{"2024-13-45"}}.DateFilter()
	assert.Error(t, err)
}

func TestRunnerExecuteFailureIsPersisted(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "missing.csv"))
	repo := newMemRepo()
	runner, err := NewRunner(RunnerConfig{Config: cfg, Repo: repo})
	require.NoError(t, err)

	res, err := runner.Execute(context.Background(), RunSpec{Label: "broken", Strategy: cfg.Strategy})
	require.Error(t, err)
	stored, gerr := repo.GetRun(context.Background(), res.Run.ID)
	require.NoError(t, gerr)
	assert.Equal(t, RunStatusFailed, stored.Status)
	assert.NotEmpty(t, stored.Message)
}

func TestRunnerSubmit(t *testing.T) {
	cfg := testConfig(t, writeBarsCSV(t, t.TempDir(), walkBars(4)))
	repo := newMemRepo()
	runner, err := NewRunner(RunnerConfig{Config: cfg, Repo: repo})
	require.NoError(t, err)

	run, err := runner.Submit(RunSpec{Label: "async", Strategy: cfg.Strategy})
	require.NoError(t, err)
	assert.Equal(t, RunStatusPending, run.Status)
	require.Eventually(t, func() bool {
		got, err := repo.GetRun(context.Background(), run.ID)
		return err == nil && got.Status == RunStatusDone
	}, 10*time.Second, 10*time.Millisecond)

	bad := cfg.Strategy
	bad.PipSize = 0
	_, err = runner.Submit(RunSpec{Strategy: bad})
	assert.Error(t, err)

	noRepo, _ := NewRunner(RunnerConfig{Config: cfg})
	_, err = noRepo.Submit(RunSpec{Strategy: cfg.Strategy})
	assert.Error(t, err)
}

func TestSentimentGateWiring(t *testing.T) {
	cfg := testConfig(t, writeBarsCSV(t, t.TempDir(), walkBars(5)))
	cfg.Filters.Sentiment = config.SentimentConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "none.csv"), FilterType: "bearish"}
	runner, err := NewRunner(RunnerConfig{Config: cfg})
	require.NoError(t, err)
	// 情绪表不可读时退化为全部放行
	assert.True(t, runner.Gate().Allow(time.Now(), strategy.SideLong))

	path := filepath.Join(t.TempDir(), "sentiment.csv")
	require.NoError(t, os.WriteFile(path, []byte("timestamp,headline_count,net_sentiment\n2024-06-03 14:05:00,6,-0.4\n"), 0o644))
	cfg.Filters.Sentiment = config.SentimentConfig{Enabled: true, Path: path, MinHeadlineCount: 5, FilterType: "bearish", BearishThreshold: -0.1, BullishThreshold: 0.3}
	runner, _ = NewRunner(RunnerConfig{Config: cfg})
	gate := runner.Gate()
	assert.True(t, gate.Allow(time.Date(2024, 6, 3, 14, 5, 0, 0, time.UTC), strategy.SideLong))
	assert.False(t, gate.Allow(time.Date(2024, 6, 3, 14, 6, 0, 0, time.UTC), strategy.SideLong))
}

func TestGridSpecs(t *testing.T) {
	base := config.StrategyConfig{TrendLength: 10, TrendMultiplier: 3.6, MaxStopDistance: 520, PipSize: 0.01, AllowedSides: config.SideList{"long"}}
	specs := GridSpecs(base, []int{7, 10}, []float64{3, 3.6}, nil)
	require.Len(t, specs, 4)
	assert.Equal(t, "st7_m3_cap520", specs[0].Label)
	assert.Equal(t, "st10_m3.6_cap520", specs[3].Label)
	assert.Equal(t, 0.01, specs[2].Strategy.PipSize)

	specs[0].Strategy.AllowedSides[0] = "short"
	assert.Equal(t, "long", base.AllowedSides[0], "grid specs do not alias the base config")
	assert.Len(t, GridSpecs(base, nil, nil, nil), 1)
}

func TestProfileSpecs(t *testing.T) {
	snap := loader.ProfileSnapshot{Profiles: map[string]loader.ProfileDefinition{
		"fast": {Name: "fast", Strategy: config.StrategyConfig{TrendLength: 7}},
		"slow": {Name: "slow", Strategy: config.StrategyConfig{TrendLength: 14}},
	}}
	specs, err := ProfileSpecs(snap, nil)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "fast", specs[0].Profile)
	assert.Equal(t, 14, specs[1].Strategy.TrendLength)

	_, err = ProfileSpecs(snap, []string{"medium"})
	assert.Error(t, err)
}

func TestSweep(t *testing.T) {
	cfg := testConfig(t, writeBarsCSV(t, t.TempDir(), walkBars(6)))
	repo := newMemRepo()
	runner, err := NewRunner(RunnerConfig{Config: cfg, Repo: repo})
	require.NoError(t, err)

	specs := GridSpecs(cfg.Strategy, []int{7, 10, 14}, []float64{2.5, 3.6}, nil)
	bad := cfg.Strategy
	bad.TrendMultiplier = -1
	specs = append(specs, RunSpec{Label: "broken", Strategy: bad})

	results, err := Sweep(context.Background(), runner, specs, 3)
	require.NoError(t, err)
	require.Len(t, results, 7)
	assert.Equal(t, "broken", results[6].Spec.Label)
	assert.Error(t, results[6].Err)
	for i := 1; i < 6; i++ {
		assert.GreaterOrEqual(t, results[i-1].Run.Stats.TotalPips, results[i].Run.Stats.TotalPips)
		assert.NoError(t, results[i].Err)
	}

	// 并发执行与单独执行结果一致
	solo, err := runner.Execute(context.Background(), results[0].Spec)
	require.NoError(t, err)
	assert.Equal(t, results[0].Run.Stats.TotalPips, solo.Run.Stats.TotalPips)
	assert.Equal(t, results[0].Run.Stats.Attempts, solo.Run.Stats.Attempts)

	runs, err := repo.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, runs, 8)

	var buf bytes.Buffer
	require.NoError(t, WriteSweepCSV(&buf, results))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 8)
	assert.True(t, strings.HasPrefix(lines[0], "rank,label,trend_length"))
	assert.True(t, strings.HasPrefix(lines[7], "7,broken,"))

	_, err = Sweep(context.Background(), runner, nil, 2)
	assert.Error(t, err)
}

func TestRankResults(t *testing.T) {
	results := []SweepResult{
		{Spec: RunSpec{Label: "b"}, Run: Run{Stats: report.Summary{TotalPips: 10}}},
		{Spec: RunSpec{Label: "err"}, Err: assert.AnError},
		{Spec: RunSpec{Label: "c"}, Run: Run{Stats: report.Summary{TotalPips: 30}}},
		{Spec: RunSpec{Label: "a"}, Run: Run{Stats: report.Summary{TotalPips: 10}}},
	}
	RankResults(results)
	labels := make([]string, len(results))
	for i, r := range results {
		labels[i] = r.Spec.Label
	}
	assert.Equal(t, []string{"c", "a", "b", "err"}, labels)
}
