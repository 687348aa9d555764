package backtest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"trendflip/internal/analysis/indicator"
	"trendflip/internal/config"
	"trendflip/internal/filter"
	"trendflip/internal/logger"
	"trendflip/internal/market"
	"trendflip/internal/report"
	"trendflip/internal/strategy"
)

// ParamsFromConfig 将策略配置转换为引擎参数。
func ParamsFromConfig(sc config.StrategyConfig, gate strategy.Gate) (strategy.Params, error) {
	sides := make(strategy.SideSet, 0, len(sc.AllowedSides))
	for _, raw := range sc.AllowedSides {
		side, err := strategy.ParseSide(raw)
		if err != nil {
			return strategy.Params{}, err
		}
		sides = append(sides, side)
	}
	p := strategy.Params{
		TrendLength:     sc.TrendLength,
		TrendMultiplier: sc.TrendMultiplier,
		PipSize:         sc.PipSize,
		MaxStopDistance: sc.MaxStopDistance,
		AllowedSides:    sides,
		Gate:            gate,
	}
	if sc.EntryHours.Enabled {
		p.EntryHours = &strategy.HourWindow{Start: sc.EntryHours.Start, End: sc.EntryHours.End}
	}
	return p, p.Validate()
}

// SentimentRule 由配置构造情绪规则。
func SentimentRule(sc config.SentimentConfig) filter.SentimentRule {
	return filter.SentimentRule{
		MinHeadlineCount: sc.MinHeadlineCount,
		FilterType:       sc.FilterType,
		BearishThreshold: sc.BearishThreshold,
		BullishThreshold: sc.BullishThreshold,
	}
}

func describeSentiment(sc config.SentimentConfig) string {
	if !sc.Enabled {
		return ""
	}
	return fmt.Sprintf("%s(min=%d,bear<%g,bull>%g)", sc.FilterType, sc.MinHeadlineCount, sc.BearishThreshold, sc.BullishThreshold)
}

// RunSpec 描述一次回测：策略参数可来自 profile 或扫描网格。
type RunSpec struct {
	Label    string
	Profile  string
	Strategy config.StrategyConfig
	// Export 为 true 时写出 CSV/YAML/HTML 到 out_dir/<label>。
	Export bool
}

// RunResult 是一次回测的完整产出。
type RunResult struct {
	Run    Run
	Trades []strategy.Trade
	Points []indicator.TrendPoint
	Files  report.Files
}

// RunnerConfig 描述 Runner 的依赖。
type RunnerConfig struct {
	Config *config.Config
	Bars   *Store
	Repo   RunRepository
}

// Runner 装配单次回测：加载数据、构造闸门、驱动引擎、汇总、持久化与导出。
type Runner struct {
	cfg  *config.Config
	bars *Store
	repo RunRepository

	gateOnce sync.Once
	gate     strategy.Gate

	dsMu sync.Mutex
	ds   *Dataset

	baseCtx context.Context
}

func NewRunner(rc RunnerConfig) (*Runner, error) {
	if rc.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return &Runner{cfg: rc.Config, bars: rc.Bars, repo: rc.Repo, baseCtx: context.Background()}, nil
}

// SetContext 注入宿主 ctx，用于异步任务取消。
func (r *Runner) SetContext(ctx context.Context) {
	if ctx != nil {
		r.baseCtx = ctx
	}
}

// Repo 返回结果库（可能为 nil）。
func (r *Runner) Repo() RunRepository { return r.repo }

// Dataset 返回共享数据集，首次调用时加载。
func (r *Runner) Dataset(ctx context.Context) (Dataset, error) {
	r.dsMu.Lock()
	defer r.dsMu.Unlock()
	if r.ds != nil {
		return *r.ds, nil
	}
	ds, err := LoadDataset(ctx, r.cfg.Data, r.cfg.Filters, r.bars)
	if err != nil {
		return Dataset{}, err
	}
	r.ds = &ds
	return ds, nil
}

// Gate 返回激活闸门；情绪表只读取一次，不可用时退化为全部放行。
func (r *Runner) Gate() strategy.Gate {
	r.gateOnce.Do(func() {
		sc := r.cfg.Filters.Sentiment
		if !sc.Enabled {
			r.gate = strategy.AlwaysPass
			return
		}
		r.gate = strategy.AllGates(filter.OpenSentimentGate(sc.Path, SentimentRule(sc)))
	})
	return r.gate
}

// DefaultSpec 使用主配置中的策略参数。
func (r *Runner) DefaultSpec() RunSpec {
	return RunSpec{Label: "default", Strategy: r.cfg.Strategy, Export: true}
}

func (r *Runner) runConfig(spec RunSpec, ds Dataset, tradable market.DateSet) RunConfig {
	sc := spec.Strategy
	rc := RunConfig{
		Profile:         spec.Profile,
		Symbol:          ds.Symbol,
		Timeframe:       ds.Timeframe,
		Source:          ds.Source,
		DateStart:       r.cfg.Data.DateStart,
		DateEnd:         r.cfg.Data.DateEnd,
		TrendLength:     sc.TrendLength,
		TrendMultiplier: sc.TrendMultiplier,
		PipSize:         sc.PipSize,
		MaxStopDistance: sc.MaxStopDistance,
		EntryHours:      sc.EntryHours.String(),
		AllowedSides:    append([]string(nil), sc.AllowedSides...),
		Sentiment:       describeSentiment(r.cfg.Filters.Sentiment),
	}
	if tradable != nil {
		rc.TradableDates = tradable.Sorted()
	}
	if ds.TrendDays != nil {
		rc.TrendFilter = r.cfg.Filters.Trend
		rc.TrendFiles = append([]string(nil), r.cfg.Filters.TrendFiles...)
	}
	return rc
}

// Execute 同步执行一次回测。
func (r *Runner) Execute(ctx context.Context, spec RunSpec) (RunResult, error) {
	run := newRun(&spec, RunStatusRunning)
	return r.execute(ctx, run, spec, true)
}

// Submit 创建回测记录并在后台执行，立即返回 pending 状态。
func (r *Runner) Submit(spec RunSpec) (Run, error) {
	if r.repo == nil {
		return Run{}, fmt.Errorf("result store is not configured")
	}
	if _, err := ParamsFromConfig(spec.Strategy, nil); err != nil {
		return Run{}, err
	}
	run := newRun(&spec, RunStatusPending)
	run.Config = RunConfig{Profile: spec.Profile, Symbol: r.cfg.Data.Symbol, Timeframe: r.cfg.Data.Timeframe}
	if err := r.repo.CreateRun(r.baseCtx, run); err != nil {
		return Run{}, err
	}
	go func() {
		if _, err := r.execute(r.baseCtx, run, spec, false); err != nil {
			logger.Errorf("[backtest] run %s failed: %v", run.ID, err)
		}
	}()
	return run, nil
}

func newRun(spec *RunSpec, status string) Run {
	id := uuid.NewString()
	if spec.Label == "" {
		spec.Label = id[:8]
	}
	return Run{ID: id, Label: spec.Label, Status: status, CreatedAt: time.Now().UTC()}
}

func (r *Runner) execute(ctx context.Context, run Run, spec RunSpec, create bool) (RunResult, error) {
	if create && r.repo != nil {
		if err := r.repo.CreateRun(ctx, run); err != nil {
			return RunResult{}, fmt.Errorf("create run: %w", err)
		}
	}
	res, err := r.simulate(ctx, run, spec)
	if err != nil {
		run.Status = RunStatusFailed
		run.Message = err.Error()
		run.CompletedAt = time.Now().UTC()
		if r.repo != nil {
			if perr := r.repo.FinishRun(ctx, run, nil); perr != nil {
				err = errors.Join(err, perr)
			}
		}
		return RunResult{Run: run}, err
	}
	if r.repo != nil {
		if err := r.repo.FinishRun(ctx, res.Run, res.Trades); err != nil {
			return res, fmt.Errorf("persist run: %w", err)
		}
	}
	return res, nil
}

func (r *Runner) simulate(ctx context.Context, run Run, spec RunSpec) (RunResult, error) {
	ds, err := r.Dataset(ctx)
	if err != nil {
		return RunResult{}, err
	}
	params, err := ParamsFromConfig(spec.Strategy, r.Gate())
	if err != nil {
		return RunResult{}, err
	}
	tradable, err := TradableDates(spec.Strategy)
	if err != nil {
		return RunResult{}, err
	}
	bars := market.FilterDates(ds.Bars, tradable)
	run.Config = r.runConfig(spec, ds, tradable)
	run.Bars = len(bars)

	var moved int
	engine, err := strategy.NewEngine(params, strategy.WithObserver(strategy.ObserverFunc(func(ev strategy.Event) {
		if ev.Kind == strategy.EventStopMoved {
			moved++
		}
	})))
	if err != nil {
		return RunResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return RunResult{}, err
	}
	trades, err := engine.Run(bars)
	if err != nil {
		return RunResult{}, err
	}
	run.Stats = report.Summarize(trades)
	run.Status = RunStatusDone
	run.CompletedAt = time.Now().UTC()
	logger.Infof("[backtest] run %s (%s) done: bars=%d trades=%d filtered=%d total=%.1f pips stop_moves=%d",
		run.ID, run.Label, run.Bars, run.Stats.Trades, run.Stats.Filtered, run.Stats.TotalPips, moved)

	res := RunResult{Run: run, Trades: trades, Points: engine.Points()}
	if spec.Export && strings.TrimSpace(r.cfg.Store.OutDir) != "" {
		dir := filepath.Join(r.cfg.Store.OutDir, ds.Timeframe, spec.Label)
		files, err := report.Export(dir, "", report.Bundle{
			Doc: report.SummaryDocument{
				RunID:     run.ID,
				Label:     run.Label,
				Symbol:    ds.Symbol,
				Timeframe: ds.Timeframe,
				Bars:      run.Bars,
				Params:    run.Config.Params(),
				Summary:   run.Stats,
			},
			Trades: trades,
			Bars:   bars,
			Chart: report.ChartOptions{
				Title:  fmt.Sprintf("%s %s SuperTrend(%d, %g)", ds.Symbol, ds.Timeframe, params.TrendLength, params.TrendMultiplier),
				Points: res.Points,
			},
		})
		if err != nil {
			return res, fmt.Errorf("export: %w", err)
		}
		res.Files = files
		logger.Infof("[backtest] run %s exported to %s", run.ID, dir)
	}
	return res, nil
}
