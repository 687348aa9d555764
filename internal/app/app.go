package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"trendflip/internal/backtest"
	"trendflip/internal/config"
	"trendflip/internal/config/loader"
	"trendflip/internal/logger"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→按 mode 执行回测、扫描、服务或拉取。
type App struct {
	cfg      *config.Config
	runner   *backtest.Runner
	profiles *loader.ProfileLoader
	backtest *BacktestService
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 按 app.mode 执行，serve 模式阻塞直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	defer a.Close()

	switch a.cfg.App.Mode {
	case "run":
		return a.runOnce(ctx)
	case "sweep":
		return a.runSweep(ctx)
	case "fetch":
		return a.runFetch(ctx)
	case "serve":
		return a.serve(ctx)
	default:
		return fmt.Errorf("unknown mode %q", a.cfg.App.Mode)
	}
}

// Close 释放存储资源。
func (a *App) Close() {
	if a == nil {
		return
	}
	a.backtest.Close()
}

// Runner exposes the underlying runner (for tests and embedding).
func (a *App) Runner() *backtest.Runner {
	if a == nil {
		return nil
	}
	return a.runner
}

func (a *App) runOnce(ctx context.Context) error {
	res, err := a.runner.Execute(ctx, a.runner.DefaultSpec())
	if err != nil {
		return err
	}
	logger.InfoBlock(res.Run.Stats.Text())
	if res.Files.Trades != "" {
		logger.Infof("[app] trades written to %s", res.Files.Trades)
	}
	return nil
}

func (a *App) runSweep(ctx context.Context) error {
	specs, err := a.sweepSpecs()
	if err != nil {
		return err
	}
	logger.Infof("[app] sweeping %d parameter sets", len(specs))
	results, err := backtest.Sweep(ctx, a.runner, specs, a.cfg.Sweep.MaxConcurrent)
	if err != nil {
		return err
	}
	for i, r := range results {
		if i >= 5 {
			break
		}
		if r.Err != nil {
			continue
		}
		logger.Infof("[app] #%d %s total=%.1f pips trades=%d win_rate=%.2f%% pf=%s",
			i+1, r.Spec.Label, r.Run.Stats.TotalPips, r.Run.Stats.Trades, r.Run.Stats.WinRate*100, r.Run.Stats.ProfitFactor)
	}
	outDir := strings.TrimSpace(a.cfg.Store.OutDir)
	if outDir == "" {
		return nil
	}
	path := filepath.Join(outDir, a.cfg.Data.Timeframe, "sweep.csv")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := backtest.WriteSweepCSV(f, results); err != nil {
		return fmt.Errorf("write sweep ranking: %w", err)
	}
	logger.Infof("[app] sweep ranking written to %s", path)
	return nil
}

// sweepSpecs 命名 profile 优先，否则展开网格。
func (a *App) sweepSpecs() ([]backtest.RunSpec, error) {
	sc := a.cfg.Sweep
	if len(sc.Profiles) > 0 {
		if a.profiles == nil {
			return nil, fmt.Errorf("sweep.profiles set but %s could not be loaded", sc.ProfilesPath)
		}
		return backtest.ProfileSpecs(a.profiles.Snapshot(), sc.Profiles)
	}
	specs := backtest.GridSpecs(a.cfg.Strategy, sc.Lengths, sc.Multipliers, sc.MaxDistances)
	if len(specs) == 0 {
		return nil, fmt.Errorf("sweep needs sweep.profiles or a parameter grid")
	}
	return specs, nil
}

func (a *App) runFetch(ctx context.Context) error {
	svc := a.backtest.svc
	if svc == nil {
		return fmt.Errorf("fetch service not initialized")
	}
	params, err := fetchParams(a.cfg)
	if err != nil {
		return err
	}
	job, err := svc.Sync(ctx, params)
	if err != nil {
		return err
	}
	logger.Infof("[app] fetch %s %s: %s (%d/%d)", params.Symbol, params.Timeframe, job.Status, job.Completed, job.Total)
	return nil
}

func (a *App) serve(ctx context.Context) error {
	if a.backtest.server == nil {
		return fmt.Errorf("http server not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)
	a.backtest.Bind(ctx)
	group.Go(func() error {
		if err := a.backtest.server.Start(ctx); err != nil {
			return fmt.Errorf("backtest http server error: %w", err)
		}
		return nil
	})
	if a.profiles != nil {
		a.profiles.Subscribe(func(snap loader.ProfileSnapshot) {
			logger.Infof("[app] profiles v%d: %s", snap.Version, strings.Join(snap.Names(), ", "))
		})
	}
	logger.Infof("[app] serving backtest API on %s", a.cfg.App.HTTPAddr)
	return group.Wait()
}

// fetchParams 拉取区间优先取 binance.start/end，否则沿用 data.date_start/date_end。
func fetchParams(cfg *config.Config) (backtest.FetchParams, error) {
	start, end, err := cfg.Data.DateRange()
	if err != nil {
		return backtest.FetchParams{}, err
	}
	if s := strings.TrimSpace(cfg.Binance.Start); s != "" {
		if start, err = time.ParseInLocation(time.DateOnly, s, time.UTC); err != nil {
			return backtest.FetchParams{}, fmt.Errorf("binance.start: %w", err)
		}
	}
	if s := strings.TrimSpace(cfg.Binance.End); s != "" {
		if end, err = time.ParseInLocation(time.DateOnly, s, time.UTC); err != nil {
			return backtest.FetchParams{}, fmt.Errorf("binance.end: %w", err)
		}
		end = end.AddDate(0, 0, 1)
	}
	if start.IsZero() {
		return backtest.FetchParams{}, fmt.Errorf("fetch needs binance.start or data.date_start")
	}
	if end.IsZero() {
		end = time.Now().UTC()
	}
	return backtest.FetchParams{
		Exchange:  "binance",
		Symbol:    cfg.Data.Symbol,
		Timeframe: cfg.Data.Timeframe,
		Start:     start,
		End:       end,
	}, nil
}
