package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"trendflip/internal/backtest"
	"trendflip/internal/config"
	cfgloader "trendflip/internal/config/loader"
	"trendflip/internal/logger"
	"trendflip/internal/store/gormstore"
	backtesthttp "trendflip/internal/transport/http/backtest"
)

type AppBuilder struct {
	cfg *config.Config

	barStoreFn func(string) (*backtest.Store, error)
	resultsFn  func(string) (*gormstore.GormStore, error)
	profilesFn func(string, config.StrategyConfig, bool) (*cfgloader.ProfileLoader, error)
	sourcesFn  func(config.BinanceConfig) map[string]backtest.BarSource
}

type AppBuilderOption func(*AppBuilder)

// WithBarSources 替换行情源（测试中注入假数据源）。
func WithBarSources(fn func(config.BinanceConfig) map[string]backtest.BarSource) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.sourcesFn = fn
		}
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		barStoreFn: backtest.NewStore,
		resultsFn:  gormstore.NewGormStore,
		profilesFn: cfgloader.NewProfileLoader,
		sourcesFn:  binanceSources,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func binanceSources(bc config.BinanceConfig) map[string]backtest.BarSource {
	return map[string]backtest.BarSource{
		"binance": backtest.NewBinanceSource(bc.BaseURL, bc.APIKey, bc.SecretKey),
	}
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	bt := &BacktestService{}
	ok := false
	defer func() {
		if !ok {
			bt.Close()
		}
	}()

	var err error
	if dir := strings.TrimSpace(cfg.Data.BarStoreDir); dir != "" {
		if bt.store, err = b.barStoreFn(dir); err != nil {
			return nil, fmt.Errorf("open bar store: %w", err)
		}
	}
	var repo backtest.RunRepository
	if path := strings.TrimSpace(cfg.Store.ResultsDB); path != "" {
		if bt.results, err = b.resultsFn(path); err != nil {
			return nil, fmt.Errorf("open results db: %w", err)
		}
		repo = bt.results
	}

	profiles, err := b.loadProfiles(cfg)
	if err != nil {
		return nil, err
	}

	bt.runner, err = backtest.NewRunner(backtest.RunnerConfig{Config: cfg, Bars: bt.store, Repo: repo})
	if err != nil {
		return nil, err
	}
	bt.runner.SetContext(ctx)

	if bt.store != nil && (cfg.App.Mode == "fetch" || cfg.App.Mode == "serve") {
		bt.svc, err = backtest.NewService(backtest.ServiceConfig{
			Store:           bt.store,
			Sources:         b.sourcesFn(cfg.Binance),
			DefaultExchange: "binance",
		})
		if err != nil {
			return nil, err
		}
	}

	if cfg.App.Mode == "serve" {
		if repo == nil {
			return nil, fmt.Errorf("serve mode requires store.results_db")
		}
		sc := backtesthttp.Config{Addr: cfg.App.HTTPAddr, Runner: bt.runner, Repo: repo, Svc: bt.svc}
		if profiles != nil {
			sc.Profiles = profiles
		}
		if bt.server, err = backtesthttp.NewServer(sc); err != nil {
			return nil, err
		}
	}

	ok = true
	return &App{
		cfg:      cfg,
		runner:   bt.runner,
		profiles: profiles,
		backtest: bt,
		Summary:  buildStartupSummary(cfg, profiles),
	}, nil
}

// loadProfiles 文件缺失时只在显式要求 profile 扫描时报错；serve 模式监听热更新。
func (b *AppBuilder) loadProfiles(cfg *config.Config) (*cfgloader.ProfileLoader, error) {
	path := strings.TrimSpace(cfg.Sweep.ProfilesPath)
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && len(cfg.Sweep.Profiles) == 0 {
			logger.Warnf("[app] profiles file %s not found, profiles disabled", path)
			return nil, nil
		}
		return nil, fmt.Errorf("profiles file: %w", err)
	}
	pl, err := b.profilesFn(path, cfg.Strategy, cfg.App.Mode == "serve")
	if err != nil {
		return nil, err
	}
	logger.Infof("[app] loaded %d profiles from %s", len(pl.Snapshot().Profiles), path)
	return pl, nil
}
