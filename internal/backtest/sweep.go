package backtest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"trendflip/internal/config"
	"trendflip/internal/config/loader"
	"trendflip/internal/logger"
)

// GridSpecs 生成 length × multiplier × cap 的笛卡尔积；空维度沿用 base 的取值。
func GridSpecs(base config.StrategyConfig, lengths []int, multipliers, caps []float64) []RunSpec {
	if len(lengths) == 0 {
		lengths = []int{base.TrendLength}
	}
	if len(multipliers) == 0 {
		multipliers = []float64{base.TrendMultiplier}
	}
	if len(caps) == 0 {
		caps = []float64{base.MaxStopDistance}
	}
	specs := make([]RunSpec, 0, len(lengths)*len(multipliers)*len(caps))
	for _, l := range lengths {
		for _, m := range multipliers {
			for _, c := range caps {
				sc := base
				sc.AllowedSides = append(config.SideList(nil), base.AllowedSides...)
				sc.TradableDates = append([]string(nil), base.TradableDates...)
				sc.TrendLength, sc.TrendMultiplier, sc.MaxStopDistance = l, m, c
				specs = append(specs, RunSpec{
					Label:    fmt.Sprintf("st%d_m%g_cap%g", l, m, c),
					Strategy: sc,
				})
			}
		}
	}
	return specs
}

// ProfileSpecs 按名称选出 profile；names 为空时使用全部 profile。
func ProfileSpecs(snap loader.ProfileSnapshot, names []string) ([]RunSpec, error) {
	if len(names) == 0 {
		names = snap.Names()
	}
	specs := make([]RunSpec, 0, len(names))
	for _, name := range names {
		def, ok := snap.Profiles[name]
		if !ok {
			return nil, fmt.Errorf("unknown profile %q", name)
		}
		specs = append(specs, RunSpec{Label: name, Profile: name, Strategy: def.Strategy})
	}
	return specs, nil
}

// SweepResult 是扫描中单个组合的结果；Err 非空表示该组合失败。
type SweepResult struct {
	Spec RunSpec
	Run  Run
	Err  error
}

// Sweep 以有限并发执行多组参数，每组使用独立引擎；结果按总点数降序排列。
// 单组失败只记录在结果中，ctx 取消时整体返回。
func Sweep(ctx context.Context, runner *Runner, specs []RunSpec, maxConcurrent int) ([]SweepResult, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("sweep has no parameter sets")
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	// 预先加载共享数据集，避免并发首次加载。
	if _, err := runner.Dataset(ctx); err != nil {
		return nil, err
	}
	results := make([]SweepResult, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := runner.Execute(gctx, spec)
			results[i] = SweepResult{Spec: spec, Run: res.Run, Err: err}
			if err != nil {
				logger.Warnf("[backtest] sweep %s failed: %v", spec.Label, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	RankResults(results)
	logger.Infof("[backtest] sweep finished: %d parameter sets (concurrency=%d)", len(results), maxConcurrent)
	return results, nil
}

// RankResults 失败的组合排在最后，其余按总点数降序、标签升序。
func RankResults(results []SweepResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if (a.Err == nil) != (b.Err == nil) {
			return a.Err == nil
		}
		if a.Run.Stats.TotalPips != b.Run.Stats.TotalPips {
			return a.Run.Stats.TotalPips > b.Run.Stats.TotalPips
		}
		return a.Spec.Label < b.Spec.Label
	})
}

// WriteSweepCSV 输出扫描排行。
func WriteSweepCSV(w io.Writer, results []SweepResult) error {
	cw := csv.NewWriter(w)
	header := []string{"rank", "label", "trend_length", "trend_multiplier", "max_entry_stop_distance_pips",
		"trades", "filtered", "win_rate", "total_pips", "profit_factor", "max_drawdown", "run_id", "error"}
	if err := cw.Write(header); err != nil {
		return err
	}
	f := func(v float64, prec int) string { return strconv.FormatFloat(v, 'f', prec, 64) }
	for i, r := range results {
		sc := r.Spec.Strategy
		row := []string{
			strconv.Itoa(i + 1), r.Spec.Label,
			strconv.Itoa(sc.TrendLength), f(sc.TrendMultiplier, -1), f(sc.MaxStopDistance, -1),
			strconv.Itoa(r.Run.Stats.Trades), strconv.Itoa(r.Run.Stats.Filtered),
			f(r.Run.Stats.WinRate, 4), f(r.Run.Stats.TotalPips, 1), r.Run.Stats.ProfitFactor.String(),
			f(r.Run.Stats.MaxDrawdown, 1), r.Run.ID, "",
		}
		if r.Err != nil {
			row[len(row)-1] = r.Err.Error()
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
