package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	"trendflip/internal/config"
	cfgloader "trendflip/internal/config/loader"
)

type StartupSummary struct {
	Mode     string
	Data     DataSummary
	Strategy StrategySummary
	Filters  FilterSummary
	Output   OutputSummary
	Profiles []string
}

type DataSummary struct {
	Symbol    string
	Timeframe string
	Source    string
	Range     string
}

type StrategySummary struct {
	TrendLength     int
	TrendMultiplier float64
	PipSize         float64
	MaxStopDistance float64
	EntryHours      string
	AllowedSides    []string
	TradableDates   string
}

type FilterSummary struct {
	TrendFiles []string
	Trend      string
	Sentiment  string
}

type OutputSummary struct {
	ResultsDB string
	OutDir    string
	HTTPAddr  string
}

func buildStartupSummary(cfg *config.Config, profiles *cfgloader.ProfileLoader) *StartupSummary {
	s := &StartupSummary{
		Mode: cfg.App.Mode,
		Data: DataSummary{
			Symbol:    cfg.Data.Symbol,
			Timeframe: cfg.Data.Timeframe,
			Source:    "store:" + cfg.Data.BarStoreDir,
			Range:     formatRange(cfg.Data.DateStart, cfg.Data.DateEnd),
		},
		Strategy: StrategySummary{
			TrendLength:     cfg.Strategy.TrendLength,
			TrendMultiplier: cfg.Strategy.TrendMultiplier,
			PipSize:         cfg.Strategy.PipSize,
			MaxStopDistance: cfg.Strategy.MaxStopDistance,
			EntryHours:      cfg.Strategy.EntryHours.String(),
			AllowedSides:    append([]string(nil), cfg.Strategy.AllowedSides...),
			TradableDates:   "all",
		},
		Filters: FilterSummary{
			TrendFiles: append([]string(nil), cfg.Filters.TrendFiles...),
			Trend:      cfg.Filters.Trend,
			Sentiment:  "off",
		},
		Output: OutputSummary{
			ResultsDB: cfg.Store.ResultsDB,
			OutDir:    cfg.Store.OutDir,
		},
	}
	if cfg.Data.BarsCSV != "" {
		s.Data.Source = "csv:" + cfg.Data.BarsCSV
	}
	switch {
	case cfg.Strategy.TradableDatesFile != "":
		s.Strategy.TradableDates = fmt.Sprintf("%d listed + %s", len(cfg.Strategy.TradableDates), cfg.Strategy.TradableDatesFile)
	case len(cfg.Strategy.TradableDates) > 0:
		s.Strategy.TradableDates = fmt.Sprintf("%d listed", len(cfg.Strategy.TradableDates))
	}
	if sc := cfg.Filters.Sentiment; sc.Enabled {
		s.Filters.Sentiment = fmt.Sprintf("%s (%s, min=%d)", sc.Path, sc.FilterType, sc.MinHeadlineCount)
	}
	if cfg.App.Mode == "serve" {
		s.Output.HTTPAddr = cfg.App.HTTPAddr
	}
	if profiles != nil {
		s.Profiles = profiles.Snapshot().Names()
	}
	return s
}

func (s *StartupSummary) Print() {
	s.Write(os.Stdout)
}

func (s *StartupSummary) Write(w io.Writer) {
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "  运行模式: %s\n", s.Mode)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[行情数据 (DATA)]")
	fmt.Fprintf(w, "  品种: %s\n", s.Data.Symbol)
	fmt.Fprintf(w, "  周期: %s\n", s.Data.Timeframe)
	fmt.Fprintf(w, "  来源: %s\n", s.Data.Source)
	fmt.Fprintf(w, "  区间: %s\n", s.Data.Range)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[策略参数 (STRATEGY)]")
	fmt.Fprintf(w, "  SuperTrend: length=%d multiplier=%g\n", s.Strategy.TrendLength, s.Strategy.TrendMultiplier)
	fmt.Fprintf(w, "  点值: %g  最大止损距离: %g pips\n", s.Strategy.PipSize, s.Strategy.MaxStopDistance)
	fmt.Fprintf(w, "  入场时段(UTC): %s\n", s.Strategy.EntryHours)
	fmt.Fprintf(w, "  允许方向: %s\n", formatList(s.Strategy.AllowedSides))
	fmt.Fprintf(w, "  可交易日期: %s\n", s.Strategy.TradableDates)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[过滤器 (FILTERS)]")
	fmt.Fprintf(w, "  日级趋势: %s (%s)\n", formatList(s.Filters.TrendFiles), s.Filters.Trend)
	fmt.Fprintf(w, "  情绪闸门: %s\n", s.Filters.Sentiment)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[输出 (OUTPUT)]")
	fmt.Fprintf(w, "  结果库: %s\n", orDash(s.Output.ResultsDB))
	fmt.Fprintf(w, "  导出目录: %s\n", orDash(s.Output.OutDir))
	if s.Output.HTTPAddr != "" {
		fmt.Fprintf(w, "  HTTP: %s\n", s.Output.HTTPAddr)
	}
	if len(s.Profiles) > 0 {
		fmt.Fprintf(w, "  Profiles: %s\n", formatList(s.Profiles))
	}
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func formatRange(start, end string) string {
	if start == "" && end == "" {
		return "全部"
	}
	return fmt.Sprintf("%s ~ %s", orDash(start), orDash(end))
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
