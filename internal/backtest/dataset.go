package backtest

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"trendflip/internal/config"
	"trendflip/internal/filter"
	"trendflip/internal/logger"
	"trendflip/internal/market"
)

// Dataset 是已完成日期裁剪与日级趋势过滤的 K 线序列，可被多个引擎只读共享。
type Dataset struct {
	Symbol    string
	Timeframe string
	Source    string
	Bars      []market.Bar
	// TrendDays 为 nil 表示未启用日级趋势过滤。
	TrendDays market.DateSet
}

// LoadDataset 按配置读取 K 线（CSV 优先，其次本地 K 线库），并依次应用日期区间和日级趋势过滤。
func LoadDataset(ctx context.Context, data config.DataConfig, filters config.FiltersConfig, store *Store) (Dataset, error) {
	start, end, err := data.DateRange()
	if err != nil {
		return Dataset{}, err
	}
	ds := Dataset{Symbol: data.Symbol, Timeframe: data.Timeframe}
	var bars []market.Bar
	switch {
	case strings.TrimSpace(data.BarsCSV) != "":
		ds.Source = data.BarsCSV
		bars, err = market.LoadCSV(data.BarsCSV)
		if err != nil {
			return Dataset{}, err
		}
	case store != nil:
		ds.Source = "store"
		bars, err = store.RangeBars(ctx, data.Symbol, data.Timeframe, start, end)
		if err != nil {
			return Dataset{}, fmt.Errorf("read bar store: %w", err)
		}
		if err := market.Validate(bars); err != nil {
			return Dataset{}, err
		}
	default:
		return Dataset{}, fmt.Errorf("no bar source configured (set data.bars_csv or data.bar_store_dir)")
	}
	total := len(bars)
	bars = market.Clip(bars, start, end)
	if len(filters.TrendFiles) > 0 {
		ds.TrendDays = filter.TradableDays(filters.TrendFiles, filters.Trend)
		bars = market.FilterDates(bars, ds.TrendDays)
	}
	ds.Bars = bars
	logger.Infof("[backtest] dataset %s %s from %s: %d bars (%d before filters)", ds.Symbol, ds.Timeframe, ds.Source, len(bars), total)
	return ds, nil
}

// TradableDates 合并 strategy.tradable_dates 与 tradable_dates_file；都未设置时返回 nil。
func TradableDates(sc config.StrategyConfig) (market.DateSet, error) {
	dates := append([]string(nil), sc.TradableDates...)
	if path := strings.TrimSpace(sc.TradableDatesFile); path != "" {
		fromFile, err := readDateList(path)
		if err != nil {
			return nil, fmt.Errorf("tradable dates file: %w", err)
		}
		dates = append(dates, fromFile...)
	}
	if len(dates) == 0 && strings.TrimSpace(sc.TradableDatesFile) == "" {
		return nil, nil
	}
	return market.NewDateSet(dates)
}

// readDateList 读取每行一个日期的文件；# 开头为注释，逗号后的列被忽略。
func readDateList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, ','); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if strings.EqualFold(line, "date") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}
