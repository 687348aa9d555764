package filter

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"trendflip/internal/analysis/indicator"
	"trendflip/internal/logger"
	"trendflip/internal/market"
	"trendflip/internal/pkg/convert"
)

// Trend 是日级趋势标签。
type Trend string

const (
	TrendUp   Trend = "Up"
	TrendDown Trend = "Down"
)

// DayTrend 是趋势文件中的一行。
type DayTrend struct {
	Date  string
	Trend Trend
}

// LoadDayTrend 读取 date,trend 格式的日级趋势文件。
func LoadDayTrend(path string) ([]DayTrend, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rows, err := ReadDayTrend(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

// ReadDayTrend 解析趋势 CSV；无法解析日期的行被跳过。
func ReadDayTrend(r io.Reader) ([]DayTrend, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	dateCol, trendCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))) {
		case "date":
			dateCol = i
		case "trend":
			trendCol = i
		}
	}
	if dateCol < 0 || trendCol < 0 {
		return nil, fmt.Errorf("trend file missing date/trend columns")
	}
	var out []DayTrend
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if dateCol >= len(rec) || trendCol >= len(rec) {
			continue
		}
		ts, err := convert.ParseTimestamp(rec[dateCol])
		if err != nil {
			continue
		}
		var trend Trend
		switch strings.ToLower(strings.TrimSpace(rec[trendCol])) {
		case "up":
			trend = TrendUp
		case "down":
			trend = TrendDown
		default:
			continue
		}
		out = append(out, DayTrend{Date: market.DateKey(ts), Trend: trend})
	}
	return out, nil
}

// SelectDays 按 up/down/both 选出日期集合。
func SelectDays(rows []DayTrend, want string) market.DateSet {
	want = strings.ToLower(strings.TrimSpace(want))
	set := make(market.DateSet)
	for _, row := range rows {
		switch want {
		case "up":
			if row.Trend != TrendUp {
				continue
			}
		case "down":
			if row.Trend != TrendDown {
				continue
			}
		}
		set.Add(row.Date)
	}
	return set
}

// TradableDays 读取多份趋势文件（多周期）并取交集。读取失败的文件被跳过；
// 全部失败时返回 nil，表示不做日期过滤。
func TradableDays(paths []string, want string) market.DateSet {
	var result market.DateSet
	loaded := 0
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		rows, err := LoadDayTrend(path)
		if err != nil {
			logger.Warnf("[filter] skip trend file %s: %v", path, err)
			continue
		}
		days := SelectDays(rows, want)
		logger.Infof("[filter] loaded %d %s days from %s", len(days), want, path)
		if loaded == 0 {
			result = days
		} else {
			result = result.Intersect(days)
		}
		loaded++
	}
	if loaded > 1 {
		logger.Infof("[filter] combined trend filter over %d files => %d days", loaded, len(result))
	}
	return result
}

// BuildOptions 控制由 K 线生成日级趋势的方式。
type BuildOptions struct {
	Resample time.Duration
	Period   int
	SampleAt time.Duration // UTC 日内偏移
	// SMASeed 为 true 时改用简单均值种子，前 Period-1 个桶无定义。
	SMASeed bool
}

// DefaultBuildOptions: 15 分钟重采样、EMA200、UTC 11:45 取样。
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		Resample: 15 * time.Minute,
		Period:   200,
		SampleAt: 11*time.Hour + 45*time.Minute,
	}
}

// BuildDayTrend 将 K 线按周期重采样（取每桶最后收盘），计算 EMA，
// 在每天的取样时刻比较收盘与 EMA 得到 Up/Down。
// 默认 EMA 以首个收盘为种子，第一个桶起即有定义；SMASeed 时预热期内的日期不输出。
func BuildDayTrend(bars []market.Bar, opts BuildOptions) []DayTrend {
	if opts.Resample <= 0 || opts.Period < 1 {
		opts = DefaultBuildOptions()
	}
	var (
		buckets []time.Time
		closes  []float64
	)
	for _, b := range bars {
		key := b.Time.UTC().Truncate(opts.Resample)
		if n := len(buckets); n > 0 && buckets[n-1].Equal(key) {
			closes[n-1] = b.Close
			continue
		}
		buckets = append(buckets, key)
		closes = append(closes, b.Close)
	}
	var ema []float64
	if opts.SMASeed {
		ema = indicator.EMA(closes, opts.Period)
	} else {
		ema = indicator.EWM(closes, opts.Period)
	}
	seen := make(map[string]struct{})
	var out []DayTrend
	for i, ts := range buckets {
		if math.IsNaN(ema[i]) {
			continue
		}
		day := ts.Truncate(24 * time.Hour)
		if ts.Sub(day) != opts.SampleAt {
			continue
		}
		key := market.DateKey(ts)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		trend := TrendDown
		if closes[i] > ema[i] {
			trend = TrendUp
		}
		out = append(out, DayTrend{Date: key, Trend: trend})
	}
	return out
}

// WriteDayTrend 输出 date,trend CSV。
func WriteDayTrend(w io.Writer, rows []DayTrend) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "trend"}); err != nil {
		return err
	}
	for _, row := range rows {
		if err := cw.Write([]string{row.Date, string(row.Trend)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
