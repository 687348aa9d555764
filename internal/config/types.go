package config

import (
	"fmt"
	"strings"
	"time"
)

// Config 是 trendflip 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Strategy StrategyConfig `toml:"strategy"`
	Data     DataConfig     `toml:"data"`
	Filters  FiltersConfig  `toml:"filters"`
	Store    StoreConfig    `toml:"store"`
	Sweep    SweepConfig    `toml:"sweep"`
	Binance  BinanceConfig  `toml:"binance"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
	Mode     string `toml:"mode"` // run | sweep | serve | fetch
}

// StrategyConfig 描述 SuperTrend 翻转策略的参数。
type StrategyConfig struct {
	TrendLength       int       `toml:"trend_length"`
	TrendMultiplier   float64   `toml:"trend_multiplier"`
	PipSize           float64   `toml:"pip_size"`
	MaxStopDistance   float64   `toml:"max_entry_stop_distance_pips"`
	EntryHours        HourRange `toml:"entry_hours"`
	AllowedSides      SideList  `toml:"allowed_sides"`
	TradableDates     []string  `toml:"tradable_dates"`
	TradableDatesFile string    `toml:"tradable_dates_file"`
}

// HourRange 表示 UTC 小时窗口 [Start, End)；Enabled=false 表示不限制。
type HourRange struct {
	Enabled bool
	Start   int
	End     int
}

func (h HourRange) String() string {
	if !h.Enabled {
		return "all"
	}
	return fmt.Sprintf("%d-%d", h.Start, h.End)
}

// SideList 是允许开仓的方向列表，空表示多空皆可。
type SideList []string

// Has 判断方向是否在列表中（大小写不敏感）。
func (s SideList) Has(side string) bool {
	side = strings.ToLower(strings.TrimSpace(side))
	for _, item := range s {
		if strings.ToLower(strings.TrimSpace(item)) == side {
			return true
		}
	}
	return false
}

type DataConfig struct {
	Symbol      string `toml:"symbol"`
	Timeframe   string `toml:"timeframe"`
	BarsCSV     string `toml:"bars_csv"`
	BarStoreDir string `toml:"bar_store_dir"`
	DateStart   string `toml:"date_start"`
	DateEnd     string `toml:"date_end"`
}

// DateRange 解析 date_start/date_end；结束日为闭区间，返回值为次日零点。
func (d DataConfig) DateRange() (start, end time.Time, err error) {
	if s := strings.TrimSpace(d.DateStart); s != "" {
		start, err = time.ParseInLocation(time.DateOnly, s, time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("data.date_start: %w", err)
		}
	}
	if s := strings.TrimSpace(d.DateEnd); s != "" {
		end, err = time.ParseInLocation(time.DateOnly, s, time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("data.date_end: %w", err)
		}
		end = end.AddDate(0, 0, 1)
	}
	return start, end, nil
}

// FiltersConfig 描述日级趋势过滤与情绪闸门。
type FiltersConfig struct {
	TrendFiles []string        `toml:"trend_files"`
	Trend      string          `toml:"trend"` // up | down | both
	Sentiment  SentimentConfig `toml:"sentiment"`
}

type SentimentConfig struct {
	Enabled          bool    `toml:"enabled"`
	Path             string  `toml:"path"`
	MinHeadlineCount int     `toml:"min_headline_count"`
	FilterType       string  `toml:"filter_type"` // bearish | bullish | combined
	BearishThreshold float64 `toml:"bearish_threshold"`
	BullishThreshold float64 `toml:"bullish_threshold"`
}

type StoreConfig struct {
	ResultsDB string `toml:"results_db"`
	OutDir    string `toml:"out_dir"`
}

// SweepConfig 控制参数扫描：网格或命名 profile。
type SweepConfig struct {
	ProfilesPath  string    `toml:"profiles_path"`
	Profiles      []string  `toml:"profiles"`
	Lengths       []int     `toml:"lengths"`
	Multipliers   []float64 `toml:"multipliers"`
	MaxDistances  []float64 `toml:"max_distances"`
	MaxConcurrent int       `toml:"max_concurrent"`
}

type BinanceConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	SecretKey string `toml:"secret_key"`
	Start     string `toml:"start"`
	End       string `toml:"end"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
