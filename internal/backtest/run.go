package backtest

import (
	"context"
	"errors"
	"time"

	"trendflip/internal/market"
	"trendflip/internal/report"
	"trendflip/internal/strategy"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// ErrRunNotFound 表示结果库中不存在该回测。
var ErrRunNotFound = errors.New("backtest run not found")

// RunConfig 记录本次回测的参数快照，便于重放。
type RunConfig struct {
	Profile         string   `json:"profile,omitempty"`
	Symbol          string   `json:"symbol"`
	Timeframe       string   `json:"timeframe"`
	Source          string   `json:"source"`
	DateStart       string   `json:"date_start,omitempty"`
	DateEnd         string   `json:"date_end,omitempty"`
	TrendLength     int      `json:"trend_length"`
	TrendMultiplier float64  `json:"trend_multiplier"`
	PipSize         float64  `json:"pip_size"`
	MaxStopDistance float64  `json:"max_entry_stop_distance_pips"`
	EntryHours      string   `json:"entry_hours"`
	AllowedSides    []string `json:"allowed_sides,omitempty"`
	// TradableDates 为 null 表示未按日期过滤；空数组表示没有可交易日。
	TradableDates []string `json:"tradable_dates"`
	TrendFilter   string   `json:"trend_filter,omitempty"`
	TrendFiles    []string `json:"trend_files,omitempty"`
	Sentiment     string   `json:"sentiment,omitempty"`
}

// Params 以 map 形式导出策略参数（summary.yaml 使用）。
func (c RunConfig) Params() map[string]any {
	out := map[string]any{
		"trend_length":                 c.TrendLength,
		"trend_multiplier":             c.TrendMultiplier,
		"pip_size":                     c.PipSize,
		"max_entry_stop_distance_pips": c.MaxStopDistance,
		"entry_hours":                  c.EntryHours,
		"allowed_sides":                c.AllowedSides,
	}
	if c.Profile != "" {
		out["profile"] = c.Profile
	}
	if c.TrendFilter != "" {
		out["trend_filter"] = c.TrendFilter
	}
	if c.Sentiment != "" {
		out["sentiment"] = c.Sentiment
	}
	return out
}

// DateFilter 还原本次回测使用的可交易日期集合；nil 表示不过滤。
func (c RunConfig) DateFilter() (market.DateSet, error) {
	if c.TradableDates == nil {
		return nil, nil
	}
	return market.NewDateSet(c.TradableDates)
}

// Run 表示一次回测任务及其汇总结果。
type Run struct {
	ID          string         `json:"id"`
	Label       string         `json:"label"`
	Status      string         `json:"status"`
	Message     string         `json:"message,omitempty"`
	Bars        int            `json:"bars"`
	Config      RunConfig      `json:"config"`
	Stats       report.Summary `json:"stats"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt time.Time      `json:"completed_at,omitempty"`
}

// RunRepository 持久化回测任务与账本。
type RunRepository interface {
	CreateRun(ctx context.Context, run Run) error
	FinishRun(ctx context.Context, run Run, trades []strategy.Trade) error
	GetRun(ctx context.Context, id string) (Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	ListTrades(ctx context.Context, runID string) ([]strategy.Trade, error)
}
