package backtest

import (
	"context"
	"time"

	"trendflip/internal/market"
)

// FetchRequest 描述一次远端 K 线请求。
type FetchRequest struct {
	Symbol   string
	Interval string
	Start    time.Time
	End      time.Time // 零值表示不限制
	Limit    int
}

// BarSource 统一不同交易所/数据源的拉取行为。
type BarSource interface {
	Fetch(ctx context.Context, req FetchRequest) ([]market.Bar, error)
	Name() string
}
