package app

import (
	"context"

	"trendflip/internal/backtest"
	"trendflip/internal/store/gormstore"
	backtesthttp "trendflip/internal/transport/http/backtest"
)

// BacktestService 管理 K 线库、结果库、拉取服务与 HTTP 暴露。
type BacktestService struct {
	store   *backtest.Store
	results *gormstore.GormStore
	svc     *backtest.Service
	runner  *backtest.Runner
	server  *backtesthttp.Server
}

// Bind 绑定上下文，异步任务随 ctx 取消。
func (b *BacktestService) Bind(ctx context.Context) {
	if b == nil {
		return
	}
	if b.svc != nil {
		b.svc.SetContext(ctx)
	}
	if b.runner != nil {
		b.runner.SetContext(ctx)
	}
}

// Close 释放回测相关资源。
func (b *BacktestService) Close() {
	if b == nil {
		return
	}
	if b.results != nil {
		_ = b.results.Close()
	}
	if b.store != nil {
		_ = b.store.Close()
	}
}
