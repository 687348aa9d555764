package backtest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"trendflip/internal/market"
	"trendflip/internal/pkg/convert"
	symbolpkg "trendflip/internal/pkg/symbol"
)

const maxKlineLimit = 1500

// BinanceSource 基于 go-binance SDK 拉取 USDT 合约 K 线。
type BinanceSource struct {
	client *futures.Client
}

func NewBinanceSource(baseURL, apiKey, secretKey string) *BinanceSource {
	client := futures.NewClient(apiKey, secretKey)
	if base := strings.TrimSpace(baseURL); base != "" {
		client.BaseURL = base
	}
	client.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	return &BinanceSource{client: client}
}

func (b *BinanceSource) Name() string { return "binance" }

func (b *BinanceSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Bar, error) {
	if strings.TrimSpace(req.Symbol) == "" || strings.TrimSpace(req.Interval) == "" {
		return nil, fmt.Errorf("symbol/interval is required")
	}
	limit := req.Limit
	if limit <= 0 || limit > maxKlineLimit {
		limit = 1000
	}
	svc := b.client.NewKlinesService().
		Symbol(symbolpkg.Binance.ToExchange(req.Symbol)).
		Interval(strings.ToLower(req.Interval)).
		Limit(limit)
	if !req.Start.IsZero() {
		svc = svc.StartTime(req.Start.UnixMilli())
	}
	if !req.End.IsZero() {
		svc = svc.EndTime(req.End.UnixMilli())
	}
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s %s: %w", req.Symbol, req.Interval, err)
	}
	return klinesToBars(kls)
}

func klinesToBars(kls []*futures.Kline) ([]market.Bar, error) {
	out := make([]market.Bar, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		bar := market.Bar{Time: time.UnixMilli(kl.OpenTime).UTC()}
		fields := []struct {
			raw string
			dst *float64
		}{
			{kl.Open, &bar.Open},
			{kl.High, &bar.High},
			{kl.Low, &bar.Low},
			{kl.Close, &bar.Close},
			{kl.Volume, &bar.Volume},
		}
		for _, f := range fields {
			v, err := convert.ParseFloat(f.raw)
			if err != nil {
				return nil, fmt.Errorf("kline %d: %w", kl.OpenTime, err)
			}
			*f.dst = v
		}
		out = append(out, bar)
	}
	return out, nil
}
