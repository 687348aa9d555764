package backtesthttp

import (
	"time"

	"trendflip/internal/config"
	"trendflip/internal/strategy"
)

type tradeView struct {
	EntryTime    time.Time  `json:"entry_time"`
	ExitTime     *time.Time `json:"exit_time,omitempty"`
	Side         string     `json:"side"`
	EntryPrice   float64    `json:"entry"`
	ExitPrice    *float64   `json:"exit,omitempty"`
	InitialStop  float64    `json:"initial_stop"`
	FinalStop    *float64   `json:"final_stop,omitempty"`
	StopDistance float64    `json:"stop_distance_pips"`
	Pips         *float64   `json:"pips,omitempty"`
	Executed     bool       `json:"executed"`
	Reason       string     `json:"reason,omitempty"`
}

// newTradeView 未成交记录不输出出场字段。
func newTradeView(t strategy.Trade) tradeView {
	v := tradeView{
		EntryTime:    t.EntryTime,
		Side:         string(t.Side),
		EntryPrice:   t.EntryPrice,
		InitialStop:  t.InitialStop,
		StopDistance: t.StopDistance,
		Executed:     t.Executed,
		Reason:       string(t.Reason),
	}
	if t.Executed {
		exitTime, exitPrice, finalStop, pips := t.ExitTime, t.ExitPrice, t.FinalStop, t.Pips
		v.ExitTime = &exitTime
		v.ExitPrice = &exitPrice
		v.FinalStop = &finalStop
		v.Pips = &pips
	}
	return v
}

type strategyView struct {
	TrendLength     int      `json:"trend_length"`
	TrendMultiplier float64  `json:"trend_multiplier"`
	PipSize         float64  `json:"pip_size"`
	MaxStopDistance float64  `json:"max_entry_stop_distance_pips"`
	EntryHours      string   `json:"entry_hours"`
	AllowedSides    []string `json:"allowed_sides"`
	TradableDates   int      `json:"tradable_dates,omitempty"`
	TradableFile    string   `json:"tradable_dates_file,omitempty"`
}

func newStrategyView(sc config.StrategyConfig) strategyView {
	return strategyView{
		TrendLength:     sc.TrendLength,
		TrendMultiplier: sc.TrendMultiplier,
		PipSize:         sc.PipSize,
		MaxStopDistance: sc.MaxStopDistance,
		EntryHours:      sc.EntryHours.String(),
		AllowedSides:    append([]string{}, sc.AllowedSides...),
		TradableDates:   len(sc.TradableDates),
		TradableFile:    sc.TradableDatesFile,
	}
}

type profileView struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Default     bool         `json:"default"`
	Strategy    strategyView `json:"strategy"`
}
