package strategy

import (
	"trendflip/internal/analysis/indicator"
	"trendflip/internal/market"
)

// positionBook 维护至多一个持仓及其追踪止损。
type positionBook struct {
	pos *Position
}

func (b *positionBook) open() bool { return b.pos != nil }

func (b *positionBook) current() (Position, bool) {
	if b.pos == nil {
		return Position{}, false
	}
	return *b.pos, true
}

func (b *positionBook) enter(side Side, bar market.Bar, stop, distance float64) Position {
	b.pos = &Position{
		Side:         side,
		EntryTime:    bar.Time,
		EntryPrice:   bar.Close,
		CurrentStop:  stop,
		InitialStop:  stop,
		StopDistance: distance,
	}
	return *b.pos
}

// trailRef 方向与持仓一致时跟随当前轨道，否则冻结在上一根的轨道价。
func trailRef(side Side, point indicator.TrendPoint, prior float64, hasPrior bool) (float64, bool) {
	if point.Defined() && point.Direction == side.Direction() {
		return point.Band, true
	}
	return prior, hasPrior
}

// manage 收紧止损并检查离场；离场价取上一根轨道价，缺失时取本根 low/high。
func (b *positionBook) manage(bar market.Bar, point indicator.TrendPoint, prior float64, hasPrior bool, pip float64) (trade Trade, moved, closed bool) {
	p := b.pos
	ref, ok := trailRef(p.Side, point, prior, hasPrior)
	if !ok {
		return Trade{}, false, false
	}
	if next := tightenStop(p.Side, p.CurrentStop, ref); next != p.CurrentStop {
		p.CurrentStop = next
		moved = true
	}
	if !stopBreached(p.Side, bar.High, bar.Low, ref) {
		return Trade{}, moved, false
	}
	exit := bar.Low
	if p.Side == SideShort {
		exit = bar.High
	}
	if hasPrior {
		exit = prior
	}
	trade = Trade{
		EntryTime:    p.EntryTime,
		ExitTime:     bar.Time,
		Side:         p.Side,
		EntryPrice:   p.EntryPrice,
		ExitPrice:    exit,
		InitialStop:  p.InitialStop,
		FinalStop:    p.CurrentStop,
		StopDistance: p.StopDistance,
		Pips:         pipsBetween(p.Side, p.EntryPrice, exit, pip),
		Executed:     true,
	}
	b.pos = nil
	return trade, moved, true
}
