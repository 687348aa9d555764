package indicator

import (
	"math"

	"trendflip/internal/market"
)

// Direction 是 SuperTrend 方向；Undefined 仅出现在预热期。
type Direction int8

const (
	Undefined Direction = 0
	Up        Direction = 1
	Down      Direction = -1
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return "undefined"
	}
}

// TrendPoint 是单根 K 线上的指标记录。Upper/Lower 为收紧后的轨道值。
type TrendPoint struct {
	Volatility float64
	Upper      float64
	Lower      float64
	Direction  Direction
	Band       float64
}

// Defined 方向与轨道价是否已可用。
func (p TrendPoint) Defined() bool { return p.Direction != Undefined }

func undefinedPoint(vol float64) TrendPoint {
	return TrendPoint{
		Volatility: vol,
		Upper:      math.NaN(),
		Lower:      math.NaN(),
		Band:       math.NaN(),
	}
}

// bandState 保存上一根的轨道与方向，批量与增量计算共用。
type bandState struct {
	multiplier float64
	index      int
	prev       TrendPoint
}

func (s *bandState) advance(bar market.Bar, vol float64, volOK bool) TrendPoint {
	idx := s.index
	s.index++
	if idx == 0 || !volOK {
		s.prev = undefinedPoint(vol)
		return s.prev
	}
	mid := bar.Mid()
	p := TrendPoint{
		Volatility: vol,
		Upper:      mid + s.multiplier*vol,
		Lower:      mid - s.multiplier*vol,
	}
	switch s.prev.Direction {
	case Up:
		p.Lower = math.Max(p.Lower, s.prev.Lower)
		if bar.Close < p.Lower {
			p.Direction, p.Band = Down, p.Upper
		} else {
			p.Direction, p.Band = Up, p.Lower
		}
	case Down:
		p.Upper = math.Min(p.Upper, s.prev.Upper)
		if bar.Close > p.Upper {
			p.Direction, p.Band = Up, p.Lower
		} else {
			p.Direction, p.Band = Down, p.Upper
		}
	default:
		if bar.Close >= mid {
			p.Direction, p.Band = Up, p.Lower
		} else {
			p.Direction, p.Band = Down, p.Upper
		}
	}
	s.prev = p
	return p
}

// SuperTrend 逐根计算趋势方向与轨道价，只依赖当前及之前的 K 线。
type SuperTrend struct {
	vol   *Volatility
	bands bandState
}

func NewSuperTrend(length int, multiplier float64) *SuperTrend {
	return &SuperTrend{
		vol:   NewVolatility(length),
		bands: bandState{multiplier: multiplier},
	}
}

// Next 推进一根 K 线并返回该 K 线的记录。
func (s *SuperTrend) Next(bar market.Bar) TrendPoint {
	v, ok := s.vol.Next(bar)
	return s.bands.advance(bar, v, ok)
}

// ComputeSuperTrend 批量生成每根 K 线的记录，结果与逐根调用 Next 一致。
func ComputeSuperTrend(bars []market.Bar, length int, multiplier float64) []TrendPoint {
	vol := VolatilitySeries(bars, length)
	state := bandState{multiplier: multiplier}
	out := make([]TrendPoint, len(bars))
	for i, b := range bars {
		out[i] = state.advance(b, vol[i], !math.IsNaN(vol[i]))
	}
	return out
}
