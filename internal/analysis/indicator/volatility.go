package indicator

import (
	"math"

	"github.com/markcheno/go-talib"

	"trendflip/internal/market"
)

// TrueRange 返回单根 K 线的真实波幅；首根（无前收盘）取 H-L。
func TrueRange(bar market.Bar, prevClose float64, hasPrev bool) float64 {
	hl := bar.High - bar.Low
	if !hasPrev {
		return hl
	}
	return math.Max(hl, math.Max(math.Abs(bar.High-prevClose), math.Abs(bar.Low-prevClose)))
}

// TrueRangeSeries 批量计算真实波幅，i>=1 由 talib.TRange 给出。
func TrueRangeSeries(bars []market.Bar) []float64 {
	n := len(bars)
	if n == 0 {
		return nil
	}
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i, b := range bars {
		highs[i] = b.High
		lows[i] = b.Low
		closes[i] = b.Close
	}
	tr := make([]float64, n)
	tr[0] = highs[0] - lows[0]
	if n > 1 {
		copy(tr[1:], talib.TRange(highs, lows, closes)[1:])
	}
	return tr
}

// WilderSeries 对序列做 Wilder 平滑：第 L-1 位以前 L 个值的均值为种子，
// 之后 v[i] = v[i-1] + (x[i]-v[i-1])/L；未定义处为 NaN。
func WilderSeries(values []float64, length int) []float64 {
	out := make([]float64, len(values))
	w := NewWilder(length)
	for i, x := range values {
		if v, ok := w.Next(x); ok {
			out[i] = v
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// VolatilitySeries 返回每根 K 线的 Wilder 平滑真实波幅。
func VolatilitySeries(bars []market.Bar, length int) []float64 {
	return WilderSeries(TrueRangeSeries(bars), length)
}

// Wilder 是增量版的 Wilder 平滑器。
type Wilder struct {
	length int
	count  int
	sum    float64
	value  float64
}

func NewWilder(length int) *Wilder {
	if length < 1 {
		length = 1
	}
	return &Wilder{length: length}
}

// Next 喂入一个新值，返回平滑结果以及该结果是否已定义。
func (w *Wilder) Next(x float64) (float64, bool) {
	w.count++
	if w.count < w.length {
		w.sum += x
		return math.NaN(), false
	}
	if w.count == w.length {
		w.sum += x
		w.value = w.sum / float64(w.length)
		return w.value, true
	}
	w.value += (x - w.value) / float64(w.length)
	return w.value, true
}

// Volatility 逐根计算 Wilder 平滑的真实波幅。
type Volatility struct {
	smoother  *Wilder
	prevClose float64
	hasPrev   bool
}

func NewVolatility(length int) *Volatility {
	return &Volatility{smoother: NewWilder(length)}
}

// Next 推进一根 K 线。
func (v *Volatility) Next(bar market.Bar) (float64, bool) {
	tr := TrueRange(bar, v.prevClose, v.hasPrev)
	v.prevClose = bar.Close
	v.hasPrev = true
	return v.smoother.Next(tr)
}
