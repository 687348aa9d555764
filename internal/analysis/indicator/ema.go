package indicator

import (
	"math"

	"github.com/markcheno/go-talib"
)

// EMA 用 talib 计算指数均线，种子为前 period 个值的简单均值；预热期为 NaN。
func EMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period < 1 || len(values) < period {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	copy(out, talib.Ema(values, period))
	for i := 0; i < period-1; i++ {
		out[i] = math.NaN()
	}
	return out
}

// EWM 是以首个值为种子的递推指数均线（alpha = 2/(span+1)），从第一个值起即有定义。
func EWM(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	if span < 1 {
		span = 1
	}
	alpha := 2 / (float64(span) + 1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}
