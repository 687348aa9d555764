package strategy

import (
	"math"

	"github.com/shopspring/decimal"
)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

// distancePips 以十进制计算 |a-b|/pip，避免 520.0 这类边界被浮点误差推过上限。
func distancePips(a, b, pip float64) decimal.Decimal {
	return decFromFloat(a).Sub(decFromFloat(b)).Abs().Div(decFromFloat(pip))
}

func withinDistance(entry, band, pip, limit float64) (float64, bool) {
	d := distancePips(entry, band, pip)
	f, _ := d.Float64()
	return f, d.LessThanOrEqual(decFromFloat(limit))
}

// tightenStop 返回只收紧不放宽后的止损价。
func tightenStop(side Side, current, ref float64) float64 {
	cand := decFromFloat(ref)
	curr := decFromFloat(current)
	switch side {
	case SideShort:
		if cand.LessThan(curr) {
			return ref
		}
	default:
		if cand.GreaterThan(curr) {
			return ref
		}
	}
	return current
}

// stopBreached 多头 low<=ref，空头 high>=ref。
func stopBreached(side Side, high, low, ref float64) bool {
	switch side {
	case SideShort:
		return decFromFloat(high).GreaterThanOrEqual(decFromFloat(ref))
	default:
		return decFromFloat(low).LessThanOrEqual(decFromFloat(ref))
	}
}

func pipsBetween(side Side, entry, exit, pip float64) float64 {
	return (exit - entry) / pip * side.Sign()
}
