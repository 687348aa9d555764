package indicator

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendflip/internal/market"
)

func mkBars(rows [][4]float64) []market.Bar {
	start := time.Date(2024, 1, 2, 13, 0, 0, 0, time.UTC)
	out := make([]market.Bar, len(rows))
	for i, r := range rows {
		out[i] = market.Bar{Time: start.Add(time.Duration(i) * time.Minute), Open: r[0], High: r[1], Low: r[2], Close: r[3]}
	}
	return out
}

func randomWalk(n int, seed int64) []market.Bar {
	rng := rand.New(rand.NewSource(seed))
	rows := make([][4]float64, n)
	price := 2650.0
	for i := range rows {
		open := price
		price += rng.NormFloat64() * 1.5
		high := math.Max(open, price) + rng.Float64()
		low := math.Min(open, price) - rng.Float64()
		rows[i] = [4]float64{open, high, low, price}
	}
	return mkBars(rows)
}

func TestVolatilityWilderSeed(t *testing.T) {
	bars := mkBars([][4]float64{
		{9, 10, 8, 9},
		{9, 11, 9, 10},
		{10, 12, 9, 11},
		{11, 12, 11, 11.5},
	})
	got := VolatilitySeries(bars, 3)
	require.Len(t, got, 4)
	assert.True(t, math.IsNaN(got[0]))
	assert.True(t, math.IsNaN(got[1]))
	assert.InDelta(t, 7.0/3.0, got[2], 1e-12)
	assert.InDelta(t, 17.0/9.0, got[3], 1e-12)

	vol := NewVolatility(3)
	for i, b := range bars {
		v, ok := vol.Next(b)
		if i < 2 {
			assert.False(t, ok)
			continue
		}
		require.True(t, ok)
		assert.InDelta(t, got[i], v, 1e-12)
	}
}

func TestTrueRangeSeriesMatchesScalar(t *testing.T) {
	bars := randomWalk(200, 7)
	series := TrueRangeSeries(bars)
	for i, b := range bars {
		prev := 0.0
		if i > 0 {
			prev = bars[i-1].Close
		}
		assert.InDelta(t, TrueRange(b, prev, i > 0), series[i], 1e-9, "bar %d", i)
	}
	assert.Nil(t, TrueRangeSeries(nil))
}

func TestSuperTrendBandsClampAndFlip(t *testing.T) {
	bars := mkBars([][4]float64{
		{100, 101, 99, 100.5},
		{100.5, 102, 100, 101.5},
		{101.5, 103, 101, 102.5},
		{102.5, 102.5, 101.5, 102},
		{102, 102, 98, 98.5},
		{98.5, 99, 97, 97.5},
		{97.5, 99, 96, 98},
	})
	points := ComputeSuperTrend(bars, 1, 1)

	assert.False(t, points[0].Defined())
	want := []struct {
		dir  Direction
		band float64
	}{
		{Up, 99}, {Up, 100}, {Up, 101}, {Down, 104}, {Down, 100}, {Down, 100},
	}
	for i, w := range want {
		p := points[i+1]
		assert.Equal(t, w.dir, p.Direction, "bar %d", i+1)
		assert.InDelta(t, w.band, p.Band, 1e-12, "bar %d", i+1)
	}
}

func TestSuperTrendStreamingMatchesBatch(t *testing.T) {
	bars := randomWalk(500, 42)
	batch := ComputeSuperTrend(bars, 10, 3.6)
	st := NewSuperTrend(10, 3.6)
	for i, b := range bars {
		p := st.Next(b)
		assert.Equal(t, batch[i].Direction, p.Direction, "bar %d", i)
		if p.Defined() {
			assert.InDelta(t, batch[i].Band, p.Band, 1e-9, "bar %d", i)
		}
	}
}

func TestSuperTrendDirectionAndBandInvariants(t *testing.T) {
	for _, length := range []int{1, 2, 10} {
		bars := randomWalk(800, int64(length))
		points := ComputeSuperTrend(bars, length, 3)
		first := length - 1
		if first < 1 {
			first = 1
		}
		for i, p := range points {
			if i < first {
				assert.False(t, p.Defined(), "L=%d bar %d", length, i)
				continue
			}
			require.True(t, p.Direction == Up || p.Direction == Down, "L=%d bar %d", length, i)
			prev := points[i-1]
			if !prev.Defined() || prev.Direction != p.Direction {
				continue
			}
			if p.Direction == Up {
				assert.GreaterOrEqual(t, p.Band, prev.Band, "L=%d bar %d", length, i)
			} else {
				assert.LessOrEqual(t, p.Band, prev.Band, "L=%d bar %d", length, i)
			}
		}
	}
}

func TestEMAWarmup(t *testing.T) {
	got := EMA([]float64{1, 2, 3, 4, 5}, 3)
	assert.True(t, math.IsNaN(got[0]))
	assert.True(t, math.IsNaN(got[1]))
	assert.InDelta(t, 2.0, got[2], 1e-12)
	assert.InDelta(t, 3.0, got[3], 1e-12)
	assert.InDelta(t, 4.0, got[4], 1e-12)

	short := EMA([]float64{1, 2}, 3)
	assert.True(t, math.IsNaN(short[0]) && math.IsNaN(short[1]))
}

func TestEWMSeedsFromFirstValue(t *testing.T) {
	got := EWM([]float64{1, 2, 3, 4, 5}, 3)
	want := []float64{1, 1.5, 2.25, 3.125, 4.0625}
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-12, "index %d", i)
	}
	assert.Empty(t, EWM(nil, 200))

	long := EWM([]float64{7, 9}, 200)
	assert.Equal(t, 7.0, long[0])
	assert.InDelta(t, 7+2*(2.0/201), long[1], 1e-12)
}
