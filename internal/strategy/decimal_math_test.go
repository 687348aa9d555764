package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWithinDistanceIsExactAtTheCap(t *testing.T) {
	d, ok := withinDistance(2650.00, 2644.80, 0.01, 520)
	assert.True(t, ok)
	assert.Equal(t, 520.0, d)

	d, ok = withinDistance(2650.00, 2644.795, 0.01, 520)
	assert.False(t, ok)
	assert.Equal(t, 520.5, d)

	_, ok = withinDistance(2644.80, 2650.00, 0.01, 520)
	assert.True(t, ok, "distance is symmetric")
}

func TestTightenStopNeverLoosens(t *testing.T) {
	assert.Equal(t, 2648.0, tightenStop(SideLong, 2645, 2648))
	assert.Equal(t, 2645.0, tightenStop(SideLong, 2645, 2640))
	assert.Equal(t, 2652.0, tightenStop(SideShort, 2655, 2652))
	assert.Equal(t, 2655.0, tightenStop(SideShort, 2655, 2660))
}

func TestStopBreached(t *testing.T) {
	assert.True(t, stopBreached(SideLong, 2660, 2645, 2645))
	assert.False(t, stopBreached(SideLong, 2660, 2645.01, 2645))
	assert.True(t, stopBreached(SideShort, 2655, 2640, 2655))
	assert.False(t, stopBreached(SideShort, 2654.99, 2640, 2655))
}

func TestPipsBetween(t *testing.T) {
	assert.InDelta(t, 580.0, pipsBetween(SideLong, 2650.00, 2655.80, 0.01), 1e-6)
	assert.InDelta(t, -580.0, pipsBetween(SideShort, 2650.00, 2655.80, 0.01), 1e-6)
}

func TestSideSetAndWindow(t *testing.T) {
	assert.True(t, SideSet(nil).Allows(SideShort))
	assert.False(t, SideSet{SideLong}.Allows(SideShort))

	w := HourWindow{Start: 13, End: 16}
	assert.True(t, w.Contains(session))
	assert.True(t, w.Contains(session.Add(179*time.Minute)))
	assert.False(t, w.Contains(session.Add(180*time.Minute)))

	s, err := ParseSide(" Short ")
	assert.NoError(t, err)
	assert.Equal(t, SideShort, s)
	_, err = ParseSide("flat")
	assert.Error(t, err)
}

func TestAllGates(t *testing.T) {
	yes := GateFunc(func(_ time.Time, _ Side) bool { return true })
	no := GateFunc(func(_ time.Time, _ Side) bool { return false })
	assert.True(t, AllGates().Allow(session, SideLong))
	assert.True(t, AllGates(nil, yes).Allow(session, SideLong))
	assert.False(t, AllGates(yes, no).Allow(session, SideLong))
}
