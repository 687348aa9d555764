package market

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(h, m int) time.Time {
	return time.Date(2024, 1, 2, h, m, 0, 0, time.UTC)
}

func TestValidateRejectsNonIncreasingTimestamps(t *testing.T) {
	bars := []Bar{
		{Time: at(13, 0), Open: 1, High: 2, Low: 0.5, Close: 1.5},
		{Time: at(13, 0), Open: 1, High: 2, Low: 0.5, Close: 1.5},
	}
	err := Validate(bars)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSeries)
}

func TestValidateRejectsMissingFields(t *testing.T) {
	bars := []Bar{{Time: at(13, 0), Open: 1, High: math.NaN(), Low: 0.5, Close: 1.5}}
	assert.ErrorIs(t, Validate(bars), ErrInvalidSeries)
	assert.ErrorIs(t, Validate([]Bar{{Open: 1, High: 2, Low: 0.5, Close: 1}}), ErrInvalidSeries)
	assert.NoError(t, Validate(nil))
}

func TestReadCSV(t *testing.T) {
	in := "\ufefftimestamp,Open,High,Low,Close,Volume\n" +
		"2024-01-02 13:00:00,2650,2652,2649,2651,10\n" +
		"2024-01-02T13:01:00Z,2651,2653,2650,2652,\n"
	bars, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, at(13, 0), bars[0].Time)
	assert.Equal(t, 2652.0, bars[0].High)
	assert.Equal(t, 10.0, bars[0].Volume)
	assert.Equal(t, 0.0, bars[1].Volume)
	assert.True(t, bars[1].Bullish())
}

func TestReadCSVFailsFast(t *testing.T) {
	cases := map[string]string{
		"missing column": "timestamp,Open,High,Close\n2024-01-02 13:00:00,1,2,1\n",
		"empty cell":     "timestamp,Open,High,Low,Close\n2024-01-02 13:00:00,1,,0.5,1\n",
		"bad time":       "timestamp,Open,High,Low,Close\nnot-a-time,1,2,0.5,1\n",
		"out of order": "timestamp,Open,High,Low,Close\n" +
			"2024-01-02 13:01:00,1,2,0.5,1\n2024-01-02 13:00:00,1,2,0.5,1\n",
		"empty": "",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(body))
			assert.ErrorIs(t, err, ErrInvalidSeries)
		})
	}
}

func TestWriteCSVRoundTrip(t *testing.T) {
	bars := []Bar{
		{Time: at(13, 0), Open: 2650, High: 2652.5, Low: 2649, Close: 2651, Volume: 3},
		{Time: at(13, 1), Open: 2651, High: 2653, Low: 2650.25, Close: 2650.5},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, bars))
	got, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, bars, got)
}

func TestClipAndFilterDates(t *testing.T) {
	day1 := time.Date(2024, 1, 1, 23, 59, 0, 0, time.UTC)
	day2 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	day3 := time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)
	bars := []Bar{{Time: day1}, {Time: day2}, {Time: day3}}

	clipped := Clip(bars, day2, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC))
	require.Len(t, clipped, 1)
	assert.Equal(t, day2, clipped[0].Time)

	set, err := NewDateSet([]string{"2024-01-01", "2024-01-03", " "})
	require.NoError(t, err)
	filtered := FilterDates(bars, set)
	require.Len(t, filtered, 2)
	assert.Equal(t, day1, filtered[0].Time)
	assert.Equal(t, day3, filtered[1].Time)

	assert.Len(t, FilterDates(bars, nil), 3)

	_, err = NewDateSet([]string{"2024-02-30"})
	assert.Error(t, err)
}

func TestDateSetIntersect(t *testing.T) {
	a, _ := NewDateSet([]string{"2024-01-01", "2024-01-02"})
	b, _ := NewDateSet([]string{"2024-01-02", "2024-01-03"})
	assert.Equal(t, []string{"2024-01-02"}, a.Intersect(b).Sorted())
}

func TestSortDedupeKeepsLast(t *testing.T) {
	bars := []Bar{
		{Time: at(13, 1), Close: 2},
		{Time: at(13, 0), Close: 1},
		{Time: at(13, 1), Close: 3},
	}
	got := SortDedupe(bars)
	require.Len(t, got, 2)
	assert.Equal(t, 1.0, got[0].Close)
	assert.Equal(t, 3.0, got[1].Close)
}
