package convert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 5, 13, 15, 0, 0, time.UTC)
	for _, in := range []string{
		"2024-03-05T13:15:00Z",
		"2024-03-05 13:15:00",
		"2024-03-05 13:15:00+00:00",
		"2024-03-05 15:15:00+02:00",
		"\ufeff2024-03-05T13:15:00",
		"1709644500",
		"1709644500000",
	} {
		got, err := ParseTimestamp(in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), "%s -> %s", in, got)
		assert.Equal(t, time.UTC, got.Location(), in)
	}
	_, err := ParseTimestamp("yesterday")
	assert.Error(t, err)
	_, err = ParseTimestamp("")
	assert.Error(t, err)
}

func TestParseFloat(t *testing.T) {
	f, err := ParseFloat(" 2650.25 ")
	require.NoError(t, err)
	assert.Equal(t, 2650.25, f)

	for _, in := range []string{"", "abc", "NaN", "inf"} {
		_, err := ParseFloat(in)
		assert.Error(t, err, in)
	}

	n, err := ParseInt("12.0")
	require.NoError(t, err)
	assert.Equal(t, 12, n)
}
