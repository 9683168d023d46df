package util

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	require.True(t, ok)
	assert.Equal(t, s, got.UTC().Format(time.RFC3339))
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	require.True(t, ok)
	assert.Equal(t, ts, got.Unix())
}

func TestParseTimeRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "yesterday", "-5", "0"} {
		_, ok := ParseTime(s)
		assert.False(t, ok, s)
	}
}

func TestAlignFromTo(t *testing.T) {
	from := time.Date(2024, 10, 10, 10, 7, 42, 500, time.UTC)
	to := from.Add(time.Hour)

	f, tt := AlignFromTo(from, to, "5m")
	assert.Equal(t, time.Date(2024, 10, 10, 10, 5, 0, 0, time.UTC), f)
	assert.Equal(t, time.Date(2024, 10, 10, 11, 5, 0, 0, time.UTC), tt)

	f, _ = AlignFromTo(from, to, "1s")
	assert.Equal(t, time.Date(2024, 10, 10, 10, 7, 42, 0, time.UTC), f)

	f, _ = AlignFromTo(from, to, "1h")
	assert.Equal(t, time.Date(2024, 10, 10, 10, 7, 0, 0, time.UTC), f)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"EURUSD", "GBPUSD"}, SplitList(" EURUSD, ,GBPUSD,"))
	assert.Nil(t, SplitList(""))
}
