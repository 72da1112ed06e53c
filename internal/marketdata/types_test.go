package marketdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pt(ts string, close float64) SeriesPoint {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		panic(err)
	}
	return SeriesPoint{Timestamp: t, Close: close}
}

func TestFindClosest(t *testing.T) {
	series := []SeriesPoint{
		pt("2024-05-01T14:00:00Z", 100),
		pt("2024-05-01T14:30:00Z", 101),
		pt("2024-05-01T15:00:00Z", 102),
	}

	t.Run("exact hit", func(t *testing.T) {
		p, ok := FindClosest(series, mustTime("2024-05-01T14:30:00Z"))
		require.True(t, ok)
		assert.Equal(t, 101.0, p.Close)
	})

	t.Run("between points takes the earlier", func(t *testing.T) {
		p, ok := FindClosest(series, mustTime("2024-05-01T14:45:00Z"))
		require.True(t, ok)
		assert.Equal(t, 101.0, p.Close)
	})

	t.Run("after the end takes the last", func(t *testing.T) {
		p, ok := FindClosest(series, mustTime("2024-05-02T00:00:00Z"))
		require.True(t, ok)
		assert.Equal(t, 102.0, p.Close)
	})

	t.Run("before the start falls back to the earliest", func(t *testing.T) {
		p, ok := FindClosest(series, mustTime("2024-04-30T00:00:00Z"))
		require.True(t, ok)
		assert.Equal(t, 100.0, p.Close)
	})

	t.Run("empty series", func(t *testing.T) {
		_, ok := FindClosest(nil, mustTime("2024-05-01T00:00:00Z"))
		assert.False(t, ok)
	})
}

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestDailyToSeriesImputes16UTC(t *testing.T) {
	series := DailyToSeries([]DailyPoint{
		{Date: "2024-05-01", Close: 100},
		{Date: "not-a-date", Close: 50},
		{Date: "2024-05-02", Close: 101},
	})

	require.Len(t, series, 2)
	assert.Equal(t, mustTime("2024-05-01T16:00:00Z"), series[0].Timestamp)
	assert.Equal(t, mustTime("2024-05-02T16:00:00Z"), series[1].Timestamp)
}

func TestValidPrice(t *testing.T) {
	assert.True(t, validPrice(0.01))
	assert.False(t, validPrice(0))
	assert.False(t, validPrice(-1))
}

func TestParseDailyCSV(t *testing.T) {
	body := "Date,Open,High,Low,Close,Volume\r\n" +
		"2024-05-02,4.10,4.20,4.00,4.12,1000\r\n" +
		"2024-05-01,4.00,4.15,3.95,4.05,900\r\n" +
		"garbage line\r\n" +
		"2024-05-03,4.12,4.30,4.10,N/D,1100\r\n"

	series := parseDailyCSV(body)
	require.Len(t, series, 2, "header, garbage and unparsable closes are dropped")
	assert.Equal(t, "2024-05-01", series[0].Date, "rows sorted ascending")
	assert.Equal(t, 4.12, series[1].Close)
}
