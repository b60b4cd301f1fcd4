package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livetape/internal/market"
)

func createTestTrade(ts int64, price, amount float64) market.Trade {
	return market.Trade{
		Timestamp: ts,
		Symbol:    "BTC/USDT",
		Price:     price,
		Amount:    amount,
		Side:      market.SideBuy,
	}
}

func TestParseRange(t *testing.T) {
	for _, r := range Ranges {
		got, err := ParseRange(string(r))
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}

	got, err := ParseRange(" all ")
	require.NoError(t, err)
	assert.Equal(t, RangeAll, got)

	_, err = ParseRange("5m")
	assert.ErrorIs(t, err, ErrUnknownRange)
}

func TestRangeWidth(t *testing.T) {
	assert.Equal(t, 10*time.Second, Range1H.Width())
	assert.Equal(t, 10*time.Second, Range1D.Width())
	assert.Equal(t, time.Minute, Range7D.Width())
	assert.Equal(t, time.Hour, Range1M.Width())
	assert.Equal(t, time.Hour, RangeAll.Width())
}

func TestBucketStart(t *testing.T) {
	assert.Equal(t, int64(0), BucketStart(1000, 10*time.Second))
	assert.Equal(t, int64(10000), BucketStart(19999, 10*time.Second))
	assert.Equal(t, int64(60000), BucketStart(60000, time.Minute))
	assert.Equal(t, int64(-10000), BucketStart(-1, 10*time.Second))
}

func TestAggregateEmpty(t *testing.T) {
	buckets := Aggregate(nil, Range1H)
	assert.NotNil(t, buckets)
	assert.Empty(t, buckets)
}

func TestAggregateSingleTrade(t *testing.T) {
	buckets := Aggregate([]market.Trade{createTestTrade(1_700_000_003_000, 101.5, 0.75)}, Range1H)
	require.Len(t, buckets, 1)
	b := buckets[0]
	assert.Equal(t, int64(1_700_000_000_000), b.Timestamp)
	assert.Equal(t, 101.5, b.Open)
	assert.Equal(t, 101.5, b.Close)
	assert.Equal(t, 101.5, b.Price)
	assert.Equal(t, 0.75, b.Volume)
}

func TestAggregateSameBucket(t *testing.T) {
	trades := []market.Trade{
		createTestTrade(1000, 100, 1),
		createTestTrade(1004, 102, 2),
	}
	buckets := Aggregate(trades, Range1H)
	require.Len(t, buckets, 1)
	b := buckets[0]
	assert.LessOrEqual(t, b.Timestamp, int64(1000))
	assert.Equal(t, 100.0, b.Open)
	assert.Equal(t, 102.0, b.Close)
	assert.Equal(t, 3.0, b.Volume)
	assert.Equal(t, 102.0, b.High)
	assert.Equal(t, 100.0, b.Low)
}

func TestAggregateSortsNewestFirstInput(t *testing.T) {
	// Store order: most recent first.
	trades := []market.Trade{
		createTestTrade(25_000, 105, 1),
		createTestTrade(12_000, 99, 1),
		createTestTrade(11_000, 101, 1),
		createTestTrade(2_000, 100, 2),
	}
	original := append([]market.Trade(nil), trades...)

	buckets := Aggregate(trades, Range1H)
	require.Len(t, buckets, 3)
	assert.Equal(t, []int64{0, 10_000, 20_000}, []int64{buckets[0].Timestamp, buckets[1].Timestamp, buckets[2].Timestamp})

	assert.Equal(t, 101.0, buckets[1].Open)
	assert.Equal(t, 99.0, buckets[1].Close)
	assert.Equal(t, 2.0, buckets[1].Volume)

	assert.Equal(t, original, trades, "input must not be mutated")
}

func TestAggregateWidthByRange(t *testing.T) {
	trades := []market.Trade{
		createTestTrade(0, 1, 1),
		createTestTrade(15_000, 2, 1),
		createTestTrade(70_000, 3, 1),
		createTestTrade(3_700_000, 4, 1),
	}
	assert.Len(t, Aggregate(trades, Range1H), 4)
	assert.Len(t, Aggregate(trades, Range1D), 4)
	assert.Len(t, Aggregate(trades, Range7D), 3)
	assert.Len(t, Aggregate(trades, Range1M), 2)
	assert.Len(t, Aggregate(trades, RangeAll), 2)
}

func TestAggregateStableForEqualTimestamps(t *testing.T) {
	trades := []market.Trade{
		createTestTrade(5_000, 10, 1),
		createTestTrade(5_000, 20, 1),
	}
	buckets := Aggregate(trades, Range1H)
	require.Len(t, buckets, 1)
	assert.Equal(t, 10.0, buckets[0].Open)
	assert.Equal(t, 20.0, buckets[0].Close)
}

func TestAggregateNewestFirstMatchesOldestFirst(t *testing.T) {
	oldestFirst := make([]market.Trade, 0, 300)
	for i := 0; i < 300; i++ {
		oldestFirst = append(oldestFirst, createTestTrade(int64(i)*4_000, 100+float64(i%17), 0.5))
	}
	newestFirst := make([]market.Trade, len(oldestFirst))
	for i, tr := range oldestFirst {
		newestFirst[len(oldestFirst)-1-i] = tr
	}
	for _, r := range Ranges {
		assert.Equal(t, Aggregate(oldestFirst, r), Aggregate(newestFirst, r), "range %s", r)
	}
}

func TestAggregateNewestFirstTiesCloseOnNewest(t *testing.T) {
	// Store order: the later of two same-millisecond trades comes first.
	trades := []market.Trade{
		createTestTrade(9_000, 30, 1),
		createTestTrade(5_000, 20, 1),
		createTestTrade(5_000, 10, 1),
	}
	buckets := Aggregate(trades, Range1H)
	require.Len(t, buckets, 1)
	assert.Equal(t, 10.0, buckets[0].Open)
	assert.Equal(t, 30.0, buckets[0].Close)
	assert.Equal(t, 3.0, buckets[0].Volume)
}

func TestAggregateIdempotentAndStrictlyAscending(t *testing.T) {
	trades := make([]market.Trade, 0, 500)
	for i := 0; i < 500; i++ {
		// Interleave timestamps so the input is far from sorted.
		ts := int64((i*7919)%500) * 1_337
		trades = append(trades, createTestTrade(ts, 100+float64(i%13), 0.1))
	}

	for _, r := range Ranges {
		first := Aggregate(trades, r)
		second := Aggregate(trades, r)
		assert.Equal(t, first, second, "range %s", r)

		for i := 1; i < len(first); i++ {
			assert.Less(t, first[i-1].Timestamp, first[i].Timestamp, "range %s", r)
		}
	}
}
