// Package aggregate folds a trade stream into fixed-width chart buckets.
package aggregate

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"livetape/internal/market"
)

// Range is the chart time-range selector.
type Range string

const (
	Range1H  Range = "1H"
	Range1D  Range = "1D"
	Range7D  Range = "7D"
	Range1M  Range = "1M"
	RangeAll Range = "ALL"
)

// Ranges lists the selectors in display order.
var Ranges = []Range{Range1H, Range1D, Range7D, Range1M, RangeAll}

var ErrUnknownRange = errors.New("unknown range")

// ParseRange accepts a selector case-insensitively.
func ParseRange(raw string) (Range, error) {
	r := Range(strings.ToUpper(strings.TrimSpace(raw)))
	for _, known := range Ranges {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRange, raw)
}

// Width returns the bucket width used for the range.
func (r Range) Width() time.Duration {
	switch r {
	case Range1H, Range1D:
		return 10 * time.Second
	case Range7D:
		return time.Minute
	default:
		return time.Hour
	}
}

// BucketStart aligns an epoch-millisecond timestamp to the start of its bucket.
// Alignment is in UTC epoch time.
func BucketStart(ts int64, width time.Duration) int64 {
	w := width.Milliseconds()
	start := ts - ts%w
	if ts < 0 && ts%w != 0 {
		start -= w
	}
	return start
}

// Aggregate buckets trades for charting. The input is not modified and may be in any
// order; the output is ascending by bucket start with one entry per bucket. Input
// already ordered by time, oldest or newest first, is walked without copying.
func Aggregate(trades []market.Trade, r Range) []market.Bucket {
	if len(trades) == 0 {
		return []market.Bucket{}
	}

	n := len(trades)
	at := func(i int) *market.Trade { return &trades[i] }
	switch {
	case ordered(trades, func(a, b int64) bool { return a <= b }):
	case ordered(trades, func(a, b int64) bool { return a >= b }):
		at = func(i int) *market.Trade { return &trades[n-1-i] }
	default:
		sorted := make([]market.Trade, n)
		copy(sorted, trades)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Timestamp < sorted[j].Timestamp
		})
		at = func(i int) *market.Trade { return &sorted[i] }
	}

	width := r.Width()
	byStart := make(map[int64]*market.Bucket)
	order := make([]int64, 0)
	for i := 0; i < n; i++ {
		t := at(i)
		start := BucketStart(t.Timestamp, width)
		b, ok := byStart[start]
		if !ok {
			b = &market.Bucket{
				Timestamp: start,
				Open:      t.Price,
				High:      t.Price,
				Low:       t.Price,
				Close:     t.Price,
			}
			byStart[start] = b
			order = append(order, start)
		}
		if t.Price > b.High {
			b.High = t.Price
		}
		if t.Price < b.Low {
			b.Low = t.Price
		}
		b.Close = t.Price
		b.Price = t.Price
		b.Volume += t.Amount
	}

	// Trades were visited in ascending order, so bucket starts already are.
	out := make([]market.Bucket, 0, len(order))
	for _, start := range order {
		out = append(out, *byStart[start])
	}
	return out
}

func ordered(trades []market.Trade, inOrder func(a, b int64) bool) bool {
	for i := 1; i < len(trades); i++ {
		if !inOrder(trades[i-1].Timestamp, trades[i].Timestamp) {
			return false
		}
	}
	return true
}
