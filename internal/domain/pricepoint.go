package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint is a single candle of one symbol at one interval.
type PricePoint struct {
	OpenTime   time.Time       `json:"open_time"`
	ClosePrice decimal.Decimal `json:"close_price"`
}

// NormalizeSeries returns the points ordered oldest-first with one point per open time.
// When a provider reports the same open time twice the later report wins.
// The input slice is not modified.
func NormalizeSeries(points []PricePoint) []PricePoint {
	if len(points) == 0 {
		return nil
	}

	out := make([]PricePoint, len(points))
	copy(out, points)
	slices.SortStableFunc(out, func(a, b PricePoint) int {
		return a.OpenTime.Compare(b.OpenTime)
	})

	dedup := out[:1]
	for _, p := range out[1:] {
		last := &dedup[len(dedup)-1]
		if p.OpenTime.Equal(last.OpenTime) {
			*last = p
			continue
		}
		dedup = append(dedup, p)
	}
	return dedup
}

// IsOldestFirst reports whether open times strictly increase.
func IsOldestFirst(points []PricePoint) bool {
	for i := 1; i < len(points); i++ {
		if !points[i].OpenTime.After(points[i-1].OpenTime) {
			return false
		}
	}
	return true
}
