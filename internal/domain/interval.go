package domain

import (
	"fmt"
	"strings"
	"time"
)

// Interval candle granularity paired with the time range it is displayed over.
type Interval string

const (
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval8h  Interval = "8h"
	Interval1d  Interval = "1d"
	Interval3d  Interval = "3d"
)

type intervalSpec struct {
	label    string
	duration time.Duration
	lookback int
}

var intervalSpecs = map[Interval]intervalSpec{
	Interval15m: {label: "1d", duration: 15 * time.Minute, lookback: 96},
	Interval1h:  {label: "5d", duration: time.Hour, lookback: 120},
	Interval8h:  {label: "1m", duration: 8 * time.Hour, lookback: 90},
	Interval1d:  {label: "6m", duration: 24 * time.Hour, lookback: 180},
	Interval3d:  {label: "1y", duration: 72 * time.Hour, lookback: 122},
}

// Intervals lists the supported intervals in display order.
func Intervals() []Interval {
	return []Interval{Interval15m, Interval1h, Interval8h, Interval1d, Interval3d}
}

// ParseInterval validates a granularity string such as "1h".
func ParseInterval(s string) (Interval, error) {
	i := Interval(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := intervalSpecs[i]; !ok {
		return "", fmt.Errorf("unsupported interval %q", s)
	}
	return i, nil
}

// Label is the display range, e.g. "5d" for 1h candles.
func (i Interval) Label() string { return intervalSpecs[i].label }

// Duration of a single candle.
func (i Interval) Duration() time.Duration { return intervalSpecs[i].duration }

// Lookback is the number of candles that cover the display range.
func (i Interval) Lookback() int { return intervalSpecs[i].lookback }

func (i Interval) String() string { return string(i) }
