package provider

import (
	"context"
	"math"
	"sort"
	"time"
)

// Bar is one daily OHLCV row. Prices may be NaN when a vendor reports a
// partial session; Volume is always integral.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// HasNaN reports whether any price field is NaN.
func (b Bar) HasNaN() bool {
	return math.IsNaN(b.Open) || math.IsNaN(b.High) || math.IsNaN(b.Low) || math.IsNaN(b.Close)
}

// Empty reports whether every price field is NaN.
func (b Bar) Empty() bool {
	return math.IsNaN(b.Open) && math.IsNaN(b.High) && math.IsNaN(b.Low) && math.IsNaN(b.Close)
}

// Series is the normalized shape returned by all adapters: ascending by
// date with unique dates.
type Series []Bar

// Normalize sorts by date, drops all-NaN rows and collapses duplicate dates
// (the later row wins). Dates are truncated to UTC midnight.
func (s Series) Normalize() Series {
	if len(s) == 0 {
		return s
	}
	rows := make(Series, 0, len(s))
	for _, b := range s {
		if b.Empty() {
			continue
		}
		d := b.Date.UTC()
		b.Date = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
		rows = append(rows, b)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
	out := rows[:0]
	for _, b := range rows {
		if n := len(out); n > 0 && out[n-1].Date.Equal(b.Date) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}

// Last returns the most recent row.
func (s Series) Last() (Bar, bool) {
	if len(s) == 0 {
		return Bar{}, false
	}
	return s[len(s)-1], true
}

// LastClose returns the most recent non-NaN close.
func (s Series) LastClose() (float64, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if !math.IsNaN(s[i].Close) {
			return s[i].Close, true
		}
	}
	return 0, false
}

// Attributes is a flat set of instrument attributes (quote info or
// fundamentals) keyed by vendor-neutral names.
type Attributes map[string]any

//go:generate mockgen -package=mocks -destination=../../mocks/mock_provider.go -source=provider.go

// Adapter is implemented by every history source. Fetch never panics and
// never returns a synthetic series: failures are reported in Result.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, symbol string, period Period, interval Interval) Result
}

// BulkAdapter fetches many symbols in one request. Symbols the vendor did
// not return are simply missing from the map.
type BulkAdapter interface {
	Name() string
	FetchBulk(ctx context.Context, symbols []string, period Period, interval Interval) (map[string]Series, error)
}

// AttributesAdapter fetches quote info or fundamentals for one symbol.
type AttributesAdapter interface {
	Name() string
	FetchAttributes(ctx context.Context, symbol string) (Attributes, error)
}
