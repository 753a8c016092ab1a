// Package validate sanity-checks a fetched series before it may be cached
// or returned. A rejection is a normal signal to try the next source.
package validate

import (
	"math"

	"marketfeed/internal/provider"
)

// Thresholds are judgment calls kept as configuration rather than derived.
type Thresholds struct {
	MinRows    int     `yaml:"min_rows" validate:"gte=1"`
	MaxPrice   float64 `yaml:"max_price" validate:"gt=0"`
	RecentRows int     `yaml:"recent_rows" validate:"gte=1"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{MinRows: 20, MaxPrice: 10000, RecentRows: 10}
}

type Validator struct {
	t Thresholds
}

func New(t Thresholds) *Validator {
	return &Validator{t: t}
}

func reject(format string, args ...any) error {
	return provider.Errorf(provider.KindValidation, "validator", format, args...)
}

// Validate returns nil for an acceptable series, otherwise a
// KindValidation error naming the first failed check.
func (v *Validator) Validate(s provider.Series) error {
	if len(s) < v.t.MinRows {
		return reject("%d rows, need at least %d", len(s), v.t.MinRows)
	}

	cols := [4]struct {
		name string
		seen bool
	}{{name: "open"}, {name: "high"}, {name: "low"}, {name: "close"}}
	minClose, maxClose := math.Inf(1), math.Inf(-1)
	var maxVol int64
	for _, b := range s {
		for i, p := range [4]float64{b.Open, b.High, b.Low, b.Close} {
			if !math.IsNaN(p) {
				cols[i].seen = true
			}
		}
		if !math.IsNaN(b.Close) {
			minClose = math.Min(minClose, b.Close)
			maxClose = math.Max(maxClose, b.Close)
		}
		maxVol = max(maxVol, b.Volume)
	}
	for _, c := range cols {
		if !c.seen {
			return reject("missing %s column", c.name)
		}
	}
	if minClose <= 0 {
		return reject("min price %.4f is not positive", minClose)
	}
	if maxClose > v.t.MaxPrice {
		return reject("max price %.2f exceeds %.0f", maxClose, v.t.MaxPrice)
	}
	if minClose > maxClose {
		return reject("min price %.4f above max price %.4f", minClose, maxClose)
	}
	if maxVol <= 0 {
		return reject("no volume traded in window")
	}

	start := max(0, len(s)-v.t.RecentRows)
	for _, b := range s[start:] {
		if b.HasNaN() {
			continue
		}
		if b.Low > b.Open || b.Low > b.Close || b.High < b.Open || b.High < b.Close {
			return reject("inconsistent OHLC on %s", b.Date.Format("2006-01-02"))
		}
	}
	return nil
}

func (v *Validator) Valid(s provider.Series) bool { return v.Validate(s) == nil }
