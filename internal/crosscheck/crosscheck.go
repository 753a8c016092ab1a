// Package crosscheck compares a primary series against one secondary
// source. It is diagnostic only: it never changes or delays the primary
// result.
package crosscheck

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"marketfeed/internal/diag"
	"marketfeed/internal/provider"
)

// DefaultTolerance is the largest close-price difference, in percent,
// still considered consistent.
var DefaultTolerance = decimal.NewFromInt(2)

type Report struct {
	Symbol     string          `json:"symbol"`
	Consistent bool            `json:"consistent"`
	PctDiff    decimal.Decimal `json:"pct_diff"`
	// Secondary names the source compared against.
	Secondary string `json:"secondary"`
	// Checked is false when the secondary had no data; the report then
	// fails open as consistent.
	Checked bool      `json:"checked"`
	At      time.Time `json:"at"`
}

type Checker struct {
	secondary provider.Adapter
	tolerance decimal.Decimal
	period    provider.Period
	timeout   time.Duration
	rec       *diag.Recorder
	log       *zap.Logger

	// inFlight holds one token per running detached check.
	inFlight chan struct{}
}

// DefaultMaxInFlight bounds the detached checks running at once.
const DefaultMaxInFlight = 2

type Option func(*Checker)

func WithTolerance(pct decimal.Decimal) Option {
	return func(c *Checker) { c.tolerance = pct }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Checker) { c.timeout = d }
}

func WithRecorder(rec *diag.Recorder) Option {
	return func(c *Checker) { c.rec = rec }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Checker) { c.log = log }
}

// WithMaxInFlight bounds the detached checks started by Go. Checks
// requested while the bound is reached are dropped.
func WithMaxInFlight(n int) Option {
	return func(c *Checker) {
		if n > 0 {
			c.inFlight = make(chan struct{}, n)
		}
	}
}

func New(secondary provider.Adapter, opts ...Option) *Checker {
	c := &Checker{
		secondary: secondary,
		tolerance: DefaultTolerance,
		period:    provider.Period1Mo,
		timeout:   30 * time.Second,
		log:       zap.NewNop(),
		inFlight:  make(chan struct{}, DefaultMaxInFlight),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Secondary names the source checks are made against.
func (c *Checker) Secondary() string { return c.secondary.Name() }

// SpotCheck fetches symbol from the secondary and compares closes. When
// the secondary has a bar for the primary's last date that bar is used,
// otherwise its latest close.
func (c *Checker) SpotCheck(ctx context.Context, symbol string, primary provider.Series) Report {
	rep := Report{Symbol: symbol, Consistent: true, Secondary: c.secondary.Name(), At: time.Now().UTC()}
	last, ok := primary.Last()
	if !ok || last.HasNaN() {
		return rep
	}
	res := c.secondary.Fetch(ctx, symbol, c.period, provider.IntervalDaily)
	if !res.OK() {
		c.log.Debug("cross-check skipped", zap.String("symbol", symbol), zap.String("reason", res.Reason()))
		return rep
	}

	other, found := closeOn(res.Series, last.Date)
	if !found {
		if other, found = res.Series.LastClose(); !found {
			return rep
		}
	}
	a := decimal.NewFromFloat(last.Close)
	b := decimal.NewFromFloat(other)
	if a.IsZero() {
		return rep
	}

	rep.Checked = true
	rep.PctDiff = b.Sub(a).Abs().Div(a).Mul(decimal.NewFromInt(100)).Round(4)
	rep.Consistent = rep.PctDiff.LessThanOrEqual(c.tolerance)
	if !rep.Consistent {
		c.log.Warn("sources disagree",
			zap.String("symbol", symbol),
			zap.String("secondary", rep.Secondary),
			zap.String("pct_diff", rep.PctDiff.String()))
		if c.rec != nil {
			c.rec.Record(diag.FetchAttempt{
				RunID:    diag.RunID(ctx),
				Symbol:   symbol,
				Provider: rep.Secondary,
				Outcome:  provider.OutcomeInvalid,
				Reason:   "cross-check: close differs by " + rep.PctDiff.String() + "%",
			})
		}
	}
	return rep
}

// Go runs SpotCheck in its own goroutine with its own timeout and reports
// whether a check was started. No check is started when source is the
// secondary itself or when the in-flight bound is reached. onDone may be
// nil.
func (c *Checker) Go(symbol, source string, primary provider.Series, onDone func(Report)) bool {
	if source == c.secondary.Name() {
		return false
	}
	select {
	case c.inFlight <- struct{}{}:
	default:
		c.log.Debug("cross-check dropped", zap.String("symbol", symbol))
		return false
	}
	go func() {
		defer func() { <-c.inFlight }()
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		rep := c.SpotCheck(ctx, symbol, primary)
		if onDone != nil {
			onDone(rep)
		}
	}()
	return true
}

func closeOn(s provider.Series, day time.Time) (float64, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i].Date.Equal(day) {
			if s[i].HasNaN() {
				return 0, false
			}
			return s[i].Close, true
		}
		if s[i].Date.Before(day) {
			break
		}
	}
	return 0, false
}
