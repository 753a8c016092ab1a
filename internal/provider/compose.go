package provider

import (
	"context"
	"strings"
)

// FirstOf tries each member in order and returns the first success. It is
// how several keyed free-tier sources are presented as one tier. When
// Accept is set a member's series must also pass it, so a member that
// answers with unusable data does not hide the members after it.
type FirstOf struct {
	Label   string
	Members []Adapter
	Accept  func(Series) error
}

func (f *FirstOf) Name() string { return f.Label }

func (f *FirstOf) Fetch(ctx context.Context, symbol string, period Period, interval Interval) Result {
	if len(f.Members) == 0 {
		return Empty(f.Label, "no member sources configured")
	}
	var last Result
	for _, m := range f.Members {
		last = m.Fetch(ctx, symbol, period, interval)
		if last.OK() && f.Accept != nil {
			if err := f.Accept(last.Series.Normalize()); err != nil {
				last = Failed(m.Name(), err)
			}
		}
		if last.OK() {
			return last
		}
		if ctx.Err() != nil {
			break
		}
	}
	return last
}

// ShorterPeriods retries the wrapped adapter with each period shorter than
// the requested one. Vendors that refuse long ranges for thinly traded
// tickers often answer a shorter window.
type ShorterPeriods struct {
	Adapter Adapter
}

func (s *ShorterPeriods) Name() string { return s.Adapter.Name() + "-shorter" }

func (s *ShorterPeriods) Fetch(ctx context.Context, symbol string, period Period, interval Interval) Result {
	shorter := period.ShorterThan()
	if len(shorter) == 0 {
		return Empty(s.Name(), "no shorter period than "+string(period))
	}
	var last Result
	for _, p := range shorter {
		last = s.Adapter.Fetch(ctx, symbol, p, interval)
		if last.OK() {
			return last
		}
		if last.Kind() == KindRateLimited || ctx.Err() != nil {
			break
		}
	}
	return last
}

// DemoOnly restricts an adapter to a single named symbol. Anything else is
// reported as empty without a network call.
type DemoOnly struct {
	Adapter Adapter
	Symbol  string
}

func (d *DemoOnly) Name() string { return d.Adapter.Name() + "-demo" }

func (d *DemoOnly) Fetch(ctx context.Context, symbol string, period Period, interval Interval) Result {
	if !strings.EqualFold(strings.TrimSpace(symbol), d.Symbol) {
		return Empty(d.Name(), "demo source only serves "+d.Symbol)
	}
	return d.Adapter.Fetch(ctx, d.Symbol, period, interval)
}

// Single exposes a BulkAdapter as a one-symbol Adapter.
type Single struct {
	Bulk BulkAdapter
}

func (s *Single) Name() string { return s.Bulk.Name() }

func (s *Single) Fetch(ctx context.Context, symbol string, period Period, interval Interval) Result {
	got, err := s.Bulk.FetchBulk(ctx, []string{symbol}, period, interval)
	if err != nil {
		return Failed(s.Name(), err)
	}
	series, ok := got[symbol]
	if !ok || len(series) == 0 {
		return Empty(s.Name(), "symbol not in bulk response")
	}
	return OK(series)
}
