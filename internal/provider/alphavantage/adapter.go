package alphavantage

import (
	"context"
	"math"
	"time"

	"marketfeed/internal/provider"
)

var nan = math.NaN()

// Adapter serves daily history through TIME_SERIES_DAILY, trimmed to the
// requested period.
type Adapter struct {
	Client *AlphaVantageAPIClient
	Now    func() time.Time
}

func NewAdapter(c *AlphaVantageAPIClient) *Adapter {
	return &Adapter{Client: c, Now: time.Now}
}

func (a *Adapter) Name() string { return a.Client.Name() }

func (a *Adapter) Fetch(ctx context.Context, symbol string, period provider.Period, interval provider.Interval) provider.Result {
	if interval != provider.IntervalDaily {
		return provider.Empty(a.Name(), "only daily bars are served")
	}
	size := Full
	if period == provider.Period1Mo || period == provider.Period3Mo {
		size = Compact
	}
	s, err := a.Client.GetTimeSeriesDaily(ctx, symbol, size)
	if err != nil {
		return provider.Failed(a.Name(), err)
	}
	start := period.Start(a.Now().UTC())
	i := 0
	for i < len(s) && s[i].Date.Before(start) {
		i++
	}
	s = s[i:]
	if len(s) == 0 {
		return provider.Empty(a.Name(), "no rows inside period")
	}
	return provider.OK(s)
}

// Fundamentals serves company overview attributes.
type Fundamentals struct {
	Client *AlphaVantageAPIClient
}

func (f *Fundamentals) Name() string { return f.Client.Name() + "-overview" }

func (f *Fundamentals) FetchAttributes(ctx context.Context, symbol string) (provider.Attributes, error) {
	return f.Client.GetOverview(ctx, symbol)
}
