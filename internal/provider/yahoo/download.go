package yahoo

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"marketfeed/internal/provider"
)

// defaultDownloadConcurrency bounds the per-symbol requests Download keeps
// in flight when Concurrency is unset.
const defaultDownloadConcurrency = 4

// Range asks the second host for one symbol by range with adjusted closes.
// It is the request a bulk download issues per ticker.
type Range struct{ C *Client }

func (a *Range) Name() string { return "yahoo-download" }

func (a *Range) Fetch(ctx context.Context, symbol string, period provider.Period, interval provider.Interval) provider.Result {
	q := url.Values{}
	q.Set("range", string(period))
	q.Set("interval", string(interval))
	q.Set("includeAdjustedClose", "true")
	q.Set("events", "div,split")
	s, err := a.C.chart(ctx, a.Name(), a.C.historyBase, symbol, q)
	if err != nil {
		return provider.Failed(a.Name(), err)
	}
	return provider.OK(s)
}

// Download fetches many symbols by running One for each of them, at most
// Concurrency at a time. Every row comes back with full OHLCV. One is
// normally a Range behind the Yahoo limiter slot, so the requests stay
// paced however many are in flight.
type Download struct {
	One         provider.Adapter
	Concurrency int
}

func (d *Download) Name() string { return d.One.Name() }

// FetchBulk returns the symbols that answered. Once one request is
// throttled past the limiter's retries no further symbols are started; if
// nothing came back the throttling error is returned.
func (d *Download) FetchBulk(ctx context.Context, symbols []string, period provider.Period, interval provider.Interval) (map[string]provider.Series, error) {
	out := make(map[string]provider.Series, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}
	limit := d.Concurrency
	if limit <= 0 {
		limit = defaultDownloadConcurrency
	}

	var (
		mu        sync.Mutex
		throttled atomic.Bool
		firstErr  error
		g         errgroup.Group
	)
	g.SetLimit(limit)
	for _, sym := range symbols {
		if throttled.Load() || ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if throttled.Load() {
				return nil
			}
			res := d.One.Fetch(ctx, sym, period, interval)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case res.OK():
				out[sym] = res.Series
			case res.Kind() == provider.KindRateLimited:
				throttled.Store(true)
				if firstErr == nil {
					firstErr = res.Err
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(out) == 0 {
		if firstErr != nil {
			return nil, firstErr
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}
