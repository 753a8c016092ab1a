package ratelimit

import (
	"context"
	"time"

	"marketfeed/internal/provider"
)

// DefaultCallTimeout bounds a single vendor call.
const DefaultCallTimeout = 12 * time.Second

// Paced runs an Adapter under a Limiter. Rate-limited answers are retried
// with backoff; everything else is returned as the adapter reported it.
type Paced struct {
	Adapter provider.Adapter
	Limiter *Limiter
	Timeout time.Duration
	// Key names the limiter slot; adapters hitting the same vendor share one.
	// Empty means the adapter name.
	Key string
}

func (p *Paced) Name() string { return p.Adapter.Name() }

func (p *Paced) Fetch(ctx context.Context, symbol string, period provider.Period, interval provider.Interval) provider.Result {
	var res provider.Result
	err := p.Limiter.Do(ctx, keyOr(p.Key, p.Adapter.Name()), p.timeout(), func(ctx context.Context) error {
		res = p.Adapter.Fetch(ctx, symbol, period, interval)
		return res.Err
	})
	if err != nil && err != res.Err {
		// limiter gave up or ctx ended while waiting for a slot
		return provider.Failed(p.Adapter.Name(), err)
	}
	return res
}

func (p *Paced) timeout() time.Duration { return timeoutOr(p.Timeout) }

func keyOr(key, name string) string {
	if key != "" {
		return key
	}
	return name
}

func timeoutOr(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return DefaultCallTimeout
}

// PacedAttributes is Paced for an AttributesAdapter.
type PacedAttributes struct {
	Source  provider.AttributesAdapter
	Limiter *Limiter
	Timeout time.Duration
	Key     string
}

func (p *PacedAttributes) Name() string { return p.Source.Name() }

func (p *PacedAttributes) FetchAttributes(ctx context.Context, symbol string) (provider.Attributes, error) {
	var out provider.Attributes
	err := p.Limiter.Do(ctx, keyOr(p.Key, p.Source.Name()), timeoutOr(p.Timeout), func(ctx context.Context) error {
		var err error
		out, err = p.Source.FetchAttributes(ctx, symbol)
		return err
	})
	return out, err
}
