// Package chain resolves one symbol by walking an ordered list of sources
// and symbol spellings until a series passes validation. Results are cached
// under the symbol the caller asked for.
package chain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/moznion/go-optional"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"marketfeed/internal/cache"
	"marketfeed/internal/diag"
	"marketfeed/internal/provider"
	"marketfeed/internal/symbols"
	"marketfeed/internal/validate"
)

// ReasonExhausted is recorded when no source produced valid data.
const ReasonExhausted = "all sources failed"

// DefaultResolveTimeout bounds one shared resolution of a symbol.
const DefaultResolveTimeout = 2 * time.Minute

// Step is one strategy of the chain. When Variants is false the adapter is
// only tried with the original symbol.
type Step struct {
	Adapter  provider.Adapter
	Variants bool
}

// Chain is safe for concurrent use.
type Chain struct {
	steps     []Step
	attrs     map[cache.DataType][]provider.AttributesAdapter
	store     *cache.Store
	validator *validate.Validator
	rec       *diag.Recorder
	log       *zap.Logger
	onSuccess func(symbol, source string, s provider.Series)
	timeout   time.Duration

	group singleflight.Group
}

type Option func(*Chain)

func WithLogger(log *zap.Logger) Option {
	return func(c *Chain) { c.log = log }
}

// WithAttributes sets the sources tried, in order, for info or
// fundamentals.
func WithAttributes(dt cache.DataType, sources ...provider.AttributesAdapter) Option {
	return func(c *Chain) { c.attrs[dt] = sources }
}

// WithOnSuccess registers a hook called after a freshly fetched series is
// accepted, with the name of the source that produced it. It must not
// block.
func WithOnSuccess(fn func(symbol, source string, s provider.Series)) Option {
	return func(c *Chain) { c.onSuccess = fn }
}

// WithResolveTimeout bounds a shared resolution, which outlives any single
// caller.
func WithResolveTimeout(d time.Duration) Option {
	return func(c *Chain) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func New(store *cache.Store, v *validate.Validator, rec *diag.Recorder, steps []Step, opts ...Option) *Chain {
	c := &Chain{
		steps:     steps,
		attrs:     make(map[cache.DataType][]provider.AttributesAdapter),
		store:     store,
		validator: v,
		rec:       rec,
		log:       zap.NewNop(),
		timeout:   DefaultResolveTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Cached returns a fresh cached series without touching the network.
func (c *Chain) Cached(ctx context.Context, symbol string, period provider.Period, interval provider.Interval) optional.Option[provider.Series] {
	payload, ok := c.store.Get(ctx, cache.HistoryKey(symbol, period, interval), cache.History)
	if !ok {
		return optional.None[provider.Series]()
	}
	s, err := cache.DecodeSeries(payload)
	if err != nil || len(s) == 0 {
		c.log.Warn("discarding unreadable cache entry", zap.String("symbol", symbol), zap.Error(err))
		return optional.None[provider.Series]()
	}
	return optional.Some(s)
}

// Store validates s and writes it through the cache under symbol. It is
// used by the bulk path, which bypasses the per-symbol steps.
func (c *Chain) Store(ctx context.Context, symbol string, period provider.Period, interval provider.Interval, s provider.Series, source, variant string) error {
	if err := c.validator.Validate(s); err != nil {
		return err
	}
	c.put(ctx, symbol, period, interval, s, source, variant)
	return nil
}

// Fetch returns the series for symbol or None. Concurrent calls for the
// same key share one resolution. The shared resolution does not stop when
// one caller gives up; a caller whose ctx ends gets None right away.
func (c *Chain) Fetch(ctx context.Context, symbol string, period provider.Period, interval provider.Interval) optional.Option[provider.Series] {
	if s := c.Cached(ctx, symbol, period, interval); s.IsSome() {
		return s
	}
	key := cache.HistoryKey(symbol, period, interval)
	ch := c.group.DoChan(key, func() (any, error) {
		rctx, cancel := c.detach(ctx)
		defer cancel()
		if s := c.Cached(rctx, symbol, period, interval); s.IsSome() {
			return s.Unwrap(), nil
		}
		s, _ := c.resolve(rctx, symbol, period, interval)
		return s, nil
	})
	var s provider.Series
	select {
	case r := <-ch:
		s, _ = r.Val.(provider.Series)
	case <-ctx.Done():
	}
	if len(s) == 0 {
		return optional.None[provider.Series]()
	}
	return optional.Some(s)
}

// detach keeps ctx values such as the run id but drops its cancellation.
func (c *Chain) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
}

func (c *Chain) resolve(ctx context.Context, symbol string, period provider.Period, interval provider.Interval) (provider.Series, bool) {
	variants := symbols.Variants(symbol)
	for _, st := range c.steps {
		candidates := variants
		if !st.Variants {
			candidates = []string{symbol}
		}
		for _, variant := range candidates {
			if err := ctx.Err(); err != nil {
				c.record(ctx, symbol, "chain", "", provider.OutcomeExhausted, err.Error())
				return nil, false
			}
			res := c.attempt(ctx, st.Adapter, symbol, variant, period, interval)
			if res.OK() {
				name := st.Adapter.Name()
				c.put(ctx, symbol, period, interval, res.Series, name, variant)
				c.log.Info("resolved",
					zap.String("symbol", symbol),
					zap.String("provider", name),
					zap.String("variant", variant),
					zap.Int("rows", len(res.Series)))
				if c.onSuccess != nil {
					c.onSuccess(symbol, name, res.Series)
				}
				return res.Series, true
			}
			// a throttled provider will not answer other spellings either
			if res.Kind() == provider.KindRateLimited {
				break
			}
		}
	}
	c.record(ctx, symbol, "chain", "", provider.OutcomeExhausted, ReasonExhausted)
	c.log.Warn("no valid data", zap.String("symbol", symbol), zap.String("period", string(period)))
	return nil, false
}

// attempt calls one (adapter, variant) pair, retrying a transient transport
// failure once, and validates the result.
func (c *Chain) attempt(ctx context.Context, a provider.Adapter, symbol, variant string, period provider.Period, interval provider.Interval) provider.Result {
	res := a.Fetch(ctx, variant, period, interval)
	if k := res.Kind(); (k == provider.KindTimeout || k == provider.KindNetwork) && ctx.Err() == nil {
		c.record(ctx, symbol, a.Name(), variant, res.Outcome, res.Reason())
		res = a.Fetch(ctx, variant, period, interval)
	}
	if res.Outcome == provider.OutcomeSuccess {
		s := res.Series.Normalize()
		switch err := c.validator.Validate(s); {
		case len(s) == 0:
			res = provider.Empty(a.Name(), "no rows")
		case err != nil:
			res = provider.Failed(a.Name(), err)
		default:
			res = provider.OK(s)
		}
	}
	c.record(ctx, symbol, a.Name(), variant, res.Outcome, res.Reason())
	return res
}

func (c *Chain) put(ctx context.Context, symbol string, period provider.Period, interval provider.Interval, s provider.Series, source, variant string) {
	payload, err := cache.EncodeSeries(s)
	if err != nil {
		c.log.Warn("encode series", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	c.store.Put(ctx, cache.HistoryKey(symbol, period, interval), cache.History, payload, cache.WithProvenance(source, variant))
}

func (c *Chain) record(ctx context.Context, symbol, source, variant string, outcome provider.Outcome, reason string) {
	c.rec.Record(diag.FetchAttempt{
		RunID:    diag.RunID(ctx),
		Symbol:   symbol,
		Provider: source,
		Variant:  variant,
		Outcome:  outcome,
		Reason:   reason,
	})
}

// FetchAttributes resolves info or fundamentals for symbol through the
// cache and the configured attribute sources.
func (c *Chain) FetchAttributes(ctx context.Context, symbol string, dt cache.DataType) optional.Option[provider.Attributes] {
	key := cache.AttrKey(symbol, dt)
	if payload, ok := c.store.Get(ctx, key, dt); ok {
		var attrs provider.Attributes
		if err := json.Unmarshal(payload, &attrs); err == nil && len(attrs) > 0 {
			return optional.Some(attrs)
		}
	}
	ch := c.group.DoChan(key, func() (any, error) {
		rctx, cancel := c.detach(ctx)
		defer cancel()
		return c.resolveAttributes(rctx, symbol, dt), nil
	})
	var attrs provider.Attributes
	select {
	case r := <-ch:
		attrs, _ = r.Val.(provider.Attributes)
	case <-ctx.Done():
	}
	if len(attrs) == 0 {
		return optional.None[provider.Attributes]()
	}
	return optional.Some(attrs)
}

func (c *Chain) resolveAttributes(ctx context.Context, symbol string, dt cache.DataType) provider.Attributes {
	variants := symbols.Variants(symbol)
	for _, src := range c.attrs[dt] {
		for _, variant := range variants {
			if ctx.Err() != nil {
				break
			}
			attrs, err := src.FetchAttributes(ctx, variant)
			if err == nil && len(attrs) > 0 {
				c.record(ctx, symbol, src.Name(), variant, provider.OutcomeSuccess, string(dt))
				payload, merr := json.Marshal(attrs)
				if merr == nil {
					c.store.Put(ctx, cache.AttrKey(symbol, dt), dt, payload, cache.WithProvenance(src.Name(), variant))
				}
				return attrs
			}
			if err == nil {
				err = provider.NewError(provider.KindEmpty, src.Name(), "no attributes")
			}
			c.record(ctx, symbol, src.Name(), variant, provider.OutcomeOf(provider.KindOf(err)), err.Error())
			if provider.IsRateLimited(err) {
				break
			}
		}
	}
	c.record(ctx, symbol, "chain", "", provider.OutcomeExhausted, ReasonExhausted)
	return nil
}
