// Package engine assembles the cache, limiter, adapters and chain into the
// read API used by the server and the CLI.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"marketfeed/internal/batch"
	"marketfeed/internal/cache"
	"marketfeed/internal/chain"
	"marketfeed/internal/config"
	"marketfeed/internal/crosscheck"
	"marketfeed/internal/diag"
	"marketfeed/internal/httpx"
	"marketfeed/internal/provider"
	"marketfeed/internal/provider/alphavantage"
	"marketfeed/internal/provider/polygon"
	"marketfeed/internal/provider/ratelimit"
	"marketfeed/internal/provider/stooq"
	"marketfeed/internal/provider/yahoo"
	"marketfeed/internal/validate"
)

// Limiter slots. Adapters that hit the same vendor share one.
const (
	slotYahoo        = "yahoo"
	slotAlphaVantage = "alphavantage"
	slotPolygon      = "polygon"
	slotStooq        = "stooq"
	// slotCrossCheck paces the cross-checker apart from the chain's stooq
	// step so spot checks never delay a main-path call.
	slotCrossCheck = "stooq-crosscheck"
)

// Endpoints overrides vendor base URLs. Empty fields keep the defaults.
type Endpoints struct {
	Yahoo        string
	Stooq        string
	AlphaVantage string
}

type options struct {
	log          *zap.Logger
	endpoints    Endpoints
	limiterOpts  []ratelimit.Option
	progress     func(done, total int)
	httpOverride httpx.HTTPClient
}

type Option func(*options)

func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

func WithEndpoints(e Endpoints) Option {
	return func(o *options) { o.endpoints = e }
}

// WithLimiterOptions appends options to the limiter built from config,
// e.g. a fake clock in tests.
func WithLimiterOptions(opts ...ratelimit.Option) Option {
	return func(o *options) { o.limiterOpts = append(o.limiterOpts, opts...) }
}

// WithProgress reports batch progress as (done, total).
func WithProgress(fn func(done, total int)) Option {
	return func(o *options) { o.progress = fn }
}

// WithHTTPClient replaces the transport used by the plain HTTP adapters.
func WithHTTPClient(c httpx.HTTPClient) Option {
	return func(o *options) { o.httpOverride = c }
}

// Engine is safe for concurrent use. It owns its cache handle and HTTP
// client; Close releases them.
type Engine struct {
	cfg     config.Config
	log     *zap.Logger
	store   *cache.Store
	limiter *ratelimit.Limiter
	rec     *diag.Recorder
	chain   *chain.Chain
	batch   *batch.Fetcher
	checker *crosscheck.Checker
}

// New validates cfg, opens the cache and wires every configured source.
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	o := options{log: zap.NewNop()}
	for _, fn := range opts {
		fn(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := cache.Open(cfg.Cache.Path, cache.WithTTL(cfg.Cache.TTL), cache.WithLogger(o.log))
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	limOpts := []ratelimit.Option{ratelimit.WithLogger(o.log)}
	for name, p := range cfg.RateLimits {
		limOpts = append(limOpts, ratelimit.WithPolicy(name, p))
	}
	limOpts = append(limOpts, o.limiterOpts...)

	e := &Engine{
		cfg:     cfg,
		log:     o.log,
		store:   store,
		limiter: ratelimit.New(limOpts...),
		rec:     diag.NewRecorder(0),
	}

	hc := httpx.New(cfg.Providers.HTTPTimeout, cfg.Providers.HTTPProxy)
	if cfg.Providers.UserAgent != "" {
		hc.UserAgents = []string{cfg.Providers.UserAgent}
	}
	var client httpx.HTTPClient = hc
	if o.httpOverride != nil {
		client = o.httpOverride
	}

	v := validate.New(cfg.Validation)
	src, err := e.buildSources(client, hc, o.endpoints, v)
	if err != nil {
		store.Close()
		return nil, err
	}

	chainOpts := []chain.Option{
		chain.WithLogger(o.log),
		chain.WithResolveTimeout(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second),
		chain.WithAttributes(cache.Info, src.info...),
		chain.WithAttributes(cache.Fundamentals, src.fundamentals...),
	}
	if cfg.Providers.CrossCheck {
		e.checker = crosscheck.New(src.secondary,
			crosscheck.WithTolerance(decimal.NewFromFloat(cfg.Providers.TolerancePct)),
			crosscheck.WithRecorder(e.rec),
			crosscheck.WithLogger(o.log))
		chainOpts = append(chainOpts, chain.WithOnSuccess(e.spotCheck))
	}
	e.chain = chain.New(store, v, e.rec, src.steps, chainOpts...)

	batchOpts := []batch.Option{batch.WithLogger(o.log)}
	if o.progress != nil {
		batchOpts = append(batchOpts, batch.WithProgress(o.progress))
	}
	e.batch = batch.New(e.chain, src.bulk, e.rec, cfg.Batch, batchOpts...)

	o.log.Info("engine ready",
		zap.String("cache", cfg.Cache.Path),
		zap.Int("steps", len(src.steps)),
		zap.Bool("cross_check", e.checker != nil))
	return e, nil
}

type sources struct {
	steps        []chain.Step
	bulk         provider.BulkAdapter
	secondary    provider.Adapter
	info         []provider.AttributesAdapter
	fundamentals []provider.AttributesAdapter
}

// buildSources builds the step list in chain order: keyed free tier, Yahoo chart,
// Yahoo history, Yahoo bulk download, chart with shorter periods, stooq CSV
// and finally the Alpha Vantage demo key for the demo symbol.
func (e *Engine) buildSources(client httpx.HTTPClient, hc *httpx.Client, ep Endpoints, v *validate.Validator) (sources, error) {
	cfg := e.cfg.Providers
	timeout := cfg.CallTimeout
	paced := func(a provider.Adapter, slot string) provider.Adapter {
		return &ratelimit.Paced{Adapter: a, Limiter: e.limiter, Timeout: timeout, Key: slot}
	}

	var avOpts []alphavantage.AlphaVantageAPIClientOption
	avOpts = append(avOpts, alphavantage.WithHTTPClient(client))
	if ep.AlphaVantage != "" {
		avOpts = append(avOpts, alphavantage.WithBaseURL(ep.AlphaVantage))
	}

	var (
		out      sources
		bestfree []provider.Adapter
		avKeyed  *alphavantage.AlphaVantageAPIClient
	)
	if cfg.AlphaVantageKey != "" {
		c, err := alphavantage.NewAlphaVantageAPIClient(cfg.AlphaVantageKey, avOpts...)
		if err != nil {
			return out, fmt.Errorf("alpha vantage: %w", err)
		}
		avKeyed = c
		bestfree = append(bestfree, paced(alphavantage.NewAdapter(c), slotAlphaVantage))
	}
	if cfg.PolygonKey != "" {
		pg, err := polygon.New(cfg.PolygonKey, hc.HTTP)
		if err != nil {
			return out, fmt.Errorf("polygon: %w", err)
		}
		bestfree = append(bestfree, paced(pg, slotPolygon))
	}
	if len(bestfree) > 0 {
		out.steps = append(out.steps, chain.Step{
			Adapter:  &provider.FirstOf{Label: "bestfree", Members: bestfree, Accept: v.Validate},
			Variants: true,
		})
	}

	yOpts := []yahoo.Option{yahoo.WithHTTPClient(client)}
	if ep.Yahoo != "" {
		yOpts = append(yOpts, yahoo.WithBaseURL(ep.Yahoo))
	}
	yc := yahoo.New(yOpts...)
	chart := paced(&yahoo.Chart{C: yc}, slotYahoo)
	out.bulk = &yahoo.Download{One: paced(&yahoo.Range{C: yc}, slotYahoo), Concurrency: e.cfg.Batch.BulkConcurrency}
	out.steps = append(out.steps,
		chain.Step{Adapter: chart, Variants: true},
		chain.Step{Adapter: paced(&yahoo.History{C: yc}, slotYahoo), Variants: true},
		chain.Step{Adapter: &provider.Single{Bulk: out.bulk}, Variants: true},
		chain.Step{Adapter: &provider.ShorterPeriods{Adapter: chart}, Variants: true},
	)

	sOpts := []stooq.Option{stooq.WithHTTPClient(client)}
	if ep.Stooq != "" {
		sOpts = append(sOpts, stooq.WithBaseURL(ep.Stooq))
	}
	csv := stooq.New(sOpts...)
	out.steps = append(out.steps, chain.Step{Adapter: paced(csv, slotStooq), Variants: true})
	out.secondary = paced(csv, slotCrossCheck)

	if cfg.DemoSymbol != "" {
		demo, err := alphavantage.NewAlphaVantageAPIClient(alphavantage.DemoKey,
			append(avOpts, alphavantage.WithName("alphavantage-demo"))...)
		if err != nil {
			return out, fmt.Errorf("alpha vantage demo: %w", err)
		}
		out.steps = append(out.steps, chain.Step{
			Adapter:  &provider.DemoOnly{Adapter: paced(alphavantage.NewAdapter(demo), slotAlphaVantage), Symbol: cfg.DemoSymbol},
			Variants: false,
		})
	}

	quote := &ratelimit.PacedAttributes{Source: &yahoo.Quote{C: yc}, Limiter: e.limiter, Timeout: timeout, Key: slotYahoo}
	out.info = []provider.AttributesAdapter{quote}
	if avKeyed != nil {
		out.fundamentals = append(out.fundamentals, &ratelimit.PacedAttributes{
			Source: &alphavantage.Fundamentals{Client: avKeyed}, Limiter: e.limiter, Timeout: timeout, Key: slotAlphaVantage,
		})
	}
	out.fundamentals = append(out.fundamentals, quote)
	return out, nil
}

func (e *Engine) spotCheck(symbol, source string, s provider.Series) {
	e.checker.Go(symbol, source, s, func(r crosscheck.Report) {
		if r.Checked && !r.Consistent {
			e.log.Warn("cross-check mismatch",
				zap.String("symbol", r.Symbol),
				zap.String("secondary", r.Secondary),
				zap.String("pct_diff", r.PctDiff.StringFixed(2)))
		}
	})
}

// GetHistory returns one year of daily bars.
func (e *Engine) GetHistory(ctx context.Context, symbol string) optional.Option[provider.Series] {
	return e.GetHistoryPeriod(ctx, symbol, provider.Period1Y, provider.IntervalDaily)
}

func (e *Engine) GetHistoryPeriod(ctx context.Context, symbol string, period provider.Period, interval provider.Interval) optional.Option[provider.Series] {
	return e.chain.Fetch(ctx, symbol, period, interval)
}

// Provenance reports which source and symbol spelling produced the cached
// history for symbol, if it is cached and fresh.
func (e *Engine) Provenance(ctx context.Context, symbol string, period provider.Period, interval provider.Interval) (cache.Entry, bool) {
	ent, ok := e.store.Lookup(ctx, cache.HistoryKey(symbol, period, interval), cache.History)
	ent.Payload = nil
	return ent, ok
}

func (e *Engine) GetFundamentals(ctx context.Context, symbol string) optional.Option[provider.Attributes] {
	return e.chain.FetchAttributes(ctx, symbol, cache.Fundamentals)
}

func (e *Engine) GetInfo(ctx context.Context, symbol string) optional.Option[provider.Attributes] {
	return e.chain.FetchAttributes(ctx, symbol, cache.Info)
}

// GetMany fetches one year of daily bars for every symbol.
func (e *Engine) GetMany(ctx context.Context, symbols []string) map[string]optional.Option[provider.Series] {
	return e.GetManyPeriod(ctx, symbols, provider.Period1Y, provider.IntervalDaily)
}

func (e *Engine) GetManyPeriod(ctx context.Context, symbols []string, period provider.Period, interval provider.Interval) map[string]optional.Option[provider.Series] {
	return e.batch.FetchMany(ctx, symbols, period, interval)
}

// Diagnostics returns every recorded fetch attempt, oldest first.
func (e *Engine) Diagnostics() []diag.FetchAttempt {
	return e.rec.Attempts()
}

func (e *Engine) DiagnosticsFor(symbol string) []diag.FetchAttempt {
	return e.rec.For(symbol)
}

// LimiterStats exposes the pacing state of one vendor slot.
func (e *Engine) LimiterStats(slot string) ratelimit.Stats {
	return e.limiter.Stats(slot)
}

// ClearCache deletes cache rows older than horizon.
func (e *Engine) ClearCache(ctx context.Context, horizon time.Duration) (int64, error) {
	return e.store.ClearOlderThan(ctx, horizon)
}

func (e *Engine) Close() error {
	return e.store.Close()
}
