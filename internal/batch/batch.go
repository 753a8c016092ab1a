// Package batch fetches many symbols at once: fresh cache entries first,
// then the vendor's bulk endpoint in chunks, then the per-symbol chain for
// whatever is still missing.
package batch

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"marketfeed/internal/chain"
	"marketfeed/internal/diag"
	"marketfeed/internal/provider"
)

type Config struct {
	ChunkSize       int `yaml:"chunk_size" validate:"gte=1,lte=500"`
	BulkConcurrency int `yaml:"bulk_concurrency" validate:"gte=1"`
	Workers         int `yaml:"workers" validate:"gte=1"`
}

func DefaultConfig() Config {
	return Config{ChunkSize: 100, BulkConcurrency: 2, Workers: 4}
}

type Fetcher struct {
	chain *chain.Chain
	bulk  provider.BulkAdapter
	rec   *diag.Recorder
	cfg   Config
	log   *zap.Logger

	onProgress func(done, total int)
}

type Option func(*Fetcher)

func WithLogger(log *zap.Logger) Option {
	return func(f *Fetcher) { f.log = log }
}

// WithProgress registers a callback invoked once per resolved or abandoned
// symbol. It may be called from several goroutines.
func WithProgress(fn func(done, total int)) Option {
	return func(f *Fetcher) { f.onProgress = fn }
}

// New returns a Fetcher. bulk may be nil, which skips the bulk phase.
func New(c *chain.Chain, bulk provider.BulkAdapter, rec *diag.Recorder, cfg Config, opts ...Option) *Fetcher {
	def := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.BulkConcurrency <= 0 {
		cfg.BulkConcurrency = def.BulkConcurrency
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	f := &Fetcher{chain: c, bulk: bulk, rec: rec, cfg: cfg, log: zap.NewNop()}
	for _, o := range opts {
		o(f)
	}
	return f
}

// results is the shared output of one run.
type results struct {
	mu    sync.Mutex
	found map[string]provider.Series
	done  atomic.Int64
	total int
	fn    func(done, total int)
}

func (r *results) set(symbol string, s provider.Series) {
	r.mu.Lock()
	r.found[symbol] = s
	r.mu.Unlock()
	r.tick()
}

func (r *results) tick() {
	n := r.done.Add(1)
	if r.fn != nil {
		r.fn(int(n), r.total)
	}
}

// FetchMany returns an entry for every distinct requested symbol; symbols
// that could not be resolved map to None.
func (f *Fetcher) FetchMany(ctx context.Context, symbols []string, period provider.Period, interval provider.Interval) map[string]optional.Option[provider.Series] {
	runID := uuid.NewString()
	ctx = diag.WithRunID(ctx, runID)
	syms := dedupe(symbols)
	res := &results{found: make(map[string]provider.Series, len(syms)), total: len(syms), fn: f.onProgress}

	// phase 1: fresh cache
	var missing []string
	for _, sym := range syms {
		if s := f.chain.Cached(ctx, sym, period, interval); s.IsSome() {
			res.set(sym, s.Unwrap())
			continue
		}
		missing = append(missing, sym)
	}
	f.log.Info("batch started",
		zap.String("run_id", runID),
		zap.Int("symbols", len(syms)),
		zap.Int("cached", len(syms)-len(missing)))

	// phase 2: bulk endpoint
	if f.bulk != nil && len(missing) > 0 {
		f.fetchBulk(ctx, missing, period, interval, res)
		missing = unresolved(missing, res)
	}

	// phase 3: per-symbol chain
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Workers)
	for _, sym := range missing {
		g.Go(func() error {
			if s := f.chain.Fetch(gctx, sym, period, interval); s.IsSome() {
				res.set(sym, s.Unwrap())
				return nil
			}
			res.tick()
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]optional.Option[provider.Series], len(syms))
	for _, sym := range syms {
		if s, ok := res.found[sym]; ok {
			out[sym] = optional.Some(s)
			continue
		}
		out[sym] = optional.None[provider.Series]()
	}
	f.log.Info("batch finished",
		zap.String("run_id", runID),
		zap.Int("resolved", len(res.found)),
		zap.Int("absent", len(syms)-len(res.found)))
	return out
}

func (f *Fetcher) fetchBulk(ctx context.Context, symbols []string, period provider.Period, interval provider.Interval, res *results) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.BulkConcurrency)
	for _, chunk := range chunkStrings(symbols, f.cfg.ChunkSize) {
		g.Go(func() error {
			name := f.bulk.Name()
			got, err := f.bulk.FetchBulk(gctx, chunk, period, interval)
			if err != nil {
				f.log.Warn("bulk chunk failed", zap.Int("symbols", len(chunk)), zap.Error(err))
				for _, sym := range chunk {
					f.record(gctx, sym, name, provider.OutcomeOf(provider.KindOf(err)), err.Error())
				}
				// the chain still gets a go at every symbol
				return nil
			}
			byUpper := make(map[string]provider.Series, len(got))
			for k, s := range got {
				byUpper[strings.ToUpper(k)] = s
			}
			for _, sym := range chunk {
				s, ok := byUpper[strings.ToUpper(sym)]
				if !ok {
					f.record(gctx, sym, name, provider.OutcomeEmpty, "not in bulk response")
					continue
				}
				s = s.Normalize()
				if err := f.chain.Store(gctx, sym, period, interval, s, name, sym); err != nil {
					f.record(gctx, sym, name, provider.OutcomeInvalid, err.Error())
					continue
				}
				f.record(gctx, sym, name, provider.OutcomeSuccess, "bulk")
				res.set(sym, s)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (f *Fetcher) record(ctx context.Context, symbol, source string, outcome provider.Outcome, reason string) {
	f.rec.Record(diag.FetchAttempt{
		RunID:    diag.RunID(ctx),
		Symbol:   symbol,
		Provider: source,
		Variant:  symbol,
		Outcome:  outcome,
		Reason:   reason,
	})
}

// dedupe trims symbols and drops blanks and repeats, keeping order.
func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func unresolved(syms []string, res *results) []string {
	res.mu.Lock()
	defer res.mu.Unlock()
	out := syms[:0:0]
	for _, s := range syms {
		if _, ok := res.found[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}

func chunkStrings(in []string, size int) [][]string {
	if size <= 0 || len(in) == 0 {
		return [][]string{in}
	}
	out := make([][]string, 0, (len(in)+size-1)/size)
	for i := 0; i < len(in); i += size {
		j := min(i+size, len(in))
		out = append(out, in[i:j])
	}
	return out
}
