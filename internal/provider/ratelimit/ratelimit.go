package ratelimit

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"marketfeed/internal/provider"
)

// ErrRetriesExhausted is returned by OnError once a provider has been
// throttled MaxRetries times in a row.
var ErrRetriesExhausted = errors.New("rate limit retries exhausted")

// Policy describes how one provider is paced.
type Policy struct {
	// MinSpacing is the baseline gap between two calls to the provider.
	MinSpacing time.Duration `yaml:"min_spacing" validate:"gte=0"`
	// Jitter adds a uniform [0, Jitter) on top of every spacing.
	Jitter      time.Duration `yaml:"jitter" validate:"gte=0"`
	BaseBackoff time.Duration `yaml:"base_backoff" validate:"gte=0"`
	MaxBackoff  time.Duration `yaml:"max_backoff" validate:"gte=0"`
	MaxRetries  int           `yaml:"max_retries" validate:"gte=0,lte=10"`
	// PerMinute optionally caps throughput with a token bucket (0 = off).
	PerMinute int `yaml:"per_minute" validate:"gte=0"`
	Burst     int `yaml:"burst" validate:"gte=0"`
}

func DefaultPolicy() Policy {
	return Policy{
		MinSpacing:  500 * time.Millisecond,
		BaseBackoff: 2 * time.Second,
		MaxBackoff:  60 * time.Second,
		MaxRetries:  3,
	}
}

// Stats is a snapshot of one provider's state.
type Stats struct {
	LastCallAt          time.Time
	ConsecutiveFailures int
	CurrentDelay        time.Duration
}

type state struct {
	mu     sync.Mutex
	policy Policy
	bucket *TokenBucket

	lastCallAt          time.Time
	consecutiveFailures int
	currentDelay        time.Duration
}

// Limiter paces calls per provider and applies exponential backoff with
// jitter after throttling responses. It is a per-provider throttle shared by
// every goroutine; the symbol being fetched does not matter.
type Limiter struct {
	mu       sync.Mutex
	states   map[string]*state
	policies map[string]Policy
	def      Policy

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
	log    *zap.Logger
}

type Option func(*Limiter)

// WithPolicy sets the policy for one provider name.
func WithPolicy(name string, p Policy) Option {
	return func(l *Limiter) { l.policies[name] = p }
}

// WithDefault sets the policy used for providers without their own.
func WithDefault(p Policy) Option {
	return func(l *Limiter) { l.def = p }
}

// WithClock replaces the time source and the sleep function.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) {
		l.now = now
		l.sleep = sleep
	}
}

// WithJitter replaces the jitter source; fn returns a value in [0, max).
func WithJitter(fn func(max time.Duration) time.Duration) Option {
	return func(l *Limiter) { l.jitter = fn }
}

func WithLogger(log *zap.Logger) Option {
	return func(l *Limiter) { l.log = log }
}

func New(opts ...Option) *Limiter {
	l := &Limiter{
		states:   make(map[string]*state),
		policies: make(map[string]Policy),
		def:      DefaultPolicy(),
		now:      time.Now,
		sleep:    sleepCtx,
		jitter:   uniformJitter,
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(l)
	}
	for name := range l.policies {
		l.state(name)
	}
	return l
}

func (l *Limiter) state(name string) *state {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.states[name]
	if ok {
		return st
	}
	pol, ok := l.policies[name]
	if !ok {
		pol = l.def
	}
	st = &state{policy: pol, currentDelay: pol.MinSpacing}
	if pol.PerMinute > 0 {
		burst := pol.Burst
		if burst <= 0 {
			burst = 1
		}
		st.bucket = NewTokenBucket(float64(pol.PerMinute)/60.0, burst)
	}
	l.states[name] = st
	return st
}

// Acquire blocks until the provider may be called again. Slots are reserved
// under the provider lock and slept outside it, so concurrent callers queue
// up at the configured spacing instead of bursting.
func (l *Limiter) Acquire(ctx context.Context, name string) error {
	st := l.state(name)
	if st.bucket != nil {
		if err := st.bucket.Wait(ctx); err != nil {
			return err
		}
	}

	st.mu.Lock()
	now := l.now()
	gap := st.currentDelay
	if st.policy.Jitter > 0 {
		gap += l.jitter(st.policy.Jitter)
	}
	next := now
	if !st.lastCallAt.IsZero() {
		if at := st.lastCallAt.Add(gap); at.After(now) {
			next = at
		}
	}
	st.lastCallAt = next
	st.mu.Unlock()

	if wait := next.Sub(now); wait > 0 {
		return l.sleep(ctx, wait)
	}
	return nil
}

// OnSuccess resets the failure counter and restores baseline spacing.
func (l *Limiter) OnSuccess(name string) {
	st := l.state(name)
	st.mu.Lock()
	st.consecutiveFailures = 0
	st.currentDelay = st.policy.MinSpacing
	st.mu.Unlock()
}

// OnError handles a failed call. Errors that are not rate limiting are
// returned unchanged. A rate-limit error sleeps base*2^attempt plus jitter
// and returns nil so the caller retries; after MaxRetries consecutive
// throttles it returns ErrRetriesExhausted instead.
func (l *Limiter) OnError(ctx context.Context, name string, err error) error {
	if !provider.IsRateLimited(err) {
		return err
	}
	st := l.state(name)
	st.mu.Lock()
	attempt := st.consecutiveFailures
	if attempt >= st.policy.MaxRetries {
		// the next request cycle starts counting again; spacing stays raised
		st.consecutiveFailures = 0
		st.mu.Unlock()
		l.log.Warn("rate limit retries exhausted",
			zap.String("provider", name),
			zap.Int("attempts", attempt))
		return provider.Wrap(provider.KindRateLimited, name, "backoff retries exhausted", ErrRetriesExhausted)
	}
	delay := l.backoff(st.policy, attempt)
	st.consecutiveFailures++
	st.currentDelay = max(st.policy.MinSpacing, delay)
	st.mu.Unlock()

	l.log.Warn("rate limited, backing off",
		zap.String("provider", name),
		zap.Int("attempt", attempt+1),
		zap.Duration("delay", delay),
		zap.Error(err))
	return l.sleep(ctx, delay)
}

// backoff is base*2^attempt plus jitter below base/2, capped at MaxBackoff.
// The jitter bound keeps successive delays strictly increasing.
func (l *Limiter) backoff(p Policy, attempt int) time.Duration {
	base := p.BaseBackoff
	if base <= 0 {
		base = time.Second
	}
	d := base * (1 << uint(attempt))
	if half := base / 2; half > 0 {
		d += l.jitter(half)
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// Stats returns a snapshot of the provider's state.
func (l *Limiter) Stats(name string) Stats {
	st := l.state(name)
	st.mu.Lock()
	defer st.mu.Unlock()
	return Stats{
		LastCallAt:          st.lastCallAt,
		ConsecutiveFailures: st.consecutiveFailures,
		CurrentDelay:        st.currentDelay,
	}
}

// Do runs call under the provider's pacing, retrying rate-limited attempts
// until OnError gives up. Empty answers count as success for pacing: the
// vendor responded normally. Each attempt gets its own timeout.
func (l *Limiter) Do(ctx context.Context, name string, timeout time.Duration, call func(ctx context.Context) error) error {
	for {
		if err := l.Acquire(ctx, name); err != nil {
			return err
		}
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		err := call(callCtx)
		cancel()
		if err == nil || provider.KindOf(err) == provider.KindEmpty {
			l.OnSuccess(name)
			return err
		}
		if rerr := l.OnError(ctx, name, err); rerr != nil {
			return rerr
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func uniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}
