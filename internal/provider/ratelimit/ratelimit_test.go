package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"marketfeed/internal/provider"
	"marketfeed/mocks"
)

// fakeClock advances only when something sleeps on it.
type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func noJitter(time.Duration) time.Duration { return 0 }

func maxJitter(max time.Duration) time.Duration { return max - 1 }

func TestAcquire_SpacesSequentialCalls(t *testing.T) {
	t.Parallel()

	// Arrange
	clock := newFakeClock()
	l := New(
		WithDefault(Policy{MinSpacing: 800 * time.Millisecond, BaseBackoff: time.Second, MaxRetries: 3}),
		WithClock(clock.Now, clock.Sleep),
		WithJitter(noJitter),
	)
	start := clock.Now()

	// Act
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(context.Background(), "yahoo"))
	}

	// Assert
	require.GreaterOrEqual(t, clock.Now().Sub(start), 3200*time.Millisecond)
	require.Len(t, clock.Sleeps(), 4)
}

func TestAcquire_RealClock(t *testing.T) {
	if testing.Short() {
		t.Skip("sleeps for several seconds")
	}
	t.Parallel()

	l := New(WithDefault(Policy{MinSpacing: 800 * time.Millisecond, MaxRetries: 3}))
	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(context.Background(), "yahoo"))
	}
	require.GreaterOrEqual(t, time.Since(start), 3200*time.Millisecond)
}

func TestAcquire_ConcurrentCallersGetDistinctSlots(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := New(
		WithDefault(Policy{MinSpacing: time.Second, MaxRetries: 3}),
		WithClock(clock.Now, func(context.Context, time.Duration) error { return nil }),
		WithJitter(noJitter),
	)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.Acquire(context.Background(), "polygon"))
		}()
	}
	wg.Wait()

	// the clock never moved, so eight reservations stack up one second apart
	require.Equal(t, clock.Now().Add(7*time.Second), l.Stats("polygon").LastCallAt)
}

func TestAcquire_ProvidersAreIndependent(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := New(
		WithDefault(Policy{MinSpacing: time.Second, MaxRetries: 3}),
		WithClock(clock.Now, clock.Sleep),
		WithJitter(noJitter),
	)

	require.NoError(t, l.Acquire(context.Background(), "a"))
	require.NoError(t, l.Acquire(context.Background(), "b"))
	require.Empty(t, clock.Sleeps())
}

func TestAcquire_CanceledContext(t *testing.T) {
	t.Parallel()

	l := New(WithDefault(Policy{MinSpacing: time.Hour, MaxRetries: 3}))
	require.NoError(t, l.Acquire(context.Background(), "slow"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, l.Acquire(ctx, "slow"), context.Canceled)
}

func TestOnError_BackoffIncreasesThenAborts(t *testing.T) {
	t.Parallel()

	// Arrange
	clock := newFakeClock()
	l := New(
		WithDefault(Policy{MinSpacing: 100 * time.Millisecond, BaseBackoff: time.Second, MaxBackoff: time.Minute, MaxRetries: 3}),
		WithClock(clock.Now, clock.Sleep),
		WithJitter(maxJitter),
	)
	throttled := provider.NewError(provider.KindRateLimited, "yahoo", "HTTP 429")

	// Act
	for i := 0; i < 3; i++ {
		require.NoError(t, l.OnError(context.Background(), "yahoo", throttled))
	}
	err := l.OnError(context.Background(), "yahoo", throttled)

	// Assert
	require.ErrorIs(t, err, ErrRetriesExhausted)
	require.Equal(t, provider.KindRateLimited, provider.KindOf(err))
	waits := clock.Sleeps()
	require.Len(t, waits, 3)
	require.Less(t, waits[0], waits[1])
	require.Less(t, waits[1], waits[2])
	require.GreaterOrEqual(t, waits[0], time.Second)
}

func TestOnError_CappedAtMaxBackoff(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := New(
		WithDefault(Policy{BaseBackoff: time.Second, MaxBackoff: 3 * time.Second, MaxRetries: 5}),
		WithClock(clock.Now, clock.Sleep),
		WithJitter(noJitter),
	)
	throttled := provider.NewError(provider.KindRateLimited, "av", "Note")
	for i := 0; i < 4; i++ {
		require.NoError(t, l.OnError(context.Background(), "av", throttled))
	}
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}, clock.Sleeps())
}

func TestOnError_PassesOtherErrorsThrough(t *testing.T) {
	t.Parallel()

	l := New()
	boom := errors.New("connection reset")
	require.Same(t, boom, l.OnError(context.Background(), "yahoo", boom))
	require.Zero(t, l.Stats("yahoo").ConsecutiveFailures)
}

func TestOnSuccess_RestoresBaseline(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := New(
		WithDefault(Policy{MinSpacing: 200 * time.Millisecond, BaseBackoff: time.Second, MaxRetries: 3}),
		WithClock(clock.Now, clock.Sleep),
		WithJitter(noJitter),
	)
	require.NoError(t, l.OnError(context.Background(), "yahoo", provider.NewError(provider.KindRateLimited, "yahoo", "429")))
	require.Equal(t, time.Second, l.Stats("yahoo").CurrentDelay)

	l.OnSuccess("yahoo")

	st := l.Stats("yahoo")
	require.Zero(t, st.ConsecutiveFailures)
	require.Equal(t, 200*time.Millisecond, st.CurrentDelay)
}

func TestPaced_RetriesRateLimitedThenSucceeds(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	inner := mocks.NewMockAdapter(ctrl)
	inner.EXPECT().Name().Return("yahoo-chart").AnyTimes()
	series := provider.Series{{Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: 1, High: 2, Low: 1, Close: 2, Volume: 10}}
	gomock.InOrder(
		inner.EXPECT().Fetch(gomock.Any(), "AAPL", provider.Period1Y, provider.IntervalDaily).
			Return(provider.Failed("yahoo-chart", provider.NewError(provider.KindRateLimited, "yahoo-chart", "HTTP 429"))),
		inner.EXPECT().Fetch(gomock.Any(), "AAPL", provider.Period1Y, provider.IntervalDaily).
			Return(provider.OK(series)),
	)
	clock := newFakeClock()
	l := New(WithClock(clock.Now, clock.Sleep), WithJitter(noJitter))
	p := &Paced{Adapter: inner, Limiter: l}

	// Act
	res := p.Fetch(context.Background(), "AAPL", provider.Period1Y, provider.IntervalDaily)

	// Assert
	require.True(t, res.OK())
	require.Equal(t, series, res.Series)
	require.Zero(t, l.Stats("yahoo-chart").ConsecutiveFailures)
}

func TestPaced_GivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	inner := mocks.NewMockAdapter(ctrl)
	inner.EXPECT().Name().Return("yahoo-chart").AnyTimes()
	inner.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(provider.Failed("yahoo-chart", provider.NewError(provider.KindRateLimited, "yahoo-chart", "HTTP 429"))).
		Times(4)
	clock := newFakeClock()
	l := New(WithClock(clock.Now, clock.Sleep), WithJitter(noJitter))
	p := &Paced{Adapter: inner, Limiter: l}

	res := p.Fetch(context.Background(), "AAPL", provider.Period1Y, provider.IntervalDaily)

	require.False(t, res.OK())
	require.Equal(t, provider.OutcomeRateLimited, res.Outcome)
	require.ErrorIs(t, res.Err, ErrRetriesExhausted)
}

func TestPaced_EmptyIsNotRetried(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	inner := mocks.NewMockAdapter(ctrl)
	inner.EXPECT().Name().Return("stooq").AnyTimes()
	inner.EXPECT().Fetch(gomock.Any(), "ZZZZ", gomock.Any(), gomock.Any()).
		Return(provider.Empty("stooq", "no rows")).Times(1)
	l := New(WithJitter(noJitter))
	p := &Paced{Adapter: inner, Limiter: l}

	res := p.Fetch(context.Background(), "ZZZZ", provider.Period1Y, provider.IntervalDaily)

	require.Equal(t, provider.OutcomeEmpty, res.Outcome)
}

func TestTokenBucket_WaitsForRefill(t *testing.T) {
	t.Parallel()

	tb := NewTokenBucket(1, 2)
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	tb.last = base
	tb.now = func() time.Time { return base }

	require.Zero(t, tb.take())
	require.Zero(t, tb.take())
	require.Equal(t, time.Second, tb.take())

	tb.now = func() time.Time { return base.Add(time.Second) }
	require.Zero(t, tb.take())
}
