package crosscheck

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"marketfeed/internal/diag"
	"marketfeed/internal/provider"
	"marketfeed/internal/provider/ratelimit"
	"marketfeed/mocks"
)

func day(d int) time.Time { return time.Date(2024, 5, d, 0, 0, 0, 0, time.UTC) }

func bars(closes ...float64) provider.Series {
	out := make(provider.Series, len(closes))
	for i, c := range closes {
		out[i] = provider.Bar{Date: day(i + 1), Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	return out
}

func secondary(t *testing.T, res provider.Result) *mocks.MockAdapter {
	ctrl := gomock.NewController(t)
	m := mocks.NewMockAdapter(ctrl)
	m.EXPECT().Name().Return("stooq").AnyTimes()
	m.EXPECT().Fetch(gomock.Any(), "AAPL", provider.Period1Mo, provider.IntervalDaily).Return(res).AnyTimes()
	return m
}

func TestSpotCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		other      provider.Result
		consistent bool
		checked    bool
		pct        string
	}{
		{name: "within tolerance", other: provider.OK(bars(99, 100, 101)), consistent: true, checked: true, pct: "1"},
		{name: "beyond tolerance", other: provider.OK(bars(99, 100, 105)), consistent: false, checked: true, pct: "5"},
		{name: "secondary unavailable fails open", other: provider.Empty("stooq", "no data"), consistent: true},
		{name: "secondary throttled fails open", other: provider.Failed("stooq", provider.NewError(provider.KindRateLimited, "stooq", "429")), consistent: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := diag.NewRecorder(0)
			c := New(secondary(t, tt.other), WithRecorder(rec))

			rep := c.SpotCheck(t.Context(), "AAPL", bars(98, 99, 100))

			require.Equal(t, tt.consistent, rep.Consistent)
			require.Equal(t, tt.checked, rep.Checked)
			if tt.pct != "" {
				require.True(t, decimal.RequireFromString(tt.pct).Equal(rep.PctDiff), rep.PctDiff.String())
			}
			require.Equal(t, !tt.consistent, len(rec.Attempts()) == 1)
		})
	}
}

func TestSpotCheck_MatchesByDate(t *testing.T) {
	t.Parallel()

	// the secondary is one day ahead; its bar for the primary's last date matches
	c := New(secondary(t, provider.OK(bars(98, 99, 100, 150))))

	rep := c.SpotCheck(t.Context(), "AAPL", bars(98, 99, 100))

	require.True(t, rep.Checked)
	require.True(t, rep.Consistent)
	require.True(t, rep.PctDiff.IsZero())
}

func TestGo_RunsDetached(t *testing.T) {
	t.Parallel()

	c := New(secondary(t, provider.OK(bars(100))), WithTimeout(time.Second))
	done := make(chan Report, 1)

	require.True(t, c.Go("AAPL", "yahoo-chart", bars(103), func(r Report) { done <- r }))

	select {
	case r := <-done:
		require.False(t, r.Consistent)
	case <-time.After(5 * time.Second):
		t.Fatal("cross-check did not finish")
	}
}

func TestGo_SkipsSeriesFromSecondary(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	m := mocks.NewMockAdapter(ctrl)
	m.EXPECT().Name().Return("stooq").AnyTimes()
	c := New(m)

	require.False(t, c.Go("AAPL", "stooq", bars(100), nil))
}

func TestGo_DropsBeyondInFlightBound(t *testing.T) {
	t.Parallel()

	// Arrange: the secondary blocks until released
	release := make(chan struct{})
	ctrl := gomock.NewController(t)
	m := mocks.NewMockAdapter(ctrl)
	m.EXPECT().Name().Return("stooq").AnyTimes()
	m.EXPECT().Fetch(gomock.Any(), "AAPL", provider.Period1Mo, provider.IntervalDaily).
		DoAndReturn(func(context.Context, string, provider.Period, provider.Interval) provider.Result {
			<-release
			return provider.OK(bars(100))
		}).Times(1)
	c := New(m, WithMaxInFlight(1))
	done := make(chan Report, 1)

	// Act
	started := c.Go("AAPL", "yahoo-chart", bars(100), func(r Report) { done <- r })
	dropped := !c.Go("AAPL", "yahoo-chart", bars(100), nil)
	close(release)

	// Assert
	require.True(t, started)
	require.True(t, dropped)
	select {
	case r := <-done:
		require.True(t, r.Checked)
	case <-time.After(5 * time.Second):
		t.Fatal("cross-check did not finish")
	}
	require.Eventually(t, func() bool { return len(c.inFlight) == 0 }, time.Second, 10*time.Millisecond)
}

func TestGo_PacedApartFromMainPath(t *testing.T) {
	t.Parallel()

	// Arrange: both slots space calls 200ms apart; the checker uses its own
	pol := ratelimit.Policy{MinSpacing: 200 * time.Millisecond, MaxRetries: 1}
	lim := ratelimit.New(ratelimit.WithPolicy("stooq", pol), ratelimit.WithPolicy("stooq-crosscheck", pol))
	ctrl := gomock.NewController(t)
	m := mocks.NewMockAdapter(ctrl)
	m.EXPECT().Name().Return("stooq").AnyTimes()
	m.EXPECT().Fetch(gomock.Any(), "AAPL", provider.Period1Mo, provider.IntervalDaily).Return(provider.OK(bars(100))).AnyTimes()
	c := New(&ratelimit.Paced{Adapter: m, Limiter: lim, Key: "stooq-crosscheck"}, WithMaxInFlight(10))

	for range 10 {
		require.True(t, c.Go("AAPL", "yahoo-chart", bars(100), nil))
	}

	// Act
	start := time.Now()
	require.NoError(t, lim.Acquire(t.Context(), "stooq"))

	// Assert
	require.Less(t, time.Since(start), 100*time.Millisecond)
}
