package provider_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"marketfeed/internal/provider"
	"marketfeed/mocks"
)

func day(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

func TestNormalize(t *testing.T) {
	nan := math.NaN()
	in := provider.Series{
		{Date: day(3).Add(15 * time.Hour), Open: 3, High: 3, Low: 3, Close: 3},
		{Date: day(1), Open: 1, High: 1, Low: 1, Close: 1},
		{Date: day(2), Open: nan, High: nan, Low: nan, Close: nan},
		{Date: day(3), Open: 4, High: 4, Low: 4, Close: 4},
	}

	out := in.Normalize()

	require.Len(t, out, 2)
	require.Equal(t, day(1), out[0].Date)
	require.Equal(t, day(3), out[1].Date)
	require.Equal(t, 4.0, out[1].Close, "later duplicate wins")
}

func TestLastClose(t *testing.T) {
	s := provider.Series{{Date: day(1), Close: 10}, {Date: day(2), Close: math.NaN()}}
	c, ok := s.LastClose()
	require.True(t, ok)
	require.Equal(t, 10.0, c)

	_, ok = provider.Series{}.LastClose()
	require.False(t, ok)
}

func TestFromStatus(t *testing.T) {
	cases := map[int]provider.Kind{
		http.StatusTooManyRequests:     provider.KindRateLimited,
		http.StatusNotFound:            provider.KindEmpty,
		http.StatusUnauthorized:        provider.KindEmpty,
		http.StatusGatewayTimeout:      provider.KindTimeout,
		http.StatusBadGateway:          provider.KindNetwork,
		http.StatusInternalServerError: provider.KindNetwork,
		http.StatusTeapot:              provider.KindMalformed,
	}
	for code, want := range cases {
		require.Equal(t, want, provider.FromStatus(code), "status %d", code)
	}
}

func TestClassify(t *testing.T) {
	var syn json.SyntaxError
	require.Equal(t, provider.KindTimeout, provider.Classify(fmt.Errorf("get: %w", context.DeadlineExceeded)))
	require.Equal(t, provider.KindMalformed, provider.Classify(fmt.Errorf("decode: %w", &syn)))
	require.Equal(t, provider.KindNetwork, provider.Classify(errors.New("connection reset")))

	wrapped := fmt.Errorf("outer: %w", provider.NewError(provider.KindRateLimited, "yahoo-chart", "HTTP 429"))
	require.Equal(t, provider.KindRateLimited, provider.KindOf(wrapped))
	require.True(t, provider.IsRateLimited(wrapped))
	require.Equal(t, provider.KindUnknown, provider.KindOf(nil))
}

func TestFailedKeepsTypedError(t *testing.T) {
	res := provider.Failed("stooq", provider.NewError(provider.KindTimeout, "stooq", "slow"))
	require.Equal(t, provider.OutcomeTimeout, res.Outcome)
	require.Equal(t, provider.KindTimeout, res.Kind())
	require.False(t, res.OK())

	res = provider.Failed("stooq", errors.New("boom"))
	require.Equal(t, provider.OutcomeError, res.Outcome)
	var e *provider.Error
	require.ErrorAs(t, res.Err, &e)
	require.Equal(t, "stooq", e.Provider)
}

func TestPeriods(t *testing.T) {
	p, err := provider.ParsePeriod("6mo")
	require.NoError(t, err)
	require.Equal(t, []provider.Period{provider.Period3Mo, provider.Period1Mo}, p.ShorterThan())
	require.Empty(t, provider.Period1Mo.ShorterThan())

	_, err = provider.ParsePeriod("10y")
	require.Error(t, err)

	_, err = provider.ParseInterval("1h")
	require.Error(t, err)

	now := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC), provider.Period1Y.Start(now))
}

var (
	period   = provider.Period1Y
	interval = provider.IntervalDaily
	series   = provider.Series{{Date: day(1), Open: 1, High: 1, Low: 1, Close: 1}}
)

func TestFirstOf(t *testing.T) {
	ctrl := gomock.NewController(t)
	a, b := mocks.NewMockAdapter(ctrl), mocks.NewMockAdapter(ctrl)
	gomock.InOrder(
		a.EXPECT().Fetch(gomock.Any(), "AAPL", period, interval).Return(provider.Empty("a", "nothing")),
		b.EXPECT().Fetch(gomock.Any(), "AAPL", period, interval).Return(provider.OK(series)),
	)

	res := (&provider.FirstOf{Label: "bestfree", Members: []provider.Adapter{a, b}}).Fetch(t.Context(), "AAPL", period, interval)

	require.True(t, res.OK())
}

func TestFirstOfRejectedSeriesTriesNextMember(t *testing.T) {
	ctrl := gomock.NewController(t)
	a, b := mocks.NewMockAdapter(ctrl), mocks.NewMockAdapter(ctrl)
	a.EXPECT().Name().Return("alphavantage").AnyTimes()
	short := provider.Series{{Date: day(2), Open: 2, High: 2, Low: 2, Close: 2}}
	gomock.InOrder(
		a.EXPECT().Fetch(gomock.Any(), "AAPL", period, interval).Return(provider.OK(short)),
		b.EXPECT().Fetch(gomock.Any(), "AAPL", period, interval).Return(provider.OK(series)),
	)
	accept := func(s provider.Series) error {
		if s[0].Date.Equal(day(2)) {
			return provider.NewError(provider.KindValidation, "validator", "too few rows")
		}
		return nil
	}

	res := (&provider.FirstOf{Label: "bestfree", Members: []provider.Adapter{a, b}, Accept: accept}).Fetch(t.Context(), "AAPL", period, interval)

	require.True(t, res.OK())
	require.Equal(t, series, res.Series)
}

func TestFirstOfAllRejected(t *testing.T) {
	ctrl := gomock.NewController(t)
	a := mocks.NewMockAdapter(ctrl)
	a.EXPECT().Name().Return("polygon").AnyTimes()
	a.EXPECT().Fetch(gomock.Any(), "AAPL", period, interval).Return(provider.OK(series))
	reject := func(provider.Series) error {
		return provider.NewError(provider.KindValidation, "validator", "max close too low")
	}

	res := (&provider.FirstOf{Label: "bestfree", Members: []provider.Adapter{a}, Accept: reject}).Fetch(t.Context(), "AAPL", period, interval)

	require.False(t, res.OK())
	require.Equal(t, provider.KindValidation, res.Kind())
}

func TestFirstOfWithoutMembers(t *testing.T) {
	res := (&provider.FirstOf{Label: "bestfree"}).Fetch(t.Context(), "AAPL", period, interval)
	require.Equal(t, provider.OutcomeEmpty, res.Outcome)
}

func TestShorterPeriods(t *testing.T) {
	ctrl := gomock.NewController(t)
	a := mocks.NewMockAdapter(ctrl)
	a.EXPECT().Name().Return("yahoo-chart").AnyTimes()
	gomock.InOrder(
		a.EXPECT().Fetch(gomock.Any(), "X", provider.Period6Mo, interval).Return(provider.Empty("yahoo-chart", "no rows")),
		a.EXPECT().Fetch(gomock.Any(), "X", provider.Period3Mo, interval).Return(provider.OK(series)),
	)

	res := (&provider.ShorterPeriods{Adapter: a}).Fetch(t.Context(), "X", period, interval)

	require.True(t, res.OK())
}

func TestShorterPeriodsStopsOnRateLimit(t *testing.T) {
	ctrl := gomock.NewController(t)
	a := mocks.NewMockAdapter(ctrl)
	a.EXPECT().Name().Return("yahoo-chart").AnyTimes()
	a.EXPECT().Fetch(gomock.Any(), "X", provider.Period6Mo, interval).
		Return(provider.Failed("yahoo-chart", provider.NewError(provider.KindRateLimited, "yahoo-chart", "HTTP 429")))

	res := (&provider.ShorterPeriods{Adapter: a}).Fetch(t.Context(), "X", period, interval)

	require.Equal(t, provider.OutcomeRateLimited, res.Outcome)
}

func TestDemoOnly(t *testing.T) {
	ctrl := gomock.NewController(t)
	a := mocks.NewMockAdapter(ctrl)
	a.EXPECT().Name().Return("alphavantage-demo").AnyTimes()
	a.EXPECT().Fetch(gomock.Any(), "IBM", period, interval).Return(provider.OK(series))

	d := &provider.DemoOnly{Adapter: a, Symbol: "IBM"}

	require.True(t, d.Fetch(t.Context(), "ibm", period, interval).OK())
	require.Equal(t, provider.OutcomeEmpty, d.Fetch(t.Context(), "AAPL", period, interval).Outcome)
}

func TestSingle(t *testing.T) {
	ctrl := gomock.NewController(t)
	b := mocks.NewMockBulkAdapter(ctrl)
	b.EXPECT().Name().Return("yahoo-download").AnyTimes()
	b.EXPECT().FetchBulk(gomock.Any(), []string{"AAPL"}, period, interval).
		Return(map[string]provider.Series{"AAPL": series}, nil)
	b.EXPECT().FetchBulk(gomock.Any(), []string{"MSFT"}, period, interval).
		Return(map[string]provider.Series{}, nil)

	s := &provider.Single{Bulk: b}

	require.True(t, s.Fetch(t.Context(), "AAPL", period, interval).OK())
	require.Equal(t, provider.OutcomeEmpty, s.Fetch(t.Context(), "MSFT", period, interval).Outcome)
}
