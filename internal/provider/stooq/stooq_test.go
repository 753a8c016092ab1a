package stooq

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marketfeed/internal/provider"
)

func TestTicker(t *testing.T) {
	t.Parallel()

	require.Equal(t, "aapl.us", Ticker("AAPL"))
	require.Equal(t, "brk-b.us", Ticker("BRK-B"))
	require.Equal(t, "^spx", Ticker("^SPX"))
	require.Equal(t, "vod.uk", Ticker("VOD.UK"))
}

func TestParse(t *testing.T) {
	t.Parallel()

	s, err := parse(strings.NewReader("Date,Open,High,Low,Close,Volume\n2024-01-03,184.22,185.88,183.43,184.25,58414460\n2024-01-02,187.15,188.44,183.885,185.64,82488674\n"))

	require.NoError(t, err)
	require.Len(t, s, 2)
	require.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), s[0].Date)
	require.EqualValues(t, 58414460, s[1].Volume)
}

func TestParse_MissingColumn(t *testing.T) {
	t.Parallel()

	_, err := parse(strings.NewReader("Date,Open,High,Close\n2024-01-02,1,2,3\n"))
	require.Error(t, err)
}

func TestFetch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		outcome provider.Outcome
	}{
		{name: "rows", status: 200, body: "Date,Open,High,Low,Close,Volume\n2024-01-02,1,2,0.5,1.5,100\n", outcome: provider.OutcomeSuccess},
		{name: "no data", status: 200, body: "No data", outcome: provider.OutcomeEmpty},
		{name: "hits limit", status: 200, body: "Exceeded the daily hits limit", outcome: provider.OutcomeRateLimited},
		{name: "garbage", status: 200, body: "<html>", outcome: provider.OutcomeMalformed},
		{name: "server error", status: 503, outcome: provider.OutcomeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/q/d/l/", r.URL.Path)
				require.Equal(t, "aapl.us", r.URL.Query().Get("s"))
				require.Equal(t, "20240401", r.URL.Query().Get("d1"))
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			t.Cleanup(srv.Close)
			c := New(WithBaseURL(srv.URL), WithClock(func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }))

			res := c.Fetch(t.Context(), "AAPL", provider.Period1Mo, provider.IntervalDaily)

			require.Equal(t, tt.outcome, res.Outcome, res.Reason())
		})
	}
}
