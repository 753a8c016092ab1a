// Package yahoo talks to the public Yahoo Finance JSON endpoints. It
// exposes several adapters over one client because the chain treats the
// chart, history and download requests as separate strategies.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"time"

	"marketfeed/internal/httpx"
	"marketfeed/internal/provider"
)

const (
	defaultChartBase   = "https://query1.finance.yahoo.com"
	defaultHistoryBase = "https://query2.finance.yahoo.com"

	maxBody = 8 << 20
)

// Client is shared by the Yahoo adapters.
type Client struct {
	chartBase   string
	historyBase string
	httpClient  httpx.HTTPClient
	now         func() time.Time
}

type Option func(*Client)

// WithBaseURL points both hosts at base, typically an httptest server.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.chartBase = base
		c.historyBase = base
	}
}

func WithHTTPClient(h httpx.HTTPClient) Option {
	return func(c *Client) { c.httpClient = h }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func New(opts ...Option) *Client {
	c := &Client{
		chartBase:   defaultChartBase,
		historyBase: defaultHistoryBase,
		httpClient:  http.DefaultClient,
		now:         time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type chartResult struct {
	Meta struct {
		Symbol string `json:"symbol"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

type apiError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *apiError     `json:"error"`
	} `json:"chart"`
}

// get performs a GET and decodes a JSON body into out, mapping transport
// and status failures onto provider error kinds.
func (c *Client) get(ctx context.Context, name, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return provider.Wrap(provider.KindMalformed, name, "creating request", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return provider.Wrap(provider.Classify(err), name, "performing request", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return provider.Errorf(provider.FromStatus(res.StatusCode), name, "HTTP %d", res.StatusCode)
	}
	body, err := httpx.ReadBody(res, maxBody)
	if err != nil {
		return provider.Wrap(provider.Classify(err), name, "reading body", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return provider.Wrap(provider.KindMalformed, name, "decoding body", err)
	}
	return nil
}

func (c *Client) chart(ctx context.Context, name, base, symbol string, q url.Values) (provider.Series, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", base, url.PathEscape(symbol), q.Encode())
	var resp chartResponse
	if err := c.get(ctx, name, u, &resp); err != nil {
		return nil, err
	}
	if e := resp.Chart.Error; e != nil {
		return nil, provider.Errorf(provider.KindEmpty, name, "%s: %s", e.Code, e.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, provider.NewError(provider.KindEmpty, name, "no chart result")
	}
	s := toSeries(resp.Chart.Result[0])
	if len(s) == 0 {
		return nil, provider.NewError(provider.KindEmpty, name, "no rows")
	}
	return s, nil
}

func toSeries(r chartResult) provider.Series {
	if len(r.Indicators.Quote) == 0 {
		return nil
	}
	q := r.Indicators.Quote[0]
	out := make(provider.Series, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		b := provider.Bar{
			Date:  time.Unix(ts, 0).UTC(),
			Open:  at(q.Open, i),
			High:  at(q.High, i),
			Low:   at(q.Low, i),
			Close: at(q.Close, i),
		}
		if v := at(q.Volume, i); !math.IsNaN(v) {
			b.Volume = int64(v)
		}
		out = append(out, b)
	}
	return out.Normalize()
}

// at reads index i of a nullable column; null or missing is NaN.
func at(col []*float64, i int) float64 {
	if i >= len(col) || col[i] == nil {
		return nan
	}
	return *col[i]
}
