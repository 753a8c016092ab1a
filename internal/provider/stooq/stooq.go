// Package stooq reads daily history from the stooq.com CSV download.
package stooq

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"marketfeed/internal/httpx"
	"marketfeed/internal/provider"
)

const (
	name        = "stooq"
	defaultBase = "https://stooq.com"
	maxBody     = 8 << 20
)

type CSV struct {
	baseURL    string
	httpClient httpx.HTTPClient
	now        func() time.Time
}

type Option func(*CSV)

func WithBaseURL(base string) Option { return func(c *CSV) { c.baseURL = base } }

func WithHTTPClient(h httpx.HTTPClient) Option { return func(c *CSV) { c.httpClient = h } }

func WithClock(now func() time.Time) Option { return func(c *CSV) { c.now = now } }

func New(opts ...Option) *CSV {
	c := &CSV{baseURL: defaultBase, httpClient: http.DefaultClient, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *CSV) Name() string { return name }

// Ticker converts a symbol to stooq notation: US listings carry ".us",
// indices keep their caret.
func Ticker(symbol string) string {
	s := strings.ToLower(strings.TrimSpace(symbol))
	if strings.HasPrefix(s, "^") || strings.Contains(s, ".") {
		return s
	}
	return s + ".us"
}

func (c *CSV) Fetch(ctx context.Context, symbol string, period provider.Period, interval provider.Interval) provider.Result {
	if interval != provider.IntervalDaily {
		return provider.Empty(name, "only daily bars are served")
	}
	now := c.now().UTC()
	q := url.Values{}
	q.Set("s", Ticker(symbol))
	q.Set("i", "d")
	q.Set("d1", period.Start(now).Format("20060102"))
	q.Set("d2", now.Format("20060102"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/q/d/l/?"+q.Encode(), http.NoBody)
	if err != nil {
		return provider.Failed(name, provider.Wrap(provider.KindMalformed, name, "creating request", err))
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return provider.Failed(name, provider.Wrap(provider.Classify(err), name, "performing request", err))
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return provider.Failed(name, provider.Errorf(provider.FromStatus(res.StatusCode), name, "HTTP %d", res.StatusCode))
	}
	body, err := httpx.ReadBody(res, maxBody)
	if err != nil {
		return provider.Failed(name, err)
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.EqualFold(trimmed, []byte("No data")) {
		return provider.Empty(name, "no data for "+Ticker(symbol))
	}
	if bytes.Contains(bytes.ToLower(trimmed[:min(len(trimmed), 200)]), []byte("exceeded the daily hits limit")) {
		return provider.Failed(name, provider.NewError(provider.KindRateLimited, name, "daily hits limit exceeded"))
	}

	s, err := parse(bytes.NewReader(trimmed))
	if err != nil {
		return provider.Failed(name, provider.Wrap(provider.KindMalformed, name, "parsing csv", err))
	}
	if len(s) == 0 {
		return provider.Empty(name, "csv had no rows")
	}
	return provider.OK(s)
}

// parse reads Date,Open,High,Low,Close[,Volume] rows. Columns are located
// by header name.
func parse(r io.Reader) (provider.Series, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	idx := map[string]int{}
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range []string{"date", "open", "high", "low", "close"} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("missing %s column", col)
		}
	}

	field := func(rec []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	num := func(rec []string, col string) (float64, error) {
		v := field(rec, col)
		if v == "" {
			return math.NaN(), nil
		}
		return strconv.ParseFloat(v, 64)
	}

	var out provider.Series
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		d, err := time.Parse(time.DateOnly, field(rec, "date"))
		if err != nil {
			return nil, fmt.Errorf("date %q: %w", field(rec, "date"), err)
		}
		b := provider.Bar{Date: d}
		if b.Open, err = num(rec, "open"); err != nil {
			return nil, err
		}
		if b.High, err = num(rec, "high"); err != nil {
			return nil, err
		}
		if b.Low, err = num(rec, "low"); err != nil {
			return nil, err
		}
		if b.Close, err = num(rec, "close"); err != nil {
			return nil, err
		}
		if v, err := num(rec, "volume"); err == nil && !math.IsNaN(v) {
			b.Volume = int64(v)
		}
		out = append(out, b)
	}
	return out.Normalize(), nil
}
