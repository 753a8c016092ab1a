package alphavantage

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"marketfeed/internal/provider"
)

// OutputSize selects how much history TIME_SERIES_DAILY returns.
type OutputSize string

const (
	// Compact returns the latest 100 data points.
	Compact OutputSize = "compact"
	Full    OutputSize = "full"
)

type timeSeriesDailyResponse struct {
	Series map[string]struct {
		Open   string `json:"1. open"`
		High   string `json:"2. high"`
		Low    string `json:"3. low"`
		Close  string `json:"4. close"`
		Volume string `json:"5. volume"`
	} `json:"Time Series (Daily)"`
}

// GetTimeSeriesDaily retrieves daily bars for symbol, oldest first.
func (c *AlphaVantageAPIClient) GetTimeSeriesDaily(ctx context.Context, symbol string, size OutputSize) (provider.Series, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("outputsize", string(size))

	var body timeSeriesDailyResponse
	if err := c.get(ctx, "TIME_SERIES_DAILY", params, &body); err != nil {
		return nil, err
	}
	if len(body.Series) == 0 {
		return nil, provider.NewError(provider.KindEmpty, c.name, "no time series in response")
	}

	out := make(provider.Series, 0, len(body.Series))
	for day, row := range body.Series {
		// {
		//   "1. open": "187.1500",
		//   "2. high": "188.4400",
		//   "3. low": "183.8850",
		//   "4. close": "185.6400",
		//   "5. volume": "82488674"
		// }
		date, err := time.Parse(time.DateOnly, day)
		if err != nil {
			return nil, provider.Wrap(provider.KindMalformed, c.name, fmt.Sprintf("decoding date %q", day), err)
		}
		b := provider.Bar{Date: date}
		for _, f := range []struct {
			dst *float64
			src string
		}{{&b.Open, row.Open}, {&b.High, row.High}, {&b.Low, row.Low}, {&b.Close, row.Close}} {
			*f.dst, err = parsePrice(f.src)
			if err != nil {
				return nil, provider.Wrap(provider.KindMalformed, c.name, "decoding price", err)
			}
		}
		if row.Volume != "" {
			v, err := strconv.ParseFloat(row.Volume, 64)
			if err != nil {
				return nil, provider.Wrap(provider.KindMalformed, c.name, "decoding volume", err)
			}
			b.Volume = int64(v)
		}
		out = append(out, b)
	}
	return out.Normalize(), nil
}

// parsePrice reads a price string; an empty string is a missing value.
func parsePrice(s string) (float64, error) {
	if s == "" {
		return nan, nil
	}
	return strconv.ParseFloat(s, 64)
}
