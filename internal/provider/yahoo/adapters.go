package yahoo

import (
	"context"
	"math"
	"net/url"
	"strconv"

	"marketfeed/internal/provider"
)

var nan = math.NaN()

// Chart uses the v8 chart endpoint with a range parameter.
type Chart struct{ C *Client }

func (a *Chart) Name() string { return "yahoo-chart" }

func (a *Chart) Fetch(ctx context.Context, symbol string, period provider.Period, interval provider.Interval) provider.Result {
	q := url.Values{}
	q.Set("range", string(period))
	q.Set("interval", string(interval))
	q.Set("includePrePost", "false")
	s, err := a.C.chart(ctx, a.Name(), a.C.chartBase, symbol, q)
	if err != nil {
		return provider.Failed(a.Name(), err)
	}
	return provider.OK(s)
}

// History asks the second host for an explicit date window, which some
// symbols answer when the range form does not.
type History struct{ C *Client }

func (a *History) Name() string { return "yahoo-history" }

func (a *History) Fetch(ctx context.Context, symbol string, period provider.Period, interval provider.Interval) provider.Result {
	now := a.C.now().UTC()
	q := url.Values{}
	q.Set("period1", strconv.FormatInt(period.Start(now).Unix(), 10))
	q.Set("period2", strconv.FormatInt(now.Unix(), 10))
	q.Set("interval", string(interval))
	q.Set("events", "history")
	s, err := a.C.chart(ctx, a.Name(), a.C.historyBase, symbol, q)
	if err != nil {
		return provider.Failed(a.Name(), err)
	}
	return provider.OK(s)
}

type quoteResponse struct {
	QuoteResponse struct {
		Result []map[string]any `json:"result"`
		Error  *apiError        `json:"error"`
	} `json:"quoteResponse"`
}

// quoteFields are copied into Attributes under vendor-neutral names.
var quoteFields = map[string]string{
	"longName":                    "name",
	"shortName":                   "short_name",
	"currency":                    "currency",
	"fullExchangeName":            "exchange",
	"quoteType":                   "type",
	"regularMarketPrice":          "price",
	"regularMarketPreviousClose":  "previous_close",
	"regularMarketVolume":         "volume",
	"marketCap":                   "market_cap",
	"trailingPE":                  "pe_ratio",
	"forwardPE":                   "forward_pe",
	"priceToBook":                 "price_to_book",
	"epsTrailingTwelveMonths":     "eps",
	"trailingAnnualDividendYield": "dividend_yield",
	"fiftyTwoWeekHigh":            "week52_high",
	"fiftyTwoWeekLow":             "week52_low",
	"sharesOutstanding":           "shares_outstanding",
}

// Quote serves instrument info from the v7 quote endpoint.
type Quote struct{ C *Client }

func (a *Quote) Name() string { return "yahoo-quote" }

func (a *Quote) FetchAttributes(ctx context.Context, symbol string) (provider.Attributes, error) {
	q := url.Values{}
	q.Set("symbols", symbol)
	var resp quoteResponse
	if err := a.C.get(ctx, a.Name(), a.C.chartBase+"/v7/finance/quote?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	if e := resp.QuoteResponse.Error; e != nil {
		return nil, provider.Errorf(provider.KindEmpty, a.Name(), "%s: %s", e.Code, e.Description)
	}
	if len(resp.QuoteResponse.Result) == 0 {
		return nil, provider.NewError(provider.KindEmpty, a.Name(), "symbol not found")
	}
	raw := resp.QuoteResponse.Result[0]
	attrs := provider.Attributes{"symbol": symbol, "source": a.Name()}
	for from, to := range quoteFields {
		if v, ok := raw[from]; ok && v != nil {
			attrs[to] = v
		}
	}
	if len(attrs) == 2 {
		return nil, provider.NewError(provider.KindEmpty, a.Name(), "quote carried no fields")
	}
	return attrs, nil
}
