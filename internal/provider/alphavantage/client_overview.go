package alphavantage

import (
	"context"
	"net/url"
	"strconv"

	"marketfeed/internal/provider"
)

// overviewFields maps OVERVIEW keys onto vendor-neutral attribute names.
var overviewFields = map[string]string{
	"Name":                       "name",
	"Description":                "description",
	"Exchange":                   "exchange",
	"Currency":                   "currency",
	"Country":                    "country",
	"Sector":                     "sector",
	"Industry":                   "industry",
	"MarketCapitalization":       "market_cap",
	"PERatio":                    "pe_ratio",
	"PEGRatio":                   "peg_ratio",
	"BookValue":                  "book_value",
	"PriceToBookRatio":           "price_to_book",
	"DividendYield":              "dividend_yield",
	"EPS":                        "eps",
	"ProfitMargin":               "profit_margin",
	"ReturnOnEquityTTM":          "return_on_equity",
	"RevenueTTM":                 "revenue",
	"Beta":                       "beta",
	"52WeekHigh":                 "week52_high",
	"52WeekLow":                  "week52_low",
	"SharesOutstanding":          "shares_outstanding",
	"AnalystTargetPrice":         "analyst_target_price",
	"QuarterlyEarningsGrowthYOY": "earnings_growth_yoy",
}

// GetOverview retrieves company fundamentals. Numeric strings are parsed;
// "None" and "-" are dropped.
func (c *AlphaVantageAPIClient) GetOverview(ctx context.Context, symbol string) (provider.Attributes, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var body map[string]string
	if err := c.get(ctx, "OVERVIEW", params, &body); err != nil {
		return nil, err
	}
	if len(body) == 0 || body["Symbol"] == "" {
		return nil, provider.NewError(provider.KindEmpty, c.name, "no overview for symbol")
	}

	attrs := provider.Attributes{"symbol": body["Symbol"], "source": c.name}
	for from, to := range overviewFields {
		v, ok := body[from]
		if !ok || v == "" || v == "None" || v == "-" {
			continue
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			attrs[to] = f
			continue
		}
		attrs[to] = v
	}
	return attrs, nil
}
