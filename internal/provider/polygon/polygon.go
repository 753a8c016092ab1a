// Package polygon serves daily aggregates from Polygon.io through the
// official client. It is one of the keyed members of the free tier.
package polygon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"

	"marketfeed/internal/provider"
)

const name = "polygon"

type Adapter struct {
	client *polygon.Client
	now    func() time.Time
}

// New returns an adapter for apiKey. hc may be nil to use the client's
// default transport.
func New(apiKey string, hc *http.Client) (*Adapter, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("apiKey is required")
	}
	var c *polygon.Client
	if hc != nil {
		c = polygon.NewWithClient(apiKey, hc)
	} else {
		c = polygon.New(apiKey)
	}
	return &Adapter{client: c, now: time.Now}, nil
}

func (a *Adapter) Name() string { return name }

func (a *Adapter) Fetch(ctx context.Context, symbol string, period provider.Period, interval provider.Interval) provider.Result {
	if interval != provider.IntervalDaily {
		return provider.Empty(name, "only daily bars are served")
	}
	now := a.now().UTC()

	//nolint:exhaustruct // third-party struct with many optional fields
	params := models.ListAggsParams{
		Ticker:     strings.ToUpper(symbol),
		Multiplier: 1,
		Timespan:   models.Day,
		From:       models.Millis(period.Start(now)),
		To:         models.Millis(now),
	}.WithAdjusted(true).WithOrder(models.Asc).WithLimit(50000)

	iter := a.client.ListAggs(ctx, params)
	var aggs []models.Agg
	for iter.Next() {
		aggs = append(aggs, iter.Item())
	}
	if err := iter.Err(); err != nil {
		return provider.Failed(name, classify(err))
	}
	s := toSeries(aggs)
	if len(s) == 0 {
		return provider.Empty(name, "no aggregates returned")
	}
	return provider.OK(s)
}

func toSeries(aggs []models.Agg) provider.Series {
	out := make(provider.Series, 0, len(aggs))
	for _, agg := range aggs {
		out = append(out, provider.Bar{
			Date:   time.Time(agg.Timestamp).UTC(),
			Open:   agg.Open,
			High:   agg.High,
			Low:    agg.Low,
			Close:  agg.Close,
			Volume: int64(agg.Volume),
		})
	}
	return out.Normalize()
}

// classify maps client-go errors onto provider kinds using the HTTP status
// it carries.
func classify(err error) error {
	var resp *models.ErrorResponse
	if errors.As(err, &resp) && resp.StatusCode != 0 {
		return provider.Wrap(provider.FromStatus(resp.StatusCode), name, "aggregates request", err)
	}
	return provider.Wrap(provider.Classify(err), name, "aggregates request", err)
}
