package cache

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"marketfeed/internal/provider"
)

// HistoryKey identifies a history payload.
func HistoryKey(symbol string, period provider.Period, interval provider.Interval) string {
	return fmt.Sprintf("history:%s:%s:%s", strings.ToUpper(strings.TrimSpace(symbol)), period, interval)
}

// AttrKey identifies an info or fundamentals payload.
func AttrKey(symbol string, dt DataType) string {
	return fmt.Sprintf("%s:%s", dt, strings.ToUpper(strings.TrimSpace(symbol)))
}

// Row is the stored and served form of a Bar. NaN prices are written as
// null.
type Row struct {
	Date   string   `json:"date"`
	Open   *float64 `json:"open"`
	High   *float64 `json:"high"`
	Low    *float64 `json:"low"`
	Close  *float64 `json:"close"`
	Volume int64    `json:"volume"`
}

func ptr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func val(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

// Rows converts s to its JSON row form.
func Rows(s provider.Series) []Row {
	rows := make([]Row, len(s))
	for i, b := range s {
		rows[i] = Row{
			Date:   b.Date.UTC().Format(time.DateOnly),
			Open:   ptr(b.Open),
			High:   ptr(b.High),
			Low:    ptr(b.Low),
			Close:  ptr(b.Close),
			Volume: b.Volume,
		}
	}
	return rows
}

func EncodeSeries(s provider.Series) ([]byte, error) {
	return json.Marshal(Rows(s))
}

func DecodeSeries(data []byte) (provider.Series, error) {
	var rows []Row
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode series: %w", err)
	}
	out := make(provider.Series, 0, len(rows))
	for _, r := range rows {
		d, err := time.Parse(time.DateOnly, r.Date)
		if err != nil {
			return nil, fmt.Errorf("decode series date %q: %w", r.Date, err)
		}
		out = append(out, provider.Bar{
			Date:   d,
			Open:   val(r.Open),
			High:   val(r.High),
			Low:    val(r.Low),
			Close:  val(r.Close),
			Volume: r.Volume,
		})
	}
	return out, nil
}
