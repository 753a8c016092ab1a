package engine_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"marketfeed/internal/chain"
	"marketfeed/internal/config"
	"marketfeed/internal/engine"
	"marketfeed/internal/provider"
	"marketfeed/internal/provider/ratelimit"
)

// chartJSON renders a Yahoo chart result with n consecutive daily bars.
func chartJSON(symbol string, n int) map[string]any {
	start := time.Date(2024, 1, 1, 14, 30, 0, 0, time.UTC)
	ts := make([]int64, n)
	open, high, low, closes, vol := make([]float64, n), make([]float64, n), make([]float64, n), make([]float64, n), make([]float64, n)
	for i := range n {
		c := 180 + float64(i)
		ts[i] = start.AddDate(0, 0, i).Unix()
		open[i], high[i], low[i], closes[i], vol[i] = c, c+2, c-2, c+1, 1_000_000
	}
	return map[string]any{
		"meta":      map[string]any{"symbol": symbol},
		"timestamp": ts,
		"indicators": map[string]any{"quote": []any{map[string]any{
			"open": open, "high": high, "low": low, "close": closes, "volume": vol,
		}}},
	}
}

// vendor is a fake of the Yahoo and stooq endpoints. Only AAPL and BRK-B
// exist; everything else is "not found".
type vendor struct {
	srv       *httptest.Server
	calls     atomic.Int64
	downloads atomic.Int64
}

var known = map[string]bool{"AAPL": true, "BRK-B": true}

func newVendor(t *testing.T) *vendor {
	v := &vendor{}
	v.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v.calls.Add(1)
		switch {
		case strings.HasPrefix(r.URL.Path, "/v8/finance/chart/"):
			sym := strings.TrimPrefix(r.URL.Path, "/v8/finance/chart/")
			if r.URL.Query().Get("includeAdjustedClose") == "true" {
				v.downloads.Add(1)
			}
			if !known[sym] {
				json.NewEncoder(w).Encode(map[string]any{"chart": map[string]any{
					"result": nil, "error": map[string]any{"code": "Not Found", "description": "No data found"},
				}})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"chart": map[string]any{"result": []any{chartJSON(sym, 30)}}})
		case r.URL.Path == "/v7/finance/quote":
			sym := r.URL.Query().Get("symbols")
			var result []any
			if known[sym] {
				result = append(result, map[string]any{"longName": "Apple Inc.", "marketCap": 3.1e12, "currency": "USD"})
			}
			json.NewEncoder(w).Encode(map[string]any{"quoteResponse": map[string]any{"result": result}})
		case r.URL.Path == "/q/d/l/":
			fmt.Fprint(w, "No data")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(v.srv.Close)
	return v
}

type EngineTestSuite struct {
	suite.Suite
	vendor *vendor
	eng    *engine.Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func (s *EngineTestSuite) SetupTest() {
	s.vendor = newVendor(s.T())
	s.eng = s.newEngine(func(cfg *config.Config) { cfg.Providers.CrossCheck = false })
}

func (s *EngineTestSuite) newEngine(adjust func(*config.Config)) *engine.Engine {
	cfg := config.Default()
	cfg.Cache.Path = filepath.Join(s.T().TempDir(), "cache.db")
	cfg.Providers.DemoSymbol = ""
	cfg.RateLimits = map[string]ratelimit.Policy{}
	adjust(&cfg)

	eng, err := engine.New(cfg,
		engine.WithEndpoints(engine.Endpoints{Yahoo: s.vendor.srv.URL, Stooq: s.vendor.srv.URL}),
		engine.WithLimiterOptions(ratelimit.WithDefault(ratelimit.Policy{MaxRetries: 3})))
	s.Require().NoError(err)
	return eng
}

func (s *EngineTestSuite) TearDownTest() {
	s.Require().NoError(s.eng.Close())
}

func (s *EngineTestSuite) TestGetHistoryServesSecondCallFromCache() {
	ctx := s.T().Context()

	first := s.eng.GetHistory(ctx, "AAPL")
	s.Require().True(first.IsSome())
	s.Require().Len(first.Unwrap(), 30)
	calls := s.vendor.calls.Load()

	second := s.eng.GetHistory(ctx, "AAPL")
	s.Require().True(second.IsSome())
	s.Require().Equal(first.Unwrap(), second.Unwrap())
	s.Require().Equal(calls, s.vendor.calls.Load(), "cached read must not hit the network")

	ent, ok := s.eng.Provenance(ctx, "AAPL", provider.Period1Y, provider.IntervalDaily)
	s.Require().True(ok)
	s.Require().Equal("yahoo-chart", ent.Provider)
	s.Require().Equal("AAPL", ent.Variant)
	s.Require().Nil(ent.Payload)
}

func (s *EngineTestSuite) TestGetHistoryResolvesVariant() {
	got := s.eng.GetHistory(s.T().Context(), "BRK.B")
	s.Require().True(got.IsSome())

	ent, ok := s.eng.Provenance(s.T().Context(), "BRK.B", provider.Period1Y, provider.IntervalDaily)
	s.Require().True(ok)
	s.Require().Equal("BRK-B", ent.Variant)
}

func (s *EngineTestSuite) TestUnknownSymbolIsAbsent() {
	got := s.eng.GetHistory(s.T().Context(), "INVALIDXYZ")
	s.Require().True(got.IsNone())

	attempts := s.eng.DiagnosticsFor("INVALIDXYZ")
	s.Require().NotEmpty(attempts)
	last := attempts[len(attempts)-1]
	s.Require().Equal(provider.OutcomeExhausted, last.Outcome)
	s.Require().Equal(chain.ReasonExhausted, last.Reason)
}

func (s *EngineTestSuite) TestGetMany() {
	got := s.eng.GetMany(s.T().Context(), []string{"AAPL", "INVALIDXYZ"})

	s.Require().Len(got, 2)
	s.Require().True(got["AAPL"].IsSome())
	s.Require().True(got["INVALIDXYZ"].IsNone())
	s.Require().Positive(s.vendor.downloads.Load())

	ent, ok := s.eng.Provenance(s.T().Context(), "AAPL", provider.Period1Y, provider.IntervalDaily)
	s.Require().True(ok)
	s.Require().Equal("yahoo-download", ent.Provider)

	var runIDs []string
	for _, a := range s.eng.Diagnostics() {
		runIDs = append(runIDs, a.RunID)
	}
	s.Require().NotEmpty(runIDs)
	for _, id := range runIDs {
		s.Require().Equal(runIDs[0], id)
	}
}

func (s *EngineTestSuite) TestCrossCheckUsesItsOwnLimiterSlot() {
	eng := s.newEngine(func(cfg *config.Config) { cfg.Providers.CrossCheck = true })
	defer eng.Close()

	s.Require().True(eng.GetHistory(s.T().Context(), "AAPL").IsSome())

	s.Require().Eventually(func() bool {
		return !eng.LimiterStats("stooq-crosscheck").LastCallAt.IsZero()
	}, 5*time.Second, 20*time.Millisecond)
	s.Require().True(eng.LimiterStats("stooq").LastCallAt.IsZero(), "spot checks must not pace the chain's stooq step")
}

func (s *EngineTestSuite) TestInfoAndFundamentals() {
	ctx := s.T().Context()

	info := s.eng.GetInfo(ctx, "AAPL")
	s.Require().True(info.IsSome())
	s.Require().Equal("Apple Inc.", info.Unwrap()["name"])

	// without an Alpha Vantage key fundamentals come from the quote endpoint
	fund := s.eng.GetFundamentals(ctx, "AAPL")
	s.Require().True(fund.IsSome())
	s.Require().InDelta(3.1e12, fund.Unwrap()["market_cap"], 1)

	s.Require().True(s.eng.GetInfo(ctx, "INVALIDXYZ").IsNone())
}

func (s *EngineTestSuite) TestClearCache() {
	ctx := s.T().Context()
	s.Require().True(s.eng.GetHistory(ctx, "AAPL").IsSome())

	n, err := s.eng.ClearCache(ctx, 0)
	s.Require().NoError(err)
	s.Require().EqualValues(1, n)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Path = filepath.Join(t.TempDir(), "cache.db")
	cfg.Batch.Workers = 0

	_, err := engine.New(cfg)
	require.Error(t, err)
}
