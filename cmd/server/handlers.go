package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/moznion/go-optional"

	"marketfeed/internal/cache"
	"marketfeed/internal/diag"
	"marketfeed/internal/provider"
)

const maxSymbols = 1000

// service is what the handlers need from the engine.
type service interface {
	GetHistoryPeriod(ctx context.Context, symbol string, period provider.Period, interval provider.Interval) optional.Option[provider.Series]
	GetManyPeriod(ctx context.Context, symbols []string, period provider.Period, interval provider.Interval) map[string]optional.Option[provider.Series]
	GetFundamentals(ctx context.Context, symbol string) optional.Option[provider.Attributes]
	GetInfo(ctx context.Context, symbol string) optional.Option[provider.Attributes]
	Provenance(ctx context.Context, symbol string, period provider.Period, interval provider.Interval) (cache.Entry, bool)
	Diagnostics() []diag.FetchAttempt
	DiagnosticsFor(symbol string) []diag.FetchAttempt
}

type historyResponse struct {
	Symbol   string      `json:"symbol"`
	Period   string      `json:"period"`
	Interval string      `json:"interval"`
	Provider string      `json:"provider,omitempty"`
	Variant  string      `json:"variant,omitempty"`
	Rows     []cache.Row `json:"rows"`
}

type manyResponse struct {
	History map[string][]cache.Row `json:"history"`
	Missing []string               `json:"missing"`
}

type absentResponse struct {
	Error    string              `json:"error"`
	Symbol   string              `json:"symbol"`
	Attempts []diag.FetchAttempt `json:"attempts"`
}

type handlers struct {
	svc     service
	timeout time.Duration
}

func newRouter(svc service, timeout time.Duration, mws ...func(http.Handler) http.Handler) chi.Router {
	h := &handlers{svc: svc, timeout: timeout}
	r := chi.NewRouter()
	for _, mw := range mws {
		r.Use(mw)
	}
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Route("/api", func(r chi.Router) {
		r.Get("/history/{symbol}", h.getHistory)
		r.Get("/history", h.getMany)
		r.Post("/history", h.postMany)
		r.Get("/fundamentals/{symbol}", h.attributes(svc.GetFundamentals))
		r.Get("/info/{symbol}", h.attributes(svc.GetInfo))
		r.Get("/diagnostics", h.diagnostics)
	})
	return r
}

// params reads ?period= and ?interval=, defaulting to one year of daily bars.
func params(r *http.Request) (provider.Period, provider.Interval, error) {
	period, interval := provider.Period1Y, provider.IntervalDaily
	if v := r.URL.Query().Get("period"); v != "" {
		p, err := provider.ParsePeriod(v)
		if err != nil {
			return "", "", err
		}
		period = p
	}
	if v := r.URL.Query().Get("interval"); v != "" {
		i, err := provider.ParseInterval(v)
		if err != nil {
			return "", "", err
		}
		interval = i
	}
	return period, interval, nil
}

func (h *handlers) getHistory(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(chi.URLParam(r, "symbol"))
	period, interval, err := params(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	got := h.svc.GetHistoryPeriod(ctx, symbol, period, interval)
	if got.IsNone() {
		h.writeAbsent(w, symbol)
		return
	}
	resp := historyResponse{
		Symbol:   strings.ToUpper(symbol),
		Period:   string(period),
		Interval: string(interval),
		Rows:     cache.Rows(got.Unwrap()),
	}
	if ent, ok := h.svc.Provenance(ctx, symbol, period, interval); ok {
		resp.Provider, resp.Variant = ent.Provider, ent.Variant
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) getMany(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("symbols")
	if strings.TrimSpace(q) == "" {
		writeError(w, http.StatusBadRequest, "missing symbols query param")
		return
	}
	h.writeMany(w, r, splitCSV(q))
}

type postBody struct {
	Symbols []string `json:"symbols"`
}

func (h *handlers) postMany(w http.ResponseWriter, r *http.Request) {
	var b postBody
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(b.Symbols) == 0 {
		writeError(w, http.StatusBadRequest, "symbols cannot be empty")
		return
	}
	h.writeMany(w, r, b.Symbols)
}

func (h *handlers) writeMany(w http.ResponseWriter, r *http.Request, symbols []string) {
	if len(symbols) > maxSymbols {
		writeError(w, http.StatusBadRequest, "too many symbols (max 1000)")
		return
	}
	period, interval, err := params(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	got := h.svc.GetManyPeriod(ctx, symbols, period, interval)
	resp := manyResponse{History: make(map[string][]cache.Row, len(got)), Missing: []string{}}
	for _, sym := range symbols {
		sym = strings.TrimSpace(sym)
		v, ok := got[sym]
		if !ok || v.IsNone() {
			resp.Missing = append(resp.Missing, sym)
			continue
		}
		resp.History[sym] = cache.Rows(v.Unwrap())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) attributes(get func(context.Context, string) optional.Option[provider.Attributes]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		symbol := strings.TrimSpace(chi.URLParam(r, "symbol"))
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		got := get(ctx, symbol)
		if got.IsNone() {
			h.writeAbsent(w, symbol)
			return
		}
		writeJSON(w, http.StatusOK, got.Unwrap())
	}
}

func (h *handlers) diagnostics(w http.ResponseWriter, r *http.Request) {
	var attempts []diag.FetchAttempt
	if sym := strings.TrimSpace(r.URL.Query().Get("symbol")); sym != "" {
		attempts = h.svc.DiagnosticsFor(sym)
	} else {
		attempts = h.svc.Diagnostics()
	}
	if attempts == nil {
		attempts = []diag.FetchAttempt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

// writeAbsent reports missing data together with why every source failed.
func (h *handlers) writeAbsent(w http.ResponseWriter, symbol string) {
	attempts := h.svc.DiagnosticsFor(symbol)
	if attempts == nil {
		attempts = []diag.FetchAttempt{}
	}
	writeJSON(w, http.StatusNotFound, absentResponse{Error: "no data", Symbol: symbol, Attempts: attempts})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
