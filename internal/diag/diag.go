// Package diag records every adapter attempt so callers can see why a
// symbol came back absent.
package diag

import (
	"context"
	"sync"
	"time"

	"marketfeed/internal/provider"
)

type FetchAttempt struct {
	RunID    string           `json:"run_id,omitempty"`
	Symbol   string           `json:"symbol"`
	Provider string           `json:"provider"`
	Variant  string           `json:"variant,omitempty"`
	Outcome  provider.Outcome `json:"outcome"`
	Reason   string           `json:"reason,omitempty"`
	At       time.Time        `json:"at"`
}

// Recorder is an append-only attempt log bounded to Limit entries.
type Recorder struct {
	mu       sync.Mutex
	attempts []FetchAttempt
	limit    int
	now      func() time.Time
}

const defaultLimit = 10000

func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = defaultLimit
	}
	return &Recorder{limit: limit, now: time.Now}
}

func (r *Recorder) Record(a FetchAttempt) {
	if a.At.IsZero() {
		a.At = r.now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
	if over := len(r.attempts) - r.limit; over > 0 {
		r.attempts = append(r.attempts[:0:0], r.attempts[over:]...)
	}
}

// Attempts returns a copy of the log, oldest first.
func (r *Recorder) Attempts() []FetchAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]FetchAttempt(nil), r.attempts...)
}

// For returns the attempts made for one symbol.
func (r *Recorder) For(symbol string) []FetchAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []FetchAttempt
	for _, a := range r.attempts {
		if a.Symbol == symbol {
			out = append(out, a)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.attempts = nil
	r.mu.Unlock()
}

type runIDKey struct{}

// WithRunID tags ctx so attempts recorded under it share one run id.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunID returns the run id carried by ctx, if any.
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
