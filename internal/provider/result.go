package provider

import "errors"

// Outcome is the classified result of one adapter attempt.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeEmpty       Outcome = "empty"
	OutcomeRateLimited Outcome = "rateLimited"
	OutcomeMalformed   Outcome = "malformed"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeError       Outcome = "error"
	OutcomeInvalid     Outcome = "invalid"
	OutcomeExhausted   Outcome = "exhausted"
)

// OutcomeOf maps an error Kind onto the attempt outcome recorded in
// diagnostics.
func OutcomeOf(k Kind) Outcome {
	switch k {
	case KindTimeout:
		return OutcomeTimeout
	case KindRateLimited:
		return OutcomeRateLimited
	case KindMalformed:
		return OutcomeMalformed
	case KindEmpty:
		return OutcomeEmpty
	case KindValidation:
		return OutcomeInvalid
	case KindExhausted:
		return OutcomeExhausted
	default:
		return OutcomeError
	}
}

// Result is what every Adapter.Fetch returns: Ok(series), Empty or
// Error(kind). Err is nil only for success.
type Result struct {
	Outcome Outcome
	Series  Series
	Err     error
}

func OK(s Series) Result {
	return Result{Outcome: OutcomeSuccess, Series: s}
}

func Empty(provider, reason string) Result {
	return Result{Outcome: OutcomeEmpty, Err: NewError(KindEmpty, provider, reason)}
}

// Failed classifies err and wraps it as a Result.
func Failed(provider string, err error) Result {
	k := KindOf(err)
	var e *Error
	if !errors.As(err, &e) {
		e = Wrap(k, provider, "fetch failed", err)
	}
	return Result{Outcome: OutcomeOf(k), Err: e}
}

func (r Result) OK() bool { return r.Outcome == OutcomeSuccess && len(r.Series) > 0 }

// Kind returns the failure kind, KindUnknown on success.
func (r Result) Kind() Kind {
	if r.Err == nil {
		return KindUnknown
	}
	return KindOf(r.Err)
}

// Reason is a human-readable explanation for diagnostics.
func (r Result) Reason() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	if r.Outcome == OutcomeSuccess {
		return "ok"
	}
	return string(r.Outcome)
}
