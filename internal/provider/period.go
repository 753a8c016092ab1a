package provider

import (
	"fmt"
	"time"
)

// Period is a lookback window in vendor range notation.
type Period string

const (
	Period1Mo Period = "1mo"
	Period3Mo Period = "3mo"
	Period6Mo Period = "6mo"
	Period1Y  Period = "1y"
	Period2Y  Period = "2y"
)

// periods is ordered longest first; ShorterThan relies on it.
var periods = []Period{Period2Y, Period1Y, Period6Mo, Period3Mo, Period1Mo}

// ParsePeriod accepts the supported range spellings.
func ParsePeriod(s string) (Period, error) {
	p := Period(s)
	if !p.Valid() {
		return "", fmt.Errorf("unsupported period %q", s)
	}
	return p, nil
}

func (p Period) Valid() bool {
	for _, v := range periods {
		if v == p {
			return true
		}
	}
	return false
}

// Start returns the first calendar day covered by the period ending at now.
func (p Period) Start(now time.Time) time.Time {
	switch p {
	case Period1Mo:
		return now.AddDate(0, -1, 0)
	case Period3Mo:
		return now.AddDate(0, -3, 0)
	case Period6Mo:
		return now.AddDate(0, -6, 0)
	case Period2Y:
		return now.AddDate(-2, 0, 0)
	default:
		return now.AddDate(-1, 0, 0)
	}
}

// ShorterThan lists the supported periods strictly shorter than p,
// longest first.
func (p Period) ShorterThan() []Period {
	for i, v := range periods {
		if v == p {
			return append([]Period(nil), periods[i+1:]...)
		}
	}
	return nil
}

// Interval is a bar size. Only daily bars are required.
type Interval string

const IntervalDaily Interval = "1d"

func ParseInterval(s string) (Interval, error) {
	if s == "" || Interval(s) == IntervalDaily {
		return IntervalDaily, nil
	}
	return "", fmt.Errorf("unsupported interval %q", s)
}
