// Package symbols derives alternate ticker spellings for vendors that
// disagree on share-class, preferred and unit notation.
package symbols

import (
	"regexp"
	"strings"
)

// indexAliases maps common index shorthands to the caret form most vendors
// expect.
var indexAliases = map[string]string{
	"SPX":    "^GSPC",
	"SPX500": "^GSPC",
	"SP500":  "^GSPC",
	"GSPC":   "^GSPC",
	"NDX":    "^NDX",
	"NASDAQ": "^IXIC",
	"IXIC":   "^IXIC",
	"DJI":    "^DJI",
	"DJIA":   "^DJI",
	"RUT":    "^RUT",
	"VIX":    "^VIX",
}

// exchangeSuffixes are venue codes after a dot. Such symbols are already in
// vendor form and must not be rewritten as share classes.
var exchangeSuffixes = map[string]struct{}{
	"TO": {}, "V": {}, "CN": {}, "NE": {}, "L": {}, "DE": {}, "F": {}, "PA": {},
	"AS": {}, "MI": {}, "MC": {}, "SW": {}, "HK": {}, "AX": {}, "T": {},
	"NS": {}, "BO": {}, "SS": {}, "SZ": {}, "KS": {}, "SI": {}, "US": {},
}

var (
	// BRK.B, BRK-B, BRK/B, BF.A
	shareClassRe = regexp.MustCompile(`^([A-Z]{1,6})[.\-/ ]([A-Z])$`)
	// BAC-PL, BAC.PR.L, BAC/PRL, BACpL
	preferredRe = regexp.MustCompile(`^([A-Z]{1,6})(?:-P|\.PR\.?|/PR|\.P|p)([A-Z])$`)
	// IPOD.U, IPOD-UN, IPOD/WS, IPODW
	unitRe = regexp.MustCompile(`^([A-Z]{1,6})[.\-/ ](U|UN|W|WS|WT|R|RT)$`)
)

// unitSuffixes lists, per canonical suffix, the spellings vendors use.
var unitSuffixes = map[string][]string{
	"U":  {".U", "-U", "/U", "-UN", "U"},
	"UN": {"-UN", ".U", "-U", "U"},
	"W":  {".WS", "-WT", "/WS", "-W", "W"},
	"WS": {".WS", "-WT", "/WS", "-W", "W"},
	"WT": {"-WT", ".WS", "/WS", "-W", "W"},
	"R":  {".R", "-R", "/R", "-RT", "R"},
	"RT": {"-RT", ".R", "/R", "R"},
}

// Variants returns the spellings to try for symbol, the input first,
// without duplicates.
func Variants(symbol string) []string {
	in := strings.TrimSpace(symbol)
	if in == "" {
		return nil
	}
	out := make([]string, 0, 8)
	seen := make(map[string]struct{}, 8)
	add := func(v string) {
		if v == "" {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}

	add(in)
	up := strings.ToUpper(in)
	add(up)

	if alias, ok := indexAliases[strings.TrimPrefix(up, "^")]; ok {
		add(alias)
		return out
	}
	if strings.HasPrefix(up, "^") || strings.HasPrefix(up, "=") || strings.HasSuffix(up, "=X") {
		return out
	}
	if base, suffix, ok := strings.Cut(up, "."); ok && !strings.Contains(suffix, ".") {
		if _, venue := exchangeSuffixes[suffix]; venue && len(base) > 1 {
			return out
		}
	}

	// preferred before share class: BAC.PL would also look like a class
	if m := preferredRe.FindStringSubmatch(preferredInput(in, up)); m != nil {
		base, series := m[1], m[2]
		add(base + "-P" + series)
		add(base + ".PR." + series)
		add(base + "/PR" + series)
		add(base + "p" + series)
		add(base + "-PR" + series)
		return out
	}
	if m := unitRe.FindStringSubmatch(up); m != nil {
		base := m[1]
		for _, sfx := range unitSuffixes[m[2]] {
			add(base + sfx)
		}
		return out
	}
	if m := shareClassRe.FindStringSubmatch(up); m != nil {
		base, class := m[1], m[2]
		add(base + "." + class)
		add(base + "-" + class)
		add(base + "/" + class)
		add(base + class)
		return out
	}
	return out
}

// preferredInput keeps the lower-case "p" of the compact preferred form
// (BACpL) that upper-casing would otherwise destroy.
func preferredInput(in, up string) string {
	i := strings.LastIndex(in, "p")
	if i > 0 && i == len(in)-2 && in[:i] == up[:i] && in[i+1:] == up[i+1:] {
		return up[:i] + "p" + up[i+1:]
	}
	return up
}
