package extract

import (
	"math"
	"strconv"
	"strings"
)

// ParseCount converts an abbreviated count ("1,234", "1.2K", "3M") to an
// integer. K and M multiply the numeric prefix, truncating toward zero.
// Anything unparseable or too large for an int is 0.
func ParseCount(text string) int {
	s := strings.TrimSpace(strings.ReplaceAll(text, ",", ""))
	if s == "" {
		return 0
	}

	multiplier := 1
	switch s[len(s)-1] {
	case 'K', 'k':
		multiplier = 1_000
	case 'M', 'm':
		multiplier = 1_000_000
	}
	if multiplier == 1 {
		if !isDigits(s) {
			return 0
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0
		}
		return n
	}
	return scaleDecimal(s[:len(s)-1], multiplier)
}

// scaleDecimal multiplies a plain decimal by multiplier in integer
// arithmetic so "2.3" x 1000 is exactly 2300.
func scaleDecimal(s string, multiplier int) int {
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0
	}
	if (whole != "" && !isDigits(whole)) || (frac != "" && !isDigits(frac)) {
		return 0
	}

	n := 0
	if whole != "" {
		w, err := strconv.Atoi(whole)
		if err != nil {
			return 0
		}
		// Leave room for the fractional part.
		if w > (math.MaxInt-multiplier)/multiplier {
			return 0
		}
		n = w * multiplier
	}

	div := 1
	for _, r := range frac {
		if div >= multiplier {
			break
		}
		div *= 10
		n += int(r-'0') * multiplier / div
	}
	return n
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
