package rules

import (
	"regexp"
	"strconv"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// asciiDigits maps Persian (U+06F0..U+06F9) and Arabic-Indic (U+0660..U+0669)
// digits to ASCII.
var asciiDigits = runes.Map(func(r rune) rune {
	switch {
	case r >= '۰' && r <= '۹':
		return '0' + (r - '۰')
	case r >= '٠' && r <= '٩':
		return '0' + (r - '٠')
	}
	return r
})

// NormalizeDigits rewrites locale digits in s as ASCII digits.
func NormalizeDigits(s string) string {
	out, _, err := transform.String(asciiDigits, s)
	if err != nil {
		return s
	}
	return out
}

var firstDigitRun = regexp.MustCompile(`[0-9]+`)

// FirstInt extracts the first run of digits from free-form text such as
// "at least ۴ of 8".
func FirstInt(s string) (int, bool) {
	m := firstDigitRun.FindString(NormalizeDigits(s))
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}
