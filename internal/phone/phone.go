// Package phone normalizes sender identifiers to a canonical
// E.164-style form. Every counter and set in the store keys on the
// canonical form exclusively.
package phone

import (
	"regexp"
	"strings"
)

// DefaultPattern accepts NANP numbers in canonical form: +1 followed
// by a ten-digit number whose area code doesn't start with 0 or 1.
// The premium-rate 900 area code is excluded.
const DefaultPattern = `^\+1([2-8][0-9]{2}|9[1-9][0-9]|90[1-9])[0-9]{7}$`

// Normalize strips formatting characters and applies the single
// supported country prefix to bare national numbers. It never
// validates; pass the result to a Validator. Unusable input
// normalizes to "".
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	plus := strings.HasPrefix(raw, "+")
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if d == "" {
		return ""
	}

	switch {
	case plus:
		return "+" + d
	case len(d) == 11 && d[0] == '1':
		return "+" + d
	case len(d) == 10:
		return "+1" + d
	default:
		return "+" + d
	}
}

// Validator checks canonical numbers against the configured
// country/format pattern.
type Validator struct {
	re *regexp.Regexp
}

// NewValidator compiles pattern; an empty pattern falls back to
// DefaultPattern.
func NewValidator(pattern string) (*Validator, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &Validator{re: re}, nil
}

// Valid reports whether number matches the supported format.
func (v *Validator) Valid(number string) bool {
	return number != "" && v.re.MatchString(number)
}
