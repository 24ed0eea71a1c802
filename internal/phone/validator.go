// internal/phone/validator.go
package phone

import (
	"fmt"
	"strings"
)

// Validator normalizes raw phone numbers into international dialable form.
// Pure, no I/O.
type Validator struct {
	CountryCode string // without the leading "+", e.g. "254"
	MinNational int    // digits after the country code
	MaxNational int
}

// NewValidator returns a validator for the given country code. Kenyan
// mobile numbers carry 9 national digits.
func NewValidator(countryCode string) *Validator {
	return &Validator{CountryCode: countryCode, MinNational: 9, MaxNational: 9}
}

// Validate strips whitespace and punctuation, converts local-format numbers
// (leading 0) to international form, and checks the national number length.
// Returns the canonical "+<cc><national>" form.
func (v *Validator) Validate(raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-', '(', ')', '.':
			return -1
		}
		return r
	}, raw)

	if cleaned == "" {
		return "", fmt.Errorf("empty phone number")
	}

	digits := strings.TrimPrefix(cleaned, "+")
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("phone number contains non-digit characters: %q", raw)
		}
	}

	var national string
	switch {
	case strings.HasPrefix(digits, v.CountryCode):
		national = strings.TrimPrefix(digits, v.CountryCode)
	case strings.HasPrefix(digits, "0"):
		national = strings.TrimPrefix(digits, "0")
	default:
		national = digits
	}

	if len(national) < v.MinNational || len(national) > v.MaxNational {
		return "", fmt.Errorf("phone number %q has invalid length", raw)
	}

	return "+" + v.CountryCode + national, nil
}
