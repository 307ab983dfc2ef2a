// Package validation provides request field validators shared by the
// HTTP handlers.
package validation

import (
	"fmt"
	"strings"
)

// FieldError describes a single invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors is the set of field errors from one validation pass.
type Errors []FieldError

// Error joins all field errors into one message.
func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, fe := range e {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return strings.Join(parts, "; ")
}

// Check is a single validation; it returns a zero FieldError when valid.
type Check func() (FieldError, bool)

// Validate runs all checks and collects failures.
func Validate(checks ...Check) Errors {
	var errs Errors
	for _, c := range checks {
		if fe, ok := c(); !ok {
			errs = append(errs, fe)
		}
	}
	return errs
}

// Required validates that value is non-empty.
func Required(field, value string) Check {
	return func() (FieldError, bool) {
		if strings.TrimSpace(value) == "" {
			return FieldError{Field: field, Message: "is required"}, false
		}
		return FieldError{}, true
	}
}

// ValidID validates a prefixed identifier such as "job_a1b2" or "dsp_ff00".
func ValidID(field, value, prefix string) Check {
	return func() (FieldError, bool) {
		if !strings.HasPrefix(value, prefix) || len(value) <= len(prefix) {
			return FieldError{Field: field, Message: fmt.Sprintf("must be a %q-prefixed id", prefix)}, false
		}
		for _, r := range value[len(prefix):] {
			if !isHex(r) {
				return FieldError{Field: field, Message: "contains invalid characters"}, false
			}
		}
		return FieldError{}, true
	}
}

// ValidAmountMinor validates a monetary amount in minor units.
func ValidAmountMinor(field string, amount int64) Check {
	return func() (FieldError, bool) {
		if amount <= 0 {
			return FieldError{Field: field, Message: "must be a positive amount in minor units"}, false
		}
		return FieldError{}, true
	}
}

// supported settlement currencies
var currencies = map[string]bool{
	"usd": true, "eur": true, "gbp": true, "cad": true, "aud": true,
}

// ValidCurrency validates a lowercase ISO 4217 currency code.
func ValidCurrency(field, code string) Check {
	return func() (FieldError, bool) {
		if !currencies[strings.ToLower(code)] {
			return FieldError{Field: field, Message: "unsupported currency"}, false
		}
		return FieldError{}, true
	}
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')
}
