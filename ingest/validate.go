/*
validate.go - Field validator set

PURPOSE:
  Per-field validation rules: presence, length bounds, enumerated membership
  with fuzzy typo suggestion, numeric ranges, regex checks, and date
  semantics. Every validator is a pure function returning a ValidationResult;
  none mutates shared state.

FUZZY SUGGESTIONS:
  Enum membership failures compute the Levenshtein distance against every
  allowed value and, when the closest candidate is within the field's
  threshold, name it as a suggested correction ("did you mean 'SMRU'?").
  Ties break deterministically: candidates are scanned in declared order and
  the first minimal distance wins.

MESSAGES:
  Errors name the field's spreadsheet cell ("cell B4") so a user can fix the
  file without counting columns.

SEE ALSO:
  - rules.go: Cross-field rules that run after these
  - types.go: ValidationResult and Field
*/
package ingest

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/shopspring/decimal"
)

// DefaultFuzzyDistance is the suggestion threshold used when a field does
// not tune its own.
const DefaultFuzzyDistance = 2

// =============================================================================
// PRESENCE AND LENGTH
// =============================================================================

// Required rejects cells that are empty after trimming.
func Required(f Field, row int, value string) ValidationResult {
	v := strings.TrimSpace(value)
	if v == "" {
		return invalid(v, fmt.Sprintf("%s is required (cell %s)", f.Name, f.Cell(row)))
	}
	return valid(v)
}

// Length enforces min/max character counts, counted by Unicode code point.
// A max of 0 means unbounded.
func Length(f Field, row int, value string, min, max int) ValidationResult {
	v := strings.TrimSpace(value)
	n := utf8.RuneCountInString(v)
	if n < min {
		return invalid(v, fmt.Sprintf("%s must be at least %d characters (cell %s)", f.Name, min, f.Cell(row)))
	}
	if max > 0 && n > max {
		return invalid(v, fmt.Sprintf("%s must be at most %d characters (cell %s)", f.Name, max, f.Cell(row)))
	}
	return valid(v)
}

// =============================================================================
// ENUMERATED MEMBERSHIP WITH FUZZY SUGGESTION
// =============================================================================

// OneOf checks membership in a fixed allowed set, case-insensitively. On an
// exact match the canonical spelling from the allowed set is returned. On a
// near miss within maxDist edits, the closest allowed value is suggested.
func OneOf(f Field, row int, value string, allowed []string, maxDist int) ValidationResult {
	v := strings.TrimSpace(value)
	if v == "" {
		return invalid(v, fmt.Sprintf("%s is required (cell %s)", f.Name, f.Cell(row)))
	}
	folded := strings.ToLower(v)
	for _, a := range allowed {
		if strings.ToLower(a) == folded {
			return valid(a)
		}
	}

	// No exact match: find the closest allowed value. First minimum wins so
	// the suggestion is deterministic.
	best := ""
	bestDist := -1
	for _, a := range allowed {
		d := fuzzy.LevenshteinDistance(folded, strings.ToLower(a))
		if bestDist < 0 || d < bestDist {
			best, bestDist = a, d
		}
	}
	if maxDist <= 0 {
		maxDist = DefaultFuzzyDistance
	}
	if bestDist >= 0 && bestDist <= maxDist {
		return invalid(v, fmt.Sprintf("%q is not a valid %s (cell %s): did you mean %q?",
			v, f.Name, f.Cell(row), best))
	}
	return invalid(v, fmt.Sprintf("%q is not a valid %s (cell %s): allowed values are %s",
		v, f.Name, f.Cell(row), strings.Join(allowed, ", ")))
}

// =============================================================================
// NUMERIC RANGES
// =============================================================================

// ZeroPolicy decides how a zero value is treated where business rules allow
// zero but consider it unusual. Import variants disagree on this, so it is
// configurable per field.
type ZeroPolicy int

const (
	ZeroAllow ZeroPolicy = iota // zero is fine
	ZeroWarn                    // zero passes with a warning
	ZeroError                   // zero is rejected
)

// NumericRange enforces inclusive min/max bounds, distinguishing "below
// minimum" from "above maximum" in its messages.
func NumericRange(f Field, row int, value string, min, max decimal.Decimal, zero ZeroPolicy) ValidationResult {
	v := strings.TrimSpace(value)
	if v == "" {
		return invalid(v, fmt.Sprintf("%s is required (cell %s)", f.Name, f.Cell(row)))
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return invalid(v, fmt.Sprintf("%s must be a number, got %q (cell %s)", f.Name, v, f.Cell(row)))
	}
	if d.IsZero() {
		switch zero {
		case ZeroError:
			return invalid(v, fmt.Sprintf("%s must not be zero (cell %s)", f.Name, f.Cell(row)))
		case ZeroWarn:
			return valid(d.String(), fmt.Sprintf("%s is zero (cell %s)", f.Name, f.Cell(row)))
		}
	}
	if d.LessThan(min) {
		return invalid(v, fmt.Sprintf("%s is below the minimum of %s (cell %s)", f.Name, min.String(), f.Cell(row)))
	}
	if d.GreaterThan(max) {
		return invalid(v, fmt.Sprintf("%s is above the maximum of %s (cell %s)", f.Name, max.String(), f.Cell(row)))
	}
	return valid(d.String())
}

// =============================================================================
// PATTERNS
// =============================================================================

// Pattern checks a cell against a character-class regex. The what argument
// describes the expected shape for the error message.
func Pattern(f Field, row int, value string, re *regexp.Regexp, what string) ValidationResult {
	v := strings.TrimSpace(value)
	if v == "" {
		return invalid(v, fmt.Sprintf("%s is required (cell %s)", f.Name, f.Cell(row)))
	}
	if !re.MatchString(v) {
		return invalid(v, fmt.Sprintf("%s must contain only %s, got %q (cell %s)", f.Name, what, v, f.Cell(row)))
	}
	return valid(v)
}

// =============================================================================
// DATE SEMANTICS
// =============================================================================

// ISODate checks parseability as YYYY-MM-DD. Rows that still carry raw text
// here either never looked like a serial or carried garbage.
func ISODate(f Field, row int, value string) ValidationResult {
	v := strings.TrimSpace(value)
	if v == "" {
		return invalid(v, fmt.Sprintf("%s is required (cell %s)", f.Name, f.Cell(row)))
	}
	if _, err := time.Parse("2006-01-02", v); err != nil {
		return invalid(v, fmt.Sprintf("%s is not a valid date, got %q (cell %s)", f.Name, v, f.Cell(row)))
	}
	return valid(v)
}

// AgeBetween applies domain bounds to an age implied by a date of birth,
// computed against the supplied clock, never a cached one.
func AgeBetween(f Field, row int, value string, now time.Time, minYears, maxYears int) ValidationResult {
	res := ISODate(f, row, value)
	if !res.Valid {
		return res
	}
	dob, _ := time.Parse("2006-01-02", res.Normalized)
	age := yearsBetween(dob, now)
	if age < minYears {
		return invalid(res.Normalized, fmt.Sprintf("%s implies an age of %d, below the minimum of %d (cell %s)",
			f.Name, age, minYears, f.Cell(row)))
	}
	if age > maxYears {
		return invalid(res.Normalized, fmt.Sprintf("%s implies an age of %d, above the maximum of %d (cell %s)",
			f.Name, age, maxYears, f.Cell(row)))
	}
	return res
}

func yearsBetween(from, to time.Time) int {
	years := to.Year() - from.Year()
	anniversary := from.AddDate(years, 0, 0)
	if anniversary.After(to) {
		years--
	}
	return years
}
