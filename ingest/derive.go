/*
derive.go - Derived value calculator

PURPOSE:
  Computes values that are not literal column values: FTE fractions feeding
  allocated amounts, probation-aware base salary selection, and free-text to
  boolean mapping.

FAILURE POLICY:
  If a required upstream value is missing or zero where a positive value is
  required, the calculator reports an error rather than computing a garbage
  derived value. Ambiguous free text yields nil, never a guessed default.

SEE ALSO:
  - normalize.go: Produces the fraction strings consumed here
  - funding/: Uses the salary and allocation calculators
*/
package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of decimal places kept on derived amounts.
const AmountScale = 2

// =============================================================================
// FTE AND ALLOCATED AMOUNTS
// =============================================================================

// FTEFromFraction parses an already-normalized fraction string into a
// decimal FTE.
func FTEFromFraction(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty fte fraction")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fte fraction %q: %w", raw, err)
	}
	return d, nil
}

// AllocatedAmount computes base salary x FTE, rounded half-up to AmountScale.
func AllocatedAmount(baseSalary, fte decimal.Decimal) decimal.Decimal {
	return baseSalary.Mul(fte).Round(AmountScale)
}

// =============================================================================
// PROBATION-AWARE SALARY SELECTION
// =============================================================================

// BaseSalary picks the salary an allocation should be computed from. When
// the employment's probation end date is still in the future and a probation
// rate exists, that rate applies instead of the post-probation salary.
// Returns ErrMissingBaseSalary when the selected salary is not positive.
func BaseSalary(e Employment, now time.Time) (decimal.Decimal, error) {
	salary := e.Salary
	if end, ok := parseISO(e.ProbationEnd); ok && end.After(now) && e.ProbationSalary.IsPositive() {
		salary = e.ProbationSalary
	}
	if !salary.IsPositive() {
		return decimal.Zero, fmt.Errorf("employment %s/%s: %w", e.Org, e.StaffID, ErrMissingBaseSalary)
	}
	return salary, nil
}

// =============================================================================
// FREE-TEXT BOOLEANS
// =============================================================================

var truthyText = map[string]bool{
	"yes": true, "y": true, "true": true, "1": true,
	"completed": true, "exempted": true, "exempt": true,
}

var falsyText = map[string]bool{
	"no": true, "n": true, "false": true, "0": true,
	"none": true, "not applicable": true, "n/a": true, "na": true,
}

// BoolFromText maps free text such as military or benefit status to a
// boolean using fixed recognized sets, case-insensitively. Unrecognized
// strings yield nil: ambiguity must not silently resolve to false.
func BoolFromText(raw string) *bool {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return nil
	}
	if truthyText[s] {
		v := true
		return &v
	}
	if falsyText[s] {
		v := false
		return &v
	}
	return nil
}
