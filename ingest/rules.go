/*
rules.go - Cross-field rule engine

PURPOSE:
  Validates relationships spanning multiple fields of one normalized row,
  after the individual field validators have run: conditional requirements,
  paired presence, date ordering, and soft-format checks that only warn.

CONTRACT:
  A Rule is a pure function over the full row. Rules return a RowReport
  rather than a single verdict because a row can have zero errors and
  several warnings at once.

SEE ALSO:
  - validate.go: Single-field checks that feed these
  - chunk.go: Runs rules during the ValidatingAll state
*/
package ingest

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Rule validates a relationship between fields of a normalized row.
type Rule func(now time.Time, row int, r RawRow) RowReport

// RunRules applies every rule and merges the reports.
func RunRules(now time.Time, row int, r RawRow, rules []Rule) RowReport {
	var report RowReport
	for _, rule := range rules {
		report.Merge(rule(now, row, r))
	}
	return report
}

// =============================================================================
// CONDITIONAL AND PAIRED PRESENCE
// =============================================================================

// ConditionalPair requires b to be set exactly when a equals trigger.
// Either direction being violated is an error referencing both fields.
func ConditionalPair(a Field, trigger string, b Field) Rule {
	return func(_ time.Time, row int, r RawRow) RowReport {
		var report RowReport
		aVal := strings.TrimSpace(r[a.Name])
		bVal := strings.TrimSpace(r[b.Name])
		triggered := strings.EqualFold(aVal, trigger)
		if triggered && bVal == "" {
			report.AddError(row, b.Name, fmt.Sprintf("%s is required when %s is %q (cell %s)",
				b.Name, a.Name, trigger, b.Cell(row)))
		}
		if !triggered && bVal != "" {
			report.AddError(row, a.Name, fmt.Sprintf("%s is set but %s is %q, expected %q (cell %s)",
				b.Name, a.Name, aVal, trigger, a.Cell(row)))
		}
		return report
	}
}

// PairedPresence requires a and b to be set together: if either is present
// the other must be too.
func PairedPresence(a, b Field) Rule {
	return func(_ time.Time, row int, r RawRow) RowReport {
		var report RowReport
		aVal := strings.TrimSpace(r[a.Name])
		bVal := strings.TrimSpace(r[b.Name])
		if aVal != "" && bVal == "" {
			report.AddError(row, b.Name, fmt.Sprintf("%s is required when %s is set (cell %s)",
				b.Name, a.Name, b.Cell(row)))
		}
		if bVal != "" && aVal == "" {
			report.AddError(row, a.Name, fmt.Sprintf("%s is required when %s is set (cell %s)",
				a.Name, b.Name, a.Cell(row)))
		}
		return report
	}
}

// =============================================================================
// DATE ORDERING
// =============================================================================

// DateOrder requires end to be strictly after start when both are present.
// Unparsable dates are skipped here; the field validators already flagged them.
func DateOrder(start, end Field) Rule {
	return func(_ time.Time, row int, r RawRow) RowReport {
		var report RowReport
		s, sOK := parseISO(r[start.Name])
		e, eOK := parseISO(r[end.Name])
		if !sOK || !eOK {
			return report
		}
		if !e.After(s) {
			report.AddError(row, end.Name, fmt.Sprintf("%s (%s) must be after %s (%s) (cell %s)",
				end.Name, r[end.Name], start.Name, r[start.Name], end.Cell(row)))
		}
		return report
	}
}

// NotFuture rejects a date that lies after the validation clock.
func NotFuture(f Field) Rule {
	return func(now time.Time, row int, r RawRow) RowReport {
		var report RowReport
		d, ok := parseISO(r[f.Name])
		if !ok {
			return report
		}
		if d.After(now) {
			report.AddError(row, f.Name, fmt.Sprintf("%s (%s) must not be in the future (cell %s)",
				f.Name, r[f.Name], f.Cell(row)))
		}
		return report
	}
}

// =============================================================================
// SOFT-FORMAT CHECKS (warnings only)
// =============================================================================

// WarnPattern surfaces a format mismatch as a warning. Soft checks are
// informational and never block insertion.
func WarnPattern(f Field, re *regexp.Regexp, hint string) Rule {
	return func(_ time.Time, row int, r RawRow) RowReport {
		var report RowReport
		v := strings.TrimSpace(r[f.Name])
		if v == "" {
			return report
		}
		if !re.MatchString(v) {
			report.AddWarning(row, f.Name, fmt.Sprintf("%s %q does not look like %s (cell %s)",
				f.Name, v, hint, f.Cell(row)))
		}
		return report
	}
}

func parseISO(s string) (time.Time, bool) {
	v := strings.TrimSpace(s)
	if v == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
