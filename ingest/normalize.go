/*
normalize.go - Row normalization (pure cell-text coercion)

PURPOSE:
  Converts raw spreadsheet cell text into canonical typed values: numeric
  date serials into ISO dates, percentage strings into fractions, display
  labels into stored codes, currency text into plain numbers.

FAILURE POLICY:
  Normalization never fails. Unconvertible values pass through unchanged so
  the validator layer can reject them with a precise message instead of the
  pipeline silently nulling them.

DATE SERIALS:
  Spreadsheets store dates as days since an epoch. The epoch used here is
  1899-12-30, which absorbs the platform's historical 1900 leap-year bug:
  serial 36526 maps to 2000-01-01.

SEE ALSO:
  - validate.go: Rejects what normalization passed through
  - derive.go: Computes values from normalized cells
*/
package ingest

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DATE SERIALS
// =============================================================================

// serialEpoch is the spreadsheet date epoch. Two days before 1900-01-01 so
// that serials after the fictitious 1900-02-29 land on the right calendar day.
var serialEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// maxDateSerial caps serials at 9999-12-31.
const maxDateSerial = 2958465

var numericSerialRe = regexp.MustCompile(`^\d+(\.\d+)?$`)

// DateFromSerial interprets a purely numeric cell as a spreadsheet date
// serial and converts it to an ISO YYYY-MM-DD string. Fractional day parts
// (times) are truncated. Returns false when the cell is not a usable serial.
func DateFromSerial(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if !numericSerialRe.MatchString(s) {
		return "", false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", false
	}
	serial := int(f)
	if serial < 1 || serial > maxDateSerial {
		return "", false
	}
	return serialEpoch.AddDate(0, 0, serial).Format("2006-01-02"), true
}

// NormalizeDate coerces a date-like cell. Numeric serials become ISO dates;
// anything else is returned untouched for the validator to judge.
func NormalizeDate(raw string) string {
	if iso, ok := DateFromSerial(raw); ok {
		return iso
	}
	return strings.TrimSpace(raw)
}

// =============================================================================
// PERCENTAGES AND FRACTIONS
// =============================================================================

// NormalizeFraction coerces a percentage-or-fraction cell to a fraction.
// "85%" and "85" become "0.85"; "0.85" stays as is. Values outside [0,100]
// pass through for the validator layer to reject.
func NormalizeFraction(raw string) string {
	s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "%"))
	if s == "" {
		return ""
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	one := decimal.NewFromInt(1)
	hundred := decimal.NewFromInt(100)
	switch {
	case d.GreaterThan(one) && d.LessThanOrEqual(hundred):
		return d.Div(hundred).String()
	case !d.IsNegative() && d.LessThanOrEqual(one):
		return d.String()
	default:
		// Out of range: keep the parsed magnitude so range checks see it.
		return d.String()
	}
}

// =============================================================================
// DISPLAY LABEL MAPPING
// =============================================================================

// MapDisplay translates a known display string to its stored code via an
// explicit lookup table. Unmapped values pass through unchanged so fuzzy
// enum validation can handle them.
func MapDisplay(raw string, table map[string]string) string {
	s := strings.TrimSpace(raw)
	if code, ok := table[s]; ok {
		return code
	}
	return s
}

// =============================================================================
// CURRENCY / NUMERIC TEXT
// =============================================================================

var nonNumericRe = regexp.MustCompile(`[^0-9.\-]`)

// CleanNumeric strips every character except digits, '.', and '-'.
func CleanNumeric(raw string) string {
	return nonNumericRe.ReplaceAllString(raw, "")
}

// NormalizeAmount parses currency-formatted text ("฿45,000.50") into a plain
// decimal string. Unparsable input yields the empty string, never zero.
func NormalizeAmount(raw string) string {
	cleaned := CleanNumeric(raw)
	if cleaned == "" {
		return ""
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return ""
	}
	return d.String()
}

// TrimAll trims surrounding whitespace on every cell of a row. Returns a new
// row; the input is never mutated.
func TrimAll(raw RawRow) RawRow {
	out := make(RawRow, len(raw))
	for k, v := range raw {
		out[k] = strings.TrimSpace(v)
	}
	return out
}
