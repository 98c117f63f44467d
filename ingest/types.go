/*
Package ingest provides the core bulk-import engine.

PURPOSE:
  This package contains domain-agnostic types and algorithms for chunked
  spreadsheet ingestion. Whether importing employee records or grant
  allocations, the same engine handles row normalization, two-pass
  validation, duplicate tracking, and atomic chunk commits.

KEY CONCEPTS IN THIS FILE (types.go):
  - RawRow: A spreadsheet row as delivered by the reader (all text)
  - Field: A column binding used for cell references in messages
  - ValidationResult: The outcome of one field-level check
  - Issue / RowReport: Accumulated errors and warnings for a row
  - Staged: A validated candidate record awaiting commit
  - ChunkResult / Summary: Per-chunk and per-import outcomes

DESIGN PRINCIPLES:
  1. Purity: Normalizers and validators never mutate shared state
  2. Precision: Uses decimal.Decimal for money and fractions
  3. Completeness: Every problem in a chunk is reported, never just the first
  4. Atomicity: A chunk commits fully or not at all

USAGE:
  res := ingest.Required(fieldOrg, 4, row["org"])
  if !res.Valid {
      report.AddError(4, "org", res.Err)
  }

SEE ALSO:
  - normalize.go: Cell text coercion (date serials, percents, currency)
  - validate.go: Field validator set including fuzzy enum membership
  - chunk.go: Two-pass chunk processor state machine
*/
package ingest

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// RAW ROW - Spreadsheet row at the pipeline boundary
// =============================================================================

// RawRow maps column names to cell text. All values are treated as text at
// the boundary; native spreadsheet types never survive into the pipeline.
type RawRow map[string]string

// Clone returns a shallow copy so normalizers can stay pure.
func (r RawRow) Clone() RawRow {
	out := make(RawRow, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Field binds a canonical field name to its spreadsheet column letter.
// The column letter only feeds human-readable cell references.
type Field struct {
	Name   string
	Column string
}

// Cell returns a spreadsheet cell reference like "B4".
func (f Field) Cell(row int) string {
	return fmt.Sprintf("%s%d", f.Column, row)
}

// CompositeKey joins key parts into a duplicate-detection key.
func CompositeKey(parts ...string) string {
	return strings.Join(parts, "|")
}

// =============================================================================
// VALIDATION RESULT - Value type returned by every field validator
// =============================================================================

// ValidationResult carries no identity and is consumed immediately by the
// caller. Normalized always holds a usable value: the canonical spelling on
// success, the original input on failure.
type ValidationResult struct {
	Valid      bool
	Normalized string
	Err        string
	Warnings   []string
}

func valid(normalized string, warnings ...string) ValidationResult {
	return ValidationResult{Valid: true, Normalized: normalized, Warnings: warnings}
}

func invalid(raw, err string) ValidationResult {
	return ValidationResult{Valid: false, Normalized: raw, Err: err}
}

// =============================================================================
// ISSUES - Structured {row, field, message} tuples
// =============================================================================

type Issue struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("row %d, %s: %s", i.Row, i.Field, i.Message)
}

// IssueStrings flattens issues for session storage and summaries.
func IssueStrings(issues []Issue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.String())
	}
	return out
}

// RowReport accumulates the errors and warnings produced while checking one
// row. A row can have zero errors and several warnings.
type RowReport struct {
	Errors   []Issue
	Warnings []Issue
}

func (r *RowReport) AddError(row int, field, message string) {
	r.Errors = append(r.Errors, Issue{Row: row, Field: field, Message: message})
}

func (r *RowReport) AddWarning(row int, field, message string) {
	r.Warnings = append(r.Warnings, Issue{Row: row, Field: field, Message: message})
}

// Apply records a validator result against a field and returns the value the
// row should carry going forward.
func (r *RowReport) Apply(f Field, row int, res ValidationResult) string {
	if !res.Valid {
		r.AddError(row, f.Name, res.Err)
	}
	for _, w := range res.Warnings {
		r.AddWarning(row, f.Name, w)
	}
	return res.Normalized
}

// Merge folds another report into this one.
func (r *RowReport) Merge(other RowReport) {
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

func (r *RowReport) HasErrors() bool { return len(r.Errors) > 0 }

// =============================================================================
// STAGED - Candidate record produced by pass 1, discarded on abort
// =============================================================================

// Staged is an in-memory candidate row. It only becomes a persisted write if
// every row in its chunk passed validation.
type Staged struct {
	// Row is the originating spreadsheet row number (1-based, header = 1).
	Row int
	// Key is the composite duplicate-detection key, empty when the row's
	// identity fields were too broken to form one.
	Key string
	// KeyField names the field reported on duplicate conflicts.
	KeyField string
	// Record holds the profile-specific normalized and derived values.
	Record any
}

// =============================================================================
// CHUNK RESULT - Outcome of one validate-then-commit unit
// =============================================================================

type ChunkState string

const (
	StateNormalizing      ChunkState = "normalizing"
	StateValidatingAll    ChunkState = "validating_all"
	StateComputingDerived ChunkState = "computing_derived"
	StateCommitting       ChunkState = "committing"
	StateCompleted        ChunkState = "completed"
	StateAborted          ChunkState = "aborted"
)

// ChunkResult reports what happened to one chunk. For an aborted chunk all
// row counts are zero except Skipped.
type ChunkResult struct {
	State     ChunkState `json:"state"`
	Processed int        `json:"processed"`
	Updated   int        `json:"updated"`
	Skipped   int        `json:"skipped"`
	Errors    []Issue    `json:"errors"`
	Warnings  []Issue    `json:"warnings"`
}

// CommitCounts is returned by a profile's Commit.
type CommitCounts struct {
	Inserted int
	Updated  int
}

// =============================================================================
// SUMMARY - Final per-import outcome handed to the notifier
// =============================================================================

type Summary struct {
	ImportID     string    `json:"import_id"`
	Owner        string    `json:"owner"`
	Profile      string    `json:"profile"`
	Processed    int       `json:"processed"`
	Updated      int       `json:"updated"`
	Skipped      int       `json:"skipped"`
	Errors       []string  `json:"errors"`
	Warnings     []string  `json:"warnings"`
	SystemErrors []string  `json:"system_errors"`
	CompletedAt  time.Time `json:"completed_at"`
}
