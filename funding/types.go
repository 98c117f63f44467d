/*
Package funding implements the grant allocation import profile.

PURPOSE:
  Maps the grant allocation spreadsheet layout onto the ingest engine.
  Allocations are the derived-value heavy variant: effort percentages
  become FTE fractions, and the allocated amount is computed from the
  employment's probation-aware base salary.

COLUMN LAYOUT:
  A org            D line_item        F start_date
  B staff_id       E effort_percent   G end_date
  C grant_code

SEE ALSO:
  - importer.go: The ingest.Profile implementation
  - staff/: The employee profile (insert-only counterpart)
*/
package funding

import (
	"regexp"

	"github.com/shopspring/decimal"
	"github.com/warp/ingest-engine/ingest"
)

// =============================================================================
// COLUMN BINDINGS
// =============================================================================

var (
	FieldOrg       = ingest.Field{Name: "org", Column: "A"}
	FieldStaffID   = ingest.Field{Name: "staff_id", Column: "B"}
	FieldGrantCode = ingest.Field{Name: "grant_code", Column: "C"}
	FieldLineItem  = ingest.Field{Name: "line_item", Column: "D"}
	FieldEffort    = ingest.Field{Name: "effort_percent", Column: "E"}
	FieldStartDate = ingest.Field{Name: "start_date", Column: "F"}
	FieldEndDate   = ingest.Field{Name: "end_date", Column: "G"}
)

var grantCodeRe = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// EffortZeroPolicy: a zero effort is unusual but not forbidden for funding
// rows, so it warns instead of blocking.
const EffortZeroPolicy = ingest.ZeroWarn

var (
	fteMin = decimal.Zero
	fteMax = decimal.NewFromInt(1)
)

// =============================================================================
// STAGED RECORD
// =============================================================================

// Record is the typed candidate staged by pass 1. The allocation's FTE is
// known after validation; the allocated amount and employment link are
// filled in by the derive step.
type Record struct {
	Allocation ingest.Allocation
	// employmentKey locates the salary source in the prefetched snapshot.
	employmentKey string
	// update is true when an allocation with this composite key already
	// exists and the commit should upsert rather than insert.
	update bool
}
