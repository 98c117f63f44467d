package funding_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ingest-engine/funding"
	"github.com/warp/ingest-engine/ingest"
)

// stubRecords serves a canned funding lookup snapshot.
type stubRecords struct {
	orgs        []string
	employments map[string]ingest.Employment
	grantItems  map[string]ingest.GrantItem
	allocations map[string]string
}

func (s *stubRecords) Organizations(context.Context) ([]string, error) { return s.orgs, nil }
func (s *stubRecords) Departments(context.Context) ([]string, error)   { return nil, nil }
func (s *stubRecords) Positions(context.Context) ([]string, error)     { return nil, nil }
func (s *stubRecords) Sites(context.Context) ([]string, error)         { return nil, nil }
func (s *stubRecords) EmployeeKeys(context.Context) (map[string]string, error) {
	return nil, nil
}
func (s *stubRecords) ActiveEmployments(context.Context) (map[string]ingest.Employment, error) {
	return s.employments, nil
}
func (s *stubRecords) GrantItems(context.Context) (map[string]ingest.GrantItem, error) {
	return s.grantItems, nil
}
func (s *stubRecords) AllocationKeys(context.Context) (map[string]string, error) {
	return s.allocations, nil
}
func (s *stubRecords) WithTx(context.Context, func(ingest.Writer) error) error { return nil }

func testClock() time.Time {
	return time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC)
}

func newStubRecords() *stubRecords {
	return &stubRecords{
		orgs: []string{"SMRU", "BHF", "MORU", "CCU"},
		employments: map[string]ingest.Employment{
			"SMRU|EMP001": {
				ID:              "empl-1",
				Org:             "SMRU",
				StaffID:         "EMP001",
				Salary:          decimal.RequireFromString("45000.50"),
				ProbationSalary: decimal.NewFromInt(40000),
				ProbationEnd:    "2026-01-31", // probation already over at the test clock
			},
			"SMRU|EMP002": {
				ID:              "empl-2",
				Org:             "SMRU",
				StaffID:         "EMP002",
				Salary:          decimal.NewFromInt(50000),
				ProbationSalary: decimal.NewFromInt(42000),
				ProbationEnd:    "2026-12-31", // still on probation
			},
		},
		grantItems: map[string]ingest.GrantItem{
			"GR-2026-001/3.1": {
				ID: "GR-2026-001/3.1", GrantCode: "GR-2026-001", LineItem: "3.1",
				ValidFrom: "2026-01-01", ValidTo: "2026-12-31", Active: true,
			},
			"GR-2020-009/1.0": {
				ID: "GR-2020-009/1.0", GrantCode: "GR-2020-009", LineItem: "1.0", Active: false,
			},
		},
	}
}

func newImporter(t *testing.T, records *stubRecords) *funding.Importer {
	t.Helper()
	im, err := funding.NewImporter(context.Background(), records, "grants-admin")
	require.NoError(t, err)
	return im
}

func validRow() ingest.RawRow {
	return ingest.RawRow{
		"org":            "SMRU",
		"staff_id":       "EMP001",
		"grant_code":     "GR-2026-001",
		"line_item":      "3.1",
		"effort_percent": "85%",
		"start_date":     "2026-01-01",
		"end_date":       "2026-12-31",
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestValidate_FullyValidRow(t *testing.T) {
	im := newImporter(t, newStubRecords())
	row := im.Normalize(validRow())

	staged, rep := im.Validate(testClock(), 4, row)
	require.False(t, rep.HasErrors(), "errors: %v", rep.Errors)
	require.NotNil(t, staged)
	assert.Equal(t, "SMRU|EMP001|GR-2026-001/3.1", staged.Key)

	record := staged.Record.(*funding.Record)
	assert.True(t, record.Allocation.FTE.Equal(decimal.RequireFromString("0.85")),
		"fte = %s, want 0.85 from the percent cell", record.Allocation.FTE)
	assert.Equal(t, "grants-admin", record.Allocation.CreatedBy)
}

func TestValidate_UnknownStaff(t *testing.T) {
	im := newImporter(t, newStubRecords())
	row := im.Normalize(validRow())
	row["staff_id"] = "EMP404"

	_, rep := im.Validate(testClock(), 4, row)
	require.True(t, rep.HasErrors())
	assert.Contains(t, rep.Errors[0].Message, "no active employment found for EMP404 at SMRU")
}

func TestValidate_UnknownGrantItemSuggestsClose(t *testing.T) {
	im := newImporter(t, newStubRecords())
	row := im.Normalize(validRow())
	row["line_item"] = "3.2" // one edit from the real 3.1

	_, rep := im.Validate(testClock(), 4, row)
	require.True(t, rep.HasErrors())
	assert.Contains(t, rep.Errors[0].Message, `did you mean "GR-2026-001/3.1"?`)
}

func TestValidate_InactiveGrantItem(t *testing.T) {
	im := newImporter(t, newStubRecords())
	row := im.Normalize(validRow())
	row["grant_code"] = "GR-2020-009"
	row["line_item"] = "1.0"

	_, rep := im.Validate(testClock(), 4, row)
	require.True(t, rep.HasErrors())
	assert.Contains(t, rep.Errors[0].Message, "no longer active")
}

func TestValidate_AllocationOutsideGrantValidityWarns(t *testing.T) {
	// Windows outside the grant's validity are soft problems.
	im := newImporter(t, newStubRecords())
	row := im.Normalize(validRow())
	row["start_date"] = "2025-12-01"
	row["end_date"] = "2027-02-01"

	_, rep := im.Validate(testClock(), 4, row)
	assert.False(t, rep.HasErrors(), "validity is a warning, got errors: %v", rep.Errors)
	assert.Len(t, rep.Warnings, 2, "both window edges should warn")
}

func TestValidate_EffortBounds(t *testing.T) {
	im := newImporter(t, newStubRecords())

	row := im.Normalize(validRow())
	row["effort_percent"] = "150"
	_, rep := im.Validate(testClock(), 4, row)
	require.True(t, rep.HasErrors(), "150%% effort should fail")
	assert.Contains(t, rep.Errors[0].Message, "above the maximum of 1")

	// Zero effort warns under the funding policy but does not block.
	row = im.Normalize(validRow())
	row["effort_percent"] = "0"
	_, rep = im.Validate(testClock(), 4, row)
	assert.False(t, rep.HasErrors(), "zero effort should only warn, got %v", rep.Errors)
	assert.NotEmpty(t, rep.Warnings)
}

func TestValidate_EndBeforeStart(t *testing.T) {
	im := newImporter(t, newStubRecords())
	row := im.Normalize(validRow())
	row["start_date"] = "2026-12-31"
	row["end_date"] = "2026-01-01"

	_, rep := im.Validate(testClock(), 4, row)
	require.True(t, rep.HasErrors())
}

// =============================================================================
// DERIVATION
// =============================================================================

func deriveValid(t *testing.T, im *funding.Importer, row ingest.RawRow) *funding.Record {
	t.Helper()
	staged, rep := im.Validate(testClock(), 4, row)
	require.False(t, rep.HasErrors(), "errors: %v", rep.Errors)
	require.NotNil(t, staged)
	rep = im.Derive(testClock(), staged)
	require.False(t, rep.HasErrors(), "derive errors: %v", rep.Errors)
	return staged.Record.(*funding.Record)
}

func TestDerive_AllocatedAmountFromFullSalary(t *testing.T) {
	// GIVEN: EMP001, past probation, 45000.50 salary at 85% effort
	// THEN: allocated_amount = 38250.43 (rounded to 2 dp)
	im := newImporter(t, newStubRecords())
	record := deriveValid(t, im, im.Normalize(validRow()))

	assert.Equal(t, "empl-1", record.Allocation.EmploymentID)
	assert.True(t, record.Allocation.AllocatedAmount.Equal(decimal.RequireFromString("38250.43")),
		"amount = %s, want 38250.43", record.Allocation.AllocatedAmount)
}

func TestDerive_ProbationRateApplies(t *testing.T) {
	// EMP002 is still on probation at the clock; the probation rate wins.
	im := newImporter(t, newStubRecords())
	row := im.Normalize(validRow())
	row["staff_id"] = "EMP002"
	record := deriveValid(t, im, row)

	// 42000 x 0.85 = 35700
	assert.True(t, record.Allocation.AllocatedAmount.Equal(decimal.NewFromInt(35700)),
		"amount = %s, want the probation salary basis", record.Allocation.AllocatedAmount)
}

func TestDerive_MissingBaseSalaryIsRowError(t *testing.T) {
	records := newStubRecords()
	records.employments["SMRU|EMP003"] = ingest.Employment{
		ID: "empl-3", Org: "SMRU", StaffID: "EMP003",
	}
	im := newImporter(t, records)
	row := im.Normalize(validRow())
	row["staff_id"] = "EMP003"

	staged, rep := im.Validate(testClock(), 4, row)
	require.False(t, rep.HasErrors())
	rep = im.Derive(testClock(), staged)
	require.True(t, rep.HasErrors(), "zero salary must not produce a zero amount silently")
	assert.Contains(t, rep.Errors[0].Message, "base salary")
}

// =============================================================================
// UPSERT POLICY
// =============================================================================

func TestStoredKeys_IsNilForUpsertProfile(t *testing.T) {
	im := newImporter(t, newStubRecords())
	assert.Nil(t, im.StoredKeys(), "existing allocations update in place, never conflict")
}

func TestDerive_FlagsExistingAllocationForUpdate(t *testing.T) {
	records := newStubRecords()
	records.allocations = map[string]string{"SMRU|EMP001|GR-2026-001/3.1": "alloc-1"}
	im := newImporter(t, records)

	record := deriveValid(t, im, im.Normalize(validRow()))
	w := &recordingWriter{}
	counts, err := im.Commit(context.Background(), w, []*ingest.Staged{{
		Row: 4, Key: "SMRU|EMP001|GR-2026-001/3.1", Record: record,
	}})
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Inserted)
	assert.Equal(t, 1, counts.Updated)
	assert.Equal(t, 0, w.inserts)
	assert.Equal(t, 1, w.updates)
}

func TestCommit_InsertsNewAllocations(t *testing.T) {
	im := newImporter(t, newStubRecords())
	record := deriveValid(t, im, im.Normalize(validRow()))

	w := &recordingWriter{}
	counts, err := im.Commit(context.Background(), w, []*ingest.Staged{{
		Row: 4, Key: "SMRU|EMP001|GR-2026-001/3.1", Record: record,
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Inserted)
	assert.Equal(t, 0, counts.Updated)
	assert.Equal(t, 1, w.inserts)
}

type recordingWriter struct {
	inserts int
	updates int
}

func (w *recordingWriter) InsertEmployee(context.Context, ingest.Employee) error { return nil }
func (w *recordingWriter) InsertBeneficiaries(context.Context, string, []ingest.Beneficiary) error {
	return nil
}
func (w *recordingWriter) InsertAllocation(context.Context, ingest.Allocation) error {
	w.inserts++
	return nil
}
func (w *recordingWriter) UpdateAllocation(context.Context, ingest.Allocation) error {
	w.updates++
	return nil
}
