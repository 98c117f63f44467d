/*
store.go - Persistence interfaces for imported records

PURPOSE:
  Defines the interface between the import engine and the relational store.
  Reads are prefetch queries that build the per-import lookup snapshot;
  writes happen only inside WithTx so a chunk commits atomically.

LOOKUP SNAPSHOT:
  Profiles prefetch reference data (organizations, departments, existing
  record keys, active employments, grant items) once at import start and
  never refresh it mid-import. Staleness is an accepted trade-off: per-row
  validation stays O(1) with no store round-trips.

ATOMIC CHUNKS:
  WithTx runs fn inside one transaction. If fn returns an error the
  transaction is rolled back and no partial writes remain. This is the only
  way the engine writes records.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite (same patterns as PostgreSQL)

SEE ALSO:
  - chunk.go: Calls WithTx during the Committing state
  - staff/, funding/: Profiles that read the prefetch methods
*/
package ingest

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RECORD TYPES
// =============================================================================

// Employee is one imported staff record. Dates are ISO YYYY-MM-DD strings,
// already normalized and validated.
type Employee struct {
	ID              string
	Org             string
	StaffID         string
	FirstName       string
	LastName        string
	Gender          string
	DateOfBirth     string
	MaritalStatus   string
	SpouseName      string
	IDType          string
	IDNumber        string
	IDIssueDate     string
	IDExpiryDate    string
	Phone           string
	MilitaryService *bool // nil when the source text was unrecognized
	Department      string
	Position        string
	Site            string
	HireDate        string
	CreatedBy       string
	CreatedAt       time.Time
}

// Beneficiary is a dependent child record committed in the same transaction
// as its employee.
type Beneficiary struct {
	ID           string
	EmployeeID   string
	Name         string
	Relationship string
	SharePercent decimal.Decimal
}

// Employment is an active employment record, read from the store as part of
// the funding profile's lookup snapshot.
type Employment struct {
	ID              string
	Org             string
	StaffID         string
	Position        string
	Department      string
	Site            string
	StartDate       string
	EndDate         string
	ProbationEnd    string
	Salary          decimal.Decimal
	ProbationSalary decimal.Decimal // zero when no probation rate exists
	Active          bool
}

// GrantItem is a budget line a funding allocation can reference.
type GrantItem struct {
	ID        string // "CODE/LINE"
	GrantCode string
	LineItem  string
	ValidFrom string
	ValidTo   string
	Active    bool
}

// Allocation links an employment to a grant item with an FTE fraction and
// the derived allocated amount.
type Allocation struct {
	ID              string
	Org             string
	StaffID         string
	EmploymentID    string
	GrantItemID     string
	FTE             decimal.Decimal
	AllocatedAmount decimal.Decimal
	StartDate       string
	EndDate         string
	CreatedBy       string
	CreatedAt       time.Time
}

// =============================================================================
// WRITER - Transactional write surface handed to Profile.Commit
// =============================================================================

// Writer is only ever obtained inside RecordStore.WithTx. Every method
// participates in the surrounding transaction.
type Writer interface {
	InsertEmployee(ctx context.Context, e Employee) error
	InsertBeneficiaries(ctx context.Context, employeeID string, bs []Beneficiary) error
	InsertAllocation(ctx context.Context, a Allocation) error
	UpdateAllocation(ctx context.Context, a Allocation) error
}

// =============================================================================
// RECORD STORE - Prefetch reads + transactional writes
// =============================================================================

// RecordStore is the relational store behind the pipeline. The prefetch
// methods are read-only and used once per import to build lookup snapshots.
type RecordStore interface {
	// Organizations returns the known organization codes.
	Organizations(ctx context.Context) ([]string, error)

	// Departments, Positions and Sites return reference name lists used for
	// enum membership validation with fuzzy suggestions.
	Departments(ctx context.Context) ([]string, error)
	Positions(ctx context.Context) ([]string, error)
	Sites(ctx context.Context) ([]string, error)

	// EmployeeKeys returns every existing employee keyed by "org|staff_id".
	EmployeeKeys(ctx context.Context) (map[string]string, error)

	// ActiveEmployments returns the active employment per "org|staff_id".
	ActiveEmployments(ctx context.Context) (map[string]Employment, error)

	// GrantItems returns grant budget lines keyed by grant item id.
	GrantItems(ctx context.Context) (map[string]GrantItem, error)

	// AllocationKeys returns existing allocation ids keyed by
	// "org|staff_id|grant_item". Used by the funding profile's upsert path.
	AllocationKeys(ctx context.Context) (map[string]string, error)

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back; otherwise it is committed.
	WithTx(ctx context.Context, fn func(Writer) error) error
}
