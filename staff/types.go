/*
Package staff implements the employee import profile.

PURPOSE:
  Maps the employee spreadsheet layout onto the ingest engine: column
  bindings, enumerated value sets, the identification-type display table,
  and the typed record staged for commit.

COLUMN LAYOUT:
  A org                  H spouse_name          O department
  B staff_id             I id_type              P position
  C first_name           J id_number            Q site
  D last_name            K id_issue_date        R hire_date
  E gender               L id_expiry_date       S beneficiary_name
  F date_of_birth        M phone                T beneficiary_relationship
  G marital_status       N military_service     U beneficiary_share

SEE ALSO:
  - importer.go: The ingest.Profile implementation
  - funding/: The grant allocation profile
*/
package staff

import (
	"regexp"

	"github.com/warp/ingest-engine/ingest"
)

// =============================================================================
// COLUMN BINDINGS
// =============================================================================

var (
	FieldOrg          = ingest.Field{Name: "org", Column: "A"}
	FieldStaffID      = ingest.Field{Name: "staff_id", Column: "B"}
	FieldFirstName    = ingest.Field{Name: "first_name", Column: "C"}
	FieldLastName     = ingest.Field{Name: "last_name", Column: "D"}
	FieldGender       = ingest.Field{Name: "gender", Column: "E"}
	FieldDateOfBirth  = ingest.Field{Name: "date_of_birth", Column: "F"}
	FieldMarital      = ingest.Field{Name: "marital_status", Column: "G"}
	FieldSpouseName   = ingest.Field{Name: "spouse_name", Column: "H"}
	FieldIDType       = ingest.Field{Name: "id_type", Column: "I"}
	FieldIDNumber     = ingest.Field{Name: "id_number", Column: "J"}
	FieldIDIssueDate  = ingest.Field{Name: "id_issue_date", Column: "K"}
	FieldIDExpiryDate = ingest.Field{Name: "id_expiry_date", Column: "L"}
	FieldPhone        = ingest.Field{Name: "phone", Column: "M"}
	FieldMilitary     = ingest.Field{Name: "military_service", Column: "N"}
	FieldDepartment   = ingest.Field{Name: "department", Column: "O"}
	FieldPosition     = ingest.Field{Name: "position", Column: "P"}
	FieldSite         = ingest.Field{Name: "site", Column: "Q"}
	FieldHireDate     = ingest.Field{Name: "hire_date", Column: "R"}
	FieldBenefName    = ingest.Field{Name: "beneficiary_name", Column: "S"}
	FieldBenefRel     = ingest.Field{Name: "beneficiary_relationship", Column: "T"}
	FieldBenefShare   = ingest.Field{Name: "beneficiary_share", Column: "U"}
)

// dateFields are normalized from spreadsheet serials before validation.
var dateFields = []ingest.Field{
	FieldDateOfBirth, FieldIDIssueDate, FieldIDExpiryDate, FieldHireDate,
}

// =============================================================================
// ENUMERATED VALUE SETS
// =============================================================================

var (
	Genders         = []string{"M", "F"}
	MaritalStatuses = []string{"Single", "Married", "Divorced", "Widowed"}
	IDTypes         = []string{"national_id", "passport", "work_permit"}
)

// idTypeDisplay maps the spreadsheet's display labels to stored codes.
// Unmapped values pass through for fuzzy validation to handle.
var idTypeDisplay = map[string]string{
	"Thai National ID": "national_id",
	"National ID":      "national_id",
	"Passport":         "passport",
	"Work Permit":      "work_permit",
}

// Age bounds implied by date_of_birth, evaluated at validation time.
const (
	MinAgeYears = 15
	MaxAgeYears = 80
)

var (
	staffIDRe = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
	idNumRe   = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
	phoneRe   = regexp.MustCompile(`^\+?[0-9][0-9 -]{6,19}$`)
)

// =============================================================================
// STAGED RECORD
// =============================================================================

// Record is the typed candidate staged by pass 1: a fully normalized
// employee plus its optional dependent beneficiary.
type Record struct {
	Employee    ingest.Employee
	Beneficiary *ingest.Beneficiary
	// militaryText is carried from validation to the derive step, where it
	// is mapped to a boolean (or nil when unrecognized).
	militaryText string
}
