/*
importer.go - The employee import profile

PURPOSE:
  Implements ingest.Profile for bulk employee imports. One Importer is
  built per import with its lookup snapshot (organizations, departments,
  positions, sites, existing employee keys) prefetched once; per-row
  validation never touches the store.

DUPLICATE POLICY:
  Employees are insert-only: a composite key (staff_id + org) that already
  exists in the store is a row error, not an upsert.

SEE ALSO:
  - types.go: Column bindings and enumerated sets
  - ingest/chunk.go: The state machine driving this profile
*/
package staff

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/ingest-engine/ingest"
)

// ProfileName is the identifier used by the API and the seen-set scope.
const ProfileName = "staff"

// Importer carries one import's lookup snapshot. Immutable after New;
// staleness against the live store is an accepted trade-off.
type Importer struct {
	actor       string
	orgs        []string
	departments []string
	positions   []string
	sites       []string
	existing    map[string]bool // "org|staff_id" already in the store
	rules       []ingest.Rule
}

// NewImporter prefetches the lookup snapshot and builds the profile.
func NewImporter(ctx context.Context, records ingest.RecordStore, actor string) (*Importer, error) {
	orgs, err := records.Organizations(ctx)
	if err != nil {
		return nil, fmt.Errorf("prefetch organizations: %w", err)
	}
	departments, err := records.Departments(ctx)
	if err != nil {
		return nil, fmt.Errorf("prefetch departments: %w", err)
	}
	positions, err := records.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("prefetch positions: %w", err)
	}
	sites, err := records.Sites(ctx)
	if err != nil {
		return nil, fmt.Errorf("prefetch sites: %w", err)
	}
	keys, err := records.EmployeeKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("prefetch employee keys: %w", err)
	}
	existing := make(map[string]bool, len(keys))
	for k := range keys {
		existing[k] = true
	}

	return &Importer{
		actor:       actor,
		orgs:        orgs,
		departments: departments,
		positions:   positions,
		sites:       sites,
		existing:    existing,
		rules: []ingest.Rule{
			ingest.ConditionalPair(FieldMarital, "Married", FieldSpouseName),
			ingest.PairedPresence(FieldIDType, FieldIDNumber),
			ingest.NotFuture(FieldIDIssueDate),
			ingest.DateOrder(FieldIDIssueDate, FieldIDExpiryDate),
			ingest.WarnPattern(FieldPhone, phoneRe, "a phone number"),
		},
	}, nil
}

func (im *Importer) Name() string { return ProfileName }

// StoredKeys makes existing employees hard conflicts (insert-only profile).
func (im *Importer) StoredKeys() map[string]bool { return im.existing }

// Normalize trims every cell, converts date serials to ISO dates, and maps
// identification-type display labels to stored codes. Pure.
func (im *Importer) Normalize(raw ingest.RawRow) ingest.RawRow {
	row := ingest.TrimAll(raw)
	for _, f := range dateFields {
		row[f.Name] = ingest.NormalizeDate(row[f.Name])
	}
	row[FieldIDType.Name] = ingest.MapDisplay(row[FieldIDType.Name], idTypeDisplay)
	row[FieldBenefShare.Name] = ingest.NormalizeAmount(row[FieldBenefShare.Name])
	return row
}

// Validate runs the field validators and cross-field rules for one row and
// stages the typed employee record.
func (im *Importer) Validate(now time.Time, rowNum int, row ingest.RawRow) (*ingest.Staged, ingest.RowReport) {
	var rep ingest.RowReport

	org := rep.Apply(FieldOrg, rowNum, ingest.OneOf(FieldOrg, rowNum, row[FieldOrg.Name], im.orgs, 2))
	staffID := rep.Apply(FieldStaffID, rowNum,
		ingest.Pattern(FieldStaffID, rowNum, row[FieldStaffID.Name], staffIDRe, "letters, digits and dashes"))
	if staffID != "" {
		staffID = rep.Apply(FieldStaffID, rowNum, ingest.Length(FieldStaffID, rowNum, staffID, 1, 20))
	}

	firstName := rep.Apply(FieldFirstName, rowNum, ingest.Length(FieldFirstName, rowNum, row[FieldFirstName.Name], 1, 100))
	lastName := row[FieldLastName.Name]
	if lastName != "" {
		lastName = rep.Apply(FieldLastName, rowNum, ingest.Length(FieldLastName, rowNum, lastName, 1, 100))
	}
	gender := rep.Apply(FieldGender, rowNum, ingest.OneOf(FieldGender, rowNum, row[FieldGender.Name], Genders, 1))
	dob := rep.Apply(FieldDateOfBirth, rowNum,
		ingest.AgeBetween(FieldDateOfBirth, rowNum, row[FieldDateOfBirth.Name], now, MinAgeYears, MaxAgeYears))
	marital := rep.Apply(FieldMarital, rowNum,
		ingest.OneOf(FieldMarital, rowNum, row[FieldMarital.Name], MaritalStatuses, 2))

	idType := row[FieldIDType.Name]
	if idType != "" {
		idType = rep.Apply(FieldIDType, rowNum, ingest.OneOf(FieldIDType, rowNum, idType, IDTypes, 3))
	}
	idNumber := row[FieldIDNumber.Name]
	if idNumber != "" {
		idNumber = rep.Apply(FieldIDNumber, rowNum,
			ingest.Pattern(FieldIDNumber, rowNum, idNumber, idNumRe, "letters, digits and dashes"))
	}
	for _, f := range []ingest.Field{FieldIDIssueDate, FieldIDExpiryDate, FieldHireDate} {
		if row[f.Name] != "" {
			row[f.Name] = rep.Apply(f, rowNum, ingest.ISODate(f, rowNum, row[f.Name]))
		}
	}

	department := im.optionalMember(&rep, FieldDepartment, rowNum, row, im.departments)
	position := im.optionalMember(&rep, FieldPosition, rowNum, row, im.positions)
	site := im.optionalMember(&rep, FieldSite, rowNum, row, im.sites)

	// Cross-field rules read the canonicalized values.
	row[FieldOrg.Name] = org
	row[FieldMarital.Name] = marital
	row[FieldIDType.Name] = idType
	rep.Merge(ingest.RunRules(now, rowNum, row, im.rules))

	benef := im.validateBeneficiary(&rep, rowNum, row)

	record := &Record{
		Employee: ingest.Employee{
			ID:            uuid.NewString(),
			Org:           org,
			StaffID:       staffID,
			FirstName:     firstName,
			LastName:      lastName,
			Gender:        gender,
			DateOfBirth:   dob,
			MaritalStatus: marital,
			SpouseName:    strings.TrimSpace(row[FieldSpouseName.Name]),
			IDType:        idType,
			IDNumber:      idNumber,
			IDIssueDate:   row[FieldIDIssueDate.Name],
			IDExpiryDate:  row[FieldIDExpiryDate.Name],
			Phone:         row[FieldPhone.Name],
			Department:    department,
			Position:      position,
			Site:          site,
			HireDate:      row[FieldHireDate.Name],
			CreatedBy:     im.actor,
		},
		Beneficiary:  benef,
		militaryText: row[FieldMilitary.Name],
	}

	// Stage whenever the identity fields could form a key, so duplicate
	// detection runs even while other fields are still broken.
	var staged *ingest.Staged
	if org != "" && staffID != "" {
		staged = &ingest.Staged{
			Row:      rowNum,
			Key:      ingest.CompositeKey(org, staffID),
			KeyField: FieldStaffID.Name,
			Record:   record,
		}
	}
	return staged, rep
}

// Derive maps the military-service free text to a boolean and stamps audit
// fields. Unrecognized text stays nil and only warns.
func (im *Importer) Derive(now time.Time, staged *ingest.Staged) ingest.RowReport {
	var rep ingest.RowReport
	record := staged.Record.(*Record)

	record.Employee.MilitaryService = ingest.BoolFromText(record.militaryText)
	if record.militaryText != "" && record.Employee.MilitaryService == nil {
		rep.AddWarning(staged.Row, FieldMilitary.Name,
			fmt.Sprintf("unrecognized %s value %q, stored as unknown (cell %s)",
				FieldMilitary.Name, record.militaryText, FieldMilitary.Cell(staged.Row)))
	}
	record.Employee.CreatedAt = now
	return rep
}

// Commit batch-inserts every staged employee and its beneficiary inside the
// caller's transaction.
func (im *Importer) Commit(ctx context.Context, w ingest.Writer, staged []*ingest.Staged) (ingest.CommitCounts, error) {
	var counts ingest.CommitCounts
	for _, c := range staged {
		record := c.Record.(*Record)
		if err := w.InsertEmployee(ctx, record.Employee); err != nil {
			return ingest.CommitCounts{}, err
		}
		if record.Beneficiary != nil {
			if err := w.InsertBeneficiaries(ctx, record.Employee.ID, []ingest.Beneficiary{*record.Beneficiary}); err != nil {
				return ingest.CommitCounts{}, err
			}
		}
		counts.Inserted++
	}
	return counts, nil
}

// optionalMember validates a reference-data field when present. A value not
// found in the prefetched snapshot is a row error, never a fatal abort.
func (im *Importer) optionalMember(rep *ingest.RowReport, f ingest.Field, rowNum int, row ingest.RawRow, allowed []string) string {
	v := row[f.Name]
	if v == "" {
		return ""
	}
	return rep.Apply(f, rowNum, ingest.OneOf(f, rowNum, v, allowed, 2))
}

func (im *Importer) validateBeneficiary(rep *ingest.RowReport, rowNum int, row ingest.RawRow) *ingest.Beneficiary {
	name := row[FieldBenefName.Name]
	if name == "" {
		return nil
	}
	share := rep.Apply(FieldBenefShare, rowNum,
		ingest.NumericRange(FieldBenefShare, rowNum, row[FieldBenefShare.Name],
			decimal.Zero, decimal.NewFromInt(100), ingest.ZeroWarn))
	pct, err := decimal.NewFromString(share)
	if err != nil {
		pct = decimal.Zero
	}
	return &ingest.Beneficiary{
		ID:           uuid.NewString(),
		Name:         name,
		Relationship: row[FieldBenefRel.Name],
		SharePercent: pct,
	}
}
