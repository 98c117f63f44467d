/*
importer.go - The grant allocation import profile

PURPOSE:
  Implements ingest.Profile for bulk funding allocations. The lookup
  snapshot carries active employments (the salary source), grant budget
  lines, and existing allocation keys.

DUPLICATE POLICY:
  Allocations are upserted: a composite key (staff_id + grant item) that
  already exists in the store updates the stored row and is counted as
  updated, not rejected. In-file duplicates are still errors. StoredKeys
  therefore returns nil.

SEE ALSO:
  - types.go: Column bindings
  - ingest/derive.go: Salary and amount calculators used here
*/
package funding

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/warp/ingest-engine/ingest"
)

// ProfileName is the identifier used by the API and the seen-set scope.
const ProfileName = "funding"

// Importer carries one import's lookup snapshot. Immutable after New.
type Importer struct {
	actor       string
	orgs        []string
	employments map[string]ingest.Employment // "org|staff_id" -> active employment
	grantItems  map[string]ingest.GrantItem  // "CODE/LINE" -> item
	grantIDs    []string                     // declared order for fuzzy suggestions
	allocations map[string]string            // "org|staff_id|grant_item" -> id
	rules       []ingest.Rule
}

// NewImporter prefetches the lookup snapshot and builds the profile.
func NewImporter(ctx context.Context, records ingest.RecordStore, actor string) (*Importer, error) {
	orgs, err := records.Organizations(ctx)
	if err != nil {
		return nil, fmt.Errorf("prefetch organizations: %w", err)
	}
	employments, err := records.ActiveEmployments(ctx)
	if err != nil {
		return nil, fmt.Errorf("prefetch employments: %w", err)
	}
	grantItems, err := records.GrantItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("prefetch grant items: %w", err)
	}
	allocations, err := records.AllocationKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("prefetch allocation keys: %w", err)
	}

	grantIDs := make([]string, 0, len(grantItems))
	for id := range grantItems {
		grantIDs = append(grantIDs, id)
	}
	sort.Strings(grantIDs)

	return &Importer{
		actor:       actor,
		orgs:        orgs,
		employments: employments,
		grantItems:  grantItems,
		grantIDs:    grantIDs,
		allocations: allocations,
		rules: []ingest.Rule{
			ingest.DateOrder(FieldStartDate, FieldEndDate),
		},
	}, nil
}

func (im *Importer) Name() string { return ProfileName }

// StoredKeys is nil: existing allocations take the upsert path in Commit
// instead of being rejected as duplicates.
func (im *Importer) StoredKeys() map[string]bool { return nil }

// Normalize trims every cell, turns the effort percentage into a fraction,
// and converts date serials to ISO dates. Pure.
func (im *Importer) Normalize(raw ingest.RawRow) ingest.RawRow {
	row := ingest.TrimAll(raw)
	row[FieldEffort.Name] = ingest.NormalizeFraction(row[FieldEffort.Name])
	row[FieldStartDate.Name] = ingest.NormalizeDate(row[FieldStartDate.Name])
	row[FieldEndDate.Name] = ingest.NormalizeDate(row[FieldEndDate.Name])
	return row
}

// Validate checks one normalized allocation row and stages it.
func (im *Importer) Validate(now time.Time, rowNum int, row ingest.RawRow) (*ingest.Staged, ingest.RowReport) {
	var rep ingest.RowReport

	org := rep.Apply(FieldOrg, rowNum, ingest.OneOf(FieldOrg, rowNum, row[FieldOrg.Name], im.orgs, 2))
	staffID := rep.Apply(FieldStaffID, rowNum, ingest.Required(FieldStaffID, rowNum, row[FieldStaffID.Name]))
	grantCode := rep.Apply(FieldGrantCode, rowNum,
		ingest.Pattern(FieldGrantCode, rowNum, row[FieldGrantCode.Name], grantCodeRe, "letters, digits and dashes"))
	lineItem := rep.Apply(FieldLineItem, rowNum, ingest.Required(FieldLineItem, rowNum, row[FieldLineItem.Name]))
	fteStr := rep.Apply(FieldEffort, rowNum,
		ingest.NumericRange(FieldEffort, rowNum, row[FieldEffort.Name], fteMin, fteMax, EffortZeroPolicy))

	for _, f := range []ingest.Field{FieldStartDate, FieldEndDate} {
		if row[f.Name] != "" {
			row[f.Name] = rep.Apply(f, rowNum, ingest.ISODate(f, rowNum, row[f.Name]))
		}
	}
	rep.Merge(ingest.RunRules(now, rowNum, row, im.rules))

	employmentKey := ingest.CompositeKey(org, staffID)
	grantItemID := grantCode + "/" + lineItem

	// Referential checks against the prefetched snapshot. A missing foreign
	// key is a row error; the rest of the chunk is judged on its own.
	if org != "" && staffID != "" {
		if _, ok := im.employments[employmentKey]; !ok {
			rep.AddError(rowNum, FieldStaffID.Name, fmt.Sprintf(
				"no active employment found for %s at %s (cell %s)",
				staffID, org, FieldStaffID.Cell(rowNum)))
		}
	}
	if grantCode != "" && lineItem != "" {
		item, ok := im.grantItems[grantItemID]
		switch {
		case !ok:
			rep.Merge(im.suggestGrantItem(rowNum, grantItemID))
		case !item.Active:
			rep.AddError(rowNum, FieldGrantCode.Name, fmt.Sprintf(
				"grant item %s is no longer active (cell %s)", grantItemID, FieldGrantCode.Cell(rowNum)))
		default:
			rep.Merge(im.checkValidity(rowNum, item, row))
		}
	}

	fte, fteErr := ingest.FTEFromFraction(fteStr)
	record := &Record{
		Allocation: ingest.Allocation{
			ID:          uuid.NewString(),
			Org:         org,
			StaffID:     staffID,
			GrantItemID: grantItemID,
			FTE:         fte,
			StartDate:   row[FieldStartDate.Name],
			EndDate:     row[FieldEndDate.Name],
			CreatedBy:   im.actor,
		},
		employmentKey: employmentKey,
	}
	if fteErr != nil && !rep.HasErrors() {
		// Unreachable in practice: NumericRange already rejected it.
		rep.AddError(rowNum, FieldEffort.Name, fteErr.Error())
	}

	var staged *ingest.Staged
	if org != "" && staffID != "" && grantCode != "" && lineItem != "" {
		staged = &ingest.Staged{
			Row:      rowNum,
			Key:      ingest.CompositeKey(org, staffID, grantItemID),
			KeyField: FieldGrantCode.Name,
			Record:   record,
		}
	}
	return staged, rep
}

// Derive selects the probation-aware base salary and computes the allocated
// amount. A missing or zero base salary is a row error, never a guessed
// amount.
func (im *Importer) Derive(now time.Time, staged *ingest.Staged) ingest.RowReport {
	var rep ingest.RowReport
	record := staged.Record.(*Record)

	employment, ok := im.employments[record.employmentKey]
	if !ok {
		// Validate already rejected the row; nothing to derive.
		return rep
	}
	base, err := ingest.BaseSalary(employment, now)
	if err != nil {
		rep.AddError(staged.Row, FieldEffort.Name, err.Error())
		return rep
	}
	record.Allocation.EmploymentID = employment.ID
	record.Allocation.AllocatedAmount = ingest.AllocatedAmount(base, record.Allocation.FTE)
	record.Allocation.CreatedAt = now
	if _, exists := im.allocations[staged.Key]; exists {
		record.update = true
	}
	return rep
}

// Commit batch-writes the chunk: new allocations are inserted, existing
// ones updated in place, inside the caller's transaction.
func (im *Importer) Commit(ctx context.Context, w ingest.Writer, staged []*ingest.Staged) (ingest.CommitCounts, error) {
	var counts ingest.CommitCounts
	for _, c := range staged {
		record := c.Record.(*Record)
		if record.update {
			if err := w.UpdateAllocation(ctx, record.Allocation); err != nil {
				return ingest.CommitCounts{}, err
			}
			counts.Updated++
			continue
		}
		if err := w.InsertAllocation(ctx, record.Allocation); err != nil {
			return ingest.CommitCounts{}, err
		}
		counts.Inserted++
	}
	return counts, nil
}

// suggestGrantItem mirrors the enum validator's fuzzy behavior for grant
// item ids, which live in a lookup map rather than a fixed declared set.
func (im *Importer) suggestGrantItem(rowNum int, grantItemID string) ingest.RowReport {
	var rep ingest.RowReport
	res := ingest.OneOf(FieldGrantCode, rowNum, grantItemID, im.grantIDs, 2)
	if res.Valid {
		// Case-only mismatch: accept the canonical id silently is wrong
		// here because the map lookup was case-sensitive; report it.
		rep.AddError(rowNum, FieldGrantCode.Name, fmt.Sprintf(
			"grant item %q not found: did you mean %q? (cell %s)",
			grantItemID, res.Normalized, FieldGrantCode.Cell(rowNum)))
		return rep
	}
	rep.AddError(rowNum, FieldGrantCode.Name, res.Err)
	return rep
}

// checkValidity warns when the allocation window falls outside the grant
// item's validity. Soft check: budgets often start before paperwork.
func (im *Importer) checkValidity(rowNum int, item ingest.GrantItem, row ingest.RawRow) ingest.RowReport {
	var rep ingest.RowReport
	start := row[FieldStartDate.Name]
	end := row[FieldEndDate.Name]
	if item.ValidFrom != "" && start != "" && start < item.ValidFrom {
		rep.AddWarning(rowNum, FieldStartDate.Name, fmt.Sprintf(
			"allocation starts %s, before grant item %s becomes valid on %s (cell %s)",
			start, item.ID, item.ValidFrom, FieldStartDate.Cell(rowNum)))
	}
	if item.ValidTo != "" && end != "" && end > item.ValidTo {
		rep.AddWarning(rowNum, FieldEndDate.Name, fmt.Sprintf(
			"allocation ends %s, after grant item %s expires on %s (cell %s)",
			end, item.ID, item.ValidTo, FieldEndDate.Cell(rowNum)))
	}
	return rep
}

