/*
chunk.go - Two-pass chunk processor

PURPOSE:
  Orchestrates one chunk of rows through the state machine

    Normalizing -> ValidatingAll -> {Aborted |
        ComputingDerived -> Committing -> Completed}

  Pass 1 normalizes and validates EVERY row before any decision is made, so
  a single submission reports every problem in the chunk, not just the
  first. Pass 2 runs only for error-free chunks: derived values are
  computed and the whole chunk is written in one transaction.

ATOMICITY:
  A chunk of N rows produces either N persisted records (plus dependent
  child records) or zero. Validation errors abort before any write;
  infrastructure errors roll the transaction back.

ERROR TAXONOMY:
  - Row validation errors:  recorded on the session, chunk aborted, caller
    keeps submitting subsequent chunks.
  - Infrastructure errors:  logged distinctly, recorded as a single
    system-error entry, returned to the caller as a CommitError.

SEE ALSO:
  - dedupe.go: Duplicate detection during pass 1
  - session.go: Cross-chunk accumulators updated on every exit path
*/
package ingest

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultChunkSize matches the fixed-size batches the reader delivers.
const DefaultChunkSize = 50

// =============================================================================
// PROFILE - What a domain import variant must provide
// =============================================================================

// Profile defines one import variant (employees, grant allocations). A
// profile instance is built once per import with its lookup snapshot
// prefetched; the engine never queries the store per row.
type Profile interface {
	// Name identifies the profile; also the seen-set scope.
	Name() string

	// StoredKeys returns the prefetched composite keys already present in
	// the store, or nil when existing records are upserted rather than
	// rejected as duplicates.
	StoredKeys() map[string]bool

	// Normalize coerces raw cell text into canonical values. Pure; never
	// fails (unconvertible values pass through for Validate to reject).
	Normalize(raw RawRow) RawRow

	// Validate runs field and cross-field checks on one normalized row.
	// It returns a staged candidate whenever the row's identity fields
	// could form a composite key, even if other fields failed; the engine
	// only keeps candidates from error-free rows.
	Validate(now time.Time, row int, raw RawRow) (*Staged, RowReport)

	// Derive computes values not present verbatim in the source row,
	// mutating the staged record in place. Runs only after the whole chunk
	// validated cleanly; may still report row errors (e.g. missing base
	// salary).
	Derive(now time.Time, staged *Staged) RowReport

	// Commit writes every staged record through w. Runs inside a single
	// transaction; returning an error rolls the whole chunk back.
	Commit(ctx context.Context, w Writer, staged []*Staged) (CommitCounts, error)
}

// =============================================================================
// PROCESSOR
// =============================================================================

// Processor drives chunks of one import through the state machine. Chunks
// of a single import are processed sequentially; two different imports may
// run fully concurrently because all mutable state is keyed by import id.
type Processor struct {
	profile  Profile
	sessions SessionStore
	records  RecordStore
	log      *logrus.Entry
}

func NewProcessor(profile Profile, sessions SessionStore, records RecordStore, log *logrus.Entry) *Processor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Processor{
		profile:  profile,
		sessions: sessions,
		records:  records,
		log:      log.WithField("profile", profile.Name()),
	}
}

// ProcessChunk runs one chunk. startRow is the spreadsheet row number of
// rows[0] (1-based, so the first data row under a header is 2). now and the
// acting user are passed explicitly to keep validation deterministic.
//
// The returned error is non-nil only for infrastructure failures; an
// aborted chunk is a normal outcome reported through the result.
func (p *Processor) ProcessChunk(ctx context.Context, importID string, startRow int, rows []RawRow, now time.Time) (*ChunkResult, error) {
	log := p.log.WithFields(logrus.Fields{"import_id": importID, "rows": len(rows), "start_row": startRow})

	result := &ChunkResult{State: StateNormalizing}
	if len(rows) == 0 {
		result.State = StateCompleted
		return result, nil
	}

	p.captureFirstRow(ctx, importID, startRow, rows[0])

	// --- Normalizing ---------------------------------------------------------
	normalized := make([]RawRow, len(rows))
	for i, raw := range rows {
		normalized[i] = p.profile.Normalize(raw)
	}

	// --- ValidatingAll -------------------------------------------------------
	// Every row is checked before any decision; no early exit on the first
	// error, since the goal is to report every problem in one pass.
	result.State = StateValidatingAll
	tracker := NewTracker(p.sessions, importID, p.profile.Name(), p.profile.StoredKeys())

	var staged []*Staged
	var report RowReport
	for i, row := range normalized {
		rowNum := startRow + i
		candidate, rowReport := p.profile.Validate(now, rowNum, row)

		if candidate != nil && !rowReport.HasErrors() {
			conflict, err := tracker.Check(ctx, candidate.Key)
			if err != nil {
				return nil, p.systemFailure(ctx, importID, log, err)
			}
			switch conflict {
			case ConflictInFile:
				rowReport.AddError(rowNum, candidate.KeyField,
					"duplicate entry in this file: "+candidate.Key)
			case ConflictStored:
				rowReport.AddError(rowNum, candidate.KeyField,
					"already exists in the system: "+candidate.Key)
			}
		}

		if rowReport.HasErrors() {
			p.recordFailures(ctx, importID, rowNum, row, rowReport)
		} else if candidate != nil {
			staged = append(staged, candidate)
		}
		report.Merge(rowReport)
	}

	if report.HasErrors() {
		return p.abort(ctx, importID, log, result, len(rows), report)
	}

	// --- ComputingDerived ----------------------------------------------------
	result.State = StateComputingDerived
	for _, c := range staged {
		rowReport := p.profile.Derive(now, c)
		if rowReport.HasErrors() {
			p.recordFailures(ctx, importID, c.Row, nil, rowReport)
		}
		report.Merge(rowReport)
	}
	if report.HasErrors() {
		return p.abort(ctx, importID, log, result, len(rows), report)
	}

	// --- Committing ----------------------------------------------------------
	result.State = StateCommitting
	var counts CommitCounts
	err := p.records.WithTx(ctx, func(w Writer) error {
		var commitErr error
		counts, commitErr = p.profile.Commit(ctx, w, staged)
		return commitErr
	})
	if err != nil {
		cerr := &CommitError{ImportID: importID, Profile: p.profile.Name(), Rows: len(rows), Err: err}
		return nil, p.systemFailure(ctx, importID, log, cerr)
	}

	// --- Completed -----------------------------------------------------------
	if err := tracker.CommitSeen(ctx); err != nil {
		return nil, p.systemFailure(ctx, importID, log, err)
	}
	p.bumpCount(ctx, importID, CountProcessed, counts.Inserted)
	p.bumpCount(ctx, importID, CountUpdated, counts.Updated)
	if len(report.Warnings) > 0 {
		if err := p.sessions.AppendWarnings(ctx, importID, IssueStrings(report.Warnings)); err != nil {
			log.WithError(err).Warn("failed to append chunk warnings")
		}
	}

	result.State = StateCompleted
	result.Processed = counts.Inserted
	result.Updated = counts.Updated
	result.Warnings = report.Warnings
	log.WithFields(logrus.Fields{"processed": counts.Inserted, "updated": counts.Updated}).
		Info("chunk committed")
	return result, nil
}

// =============================================================================
// EXIT PATHS
// =============================================================================

// abort records every accumulated error and warning on the session and
// returns the Aborted result. None of the chunk's rows were written.
func (p *Processor) abort(ctx context.Context, importID string, log *logrus.Entry, result *ChunkResult, rowCount int, report RowReport) (*ChunkResult, error) {
	sortIssues(report.Errors)
	sortIssues(report.Warnings)

	if err := p.sessions.AppendErrors(ctx, importID, IssueStrings(report.Errors)); err != nil {
		return nil, p.systemFailure(ctx, importID, log, err)
	}
	if len(report.Warnings) > 0 {
		if err := p.sessions.AppendWarnings(ctx, importID, IssueStrings(report.Warnings)); err != nil {
			log.WithError(err).Warn("failed to append chunk warnings")
		}
	}
	p.bumpCount(ctx, importID, CountSkipped, rowCount)

	result.State = StateAborted
	result.Skipped = rowCount
	result.Errors = report.Errors
	result.Warnings = report.Warnings
	log.WithField("errors", len(report.Errors)).Info("chunk aborted, no rows written")
	return result, nil
}

// systemFailure logs an infrastructure error distinctly from validation
// errors and records it as a single system-error entry on the session.
func (p *Processor) systemFailure(ctx context.Context, importID string, log *logrus.Entry, err error) error {
	log.WithError(err).Error("chunk failed with system error")
	if serr := p.sessions.AppendSystemErrors(ctx, importID, []string{err.Error()}); serr != nil {
		log.WithError(serr).Error("failed to record system error on session")
	}
	return err
}

func (p *Processor) bumpCount(ctx context.Context, importID, name string, delta int) {
	if delta == 0 {
		return
	}
	if err := p.sessions.IncrementCount(ctx, importID, name, delta); err != nil {
		p.log.WithError(err).WithField("count", name).Warn("failed to update session counter")
	}
}

func (p *Processor) captureFirstRow(ctx context.Context, importID string, startRow int, row RawRow) {
	// Only the first data row of the import is interesting, and SetFirstRow
	// is set-once in the store anyway.
	if startRow > 2 {
		return
	}
	cols := make([]string, 0, len(row))
	for k := range row {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	vals := make([]string, len(cols))
	for i, c := range cols {
		vals[i] = row[c]
	}
	if err := p.sessions.SetFirstRow(ctx, importID, RowSnapshot{Columns: cols, Values: vals}); err != nil {
		p.log.WithError(err).Warn("failed to capture first-row snapshot")
	}
}

func (p *Processor) recordFailures(ctx context.Context, importID string, rowNum int, row RawRow, report RowReport) {
	byField := map[string][]string{}
	order := []string{}
	for _, e := range report.Errors {
		if e.Row != rowNum {
			continue
		}
		if _, ok := byField[e.Field]; !ok {
			order = append(order, e.Field)
		}
		byField[e.Field] = append(byField[e.Field], e.Message)
	}
	failures := make([]RowFailure, 0, len(order))
	for _, f := range order {
		failures = append(failures, RowFailure{Row: rowNum, Field: f, Messages: byField[f], Raw: row})
	}
	if len(failures) == 0 {
		return
	}
	if err := p.sessions.AddFailures(ctx, importID, failures); err != nil {
		p.log.WithError(err).Warn("failed to record row failures")
	}
}

func sortIssues(issues []Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Row != issues[j].Row {
			return issues[i].Row < issues[j].Row
		}
		return issues[i].Field < issues[j].Field
	})
}
