/*
errors.go - Centralized error types for the ingest engine

PURPOSE:
  All engine error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Session errors - Cross-chunk state store failures
  2. Commit errors  - Transactional write failures (infrastructure)
  3. Profile errors - Wiring mistakes (unknown profile, bad chunk)

  Row-level validation problems are NOT errors in the Go sense: they are
  Issue values accumulated on a RowReport and never abort the import.

USAGE:
  if errors.Is(err, ingest.ErrCommitFailed) {
      // infrastructure failure: chunk rolled back, session records it
  }

SEE ALSO:
  - chunk.go: Produces CommitError on transaction failure
  - session.go: Uses ErrSessionNotFound
*/
package ingest

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrSessionNotFound is returned when an import id has no session state,
	// either because it never existed or because its TTL expired.
	ErrSessionNotFound = errors.New("import session not found")

	// ErrSummaryNotFound is returned when a final summary was never saved or
	// already expired.
	ErrSummaryNotFound = errors.New("import summary not found")

	// ErrCommitFailed is returned when a chunk's batched write could not be
	// committed. The transaction is rolled back; no partial writes remain.
	ErrCommitFailed = errors.New("chunk commit failed")

	// ErrUnknownProfile is returned when an import names a profile the
	// server has no importer for.
	ErrUnknownProfile = errors.New("unknown import profile")

	// ErrChunkTooLarge is returned when a submitted chunk exceeds the
	// configured size bound.
	ErrChunkTooLarge = errors.New("chunk exceeds maximum size")

	// ErrMissingBaseSalary is returned by derived-value calculators when a
	// positive base salary is required but missing or zero.
	ErrMissingBaseSalary = errors.New("base salary missing or zero")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// CommitError wraps an infrastructure failure during a chunk commit. It is
// logged distinctly from validation errors and recorded on the session as a
// single system-error entry.
type CommitError struct {
	ImportID string
	Profile  string
	Rows     int
	Err      error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("import %s (%s): commit of %d rows failed: %v",
		e.ImportID, e.Profile, e.Rows, e.Err)
}

func (e *CommitError) Unwrap() error { return ErrCommitFailed }
