/*
session.go - Import session state interface

PURPOSE:
  Defines the cross-chunk state store for one logical import job. Chunks of
  the same import may be processed by different worker invocations, so this
  state lives in a shared keyed store, never in process memory.

CONTRACT:
  - All state is keyed by import id; two concurrent imports never interfere.
  - Writes for one import are sequential (chunks of one import never run
    concurrently), so read-modify-write per key is safe.
  - State expires after a bounded TTL (~1h in flight) so abandoned imports
    do not grow without bound. The final summary gets a shorter TTL (~5m).

IMPLEMENTATIONS:
  - store/redis:       Production, redis-backed with per-key TTL refresh
  - ingest/store:      In-memory for tests and single-process dev

SEE ALSO:
  - chunk.go: The only writer of session state
  - dedupe.go: Uses the seen-key set for cross-chunk duplicate detection
*/
package ingest

import (
	"context"
	"time"
)

// DefaultSessionTTL bounds in-flight session state.
const DefaultSessionTTL = time.Hour

// DefaultSummaryTTL bounds a final summary awaiting consumption.
const DefaultSummaryTTL = 5 * time.Minute

// RowFailure captures one row's validation failure with its raw values, for
// diagnostics and for echoing back to the caller.
type RowFailure struct {
	Row      int      `json:"row"`
	Field    string   `json:"field"`
	Messages []string `json:"messages"`
	Raw      RawRow   `json:"raw_values"`
}

// RowSnapshot is the first-row debug capture, taken once per import.
type RowSnapshot struct {
	Columns []string `json:"columns"`
	Values  []string `json:"values"`
}

// SessionState is a full snapshot of one import's accumulated state.
type SessionState struct {
	ImportID     string              `json:"import_id"`
	Owner        string              `json:"owner"`
	Profile      string              `json:"profile"`
	Errors       []string            `json:"errors"`
	Warnings     []string            `json:"warnings"`
	SystemErrors []string            `json:"system_errors"`
	Failures     []RowFailure        `json:"failures"`
	Counts       map[string]int      `json:"counts"`
	Seen         map[string][]string `json:"seen"`
	FirstRow     *RowSnapshot        `json:"first_row,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
}

// Count names used by the chunk processor.
const (
	CountProcessed = "processed"
	CountUpdated   = "updated"
	CountSkipped   = "skipped"
)

// SessionStore holds cross-chunk accumulators keyed by import id.
// Implementations must support concurrent invocations for different import
// ids without cross-talk, and sequential invocations for the same id
// without losing accumulated state.
type SessionStore interface {
	// Init creates the session before the first chunk is processed.
	Init(ctx context.Context, importID, owner, profile string) error

	// AppendErrors adds row-level validation errors, in order.
	AppendErrors(ctx context.Context, importID string, msgs []string) error

	// AppendWarnings adds non-blocking warnings, in order.
	AppendWarnings(ctx context.Context, importID string, msgs []string) error

	// AppendSystemErrors records infrastructure failures, kept separate
	// from the validation errors shown to the end user.
	AppendSystemErrors(ctx context.Context, importID string, msgs []string) error

	// AddFailures records structured per-row failures with raw values.
	AddFailures(ctx context.Context, importID string, failures []RowFailure) error

	// MarkSeen adds composite keys to the import's seen set for a scope.
	// Append-only: keys are never removed within an import.
	MarkSeen(ctx context.Context, importID, scope string, keys ...string) error

	// IsSeen reports whether a key was already observed in this import.
	IsSeen(ctx context.Context, importID, scope, key string) (bool, error)

	// IncrementCount adjusts a named counter by delta.
	IncrementCount(ctx context.Context, importID, name string, delta int) error

	// SetFirstRow records the diagnostic first-row snapshot. Set-once:
	// later calls are ignored.
	SetFirstRow(ctx context.Context, importID string, snap RowSnapshot) error

	// Snapshot returns the full accumulated state.
	// Returns ErrSessionNotFound for unknown or expired imports.
	Snapshot(ctx context.Context, importID string) (*SessionState, error)

	// SaveSummary stores the final summary with the shorter summary TTL.
	SaveSummary(ctx context.Context, importID string, s Summary) error

	// LoadSummary fetches a stored summary, or ErrSummaryNotFound.
	LoadSummary(ctx context.Context, importID string) (*Summary, error)

	// Clear drops all state for the import once its terminal notification
	// has fired.
	Clear(ctx context.Context, importID string) error
}
