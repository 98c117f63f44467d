/*
notify.go - Result aggregation and the notifier collaborator

PURPOSE:
  Summarizes final per-import counts from the session snapshot and defines
  the external notification interface the pipeline hands off to once the
  last chunk is done.
*/
package ingest

import (
	"context"
	"time"
)

// Notifier delivers the terminal import summary to its owner. Delivery is
// an external concern; the pipeline only guarantees the summary content.
type Notifier interface {
	Notify(ctx context.Context, owner string, s Summary) error
}

// BuildSummary folds a session snapshot into the final summary.
func BuildSummary(state *SessionState, at time.Time) Summary {
	return Summary{
		ImportID:     state.ImportID,
		Owner:        state.Owner,
		Profile:      state.Profile,
		Processed:    state.Counts[CountProcessed],
		Updated:      state.Counts[CountUpdated],
		Skipped:      state.Counts[CountSkipped],
		Errors:       state.Errors,
		Warnings:     state.Warnings,
		SystemErrors: state.SystemErrors,
		CompletedAt:  at,
	}
}
