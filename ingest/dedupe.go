/*
dedupe.go - Duplicate/uniqueness tracker

PURPOSE:
  Checks each candidate row's composite key against three sources, in order:
  rows earlier in the current chunk, keys seen in earlier chunks of the same
  import (via session state), and a prefetched snapshot of keys already in
  the store. The error names which source produced the conflict.

APPEND-ONLY:
  Keys are only committed to the session's seen set after the whole chunk
  passes (CommitSeen), so an aborted chunk leaves no trace and a later chunk
  of the same import still catches cross-chunk duplicates.

SEE ALSO:
  - session.go: Backing seen-set persistence
  - chunk.go: Creates one Tracker per chunk
*/
package ingest

import "context"

// Conflict classifies a duplicate-key hit by its source.
type Conflict int

const (
	ConflictNone   Conflict = iota
	ConflictInFile          // earlier row of this import (same or earlier chunk)
	ConflictStored          // already present in the store snapshot
)

// Tracker detects duplicate composite keys for one chunk of one import.
type Tracker struct {
	sessions SessionStore
	importID string
	scope    string
	stored   map[string]bool // prefetched store keys; nil disables stored conflicts
	local    map[string]bool // keys accepted earlier in this chunk
}

// NewTracker builds a tracker for one chunk. Pass stored=nil for profiles
// that upsert existing records instead of rejecting them.
func NewTracker(sessions SessionStore, importID, scope string, stored map[string]bool) *Tracker {
	return &Tracker{
		sessions: sessions,
		importID: importID,
		scope:    scope,
		stored:   stored,
		local:    make(map[string]bool),
	}
}

// Check classifies key and, when it is new, reserves it within this chunk.
// The session's seen set is not touched until CommitSeen.
func (t *Tracker) Check(ctx context.Context, key string) (Conflict, error) {
	if key == "" {
		return ConflictNone, nil
	}
	if t.local[key] {
		return ConflictInFile, nil
	}
	seen, err := t.sessions.IsSeen(ctx, t.importID, t.scope, key)
	if err != nil {
		return ConflictNone, err
	}
	if seen {
		return ConflictInFile, nil
	}
	if t.stored != nil && t.stored[key] {
		return ConflictStored, nil
	}
	t.local[key] = true
	return ConflictNone, nil
}

// CommitSeen persists every key reserved in this chunk to the session.
// Called only after all of the chunk's rows passed validation.
func (t *Tracker) CommitSeen(ctx context.Context) error {
	if len(t.local) == 0 {
		return nil
	}
	keys := make([]string, 0, len(t.local))
	for k := range t.local {
		keys = append(keys, k)
	}
	return t.sessions.MarkSeen(ctx, t.importID, t.scope, keys...)
}
