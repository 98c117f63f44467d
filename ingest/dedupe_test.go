package ingest_test

import (
	"context"
	"testing"

	"github.com/warp/ingest-engine/ingest"
	"github.com/warp/ingest-engine/ingest/store"
)

func newTestSessions(t *testing.T, importID string) *store.MemorySessions {
	t.Helper()
	sessions := store.NewMemorySessions(0, 0)
	if err := sessions.Init(context.Background(), importID, "tester", "staff"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return sessions
}

func TestTracker_InFileDuplicateWithinChunk(t *testing.T) {
	// GIVEN: The same key checked twice in one chunk
	// THEN: First passes, second is an in-file conflict
	ctx := context.Background()
	sessions := newTestSessions(t, "imp-1")
	tracker := ingest.NewTracker(sessions, "imp-1", "staff", nil)

	c, err := tracker.Check(ctx, "SMRU|EMP001")
	if err != nil || c != ingest.ConflictNone {
		t.Fatalf("first check = %v, %v; want none", c, err)
	}
	c, err = tracker.Check(ctx, "SMRU|EMP001")
	if err != nil || c != ingest.ConflictInFile {
		t.Errorf("second check = %v, %v; want in-file conflict", c, err)
	}
}

func TestTracker_CrossChunkDuplicateViaSession(t *testing.T) {
	// GIVEN: A key committed by an earlier chunk of the same import
	// WHEN: A later chunk (a fresh tracker) checks the same key
	// THEN: In-file conflict, sourced from the session's seen set
	ctx := context.Background()
	sessions := newTestSessions(t, "imp-1")

	first := ingest.NewTracker(sessions, "imp-1", "staff", nil)
	if _, err := first.Check(ctx, "SMRU|EMP001"); err != nil {
		t.Fatal(err)
	}
	if err := first.CommitSeen(ctx); err != nil {
		t.Fatalf("CommitSeen failed: %v", err)
	}

	second := ingest.NewTracker(sessions, "imp-1", "staff", nil)
	c, err := second.Check(ctx, "SMRU|EMP001")
	if err != nil || c != ingest.ConflictInFile {
		t.Errorf("cross-chunk check = %v, %v; want in-file conflict", c, err)
	}
}

func TestTracker_AbortedChunkLeavesNoTrace(t *testing.T) {
	// Keys are only persisted by CommitSeen; a chunk that never commits
	// must not poison later chunks.
	ctx := context.Background()
	sessions := newTestSessions(t, "imp-1")

	aborted := ingest.NewTracker(sessions, "imp-1", "staff", nil)
	if _, err := aborted.Check(ctx, "SMRU|EMP001"); err != nil {
		t.Fatal(err)
	}
	// No CommitSeen: the chunk aborted.

	retry := ingest.NewTracker(sessions, "imp-1", "staff", nil)
	c, err := retry.Check(ctx, "SMRU|EMP001")
	if err != nil || c != ingest.ConflictNone {
		t.Errorf("retry check = %v, %v; want none", c, err)
	}
}

func TestTracker_StoredConflict(t *testing.T) {
	ctx := context.Background()
	sessions := newTestSessions(t, "imp-1")
	stored := map[string]bool{"SMRU|EMP001": true}

	tracker := ingest.NewTracker(sessions, "imp-1", "staff", stored)
	c, err := tracker.Check(ctx, "SMRU|EMP001")
	if err != nil || c != ingest.ConflictStored {
		t.Errorf("check = %v, %v; want stored conflict", c, err)
	}
	// A different key in the same chunk is unaffected.
	c, err = tracker.Check(ctx, "SMRU|EMP002")
	if err != nil || c != ingest.ConflictNone {
		t.Errorf("check = %v, %v; want none", c, err)
	}
}

func TestTracker_NilStoredDisablesStoredConflicts(t *testing.T) {
	// Upsert profiles pass stored=nil; keys present in the store flow
	// through to the commit path instead of erroring.
	ctx := context.Background()
	sessions := newTestSessions(t, "imp-1")

	tracker := ingest.NewTracker(sessions, "imp-1", "funding", nil)
	c, err := tracker.Check(ctx, "SMRU|EMP001|GR-2026-001/3.1")
	if err != nil || c != ingest.ConflictNone {
		t.Errorf("check = %v, %v; want none", c, err)
	}
}

func TestTracker_EmptyKeyIsIgnored(t *testing.T) {
	ctx := context.Background()
	sessions := newTestSessions(t, "imp-1")
	tracker := ingest.NewTracker(sessions, "imp-1", "staff", nil)

	for i := 0; i < 3; i++ {
		c, err := tracker.Check(ctx, "")
		if err != nil || c != ingest.ConflictNone {
			t.Errorf("empty key check = %v, %v; want none", c, err)
		}
	}
}
