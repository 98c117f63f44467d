package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/warp/ingest-engine/ingest"
	"github.com/warp/ingest-engine/ingest/store"
)

func initSession(t *testing.T, m *store.MemorySessions, importID string) {
	t.Helper()
	if err := m.Init(context.Background(), importID, "tester", "staff"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
}

func TestMemorySessions_AccumulatesAcrossCalls(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemorySessions(0, 0)
	initSession(t, m, "imp-1")

	if err := m.AppendErrors(ctx, "imp-1", []string{"row 2, org: bad"}); err != nil {
		t.Fatal(err)
	}
	if err := m.AppendErrors(ctx, "imp-1", []string{"row 3, org: worse"}); err != nil {
		t.Fatal(err)
	}
	if err := m.IncrementCount(ctx, "imp-1", ingest.CountProcessed, 2); err != nil {
		t.Fatal(err)
	}
	if err := m.IncrementCount(ctx, "imp-1", ingest.CountProcessed, 3); err != nil {
		t.Fatal(err)
	}

	state, err := m.Snapshot(ctx, "imp-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Errors) != 2 {
		t.Errorf("errors = %v, want 2 in order", state.Errors)
	}
	if state.Counts[ingest.CountProcessed] != 5 {
		t.Errorf("processed = %d, want 5", state.Counts[ingest.CountProcessed])
	}
}

func TestMemorySessions_ImportsAreIsolated(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemorySessions(0, 0)
	initSession(t, m, "imp-1")
	initSession(t, m, "imp-2")

	if err := m.MarkSeen(ctx, "imp-1", "staff", "SMRU|EMP001"); err != nil {
		t.Fatal(err)
	}
	seen, err := m.IsSeen(ctx, "imp-2", "staff", "SMRU|EMP001")
	if err != nil {
		t.Fatal(err)
	}
	if seen {
		t.Error("seen keys leaked between imports")
	}
}

func TestMemorySessions_MarkSeenDeduplicates(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemorySessions(0, 0)
	initSession(t, m, "imp-1")

	if err := m.MarkSeen(ctx, "imp-1", "staff", "k1", "k1", "k2"); err != nil {
		t.Fatal(err)
	}
	if err := m.MarkSeen(ctx, "imp-1", "staff", "k2", "k3"); err != nil {
		t.Fatal(err)
	}
	state, _ := m.Snapshot(ctx, "imp-1")
	got := state.Seen["staff"]
	want := []string{"k1", "k2", "k3"}
	if len(got) != len(want) {
		t.Fatalf("seen = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("seen[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMemorySessions_FirstRowIsSetOnce(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemorySessions(0, 0)
	initSession(t, m, "imp-1")

	first := ingest.RowSnapshot{Columns: []string{"org"}, Values: []string{"SMRU"}}
	second := ingest.RowSnapshot{Columns: []string{"org"}, Values: []string{"BHF"}}
	if err := m.SetFirstRow(ctx, "imp-1", first); err != nil {
		t.Fatal(err)
	}
	if err := m.SetFirstRow(ctx, "imp-1", second); err != nil {
		t.Fatal(err)
	}

	state, _ := m.Snapshot(ctx, "imp-1")
	if state.FirstRow == nil || state.FirstRow.Values[0] != "SMRU" {
		t.Errorf("first row = %+v, want the original capture", state.FirstRow)
	}
}

func TestMemorySessions_ExpiresAfterTTL(t *testing.T) {
	// GIVEN: A 1h TTL session with an injectable clock
	// WHEN: The clock moves past the deadline
	// THEN: The session behaves as if it never existed
	ctx := context.Background()
	m := store.NewMemorySessions(time.Hour, 5*time.Minute)
	clock := time.Date(2026, time.August, 30, 9, 0, 0, 0, time.UTC)
	m.Now = func() time.Time { return clock }

	initSession(t, m, "imp-1")

	clock = clock.Add(59 * time.Minute)
	if _, err := m.Snapshot(ctx, "imp-1"); err != nil {
		t.Fatalf("session should still be live at 59m: %v", err)
	}

	clock = clock.Add(2 * time.Minute)
	if _, err := m.Snapshot(ctx, "imp-1"); !errors.Is(err, ingest.ErrSessionNotFound) {
		t.Errorf("expired session: err = %v, want ErrSessionNotFound", err)
	}
	if err := m.AppendErrors(ctx, "imp-1", []string{"late"}); !errors.Is(err, ingest.ErrSessionNotFound) {
		t.Errorf("write to expired session: err = %v, want ErrSessionNotFound", err)
	}
}

func TestMemorySessions_WritesRefreshTheDeadline(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemorySessions(time.Hour, 5*time.Minute)
	clock := time.Date(2026, time.August, 30, 9, 0, 0, 0, time.UTC)
	m.Now = func() time.Time { return clock }

	initSession(t, m, "imp-1")

	// Keep touching the session every 50 minutes; it must stay alive well
	// past the original 1h deadline.
	for i := 0; i < 3; i++ {
		clock = clock.Add(50 * time.Minute)
		if err := m.IncrementCount(ctx, "imp-1", ingest.CountProcessed, 1); err != nil {
			t.Fatalf("write at +%dm failed: %v", (i+1)*50, err)
		}
	}
	if _, err := m.Snapshot(ctx, "imp-1"); err != nil {
		t.Errorf("refreshed session should be live: %v", err)
	}
}

func TestMemorySessions_SummaryTTLIsShorter(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemorySessions(time.Hour, 5*time.Minute)
	clock := time.Date(2026, time.August, 30, 9, 0, 0, 0, time.UTC)
	m.Now = func() time.Time { return clock }

	sum := ingest.Summary{ImportID: "imp-1", Processed: 10}
	if err := m.SaveSummary(ctx, "imp-1", sum); err != nil {
		t.Fatal(err)
	}

	clock = clock.Add(4 * time.Minute)
	got, err := m.LoadSummary(ctx, "imp-1")
	if err != nil || got.Processed != 10 {
		t.Fatalf("summary at 4m = %+v, %v", got, err)
	}

	clock = clock.Add(2 * time.Minute)
	if _, err := m.LoadSummary(ctx, "imp-1"); !errors.Is(err, ingest.ErrSummaryNotFound) {
		t.Errorf("expired summary: err = %v, want ErrSummaryNotFound", err)
	}
}

func TestMemorySessions_ClearRemovesState(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemorySessions(0, 0)
	initSession(t, m, "imp-1")

	if err := m.Clear(ctx, "imp-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Snapshot(ctx, "imp-1"); !errors.Is(err, ingest.ErrSessionNotFound) {
		t.Errorf("cleared session: err = %v, want ErrSessionNotFound", err)
	}
}

func TestMemorySessions_SnapshotIsACopy(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemorySessions(0, 0)
	initSession(t, m, "imp-1")
	if err := m.AppendErrors(ctx, "imp-1", []string{"original"}); err != nil {
		t.Fatal(err)
	}

	state, _ := m.Snapshot(ctx, "imp-1")
	state.Errors[0] = "mutated"
	state.Counts["processed"] = 99

	fresh, _ := m.Snapshot(ctx, "imp-1")
	if fresh.Errors[0] != "original" || fresh.Counts["processed"] != 0 {
		t.Error("snapshot mutation leaked into stored state")
	}
}
