/*
handlers_test.go - End-to-end tests for the import API

Tests the full upload flow against a real in-memory SQLite store and the
in-memory session store: open an import, submit chunks, read progress,
finalize, and fetch the summary.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/warp/ingest-engine/ingest"
	memstore "github.com/warp/ingest-engine/ingest/store"
	"github.com/warp/ingest-engine/staff"
	"github.com/warp/ingest-engine/store/sqlite"
)

type testEnv struct {
	sessions *memstore.MemorySessions
	records  *sqlite.Store
	profiles map[string]ProfileBuilder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	records, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { records.Close() })

	ctx := context.Background()
	if err := records.SaveDepartment(ctx, "Malaria Research"); err != nil {
		t.Fatal(err)
	}
	if err := records.SavePosition(ctx, "Lab Technician"); err != nil {
		t.Fatal(err)
	}
	if err := records.SaveSite(ctx, "Mae Sot"); err != nil {
		t.Fatal(err)
	}

	return &testEnv{
		sessions: memstore.NewMemorySessions(time.Hour, 5*time.Minute),
		records:  records,
		profiles: map[string]ProfileBuilder{
			staff.ProfileName: func(ctx context.Context, records ingest.RecordStore, actor string) (ingest.Profile, error) {
				return staff.NewImporter(ctx, records, actor)
			},
		},
	}
}

func (e *testEnv) server(t *testing.T) *httptest.Server {
	t.Helper()
	h := NewHandler(e.sessions, e.records, nil, e.profiles, 50, nil)
	h.Now = func() time.Time {
		return time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC)
	}
	srv := httptest.NewServer(NewRouter(h))
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T) (*httptest.Server, *sqlite.Store) {
	t.Helper()
	env := newTestEnv(t)
	return env.server(t), env.records
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return out
}

func staffRow(staffID string) ingest.RawRow {
	return ingest.RawRow{
		"org":            "SMRU",
		"staff_id":       staffID,
		"first_name":     "Somchai",
		"gender":         "M",
		"date_of_birth":  "1990-05-01",
		"marital_status": "Single",
	}
}

// =============================================================================
// FULL FLOW
// =============================================================================

func TestImportFlow_CleanUpload(t *testing.T) {
	// GIVEN: An open import and one clean chunk of two rows
	// WHEN: Submitting, reading progress, and completing
	// THEN: Both rows persist and the summary reports them
	srv, records := newTestServer(t)

	created := decode[ImportDTO](t, postJSON(t, srv.URL+"/api/imports",
		CreateImportRequest{Profile: "staff", Owner: "hr-admin"}))
	if created.ImportID == "" {
		t.Fatal("import id missing")
	}

	chunk := decode[ChunkResultDTO](t, postJSON(t,
		fmt.Sprintf("%s/api/imports/%s/chunks", srv.URL, created.ImportID),
		SubmitChunkRequest{StartRow: 2, Rows: []ingest.RawRow{staffRow("EMP001"), staffRow("EMP002")}}))
	if chunk.State != "completed" || chunk.Processed != 2 {
		t.Fatalf("chunk = %+v, want completed with 2 processed", chunk)
	}

	resp, err := http.Get(fmt.Sprintf("%s/api/imports/%s", srv.URL, created.ImportID))
	if err != nil {
		t.Fatal(err)
	}
	state := decode[ImportStateDTO](t, resp)
	if state.Processed != 2 || len(state.Errors) != 0 {
		t.Errorf("state = %+v, want 2 processed and no errors", state)
	}

	summary := decode[SummaryDTO](t, postJSON(t,
		fmt.Sprintf("%s/api/imports/%s/complete", srv.URL, created.ImportID), nil))
	if summary.Processed != 2 || summary.Owner != "hr-admin" {
		t.Errorf("summary = %+v", summary)
	}

	n, err := records.CountEmployees(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("employees = %d, want 2", n)
	}

	// The in-flight session is cleared; the summary survives on its own TTL.
	resp, _ = http.Get(fmt.Sprintf("%s/api/imports/%s", srv.URL, created.ImportID))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("state after complete = %d, want 404", resp.StatusCode)
	}
	resp, _ = http.Get(fmt.Sprintf("%s/api/imports/%s/summary", srv.URL, created.ImportID))
	fetched := decode[SummaryDTO](t, resp)
	if fetched.Processed != 2 {
		t.Errorf("refetched summary = %+v", fetched)
	}
}

func TestImportFlow_BadChunkAbortsButImportContinues(t *testing.T) {
	srv, records := newTestServer(t)
	created := decode[ImportDTO](t, postJSON(t, srv.URL+"/api/imports",
		CreateImportRequest{Profile: "staff", Owner: "hr-admin"}))

	bad := staffRow("EMP001")
	bad["org"] = "XMRU"
	chunk := decode[ChunkResultDTO](t, postJSON(t,
		fmt.Sprintf("%s/api/imports/%s/chunks", srv.URL, created.ImportID),
		SubmitChunkRequest{StartRow: 2, Rows: []ingest.RawRow{bad, staffRow("EMP002")}}))
	if chunk.State != "aborted" || chunk.Skipped != 2 {
		t.Fatalf("chunk = %+v, want aborted with the whole chunk skipped", chunk)
	}
	if len(chunk.Errors) == 0 {
		t.Fatal("aborted chunk should report its errors")
	}

	// The import session survives; the next chunk can still commit.
	next := decode[ChunkResultDTO](t, postJSON(t,
		fmt.Sprintf("%s/api/imports/%s/chunks", srv.URL, created.ImportID),
		SubmitChunkRequest{StartRow: 4, Rows: []ingest.RawRow{staffRow("EMP003")}}))
	if next.State != "completed" || next.Processed != 1 {
		t.Fatalf("next chunk = %+v, want completed", next)
	}

	n, _ := records.CountEmployees(context.Background())
	if n != 1 {
		t.Errorf("employees = %d, only the clean chunk should have written", n)
	}
}

func TestImportFlow_DuplicateAcrossChunks(t *testing.T) {
	srv, _ := newTestServer(t)
	created := decode[ImportDTO](t, postJSON(t, srv.URL+"/api/imports",
		CreateImportRequest{Profile: "staff", Owner: "hr-admin"}))

	first := decode[ChunkResultDTO](t, postJSON(t,
		fmt.Sprintf("%s/api/imports/%s/chunks", srv.URL, created.ImportID),
		SubmitChunkRequest{StartRow: 2, Rows: []ingest.RawRow{staffRow("EMP001")}}))
	if first.State != "completed" {
		t.Fatalf("first chunk = %+v", first)
	}

	second := decode[ChunkResultDTO](t, postJSON(t,
		fmt.Sprintf("%s/api/imports/%s/chunks", srv.URL, created.ImportID),
		SubmitChunkRequest{StartRow: 3, Rows: []ingest.RawRow{staffRow("EMP001")}}))
	if second.State != "aborted" {
		t.Fatalf("second chunk = %+v, want aborted on the duplicate", second)
	}
}

func TestImportFlow_RebuildsImporterOnFreshHandler(t *testing.T) {
	// GIVEN: An import opened on one handler instance
	// WHEN: A chunk arrives at a second handler sharing the same stores
	// THEN: The importer is rebuilt from the session's profile and commits
	env := newTestEnv(t)
	srv1 := env.server(t)
	created := decode[ImportDTO](t, postJSON(t, srv1.URL+"/api/imports",
		CreateImportRequest{Profile: "staff", Owner: "hr-admin"}))

	srv2 := env.server(t)
	chunk := decode[ChunkResultDTO](t, postJSON(t,
		fmt.Sprintf("%s/api/imports/%s/chunks", srv2.URL, created.ImportID),
		SubmitChunkRequest{StartRow: 2, Rows: []ingest.RawRow{staffRow("EMP010")}}))
	if chunk.State != "completed" {
		t.Fatalf("chunk = %+v", chunk)
	}
	n, _ := env.records.CountEmployees(context.Background())
	if n != 1 {
		t.Errorf("employees = %d, want 1", n)
	}
}

// =============================================================================
// INPUT VALIDATION
// =============================================================================

func TestCreateImport_UnknownProfile(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/api/imports", CreateImportRequest{Profile: "payroll", Owner: "x"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSubmitChunk_TooLarge(t *testing.T) {
	srv, _ := newTestServer(t)
	created := decode[ImportDTO](t, postJSON(t, srv.URL+"/api/imports",
		CreateImportRequest{Profile: "staff", Owner: "hr-admin"}))

	rows := make([]ingest.RawRow, 51)
	for i := range rows {
		rows[i] = staffRow(fmt.Sprintf("EMP%03d", i))
	}
	resp := postJSON(t, fmt.Sprintf("%s/api/imports/%s/chunks", srv.URL, created.ImportID),
		SubmitChunkRequest{StartRow: 2, Rows: rows})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for an oversized chunk", resp.StatusCode)
	}
}

func TestSubmitChunk_UnknownImport(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/api/imports/not-a-real-id/chunks",
		SubmitChunkRequest{StartRow: 2, Rows: []ingest.RawRow{staffRow("EMP001")}})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestGetSummary_ExpiredOrMissing(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/imports/nope/summary")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
