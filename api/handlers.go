/*
handlers.go - HTTP API handlers for the bulk import pipeline

PURPOSE:
  Exposes the import engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the chunk processor.

ENDPOINTS:
  Imports:
    POST   /api/imports                   Open an import session
    POST   /api/imports/{id}/chunks       Submit one chunk of rows
    GET    /api/imports/{id}             In-flight progress snapshot
    POST   /api/imports/{id}/complete     Finalize, notify, fetch summary
    GET    /api/imports/{id}/summary      Re-fetch a finished summary

  Health:
    GET    /api/health                    Liveness probe

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Sessions:  Cross-chunk state store (redis or in-memory)
  - Records:   Relational record store (sqlite)
  - Notifier:  Terminal summary delivery
  - Profiles:  Named builders for each import variant

PROCESSOR CACHE:
  A processor (profile + lookup snapshot) is built on the first chunk of an
  import and cached by import id. A later chunk landing on a process without
  the cache entry rebuilds it from the session's stored profile name, so
  chunk submission survives restarts.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Unknown profile, oversized chunk, invalid input
  - 404: Unknown or expired import
  - 500: Infrastructure errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/warp/ingest-engine/ingest"
)

// ProfileBuilder constructs an import profile with its lookup snapshot
// prefetched. actor is the session owner, recorded on every written row.
type ProfileBuilder func(ctx context.Context, records ingest.RecordStore, actor string) (ingest.Profile, error)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Sessions  ingest.SessionStore
	Records   ingest.RecordStore
	Notifier  ingest.Notifier
	Profiles  map[string]ProfileBuilder
	ChunkSize int
	Log       *logrus.Entry

	// Now is injectable so handler tests control validation time.
	Now func() time.Time

	mu         sync.Mutex
	processors map[string]*ingest.Processor
	owners     map[string]string
}

// NewHandler creates a new handler with the given collaborators.
func NewHandler(sessions ingest.SessionStore, records ingest.RecordStore, notifier ingest.Notifier, profiles map[string]ProfileBuilder, chunkSize int, log *logrus.Entry) *Handler {
	if chunkSize <= 0 {
		chunkSize = ingest.DefaultChunkSize
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Handler{
		Sessions:   sessions,
		Records:    records,
		Notifier:   notifier,
		Profiles:   profiles,
		ChunkSize:  chunkSize,
		Log:        log,
		Now:        time.Now,
		processors: make(map[string]*ingest.Processor),
		owners:     make(map[string]string),
	}
}

// =============================================================================
// IMPORT HANDLERS
// =============================================================================

// CreateImport opens an import session and builds its processor, so the
// lookup snapshot is fixed before the first chunk arrives.
func (h *Handler) CreateImport(w http.ResponseWriter, r *http.Request) {
	var req CreateImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required", nil)
		return
	}
	build, ok := h.Profiles[req.Profile]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown import profile", fmt.Errorf("%w: %q", ingest.ErrUnknownProfile, req.Profile))
		return
	}

	profile, err := build(r.Context(), h.Records, req.Owner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to prepare import", err)
		return
	}

	importID := uuid.NewString()
	if err := h.Sessions.Init(r.Context(), importID, req.Owner, req.Profile); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create import session", err)
		return
	}

	h.mu.Lock()
	h.processors[importID] = ingest.NewProcessor(profile, h.Sessions, h.Records, h.Log)
	h.owners[importID] = req.Owner
	h.mu.Unlock()

	h.Log.WithFields(logrus.Fields{"import_id": importID, "profile": req.Profile, "owner": req.Owner}).
		Info("import session created")
	writeJSON(w, http.StatusCreated, ImportDTO{ImportID: importID, Profile: req.Profile, Owner: req.Owner})
}

// SubmitChunk processes one chunk of rows through the state machine.
func (h *Handler) SubmitChunk(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "id")

	var req SubmitChunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Rows) > h.ChunkSize {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Chunk exceeds the maximum of %d rows", h.ChunkSize), ingest.ErrChunkTooLarge)
		return
	}
	if req.StartRow < 1 {
		req.StartRow = 2
	}

	processor, err := h.processor(r.Context(), importID)
	if err != nil {
		if errors.Is(err, ingest.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "Import not found or expired", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to prepare import", err)
		return
	}

	result, err := processor.ProcessChunk(r.Context(), importID, req.StartRow, req.Rows, h.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Chunk processing failed", err)
		return
	}

	writeJSON(w, http.StatusOK, ChunkResultDTO{
		State:     string(result.State),
		Processed: result.Processed,
		Updated:   result.Updated,
		Skipped:   result.Skipped,
		Errors:    ingest.IssueStrings(result.Errors),
		Warnings:  ingest.IssueStrings(result.Warnings),
	})
}

// GetImport returns the in-flight progress snapshot.
func (h *Handler) GetImport(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "id")

	state, err := h.Sessions.Snapshot(r.Context(), importID)
	if err != nil {
		if errors.Is(err, ingest.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "Import not found or expired", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to read import state", err)
		return
	}

	writeJSON(w, http.StatusOK, ImportStateDTO{
		ImportID:     state.ImportID,
		Owner:        state.Owner,
		Profile:      state.Profile,
		Processed:    state.Counts[ingest.CountProcessed],
		Updated:      state.Counts[ingest.CountUpdated],
		Skipped:      state.Counts[ingest.CountSkipped],
		Errors:       state.Errors,
		Warnings:     state.Warnings,
		SystemErrors: state.SystemErrors,
		Failures:     state.Failures,
		FirstRow:     state.FirstRow,
		CreatedAt:    state.CreatedAt.Format(time.RFC3339),
	})
}

// CompleteImport finalizes the import: folds the session into a summary,
// stores it under the short summary TTL, notifies the owner, and clears the
// in-flight state.
func (h *Handler) CompleteImport(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "id")

	state, err := h.Sessions.Snapshot(r.Context(), importID)
	if err != nil {
		if errors.Is(err, ingest.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "Import not found or expired", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to read import state", err)
		return
	}

	summary := ingest.BuildSummary(state, h.Now())
	if err := h.Sessions.SaveSummary(r.Context(), importID, summary); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store summary", err)
		return
	}
	if h.Notifier != nil {
		if err := h.Notifier.Notify(r.Context(), state.Owner, summary); err != nil {
			// The summary is already stored and fetchable; do not fail the
			// import over a delivery problem.
			h.Log.WithError(err).WithField("import_id", importID).Warn("summary notification failed")
		}
	}
	if err := h.Sessions.Clear(r.Context(), importID); err != nil {
		h.Log.WithError(err).WithField("import_id", importID).Warn("failed to clear session state")
	}

	h.mu.Lock()
	delete(h.processors, importID)
	delete(h.owners, importID)
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, summaryDTO(summary))
}

// GetSummary re-fetches a stored summary while its TTL lasts.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "id")

	summary, err := h.Sessions.LoadSummary(r.Context(), importID)
	if err != nil {
		if errors.Is(err, ingest.ErrSummaryNotFound) {
			writeError(w, http.StatusNotFound, "Summary not found or expired", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load summary", err)
		return
	}
	writeJSON(w, http.StatusOK, summaryDTO(*summary))
}

// Health is the liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// processor returns the cached processor for an import, rebuilding it from
// the session's profile name when this process has not seen the import yet.
func (h *Handler) processor(ctx context.Context, importID string) (*ingest.Processor, error) {
	h.mu.Lock()
	cached, ok := h.processors[importID]
	h.mu.Unlock()
	if ok {
		return cached, nil
	}

	state, err := h.Sessions.Snapshot(ctx, importID)
	if err != nil {
		return nil, err
	}
	build, ok := h.Profiles[state.Profile]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ingest.ErrUnknownProfile, state.Profile)
	}
	profile, err := build(ctx, h.Records, state.Owner)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.processors[importID]; ok {
		return existing, nil
	}
	processor := ingest.NewProcessor(profile, h.Sessions, h.Records, h.Log)
	h.processors[importID] = processor
	h.owners[importID] = state.Owner
	return processor, nil
}

func summaryDTO(s ingest.Summary) SummaryDTO {
	return SummaryDTO{
		ImportID:     s.ImportID,
		Owner:        s.Owner,
		Profile:      s.Profile,
		Processed:    s.Processed,
		Updated:      s.Updated,
		Skipped:      s.Skipped,
		Errors:       s.Errors,
		Warnings:     s.Warnings,
		SystemErrors: s.SystemErrors,
		CompletedAt:  s.CompletedAt.Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
