/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal pipeline model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/warp/ingest-engine/ingest"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateImportRequest opens a new import session.
type CreateImportRequest struct {
	Profile string `json:"profile"`
	Owner   string `json:"owner"`
}

// SubmitChunkRequest carries one chunk of spreadsheet rows. StartRow is the
// 1-based sheet row number of rows[0]; with a header row the first chunk
// starts at 2.
type SubmitChunkRequest struct {
	StartRow int             `json:"start_row"`
	Rows     []ingest.RawRow `json:"rows"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ImportDTO is returned when an import session is created.
type ImportDTO struct {
	ImportID string `json:"import_id"`
	Profile  string `json:"profile"`
	Owner    string `json:"owner"`
}

// ChunkResultDTO reports the outcome of one submitted chunk.
type ChunkResultDTO struct {
	State     string   `json:"state"`
	Processed int      `json:"processed"`
	Updated   int      `json:"updated"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

// ImportStateDTO is the mid-import progress view.
type ImportStateDTO struct {
	ImportID     string              `json:"import_id"`
	Owner        string              `json:"owner"`
	Profile      string              `json:"profile"`
	Processed    int                 `json:"processed"`
	Updated      int                 `json:"updated"`
	Skipped      int                 `json:"skipped"`
	Errors       []string            `json:"errors"`
	Warnings     []string            `json:"warnings"`
	SystemErrors []string            `json:"system_errors,omitempty"`
	Failures     []ingest.RowFailure `json:"failures,omitempty"`
	FirstRow     *ingest.RowSnapshot `json:"first_row,omitempty"`
	CreatedAt    string              `json:"created_at"`
}

// SummaryDTO is the terminal import summary.
type SummaryDTO struct {
	ImportID     string   `json:"import_id"`
	Owner        string   `json:"owner"`
	Profile      string   `json:"profile"`
	Processed    int      `json:"processed"`
	Updated      int      `json:"updated"`
	Skipped      int      `json:"skipped"`
	Errors       []string `json:"errors"`
	Warnings     []string `json:"warnings"`
	SystemErrors []string `json:"system_errors,omitempty"`
	CompletedAt  string   `json:"completed_at"`
}

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
