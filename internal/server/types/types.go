// Package types defines the wire-level request and response shapes of the
// management API.
package types

import "time"

const (
	CodeInvalidSignature  = "invalid_signature"
	CodeUnknownRepository = "unknown_repository"
	CodeNotFound          = "not_found"
	CodeConflict          = "conflict"
	CodeInvalidParameter  = "invalid_parameter"
	CodeInternalError     = "internal_error"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WebhookResponse acknowledges a delivery. Accepted deliveries are processed
// asynchronously; the status only reflects enqueueing.
type WebhookResponse struct {
	Status string `json:"status"`
}

// TriggerResponse points at the ledger entry of a run started by the manual
// sync API.
type TriggerResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

type Source struct {
	Name            string     `json:"name"`
	Repo            string     `json:"repo"`
	Family          string     `json:"family"`
	Private         bool       `json:"private"`
	LastSyncedAt    *time.Time `json:"last_synced_at,omitempty"`
	LastSyncStatus  *string    `json:"last_sync_status,omitempty"`
	LastSyncSummary *string    `json:"last_sync_summary,omitempty"`
}

type SourcesResponse struct {
	Result []Source `json:"result"`
}

type SourceResponse struct {
	Result Source `json:"result"`
}

type RunError struct {
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

type Run struct {
	ID           string     `json:"id"`
	SourceName   string     `json:"source_name"`
	Partial      bool       `json:"partial"`
	Commit       string     `json:"commit,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       string     `json:"status"`
	ItemsCreated int        `json:"items_created"`
	ItemsUpdated int        `json:"items_updated"`
	ItemsDeleted int        `json:"items_deleted"`
	Errors       []RunError `json:"errors,omitempty"`
}

type RunsResponse struct {
	Result     []Run  `json:"result"`
	NextCursor string `json:"next_cursor,omitempty"`
}
