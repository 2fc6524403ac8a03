package api

import (
	"github.com/mattjoyce/mntdata/internal/interpreter"
	"github.com/mattjoyce/mntdata/internal/workspace"
)

// ExecuteRequest is the JSON body for POST /sessions/{sessionID}/execute.
type ExecuteRequest struct {
	Code   string `json:"code"`
	UserID string `json:"user_id,omitempty"`
	// TimeoutSeconds bounds the remote call. Zero uses the engine default.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// ExecuteResponse is returned by a completed execution.
type ExecuteResponse struct {
	*interpreter.Result
	DurationMS int64 `json:"duration_ms"`
}

// ExecuteErrorResponse is returned when an execution fails. Stage names where
// it stopped; Stdout and friends carry whatever was produced before.
type ExecuteErrorResponse struct {
	Error  string            `json:"error"`
	Stage  interpreter.Stage `json:"stage,omitempty"`
	Result *ExecuteResponse  `json:"result,omitempty"`
}

// PrepareRequest is the JSON body for POST /sessions/{sessionID}/prepare.
// Without Files the session's catalog attachments are used.
type PrepareRequest struct {
	Files []workspace.FileRef `json:"files,omitempty"`
}

// PreparedFile reports one attachment without its physical location.
type PreparedFile struct {
	FileID string                `json:"file_id"`
	Name   string                `json:"name,omitempty"`
	Kind   workspace.OutcomeKind `json:"kind"`
	Reason string                `json:"reason,omitempty"`
}

// PrepareResponse is returned by POST /sessions/{sessionID}/prepare.
type PrepareResponse struct {
	SessionID string         `json:"session_id"`
	Files     []PreparedFile `json:"files"`
	Prepared  int            `json:"prepared"`
	Failed    int            `json:"failed"`
	Skipped   int            `json:"skipped"`
}

// PromptRequest is the JSON body for POST /sessions/{sessionID}/prompt.
type PromptRequest struct {
	Base string `json:"base"`
}

// PromptResponse carries the built prompt.
type PromptResponse struct {
	Prompt string `json:"prompt"`
}

// FilesResponse is returned by GET /sessions/{sessionID}/files.
type FilesResponse struct {
	SessionID string            `json:"session_id"`
	Files     []workspace.Entry `json:"files"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status           string `json:"status"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	ActiveExecutions int    `json:"active_executions"`
}
