package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/mntdata/internal/attach"
	"github.com/mattjoyce/mntdata/internal/interpreter"
	"github.com/mattjoyce/mntdata/internal/workspace"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:           "ok",
		UptimeSeconds:    int64(time.Since(s.startedAt).Seconds()),
		ActiveExecutions: len(s.execSem),
	})
}

// handleExecute handles POST /sessions/{sessionID}/execute.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		s.writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	if req.TimeoutSeconds < 0 {
		s.writeError(w, http.StatusBadRequest, "timeout_seconds must not be negative")
		return
	}

	select {
	case s.execSem <- struct{}{}:
		defer func() { <-s.execSem }()
	default:
		s.logger.Warn("too many concurrent executions", "session_id", sessionID)
		s.writeError(w, http.StatusServiceUnavailable, "too many concurrent executions, please try again later")
		return
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if s.config.MaxTimeout > 0 && (timeout == 0 || timeout > s.config.MaxTimeout) {
		timeout = s.config.MaxTimeout
	}

	res, err := s.runner.Run(r.Context(), interpreter.Request{
		SessionID: sessionID,
		UserID:    req.UserID,
		Code:      req.Code,
		Timeout:   timeout,
	})
	if err != nil {
		status, stage := executeErrorStatus(err)
		resp := ExecuteErrorResponse{Error: err.Error(), Stage: stage}
		if res != nil {
			resp.Result = &ExecuteResponse{Result: res, DurationMS: res.Duration.Milliseconds()}
		}
		respondJSON(w, status, resp)
		return
	}

	respondJSON(w, http.StatusOK, ExecuteResponse{Result: res, DurationMS: res.Duration.Milliseconds()})
}

// executeErrorStatus maps an execution failure to an HTTP status. Remote
// failures are 502 and remote timeouts 504.
func executeErrorStatus(err error) (int, interpreter.Stage) {
	var stageErr *interpreter.StageError
	if !errors.As(err, &stageErr) {
		return http.StatusInternalServerError, ""
	}
	switch {
	case errors.Is(err, interpreter.ErrRemoteTimeout):
		return http.StatusGatewayTimeout, stageErr.Stage
	case errors.Is(err, interpreter.ErrRemoteExecution):
		return http.StatusBadGateway, stageErr.Stage
	case errors.Is(err, workspace.ErrInvalidSessionID), stageErr.Stage == interpreter.StageIdle:
		return http.StatusBadRequest, stageErr.Stage
	default:
		return http.StatusInternalServerError, stageErr.Stage
	}
}

// handlePrepare handles POST /sessions/{sessionID}/prepare.
func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req PrepareRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	refs := req.Files
	if len(refs) == 0 && s.resolver != nil {
		resolved, err := s.resolver.Resolve(r.Context(), sessionID)
		switch {
		case errors.Is(err, attach.ErrSessionNotFound):
			s.writeError(w, http.StatusNotFound, "session not found")
			return
		case err != nil:
			s.logger.Error("resolve attachments failed", "session_id", sessionID, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to resolve attachments")
			return
		}
		refs = resolved
	}

	report, err := s.runner.Prepare(r.Context(), sessionID, refs)
	if err != nil {
		s.writeWorkspaceError(w, sessionID, "prepare", err)
		return
	}

	resp := PrepareResponse{
		SessionID: sessionID,
		Files:     make([]PreparedFile, 0, len(report.Outcomes)),
		Prepared:  len(report.Prepared()),
		Failed:    len(report.Failed()),
		Skipped:   len(report.Skipped()),
	}
	for _, o := range report.Outcomes {
		resp.Files = append(resp.Files, PreparedFile{FileID: o.FileID, Name: o.Name, Kind: o.Kind, Reason: o.Reason})
	}
	respondJSON(w, http.StatusOK, resp)
}

// handlePrompt handles POST /sessions/{sessionID}/prompt.
func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req PromptRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	prompt, err := s.runner.Prompt(r.Context(), sessionID, req.Base)
	switch {
	case errors.Is(err, attach.ErrSessionNotFound):
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	case err != nil:
		s.logger.Error("build prompt failed", "session_id", sessionID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to build prompt")
		return
	}
	respondJSON(w, http.StatusOK, PromptResponse{Prompt: prompt})
}

// handleListFiles handles GET /sessions/{sessionID}/files.
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	entries, err := s.workspaces.List(r.Context(), sessionID)
	if err != nil {
		s.writeWorkspaceError(w, sessionID, "list", err)
		return
	}
	if entries == nil {
		entries = []workspace.Entry{}
	}
	respondJSON(w, http.StatusOK, FilesResponse{SessionID: sessionID, Files: entries})
}

// handleRemoveWorkspace handles DELETE /sessions/{sessionID}/workspace.
func (s *Server) handleRemoveWorkspace(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.workspaces.Remove(r.Context(), sessionID); err != nil {
		s.writeWorkspaceError(w, sessionID, "remove", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.metrics != nil))
}

func (s *Server) writeWorkspaceError(w http.ResponseWriter, sessionID, op string, err error) {
	if errors.Is(err, workspace.ErrInvalidSessionID) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error("workspace operation failed", "op", op, "session_id", sessionID, "error", err)
	s.writeError(w, http.StatusInternalServerError, "workspace "+op+" failed")
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
