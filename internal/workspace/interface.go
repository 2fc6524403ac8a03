package workspace

import (
	"context"
	"errors"
	"time"
)

// Per-file preparation errors. They are recorded on the file's Outcome and
// never abort preparation of sibling files.
var (
	ErrEmptyName  = errors.New("display name is empty after sanitization")
	ErrLinkFailed = errors.New("link creation failed")
	ErrCopyFailed = errors.New("copy failed")
)

// ErrInvalidSessionID is returned for ids that cannot name a workspace directory.
var ErrInvalidSessionID = errors.New("invalid session id")

// Workspace is the isolated directory backing one execution session.
//
// Dir is derived from the session id and never persisted; EngineDir is the
// same directory as the execution engine sees it.
type Workspace struct {
	SessionID string
	Dir       string
	EngineDir string
}

// FileRef is one catalog file to make visible inside a workspace.
type FileRef struct {
	FileID      string `json:"file_id"`
	DisplayName string `json:"display_name"`
	SourcePath  string `json:"source_path"`
	Size        int64  `json:"size,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// OutcomeKind tags how a FileRef was realized.
type OutcomeKind string

const (
	OutcomeSymlinked OutcomeKind = "symlinked"
	OutcomeCopied    OutcomeKind = "copied"
	OutcomeSkipped   OutcomeKind = "skipped"
	OutcomeFailed    OutcomeKind = "failed"
)

// Outcome reasons. Failure reasons name the error class only; the error
// itself is in Outcome.Err.
const (
	ReasonDuplicate     = "duplicate"
	ReasonEmptyName     = "empty_name"
	ReasonMissingFileID = "missing_file_id"
	ReasonLinkFailed    = "link_failed"
	ReasonCopyFailed    = "copy_failed"
)

// Outcome is the per-file result of Prepare.
type Outcome struct {
	FileID      string      `json:"file_id"`
	DisplayName string      `json:"display_name"`
	Name        string      `json:"name,omitempty"`
	Kind        OutcomeKind `json:"kind"`
	Target      string      `json:"target,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	// LinkError is set when a symlink was attempted and a copy was used instead.
	LinkError string `json:"link_error,omitempty"`
	Err       error  `json:"-"`
}

// Ok reports whether the file is available in the workspace.
func (o Outcome) Ok() bool {
	return o.Kind == OutcomeSymlinked || o.Kind == OutcomeCopied
}

// Report aggregates per-file outcomes of one Prepare call.
type Report struct {
	SessionID string    `json:"session_id"`
	Root      string    `json:"root"`
	LinkMode  string    `json:"link_mode"`
	Outcomes  []Outcome `json:"outcomes"`
}

// Prepared returns the outcomes that produced a usable file.
func (r *Report) Prepared() []Outcome { return r.filter(func(o Outcome) bool { return o.Ok() }) }

// Failed returns the outcomes that could not be materialized.
func (r *Report) Failed() []Outcome {
	return r.filter(func(o Outcome) bool { return o.Kind == OutcomeFailed })
}

// Skipped returns the outcomes that were skipped.
func (r *Report) Skipped() []Outcome {
	return r.filter(func(o Outcome) bool { return o.Kind == OutcomeSkipped })
}

func (r *Report) filter(keep func(Outcome) bool) []Outcome {
	if r == nil {
		return nil
	}
	var out []Outcome
	for _, o := range r.Outcomes {
		if keep(o) {
			out = append(out, o)
		}
	}
	return out
}

// Entry is one file inside a workspace.
type Entry struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	Symlink bool      `json:"symlink,omitempty"`
}

// CleanupReport summarizes a cleanup run.
type CleanupReport struct {
	DeletedDirs int
}

// Manager governs per-session workspace directories.
type Manager interface {
	// Locate derives the workspace for sessionID without touching disk.
	Locate(sessionID string) (Workspace, error)

	// Ensure creates the workspace directory if absent.
	Ensure(ctx context.Context, sessionID string) (Workspace, error)

	// Open resolves an existing workspace.
	Open(ctx context.Context, sessionID string) (Workspace, error)

	// Prepare materializes refs into the session workspace.
	Prepare(ctx context.Context, sessionID string, refs []FileRef) (*Report, error)

	// List returns the files currently in the workspace.
	List(ctx context.Context, sessionID string) ([]Entry, error)

	// Remove tears the workspace down.
	Remove(ctx context.Context, sessionID string) error

	// Cleanup removes workspaces older than olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error)
}
