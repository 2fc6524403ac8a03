// Package attach resolves the files attached to a session into workspace
// file references.
package attach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/mntdata/internal/catalog"
	"github.com/mattjoyce/mntdata/internal/log"
	"github.com/mattjoyce/mntdata/internal/workspace"
)

// ErrSessionNotFound means the catalog has no record of the session.
var ErrSessionNotFound = errors.New("attachment session not found")

// Resolver lists a session's attachments in attach order.
type Resolver interface {
	Resolve(ctx context.Context, sessionID string) ([]workspace.FileRef, error)
}

// Source is the catalog surface the resolver reads.
type Source interface {
	SessionExists(ctx context.Context, id string) (bool, error)
	ListAttachments(ctx context.Context, sessionID string) ([]catalog.Attachment, error)
}

// CatalogResolver resolves attachments from the file catalog.
type CatalogResolver struct {
	source Source
	logger *slog.Logger
}

// NewCatalogResolver returns a resolver over source.
func NewCatalogResolver(source Source, logger *slog.Logger) *CatalogResolver {
	if logger == nil {
		logger = log.WithComponent("attach")
	}
	return &CatalogResolver{source: source, logger: logger}
}

// Resolve returns ErrSessionNotFound for unknown sessions and an empty slice
// for sessions without attachments. Attachments whose file record is gone or
// has no storage path are skipped.
func (r *CatalogResolver) Resolve(ctx context.Context, sessionID string) ([]workspace.FileRef, error) {
	ok, err := r.source.SessionExists(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	attachments, err := r.source.ListAttachments(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	refs := make([]workspace.FileRef, 0, len(attachments))
	for _, a := range attachments {
		if a.File == nil {
			r.logger.Warn("attached file missing from catalog", "session_id", sessionID, "file_id", a.FileID)
			continue
		}
		if a.File.Path == "" {
			r.logger.Warn("attached file has no storage path",
				"session_id", sessionID,
				"file_id", a.FileID,
				"display_name", a.File.Filename,
			)
			continue
		}
		refs = append(refs, workspace.FileRef{
			FileID:      a.File.ID,
			DisplayName: a.File.Filename,
			SourcePath:  a.File.Path,
			Size:        a.File.Size,
			ContentType: a.File.ContentType,
		})
	}
	return refs, nil
}

// Static resolves every session to the same refs.
type Static []workspace.FileRef

// Resolve returns a copy of the refs.
func (s Static) Resolve(context.Context, string) ([]workspace.FileRef, error) {
	return append([]workspace.FileRef(nil), s...), nil
}
