package workspace

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// EnginePath returns the workspace root for sessionID as the execution engine
// sees it.
func (m *FSManager) EnginePath(sessionID string) (string, error) {
	ws, err := m.Locate(sessionID)
	if err != nil {
		return "", err
	}
	return ws.EngineDir, nil
}

// Prepare makes every ref visible in the session workspace under its
// sanitized display name. Per-file problems are recorded in the Report and
// never abort the remaining files; only workspace creation failure or context
// cancellation return an error.
//
// Existing entries at a target name are replaced, so preparing the same refs
// twice leaves exactly one entry per file id. Other files already in the
// workspace are left alone.
func (m *FSManager) Prepare(ctx context.Context, sessionID string, refs []FileRef) (*Report, error) {
	ws, err := m.Ensure(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	logger := m.logger.With("session_id", sessionID)
	report := &Report{
		SessionID: sessionID,
		Root:      ws.Dir,
		LinkMode:  m.linkMode,
		Outcomes:  make([]Outcome, 0, len(refs)),
	}

	processed := make(map[string]struct{}, len(refs))
	claimed := make(NameClaims, len(refs))

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		out := Outcome{FileID: ref.FileID, DisplayName: ref.DisplayName}

		if strings.TrimSpace(ref.FileID) == "" {
			out.Kind = OutcomeSkipped
			out.Reason = ReasonMissingFileID
			logger.Warn("skipping attachment without file id", "display_name", ref.DisplayName)
			report.Outcomes = append(report.Outcomes, out)
			continue
		}

		if _, seen := processed[ref.FileID]; seen {
			out.Kind = OutcomeSkipped
			out.Reason = ReasonDuplicate
			logger.Debug("skipping duplicate attachment", "file_id", ref.FileID, "display_name", ref.DisplayName)
			report.Outcomes = append(report.Outcomes, out)
			continue
		}
		processed[ref.FileID] = struct{}{}

		name := claimed.Claim(ref.DisplayName, ref.FileID)
		if name == "" {
			out.Kind = OutcomeSkipped
			out.Reason = ReasonEmptyName
			out.Err = ErrEmptyName
			logger.Warn("skipping attachment",
				"file_id", ref.FileID,
				"display_name", ref.DisplayName,
				"error", ErrEmptyName,
			)
			report.Outcomes = append(report.Outcomes, out)
			continue
		}

		out.Name = name
		out.Target = filepath.Join(ws.Dir, name)
		m.materialize(ref, &out)

		switch out.Kind {
		case OutcomeFailed:
			logger.Error("attachment unavailable in workspace",
				"file_id", ref.FileID,
				"display_name", ref.DisplayName,
				"error", out.Err,
			)
		case OutcomeCopied:
			if out.LinkError != "" {
				logger.Warn("symlink failed, copied attachment instead",
					"file_id", ref.FileID,
					"display_name", ref.DisplayName,
					"error", out.LinkError,
				)
			}
		}
		report.Outcomes = append(report.Outcomes, out)
	}

	logger.Info("workspace prepared",
		"root", ws.Dir,
		"prepared", len(report.Prepared()),
		"failed", len(report.Failed()),
		"skipped", len(report.Skipped()),
	)
	return report, nil
}

// materialize places ref at out.Target and fills in the outcome.
func (m *FSManager) materialize(ref FileRef, out *Outcome) {
	if err := removeExisting(out.Target); err != nil {
		out.Kind = OutcomeFailed
		out.Err = fmt.Errorf("%w: clear %s: %w", ErrLinkFailed, out.Name, err)
		out.Reason = ReasonLinkFailed
		return
	}

	var linkErr error
	if m.shouldSymlink() {
		linkErr = m.linkFile(ref.SourcePath, out.Target)
		if linkErr == nil {
			out.Kind = OutcomeSymlinked
			return
		}
		out.LinkError = linkErr.Error()
	}

	if err := copyFile(ref.SourcePath, out.Target); err != nil {
		out.Kind = OutcomeFailed
		out.Err = err
		if linkErr != nil {
			out.Err = errors.Join(linkErr, err)
		}
		out.Reason = ReasonCopyFailed
		return
	}
	out.Kind = OutcomeCopied
}

func (m *FSManager) shouldSymlink() bool {
	switch m.linkMode {
	case LinkCopy:
		return false
	case LinkAuto:
		return !m.preferCopy
	default:
		return true
	}
}
