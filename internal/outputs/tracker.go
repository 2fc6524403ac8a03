package outputs

import (
	"context"
	"log/slog"

	"github.com/mattjoyce/mntdata/internal/log"
)

// Tracker starts output captures under a policy.
type Tracker struct {
	policy Policy
	logger *slog.Logger
}

// NewTracker returns a Tracker for policy. Empty policy fields take defaults.
func NewTracker(policy Policy, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = log.WithComponent("outputs")
	}
	return &Tracker{policy: policy.WithDefaults(), logger: logger}
}

// Policy returns the effective policy.
func (t *Tracker) Policy() Policy { return t.policy }

// Capture holds the pre-execution state of one workspace.
type Capture struct {
	policy Policy
	root   string
	before Snapshot
	logger *slog.Logger
}

// Begin snapshots root when code warrants tracking. It returns a nil Capture
// when the code shows no output intent.
func (t *Tracker) Begin(ctx context.Context, code, root string) (*Capture, Decision, error) {
	decision := t.policy.ShouldTrack(code)
	t.logger.Debug("output tracking decision",
		"track", decision.Track,
		"has_format", decision.HasFormat,
		"has_intent", decision.HasIntent,
	)
	if !decision.Track {
		return nil, decision, nil
	}

	before, err := Take(ctx, root)
	if err != nil {
		return nil, decision, err
	}
	return &Capture{policy: t.policy, root: root, before: before, logger: t.logger}, decision, nil
}

// Before returns the pre-execution snapshot.
func (c *Capture) Before() Snapshot { return c.before }

// Finish snapshots the workspace again and returns the net-new outputs.
func (c *Capture) Finish(ctx context.Context) ([]Record, error) {
	after, err := Take(ctx, c.root)
	if err != nil {
		return nil, err
	}
	records := c.policy.Diff(c.before, after, c.root)
	c.logger.Info("output capture finished",
		"before", c.before.Len(),
		"after", after.Len(),
		"generated", len(records),
	)
	return records, nil
}
