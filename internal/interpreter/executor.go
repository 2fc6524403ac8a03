// Package interpreter runs user code for a session: it prepares the session
// workspace, maps the virtual mount to it, executes remotely and hands any
// generated output files to the catalog.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattjoyce/mntdata/internal/attach"
	"github.com/mattjoyce/mntdata/internal/events"
	"github.com/mattjoyce/mntdata/internal/kernel"
	"github.com/mattjoyce/mntdata/internal/lock"
	"github.com/mattjoyce/mntdata/internal/log"
	"github.com/mattjoyce/mntdata/internal/metrics"
	"github.com/mattjoyce/mntdata/internal/outputs"
	"github.com/mattjoyce/mntdata/internal/pathmap"
	"github.com/mattjoyce/mntdata/internal/workspace"
)

// DefaultVirtualPrefix is the mount point user code sees.
const DefaultVirtualPrefix = "/mnt/data"

// Request is one execution.
type Request struct {
	// SessionID selects the workspace. Empty runs the code with no workspace.
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
	Code      string `json:"code"`
	// Timeout bounds the remote call. Zero uses the engine default.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// GeneratedFile is an output registered in the catalog.
type GeneratedFile struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	URL    string `json:"url"`
	Size   int64  `json:"size"`
	Format string `json:"format"`
}

// AttachmentStatus reports how one attachment was made available.
type AttachmentStatus struct {
	FileID string                `json:"file_id"`
	Name   string                `json:"name,omitempty"`
	Kind   workspace.OutcomeKind `json:"kind"`
}

// Result is what an execution returns to the caller. It never carries
// physical workspace paths.
type Result struct {
	SessionID   string             `json:"session_id,omitempty"`
	Stdout      string             `json:"stdout"`
	Stderr      string             `json:"stderr"`
	Result      string             `json:"result"`
	Status      string             `json:"status,omitempty"`
	Files       []GeneratedFile    `json:"files"`
	Attachments []AttachmentStatus `json:"attachments,omitempty"`
	Tracked     bool               `json:"tracked"`
	Stages      []Stage            `json:"stages"`
	Duration    time.Duration      `json:"duration"`
}

// FileURL is the catalog download path for a registered file.
func FileURL(id string) string {
	return "/api/v1/files/" + id + "/content"
}

// Executor runs requests. Executions for the same session are serialized;
// different sessions run independently.
type Executor struct {
	engine     Engine
	workspaces workspace.Manager
	resolver   attach.Resolver
	registrar  Registrar
	tracker    *outputs.Tracker
	virtual    string
	locks      *lock.SessionLocks
	events     events.Publisher
	metrics    *metrics.Recorder
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithResolver sets the attachment source. Without one no attachments are
// prepared.
func WithResolver(r attach.Resolver) Option { return func(e *Executor) { e.resolver = r } }

// WithRegistrar sets where outputs are registered. Without one outputs are
// detected but not returned.
func WithRegistrar(r Registrar) Option { return func(e *Executor) { e.registrar = r } }

// WithTracker sets the output tracker.
func WithTracker(t *outputs.Tracker) Option { return func(e *Executor) { e.tracker = t } }

// WithVirtualPrefix sets the mount point user code sees.
func WithVirtualPrefix(p string) Option { return func(e *Executor) { e.virtual = p } }

// WithEvents publishes lifecycle events to p.
func WithEvents(p events.Publisher) Option { return func(e *Executor) { e.events = p } }

// WithMetrics records execution metrics.
func WithMetrics(m *metrics.Recorder) Option { return func(e *Executor) { e.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Executor) { e.logger = l } }

func New(engine Engine, workspaces workspace.Manager, opts ...Option) *Executor {
	e := &Executor{
		engine:     engine,
		workspaces: workspaces,
		virtual:    DefaultVirtualPrefix,
		locks:      lock.NewSessionLocks(),
		events:     events.Discard{},
		logger:     log.WithComponent("interpreter"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracker == nil {
		e.tracker = outputs.NewTracker(outputs.DefaultPolicy(), e.logger)
	}
	if e.events == nil {
		e.events = events.Discard{}
	}
	if e.logger == nil {
		e.logger = log.WithComponent("interpreter")
	}
	return e
}

// run carries the state of one execution through its stages.
type run struct {
	req     Request
	logger  *slog.Logger
	started time.Time
	result  *Result
	stage   Stage
}

func (r *run) enter(s Stage) {
	r.stage = s
	r.result.Stages = append(r.result.Stages, s)
}

// Run executes req. Attachment and workspace problems are logged and
// execution proceeds; a remote failure or timeout ends the run with a
// *StageError whose text uses virtual paths. The partial Result is returned
// alongside any error.
func (e *Executor) Run(ctx context.Context, req Request) (*Result, error) {
	r := &run{
		req:     req,
		logger:  e.logger.With("session_id", req.SessionID),
		started: e.now(),
		result:  &Result{SessionID: req.SessionID, Files: []GeneratedFile{}},
	}
	r.enter(StageIdle)

	if strings.TrimSpace(req.Code) == "" {
		return r.result, e.fail(r, StageIdle, errors.New("code is empty"), nil)
	}

	e.events.Publish(events.ExecutionStarted, events.Execution{SessionID: req.SessionID})

	if req.SessionID == "" {
		return e.runStateless(ctx, r)
	}

	ws, err := e.workspaces.Locate(req.SessionID)
	if err != nil {
		return r.result, e.fail(r, StageResolving, err, nil)
	}

	unlock, err := e.locks.Lock(ctx, req.SessionID)
	if err != nil {
		return r.result, e.fail(r, StageIdle, err, nil)
	}
	defer unlock()

	r.enter(StageResolving)
	refs := e.resolve(ctx, r)

	r.enter(StagePreparing)
	e.prepare(ctx, r, refs)

	r.enter(StageTranslatingForward)
	forward := pathmap.New(e.virtual, ws.EngineDir)
	reverse := []*pathmap.Translator{forward}
	if ws.Dir != ws.EngineDir {
		reverse = append(reverse, pathmap.New(e.virtual, ws.Dir))
	}
	code := forward.ToPhysical(req.Code)

	r.enter(StageTrackingBefore)
	capture, decision, err := e.tracker.Begin(ctx, req.Code, ws.Dir)
	if err != nil {
		r.logger.Warn("output tracking disabled for this run", "error", err)
		capture = nil
	}
	r.result.Tracked = capture != nil
	r.logger.Debug("output tracking", "track", decision.Track, "has_format", decision.HasFormat, "has_intent", decision.HasIntent)

	r.enter(StageExecutingRemote)
	out, err := e.execute(ctx, code, req.Timeout)
	if err != nil {
		return r.result, e.fail(r, StageExecutingRemote, err, reverse)
	}

	r.enter(StageTrackingAfter)
	if capture != nil {
		e.collect(ctx, r, capture)
	}

	r.enter(StageTranslatingReverse)
	r.result.Stdout = toVirtual(out.Stdout, reverse)
	r.result.Stderr = toVirtual(out.Stderr, reverse)
	r.result.Result = toVirtual(out.Result, reverse)
	r.result.Status = out.Status

	e.finish(r)
	return r.result, nil
}

func (e *Executor) runStateless(ctx context.Context, r *run) (*Result, error) {
	r.enter(StageExecutingRemote)
	out, err := e.execute(ctx, r.req.Code, r.req.Timeout)
	if err != nil {
		return r.result, e.fail(r, StageExecutingRemote, err, nil)
	}
	r.result.Stdout = out.Stdout
	r.result.Stderr = out.Stderr
	r.result.Result = out.Result
	r.result.Status = out.Status
	e.finish(r)
	return r.result, nil
}

// Prepare materializes refs into the session workspace outside of an
// execution. It waits on the same session lock as Run.
func (e *Executor) Prepare(ctx context.Context, sessionID string, refs []workspace.FileRef) (*workspace.Report, error) {
	if _, err := e.workspaces.Locate(sessionID); err != nil {
		return nil, err
	}
	unlock, err := e.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	report, err := e.workspaces.Prepare(ctx, sessionID, refs)
	if err != nil {
		return report, err
	}
	for _, o := range report.Outcomes {
		e.metrics.Link(string(o.Kind))
	}
	e.events.Publish(events.ExecutionPrepared, events.Execution{
		SessionID: sessionID,
		Prepared:  len(report.Prepared()),
		Failed:    len(report.Failed()),
		Skipped:   len(report.Skipped()),
	})
	return report, nil
}

func (e *Executor) resolve(ctx context.Context, r *run) []workspace.FileRef {
	if e.resolver == nil {
		return nil
	}
	refs, err := e.resolver.Resolve(ctx, r.req.SessionID)
	switch {
	case errors.Is(err, attach.ErrSessionNotFound):
		r.logger.Warn("session has no attachment record, preparing empty workspace")
		return nil
	case err != nil:
		r.logger.Error("resolve attachments failed", "error", err)
		return nil
	}
	return refs
}

func (e *Executor) prepare(ctx context.Context, r *run, refs []workspace.FileRef) {
	report, err := e.workspaces.Prepare(ctx, r.req.SessionID, refs)
	if err != nil {
		r.logger.Error("prepare workspace failed", "error", err)
	}
	if report == nil {
		return
	}

	for _, o := range report.Outcomes {
		e.metrics.Link(string(o.Kind))
		r.result.Attachments = append(r.result.Attachments, AttachmentStatus{
			FileID: o.FileID,
			Name:   o.Name,
			Kind:   o.Kind,
		})
	}
	e.events.Publish(events.ExecutionPrepared, events.Execution{
		SessionID: r.req.SessionID,
		Prepared:  len(report.Prepared()),
		Failed:    len(report.Failed()),
		Skipped:   len(report.Skipped()),
	})
}

func (e *Executor) execute(ctx context.Context, code string, timeout time.Duration) (*kernel.Output, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	out, err := e.engine.Execute(ctx, code)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("engine returned no output")
	}
	return out, nil
}

func (e *Executor) collect(ctx context.Context, r *run, capture *outputs.Capture) {
	records, err := capture.Finish(ctx)
	if err != nil {
		r.logger.Error("scan workspace for outputs failed", "error", err)
		return
	}
	if len(records) == 0 {
		return
	}
	if e.registrar == nil {
		r.logger.Info("outputs detected but no catalog configured", "count", len(records))
		return
	}

	for _, rec := range records {
		id, err := e.registrar.RegisterOutput(ctx, outputs.Artifact{
			SessionID: r.req.SessionID,
			UserID:    r.req.UserID,
			Record:    rec,
		})
		if err != nil {
			r.logger.Error("register output failed", "name", rec.Name, "error", err)
			continue
		}
		r.result.Files = append(r.result.Files, GeneratedFile{
			ID:     id,
			Name:   rec.Name,
			URL:    FileURL(id),
			Size:   rec.Size,
			Format: rec.Format,
		})
	}

	e.metrics.OutputsRegistered(len(r.result.Files))
	if len(r.result.Files) > 0 {
		e.events.Publish(events.OutputsRegistered, events.Execution{
			SessionID: r.req.SessionID,
			Outputs:   len(r.result.Files),
		})
	}
}

func (e *Executor) finish(r *run) {
	r.enter(StageDone)
	r.result.Duration = e.now().Sub(r.started)
	e.metrics.Execution("done", r.result.Duration)
	e.events.Publish(events.ExecutionCompleted, events.Execution{
		SessionID:  r.req.SessionID,
		Outputs:    len(r.result.Files),
		DurationMS: r.result.Duration.Milliseconds(),
	})
	r.logger.Info("execution completed",
		"status", r.result.Status,
		"outputs", len(r.result.Files),
		"duration", r.result.Duration,
	)
}

// fail ends the run at stage. Remote errors are classified and their text is
// mapped back to virtual paths.
func (e *Executor) fail(r *run, stage Stage, err error, reverse []*pathmap.Translator) error {
	outcome := "failed"
	if stage == StageExecutingRemote {
		msg := toVirtual(err.Error(), reverse)
		if errors.Is(err, kernel.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
			err = fmt.Errorf("%w: %w", ErrRemoteTimeout, &remoteError{msg: msg, err: err})
		} else {
			err = fmt.Errorf("%w: %w", ErrRemoteExecution, &remoteError{msg: msg, err: err})
		}
	}

	stageErr := &StageError{Stage: stage, Err: err}
	r.enter(StageFailed)
	r.result.Duration = e.now().Sub(r.started)

	e.metrics.Execution(outcome, r.result.Duration)
	e.events.Publish(events.ExecutionFailed, events.Execution{
		SessionID:  r.req.SessionID,
		Stage:      string(stage),
		DurationMS: r.result.Duration.Milliseconds(),
		Error:      stageErr.Error(),
	})
	r.logger.Error("execution failed", "stage", stage, "error", stageErr.Err)
	return stageErr
}

// remoteError reports an engine error in virtual paths and still unwraps to it.
type remoteError struct {
	msg string
	err error
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.err }

func toVirtual(text string, translators []*pathmap.Translator) string {
	for _, t := range translators {
		text = t.ToVirtual(text)
	}
	return text
}
