// Package doctor validates mntdata configuration and the environment it
// runs in: data directory, link support, gateway reachability.
package doctor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/mattjoyce/mntdata/internal/config"
	"github.com/mattjoyce/mntdata/internal/lock"
	"github.com/mattjoyce/mntdata/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Pinger checks that the execution gateway answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Doctor validates configuration and environment.
type Doctor struct {
	cfg      *config.Config
	pinger   Pinger
	detectFS func(path string) (bool, string, error)
	symlink  func(oldname, newname string) error
}

// Option configures a Doctor.
type Option func(*Doctor)

// WithPinger enables the gateway reachability check.
func WithPinger(p Pinger) Option { return func(d *Doctor) { d.pinger = p } }

// WithFilesystemDetector replaces the filesystem link check.
func WithFilesystemDetector(fn func(path string) (bool, string, error)) Option {
	return func(d *Doctor) { d.detectFS = fn }
}

// New creates a Doctor for a loaded config.
func New(cfg *config.Config, opts ...Option) *Doctor {
	d := &Doctor{cfg: cfg, detectFS: storage.LinksUnreliable, symlink: os.Symlink}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate(ctx context.Context) *Result {
	r := &Result{Valid: true}

	d.validateServiceConfig(r)
	if d.validateDataDir(r) {
		d.checkSymlinks(r)
		d.checkFilesystem(r)
		d.checkInstanceLock(r)
	}
	d.validateWorkspaceConfig(r)
	d.validateOutputs(r)
	d.validateGateway(ctx, r)
	d.validateAPIConfig(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateServiceConfig checks required service fields.
func (d *Doctor) validateServiceConfig(r *Result) {
	switch d.cfg.Service.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		d.addError(r, "service", "service.log_level",
			fmt.Sprintf("unknown log level %q", d.cfg.Service.LogLevel))
	}
	switch d.cfg.Service.LogFormat {
	case "", "json", "text":
	default:
		d.addError(r, "service", "service.log_format",
			fmt.Sprintf("unknown log format %q", d.cfg.Service.LogFormat))
	}
	if d.cfg.Catalog.Path == "" {
		d.addError(r, "catalog", "catalog.path", "catalog.path is required")
	}
}

// validateDataDir checks that the data directory exists or can be created
// and is writable. The filesystem checks only run when it is.
func (d *Doctor) validateDataDir(r *Result) bool {
	dir := d.cfg.Workspace.DataDir
	if dir == "" {
		d.addError(r, "workspace", "workspace.data_dir", "workspace.data_dir is required")
		return false
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		d.addError(r, "workspace", "workspace.data_dir", fmt.Sprintf("cannot create data dir: %v", err))
		return false
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		d.addError(r, "workspace", "workspace.data_dir", fmt.Sprintf("data dir is not writable: %v", err))
		return false
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return true
}

// checkSymlinks verifies that relative symlinks work inside the data dir.
func (d *Doctor) checkSymlinks(r *Result) {
	scratch, err := os.MkdirTemp(d.cfg.Workspace.DataDir, ".doctor-link-*")
	if err != nil {
		d.addWarning(r, "workspace", "workspace.data_dir", fmt.Sprintf("symlink check skipped: %v", err))
		return
	}
	defer os.RemoveAll(scratch)

	if err := os.WriteFile(filepath.Join(scratch, "source"), []byte("link check"), 0o644); err != nil {
		d.addWarning(r, "workspace", "workspace.data_dir", fmt.Sprintf("symlink check skipped: %v", err))
		return
	}
	link := filepath.Join(scratch, "link")
	if err := d.symlink("source", link); err != nil {
		d.symlinkUnavailable(r, err)
		return
	}
	if b, err := os.ReadFile(link); err != nil || string(b) != "link check" {
		if err == nil {
			err = errors.New("link content mismatch")
		}
		d.symlinkUnavailable(r, err)
	}
}

func (d *Doctor) symlinkUnavailable(r *Result, err error) {
	msg := fmt.Sprintf("symlinks do not work in the data dir (%v); attachments will be copied", err)
	if d.cfg.Workspace.LinkMode == config.LinkModeSymlink {
		msg += "; consider link_mode: copy"
	}
	d.addWarning(r, "workspace", "workspace.link_mode", msg)
}

// checkFilesystem warns when the data dir filesystem cannot hold reliable
// symlinks.
func (d *Doctor) checkFilesystem(r *Result) {
	preferCopy, fsType, err := d.detectFS(d.cfg.Workspace.DataDir)
	if err != nil {
		d.addWarning(r, "workspace", "workspace.data_dir", fmt.Sprintf("filesystem detection failed: %v", err))
		return
	}
	if preferCopy {
		d.addWarning(r, "workspace", "workspace.data_dir",
			fmt.Sprintf("data dir filesystem (%s) cannot hold reliable links; attachments will be copied instead of linked", fsType))
	}
}

// checkInstanceLock reports a running server holding the data dir.
func (d *Doctor) checkInstanceLock(r *Result) {
	path := d.cfg.LockPath()
	if _, err := os.Stat(path); err != nil {
		return
	}
	l, err := lock.AcquirePIDLock(path)
	if errors.Is(err, lock.ErrLocked) {
		msg := "a server is running on this data dir"
		if pid, perr := lock.HolderPID(path); perr == nil {
			msg = fmt.Sprintf("a server is running on this data dir (pid %d)", pid)
		}
		d.addWarning(r, "service", "", msg)
		return
	}
	if err != nil {
		d.addWarning(r, "service", "", fmt.Sprintf("cannot inspect instance lock: %v", err))
		return
	}
	_ = l.Release()
}

// validateWorkspaceConfig checks the mount and link settings.
func (d *Doctor) validateWorkspaceConfig(r *Result) {
	ws := d.cfg.Workspace
	if !strings.HasPrefix(ws.VirtualPrefix, "/") || ws.VirtualPrefix == "/" {
		d.addError(r, "workspace", "workspace.virtual_prefix",
			fmt.Sprintf("virtual_prefix must be an absolute path below / (got %q)", ws.VirtualPrefix))
	}
	switch ws.LinkMode {
	case config.LinkModeAuto, config.LinkModeSymlink, config.LinkModeCopy:
	default:
		d.addError(r, "workspace", "workspace.link_mode", fmt.Sprintf("unknown link mode %q", ws.LinkMode))
	}
	if ws.EngineDataDir != "" && !filepath.IsAbs(ws.EngineDataDir) {
		d.addError(r, "workspace", "workspace.engine_data_dir",
			fmt.Sprintf("engine_data_dir must be absolute (got %q)", ws.EngineDataDir))
	}
	if ws.Retention > 0 && ws.Retention < time.Hour {
		d.addWarning(r, "workspace", "workspace.retention",
			fmt.Sprintf("retention %s is very short; prune may remove active sessions", ws.Retention))
	}
}

// validateOutputs checks the output capture policy.
func (d *Doctor) validateOutputs(r *Result) {
	if len(d.cfg.Outputs.Formats) == 0 {
		d.addError(r, "outputs", "outputs.formats", "at least one output format is required")
	}
	for i, f := range d.cfg.Outputs.Formats {
		if strings.ContainsAny(f, `/\*`) {
			d.addError(r, "outputs", fmt.Sprintf("outputs.formats[%d]", i),
				fmt.Sprintf("format %q must be a bare extension", f))
		}
	}
	for i, pattern := range d.cfg.Outputs.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			d.addError(r, "outputs", fmt.Sprintf("outputs.exclude[%d]", i),
				fmt.Sprintf("invalid glob %q", pattern))
		}
	}
}

// validateGateway checks the gateway settings and, with a Pinger, that it
// answers.
func (d *Doctor) validateGateway(ctx context.Context, r *Result) {
	gw := d.cfg.Gateway
	if gw.Timeout <= 0 {
		d.addError(r, "gateway", "gateway.timeout", "timeout must be positive")
	}
	if gw.ReadyTimeout > 0 && gw.Timeout > 0 && gw.ReadyTimeout >= gw.Timeout {
		d.addWarning(r, "gateway", "gateway.ready_timeout",
			"ready_timeout is not shorter than timeout; kernel startup can consume the whole budget")
	}
	if gw.Token == "" {
		d.addWarning(r, "gateway", "gateway.token", "no gateway token configured")
	}
	if d.pinger == nil {
		return
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := d.pinger.Ping(pingCtx); err != nil {
		d.addError(r, "gateway", "gateway.url", fmt.Sprintf("gateway %s unreachable: %v", gw.URL, err))
	}
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if d.cfg.API.Auth.APIKey == "" {
		d.addError(r, "api", "api.auth.api_key", "API enabled but no api_key configured; every request would be rejected")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
