package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mattjoyce/mntdata/internal/attach"
	"github.com/mattjoyce/mntdata/internal/catalog"
	"github.com/mattjoyce/mntdata/internal/config"
	"github.com/mattjoyce/mntdata/internal/events"
	"github.com/mattjoyce/mntdata/internal/interpreter"
	"github.com/mattjoyce/mntdata/internal/kernel"
	"github.com/mattjoyce/mntdata/internal/log"
	"github.com/mattjoyce/mntdata/internal/metrics"
	"github.com/mattjoyce/mntdata/internal/outputs"
	"github.com/mattjoyce/mntdata/internal/storage"
	"github.com/mattjoyce/mntdata/internal/workspace"
)

// stack is every component wired from one config.
type stack struct {
	cfg      *config.Config
	db       *sql.DB
	catalog  *catalog.Catalog
	ws       *workspace.FSManager
	kernel   *kernel.Client
	resolver *attach.CatalogResolver
	hub      *events.Hub
	registry *prometheus.Registry
	recorder *metrics.Recorder
	exec     *interpreter.Executor
	logger   *slog.Logger
}

func openStack(ctx context.Context, cfg *config.Config) (*stack, error) {
	logger := log.WithComponent("main")

	db, err := storage.OpenSQLite(ctx, cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", cfg.Catalog.Path, err)
	}
	s := &stack{cfg: cfg, db: db, logger: logger}

	preferCopy, fsType, err := storage.LinksUnreliable(cfg.Workspace.DataDir)
	if err != nil {
		logger.Warn("filesystem detection failed", "data_dir", cfg.Workspace.DataDir, "error", err)
	}
	if preferCopy {
		logger.Info("data dir filesystem cannot hold reliable links, preferring copies", "fs_type", fsType)
	}

	s.ws, err = workspace.NewFSManager(cfg.Workspace.DataDir,
		workspace.WithEngineDataDir(cfg.EngineDataDir()),
		workspace.WithLinkMode(cfg.Workspace.LinkMode),
		workspace.WithPreferCopy(preferCopy),
		workspace.WithLogger(log.WithComponent("workspace")),
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("workspace manager: %w", err)
	}

	s.kernel, err = kernel.New(kernel.Config{
		URL:          cfg.Gateway.URL,
		Token:        cfg.Gateway.Token,
		KernelName:   cfg.Gateway.KernelName,
		Username:     cfg.Gateway.Username,
		Timeout:      cfg.Gateway.Timeout,
		ReadyTimeout: cfg.Gateway.ReadyTimeout,
		InitCode:     cfg.Gateway.InitCode,
	}, kernel.WithLogger(log.WithComponent("kernel")))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("gateway client: %w", err)
	}

	s.registry = prometheus.NewRegistry()
	s.recorder, err = metrics.New(s.registry)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("metrics: %w", err)
	}

	s.catalog = catalog.New(db)
	s.resolver = attach.NewCatalogResolver(s.catalog, log.WithComponent("attach"))
	s.hub = events.NewHub(256)

	policy := outputs.Policy{
		Formats:        cfg.Outputs.Formats,
		FormatKeywords: cfg.Outputs.FormatKeywords,
		IntentKeywords: cfg.Outputs.IntentKeywords,
		Exclude:        cfg.Outputs.Exclude,
	}.WithDefaults()

	s.exec = interpreter.New(s.kernel, s.ws,
		interpreter.WithResolver(s.resolver),
		interpreter.WithRegistrar(s.catalog),
		interpreter.WithTracker(outputs.NewTracker(policy, log.WithComponent("outputs"))),
		interpreter.WithVirtualPrefix(cfg.Workspace.VirtualPrefix),
		interpreter.WithEvents(s.hub),
		interpreter.WithMetrics(s.recorder),
		interpreter.WithLogger(log.WithComponent("interpreter")),
	)
	return s, nil
}

func (s *stack) Close() error {
	return s.db.Close()
}
