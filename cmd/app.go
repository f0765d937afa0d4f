package cmd

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/rxtrust/rxtrust-api/agents"
	"github.com/rxtrust/rxtrust-api/audit"
	"github.com/rxtrust/rxtrust-api/config"
	"github.com/rxtrust/rxtrust-api/localstore"
	"github.com/rxtrust/rxtrust-api/logging"
	"github.com/rxtrust/rxtrust-api/observability"
	"github.com/rxtrust/rxtrust-api/registry"
	"github.com/rxtrust/rxtrust-api/search"
	"github.com/rxtrust/rxtrust-api/telemetry"
)

// app holds everything a command needs to run audits.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     *localstore.Store
	registry  *registry.Registry
	telemetry *telemetry.Client
	recorder  *observability.Recorder
	service   *audit.Service
}

func buildApp(opts *rootOptions) (*app, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(opts.verbose)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	a.store, err = localstore.Open(cfg.Storage.DatabasePath, localstore.Options{
		TTL:           cfg.Cache.TTL,
		MemoryEntries: cfg.Storage.MemoryEntries,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	a.registry, err = registry.Load(cfg.Registry.DatasetPath, logger)
	if err != nil {
		return nil, err
	}

	a.telemetry, err = telemetry.New(telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		APIKey:         cfg.Telemetry.PosthogKey,
		Endpoint:       cfg.Telemetry.Endpoint,
		InstanceIDPath: cfg.Telemetry.InstanceIDPath,
	}, logger)
	if err != nil {
		return nil, err
	}

	serviceOpts := []audit.Option{audit.WithLogger(logger)}
	if cfg.AuditLog.Enabled {
		a.recorder = observability.NewRecorder(a.store, a.telemetry, observability.Config{
			BatchSize:     cfg.AuditLog.BatchSize,
			BatchInterval: cfg.AuditLog.BatchInterval,
		}, logger)
		serviceOpts = append(serviceOpts, audit.WithRecorder(a.recorder))
	}

	a.service = audit.NewService(
		agents.NewInvestigator(search.NewStubClient(), a.registry),
		agents.HeuristicReasoner{},
		agents.NewGuardian(nil),
		a.store,
		serviceOpts...,
	)
	ok = true
	return a, nil
}

// openStore is the lighter setup used by the cache maintenance commands.
func openStore(opts *rootOptions) (*localstore.Store, *zap.Logger, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(opts.verbose)
	if err != nil {
		return nil, nil, err
	}
	store, err := localstore.Open(cfg.Storage.DatabasePath, localstore.Options{
		TTL:           cfg.Cache.TTL,
		MemoryEntries: -1,
		Logger:        logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open local store: %w", err)
	}
	return store, logger, nil
}

// Close flushes the audit trail before closing the store it writes to.
func (a *app) Close() {
	if a.recorder != nil {
		a.recorder.Shutdown()
	}
	if a.telemetry != nil {
		if err := a.telemetry.Close(); err != nil {
			a.logger.Warn("Telemetry: close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("Localstore: close failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
