package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/liamcoop/businessrules/catalog"
	"github.com/liamcoop/businessrules/internal/config"
	"github.com/liamcoop/businessrules/internal/logger"
	"github.com/liamcoop/businessrules/migrations"
	"github.com/liamcoop/businessrules/remote"
	"github.com/liamcoop/businessrules/rules"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// app owns the long-lived dependencies behind the HTTP server.
type app struct {
	server   *Server
	registry *catalog.Registry
	closers  []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}

	loader, err := catalog.NewLoader(cfg.Catalog.Directory, logger.Logger)
	if err != nil {
		return nil, err
	}
	a.registry, err = catalog.NewRegistry(ctx, loader)
	if err != nil {
		return nil, fmt.Errorf("failed to load template catalog: %w", err)
	}
	logger.Info("template catalog loaded", "directory", cfg.Catalog.Directory,
		"template_groups", a.registry.Current().Len())

	store, err := a.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client, err := remote.New(remote.Config{
		URL:        cfg.Remote.URL,
		Username:   cfg.Remote.Username,
		Password:   cfg.Remote.Password,
		Timeout:    cfg.Remote.Timeout,
		MaxRetries: cfg.Remote.MaxRetries,
	}, remote.WithLogger(logger.Logger))
	if err != nil {
		a.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	reg.MustRegister(logger.Collectors()...)
	metrics, err := rules.NewMetrics(reg)
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := []rules.ManagerOption{
		rules.WithLogger(logger.Logger),
		rules.WithMetrics(metrics),
		rules.WithParallelism(cfg.Deploy.Parallelism),
		rules.WithStrict(cfg.Deploy.StrictPlaceholders),
		rules.WithCacheConfig(rules.CacheConfig{TTL: cfg.Deploy.CacheTTL}),
	}
	if cfg.Catalog.SkeletonFile != "" {
		opts = append(opts, rules.WithSkeleton(rules.FileSkeleton{Path: cfg.Catalog.SkeletonFile}))
	}
	manager := rules.NewManager(a.registry, store, client, opts...)

	a.server = NewServerWithManager(manager, a.registry, store,
		WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		WithRequestTimeout(cfg.Server.RequestTimeout),
	)
	return a, nil
}

// openStore selects the definition store for the configured driver,
// migrating SQL databases first when enabled.
func (a *app) openStore(ctx context.Context, cfg *config.Config) (rules.DefinitionStore, error) {
	driver := cfg.Database.Driver

	switch driver {
	case config.DriverMemory:
		logger.Warn("using in-memory store, business rules will not survive a restart")
		return rules.NewInMemoryStore(), nil

	case config.DriverPostgres, config.DriverSQLite:
		if cfg.Database.MigrateOnStart {
			logger.Info("running database migrations", "driver", driver)
			if err := migrations.Up(driver, cfg.Database.URL); err != nil {
				return nil, err
			}
		}

		store, err := rules.OpenSQLStore(ctx, driver, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Close releases the store connection.
func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
