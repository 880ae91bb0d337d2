package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/upb/market-routes/config"
	"github.com/upb/market-routes/repositories"
	"github.com/upb/market-routes/repositories/postgres"
	"github.com/upb/market-routes/services/audit"
	"github.com/upb/market-routes/services/markets"
	"github.com/upb/market-routes/services/providers"
	"github.com/upb/market-routes/services/providers/google"
	"github.com/upb/market-routes/services/providers/graphhopper"
	"github.com/upb/market-routes/services/providers/here"
	"github.com/upb/market-routes/services/providers/mapbox"
	"github.com/upb/market-routes/services/providers/openrouteservice"
	"github.com/upb/market-routes/services/providers/osrm"
	"github.com/upb/market-routes/services/providers/tomtom"
	"github.com/upb/market-routes/services/providers/valhalla"
	"github.com/upb/market-routes/services/routing"
	"go.uber.org/zap"
)

const pruneInterval = time.Hour

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config     *config.Config
	DB         *postgres.DB
	Logger     *zap.Logger
	HTTPClient *http.Client

	// Repository Factory, nil when the database is disabled
	RepoFactory *postgres.RepositoryFactory
	Resolutions repositories.ResolutionRepository

	// Resolution log writer, nil when the database is disabled
	AuditService *audit.Service

	// Routing
	Registry  *providers.Registry
	Resolver  *routing.Resolver
	Cache     *routing.CachedResolver
	Scheduler *routing.Scheduler
	Ranker    *markets.Ranker

	stopPrune context.CancelFunc
	pruneDone sync.WaitGroup
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	var factory *postgres.RepositoryFactory
	if cfg.Database.Enabled {
		var err error
		factory, err = postgres.NewRepositoryFactory(cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
	}

	deps, err := NewDependenciesWithFactory(ctx, cfg, factory, logger)
	if err != nil && factory != nil {
		_ = factory.Close()
	}
	return deps, err
}

// NewDependenciesWithFactory wires everything over an already opened
// repository factory; a nil factory disables the resolution log.
func NewDependenciesWithFactory(ctx context.Context, cfg *config.Config, factory *postgres.RepositoryFactory, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:     cfg,
		Logger:     logger,
		HTTPClient: &http.Client{},
	}

	if factory != nil {
		if err := deps.initDatabase(ctx, factory); err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
	} else {
		logger.Warn("database not configured, resolution log disabled")
	}

	if err := deps.initProviders(cfg); err != nil {
		deps.shutdownAudit()
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	deps.initRouting(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.Strings("providers", deps.Registry.ListProviders()),
		zap.Bool("resolution_log", deps.AuditService != nil),
		zap.Bool("route_cache", deps.Cache != nil),
	)
	return deps, nil
}

// initDatabase prepares the schema and starts the resolution log writer
func (d *Dependencies) initDatabase(ctx context.Context, factory *postgres.RepositoryFactory) error {
	if err := factory.InitSchema(ctx); err != nil {
		return err
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()
	d.Resolutions = factory.NewRepositories().Resolutions

	logCfg := d.Config.ResolutionLog
	d.AuditService = audit.NewService(d.Resolutions, d.Logger, audit.Config{
		BufferSize:   logCfg.BufferSize,
		WorkerCount:  logCfg.WorkerCount,
		WriteTimeout: logCfg.WriteTimeout,
	})
	if err := d.AuditService.Start(); err != nil {
		return fmt.Errorf("failed to start resolution log: %w", err)
	}

	if logCfg.Retention > 0 {
		d.startPruning(logCfg.Retention)
	}

	d.Logger.Info("database connection established",
		zap.String("connection", d.Config.Database.LogString()))
	return nil
}

// providerBuilders maps adapter names to their constructors
func providerBuilders() map[string]providers.ProviderBuilder {
	return map[string]providers.ProviderBuilder{
		"google": func(c providers.ProviderConfig) (providers.Provider, error) {
			return google.NewGoogleAdapter(c)
		},
		"mapbox": func(c providers.ProviderConfig) (providers.Provider, error) {
			return mapbox.NewMapboxAdapter(c)
		},
		"here": func(c providers.ProviderConfig) (providers.Provider, error) {
			return here.NewHereAdapter(c)
		},
		"tomtom": func(c providers.ProviderConfig) (providers.Provider, error) {
			return tomtom.NewTomTomAdapter(c)
		},
		"openrouteservice": func(c providers.ProviderConfig) (providers.Provider, error) {
			return openrouteservice.NewORSAdapter(c)
		},
		"graphhopper": func(c providers.ProviderConfig) (providers.Provider, error) {
			return graphhopper.NewGraphHopperAdapter(c)
		},
		"valhalla": func(c providers.ProviderConfig) (providers.Provider, error) {
			return valhalla.NewValhallaAdapter(c), nil
		},
		"osrm": func(c providers.ProviderConfig) (providers.Provider, error) {
			return osrm.NewOSRMAdapter(c), nil
		},
	}
}

// initProviders builds the registry from the enabled adapters
func (d *Dependencies) initProviders(cfg *config.Config) error {
	overrides, err := providers.ParseTiers(cfg.Providers.Tiers)
	if err != nil {
		return err
	}
	tiers := providers.DefaultTiers().Merge(overrides)

	configs := make(map[string]providers.ProviderConfig)
	for name, settings := range cfg.Providers.EnabledProviders() {
		pc := providers.DefaultProviderConfig()
		pc.APIKey = settings.APIKey
		pc.BaseURL = settings.BaseURL
		pc.Timeout = settings.Timeout
		pc.HTTPClient = d.HTTPClient
		configs[name] = pc
	}

	builders := providerBuilders()
	builder := providers.NewRegistryBuilder()
	for _, name := range config.ProviderNames() {
		builder.WithProviderBuilder(name, builders[name])
	}

	registry, err := builder.Build(configs, tiers)
	if err != nil {
		return err
	}

	if lowest := registry.MinTier(); lowest > 0 && cfg.Fallback.Tier >= lowest {
		return fmt.Errorf("fallback tier %d must be below every provider tier (lowest is %d)", cfg.Fallback.Tier, lowest)
	}

	if registry.GetProviderCount() == 0 {
		d.Logger.Warn("no routing providers enabled, every route will be estimated")
	}
	for _, desc := range registry.Descriptors() {
		d.Logger.Info("provider registered",
			zap.String("provider", desc.Name()),
			zap.Int("tier", desc.Tier),
			zap.Duration("timeout", desc.Timeout))
	}

	d.Registry = registry
	return nil
}

// initRouting builds the resolver chain, batch scheduler and ranker
func (d *Dependencies) initRouting(cfg *config.Config) {
	var opts []routing.ResolverOption
	if d.AuditService != nil {
		opts = append(opts, routing.WithRecorder(d.AuditService))
	}

	estimator := routing.NewEstimator(cfg.Fallback.SpeedKmh, cfg.Fallback.DetourFactor)
	d.Resolver = routing.NewResolver(d.Registry.Descriptors(), estimator, cfg.Fallback.Tier, d.Logger, opts...)

	var resolver routing.RouteResolver = d.Resolver
	if cfg.Cache.Enabled {
		d.Cache = routing.NewCachedResolver(d.Resolver, cfg.Cache.MaxSize, cfg.Cache.TTL, cfg.Cache.Precision, nil)
		resolver = d.Cache
	}

	d.Scheduler = routing.NewScheduler(resolver, routing.SystemClock{}, d.Logger, cfg.Batch.ChunkSize, cfg.Batch.InterChunkDelay)
	d.Ranker = markets.NewRanker(d.Scheduler, d.Logger)
}

// RouteResolver returns the outermost resolver, cached when the cache is on
func (d *Dependencies) RouteResolver() routing.RouteResolver {
	if d.Cache != nil {
		return d.Cache
	}
	return d.Resolver
}

func (d *Dependencies) startPruning(retention time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	d.stopPrune = cancel
	d.pruneDone.Add(1)

	go func() {
		defer d.pruneDone.Done()
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deleted, err := d.AuditService.Prune(ctx, retention)
				if err != nil {
					d.Logger.Warn("failed to prune resolution log", zap.Error(err))
					continue
				}
				d.Logger.Info("pruned resolution log", zap.Int64("deleted", deleted))
			}
		}
	}()
}

func (d *Dependencies) shutdownAudit() {
	if d.stopPrune != nil {
		d.stopPrune()
		d.pruneDone.Wait()
		d.stopPrune = nil
	}
	if d.AuditService != nil {
		if err := d.AuditService.Stop(10 * time.Second); err != nil {
			d.Logger.Warn("resolution log did not drain", zap.Error(err))
		}
	}
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Drain pending resolution log entries before the pool goes away
	d.shutdownAudit()

	// Close database connection
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.HTTPClient != nil {
		d.HTTPClient.CloseIdleConnections()
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
