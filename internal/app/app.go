// Package app initializes and holds long-lived application services, acting as
// a dependency injection container for the CLI and the API server.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/vamdc-lines/internal/catalog/cache"
	"github.com/JakeFAU/vamdc-lines/internal/catalog/loader"
	"github.com/JakeFAU/vamdc-lines/internal/catalog/speciesdb"
	"github.com/JakeFAU/vamdc-lines/internal/clock/system"
	"github.com/JakeFAU/vamdc-lines/internal/config"
	"github.com/JakeFAU/vamdc-lines/internal/dispatcher"
	"github.com/JakeFAU/vamdc-lines/internal/engine"
	collyfetcher "github.com/JakeFAU/vamdc-lines/internal/fetcher/colly"
	"github.com/JakeFAU/vamdc-lines/internal/fetcher/tap"
	"github.com/JakeFAU/vamdc-lines/internal/hash/sha256"
	"github.com/JakeFAU/vamdc-lines/internal/id/uuid"
	"github.com/JakeFAU/vamdc-lines/internal/metrics"
	"github.com/JakeFAU/vamdc-lines/internal/policy/ratelimit"
	"github.com/JakeFAU/vamdc-lines/internal/progress"
	"github.com/JakeFAU/vamdc-lines/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/vamdc-lines/internal/publisher/pubsub"
	"github.com/JakeFAU/vamdc-lines/internal/relocate"
	"github.com/JakeFAU/vamdc-lines/internal/splitter"
	"github.com/JakeFAU/vamdc-lines/internal/storage/gcs"
	"github.com/JakeFAU/vamdc-lines/internal/storage/local"
	"github.com/JakeFAU/vamdc-lines/internal/storage/postgres"
	"github.com/JakeFAU/vamdc-lines/internal/vamdc"
	"github.com/JakeFAU/vamdc-lines/internal/worker"
)

// Closer releases one service during shutdown.
type Closer interface {
	Close(ctx context.Context) error
}

type closeFunc func(ctx context.Context) error

func (f closeFunc) Close(ctx context.Context) error { return f(ctx) }

type namedCloser struct {
	name   string
	closer Closer
}

// App holds the shared, long-lived services. It is built once at startup and
// handed to the commands that need it.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Collectors
	hub      *progress.Hub
	cache    *cache.Store
	tables   *loader.Loader
	tap      *tap.Client
	staging  *local.BlobStore

	ledger    vamdc.Ledger
	publisher vamdc.Publisher
	archiver  engine.Archiver

	closers []namedCloser
}

// New initializes every service described by cfg. Optional services (ledger,
// notifications, archive) are only connected when configured. New fails fast
// and releases whatever it already opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	logger.Debug("initializing application services")
	if err := a.init(ctx); err != nil {
		if cerr := a.Close(ctx); cerr != nil {
			logger.Warn("cleanup after failed init", zap.Error(cerr))
		}
		return nil, err
	}
	logger.Debug("application services initialized")
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	if err := a.initMetrics(); err != nil {
		return err
	}
	if err := a.initTables(); err != nil {
		return err
	}
	a.initTap()
	staging, err := local.New(local.Config{BaseDir: a.cfg.Output.StagingDir})
	if err != nil {
		return fmt.Errorf("init staging store: %w", err)
	}
	a.staging = staging
	if err := a.initLedger(ctx); err != nil {
		return err
	}
	if err := a.initPublisher(ctx); err != nil {
		return err
	}
	return a.initArchive(ctx)
}

func (a *App) initMetrics() error {
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	serviceMetrics, err := metrics.New(a.registry)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	a.metrics = serviceMetrics
	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	a.hub = progress.NewHub(
		progress.Config{Logger: a.logger.Named("progress")},
		sinks.NewLogSink(a.logger),
		promSink,
	)
	a.onClose("progress hub", closeFunc(a.hub.Close))
	return nil
}

func (a *App) initTables() error {
	store, err := cache.Open(cache.Config{
		Dir:    filepath.Join(a.cfg.Cache.Dir, "tables"),
		TTL:    a.cfg.Cache.TTL,
		Logger: a.logger.Named("cache"),
	})
	if err != nil {
		return fmt.Errorf("init reference cache: %w", err)
	}
	a.cache = store
	a.onClose("reference cache", closeFunc(func(context.Context) error { return store.Close() }))

	client := speciesdb.New(speciesdb.Config{
		NodesURL:   a.cfg.SpeciesDB.NodesURL,
		SpeciesURL: a.cfg.SpeciesDB.SpeciesURL,
	}, collyfetcher.New(collyfetcher.Config{
		UserAgent: a.cfg.Query.UserAgent,
		Timeout:   a.cfg.SpeciesDB.Timeout,
	}), a.logger.Named("speciesdb"))
	a.tables = loader.New(store, client, a.logger.Named("tables"))
	return nil
}

func (a *App) initTap() {
	q := a.cfg.Query
	limiter := ratelimit.New(ratelimit.Config{
		RPS:   q.NodeRPS,
		Burst: q.NodeBurst,
		OnDelay: func(host string, waited time.Duration) {
			a.metrics.ObserveRateLimitDelay(host, waited)
			a.logger.Debug("rate limited", zap.String("host", host), zap.Duration("waited", waited))
		},
	})
	client := collyfetcher.New(collyfetcher.Config{
		UserAgent:    q.UserAgent,
		Timeout:      q.CallTimeout,
		MaxBodyBytes: q.MaxBodyBytes,
	})
	a.tap = tap.New(tap.Config{UserAgent: q.UserAgent, ProbeTimeout: q.ProbeTimeout},
		client, limiter, a.logger.Named("tap"))
}

func (a *App) initLedger(ctx context.Context) error {
	if a.cfg.Ledger.DSN == "" {
		return nil
	}
	store, err := postgres.NewLedgerStore(ctx, postgres.LedgerStoreConfig{
		DSN:   a.cfg.Ledger.DSN,
		Table: a.cfg.Ledger.Table,
	})
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}
	a.logger.Info("sub-query ledger enabled", zap.String("table", a.cfg.Ledger.Table))
	a.ledger = store
	a.onClose("ledger", closeFunc(func(context.Context) error {
		store.Close()
		return nil
	}))
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if a.cfg.Notify.ProjectID == "" {
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.Notify.ProjectID)
	if err != nil {
		return fmt.Errorf("init pubsub: %w", err)
	}
	pub := pubsubpublisher.New(client)
	a.logger.Info("request notifications enabled", zap.String("topic", a.cfg.Notify.Topic))
	a.publisher = pub
	a.onClose("pubsub", closeFunc(func(context.Context) error {
		pub.Close()
		return client.Close()
	}))
	return nil
}

func (a *App) initArchive(ctx context.Context) error {
	if a.cfg.Archive.GCSBucket == "" {
		return nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("init gcs: %w", err)
	}
	a.onClose("gcs", closeFunc(func(context.Context) error { return client.Close() }))
	store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Archive.GCSBucket})
	if err != nil {
		return fmt.Errorf("init gcs: %w", err)
	}
	a.logger.Info("payload archive enabled", zap.String("bucket", a.cfg.Archive.GCSBucket))
	a.archiver = gcs.NewArchiver(store, a.cfg.Archive.Prefix, a.logger.Named("archive"))
	return nil
}

func (a *App) onClose(name string, c Closer) {
	a.closers = append(a.closers, namedCloser{name: name, closer: c})
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Gatherer exposes the metrics registry.
func (a *App) Gatherer() prometheus.Gatherer {
	return a.registry
}

// Metrics returns the service-level collectors.
func (a *App) Metrics() *metrics.Collectors {
	return a.metrics
}

// Cache returns the reference-table cache.
func (a *App) Cache() *cache.Store {
	return a.cache
}

// Tables returns the snapshot loader.
func (a *App) Tables() *loader.Loader {
	return a.tables
}

// NewEngine builds an engine whose relocated payloads land in xsamsDir, or in
// output.xsams_dir when xsamsDir is empty.
func (a *App) NewEngine(xsamsDir string) (*engine.Engine, error) {
	if xsamsDir == "" {
		xsamsDir = a.cfg.Output.XSAMSDir
	}
	relocator, err := relocate.New(xsamsDir, a.logger.Named("relocate"))
	if err != nil {
		return nil, err
	}
	q := a.cfg.Query
	ids := uuid.New()
	clock := system.New()
	w := worker.New(worker.Deps{
		Fetcher:   a.tap,
		BlobStore: a.staging,
		Ledger:    a.ledger,
		Hasher:    sha256.New(),
		Clock:     clock,
		IDs:       ids,
		Events:    a.hub,
	}, worker.Config{CallTimeout: q.CallTimeout}, a.logger.Named("worker"))

	deps := engine.Deps{
		Prober: a.tap,
		Splitter: splitter.New(splitter.Config{
			MinWidth:    q.MinWidth,
			MaxDepth:    q.MaxDepth,
			Concurrency: q.Concurrency,
		}, a.tap, a.hub, a.logger.Named("splitter")),
		Dispatcher: dispatcher.New(w, q.Concurrency, a.logger.Named("dispatcher")),
		Relocator:  relocator,
		Archiver:   a.archiver,
		Publisher:  a.publisher,
		IDs:        ids,
		Clock:      clock,
		Events:     a.hub,
	}
	return engine.New(deps, engine.Config{
		InspectConcurrency: q.Concurrency,
		Topic:              a.cfg.Notify.Topic,
	}, a.logger.Named("engine"))
}

// Close shuts services down in reverse start order and joins their errors.
func (a *App) Close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.closer.Close(ctx); err != nil {
			a.logger.Warn("error closing service", zap.String("service", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
