// Package server builds the application's dependencies from configuration
// and runs the HTTP service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/JakeFAU/omnicrawler/internal/api"
	"github.com/JakeFAU/omnicrawler/internal/clock/system"
	"github.com/JakeFAU/omnicrawler/internal/config"
	"github.com/JakeFAU/omnicrawler/internal/crawler"
	"github.com/JakeFAU/omnicrawler/internal/dispatcher"
	"github.com/JakeFAU/omnicrawler/internal/id/uuid"
	"github.com/JakeFAU/omnicrawler/internal/logging"
	gcppublisher "github.com/JakeFAU/omnicrawler/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/omnicrawler/internal/queue/memory"
	"github.com/JakeFAU/omnicrawler/internal/service"
	gcsstorage "github.com/JakeFAU/omnicrawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/omnicrawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/omnicrawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/omnicrawler/internal/storage/postgres"
	"github.com/JakeFAU/omnicrawler/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	store        crawler.StoreGateway
	pgStore      *pgstore.RecordStore
	archive      crawler.BlobStore
	gcsClient    *storage.Client
	pubsubClient *pubsub.Client
	pubsubPub    *gcppublisher.Publisher
	publisher    crawler.Publisher
	service      *service.Service
	queue        *queueMemory.Queue
	dispatch     *dispatcher.Dispatcher
	apiServer    *api.Server
}

// Build creates the application's dependencies. On error, anything already
// opened is closed before returning.
func Build(ctx context.Context, cfg config.Config) (app *App, err error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	app = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure()
		}
	}()

	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("archive_backend", cfg.Archive.Backend),
		zap.Bool("postgres", cfg.DB.DSN != ""),
		zap.Bool("pubsub", cfg.PubSub.TopicName != ""),
	)

	if err = app.setupStore(ctx); err != nil {
		return nil, err
	}
	if err = app.setupArchive(ctx); err != nil {
		return nil, err
	}
	if err = app.setupPublisher(ctx); err != nil {
		return nil, err
	}

	clock := system.New()
	app.service, err = service.New(service.Options{
		Store:         app.store,
		Archive:       app.archive,
		ArchivePrefix: app.workerArchivePrefix(),
		Publisher:     app.publisher,
		Templates:     cfg.SeedTemplates(),
		UserAgent:     cfg.Fetch.UserAgent,
		HostRPS:       cfg.Fetch.HostRPS,
		HostBurst:     cfg.Fetch.HostBurst,
		MaxBodySize:   cfg.Fetch.MaxBodyBytes,
		Clock:         clock,
		Logger:        logger.Named("service"),
	})
	if err != nil {
		return nil, fmt.Errorf("service init failed: %w", err)
	}

	app.queue = queueMemory.NewQueue(cfg.Queue.Depth)
	app.dispatch = dispatcher.New(app.queue, app.service, cfg.Queue.Consumers, logger.Named("dispatcher"))
	app.apiServer = api.NewServer(api.Options{
		Store:    app.store,
		Queue:    app.dispatch,
		IDGen:    uuid.New(),
		Clock:    clock,
		Defaults: cfg.CrawlDefaults(),
		Logger:   logger.Named("api"),
		APIKey:   cfg.Server.APIKey,
	})
	return app, nil
}

func (a *App) setupStore(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no database DSN configured, using in-memory record store")
		a.store = memoryStorage.NewRecordStore(nil)
		return nil
	}
	store, err := pgstore.NewRecordStore(ctx, pgstore.RecordStoreConfig{
		DSN:             a.cfg.DB.DSN,
		RawTable:        a.cfg.DB.RawTable,
		FeaturesTable:   a.cfg.DB.FeaturesTable,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("record store init failed: %w", err)
	}
	a.pgStore = store
	a.store = store
	if a.cfg.DB.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	a.logger.Info("postgres record store initialized",
		zap.String("raw_table", a.cfg.DB.RawTable),
		zap.String("features_table", a.cfg.DB.FeaturesTable),
	)
	return nil
}

func (a *App) setupArchive(ctx context.Context) error {
	switch a.cfg.Archive.Backend {
	case config.ArchiveGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: a.cfg.Archive.GCSBucket,
			Prefix: a.cfg.Archive.Prefix,
		})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.archive = blobs
		a.logger.Info("using GCS snapshot archive", zap.String("bucket", a.cfg.Archive.GCSBucket))
	case config.ArchiveLocal:
		blobs, err := localstorage.New(a.cfg.Archive.Local)
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.archive = blobs
		a.logger.Info("using local snapshot archive", zap.String("path", a.cfg.Archive.Local.BaseDir))
	case config.ArchiveMemory:
		a.archive = memoryStorage.NewBlobStore()
		a.logger.Info("using in-memory snapshot archive")
	default:
		a.logger.Info("snapshot archive disabled")
	}
	return nil
}

// workerArchivePrefix returns the key prefix the worker prepends to snapshot
// paths. The GCS store applies the prefix itself.
func (a *App) workerArchivePrefix() string {
	if a.cfg.Archive.Backend == config.ArchiveGCS {
		return ""
	}
	return a.cfg.Archive.Prefix
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub topic configured, change notifications disabled")
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubPub = gcppublisher.New(client.Topic(a.cfg.PubSub.TopicName))
	a.publisher = a.pubsubPub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Handler exposes the HTTP handler tree.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// RunCrawl executes one crawl synchronously, bypassing the queue.
func (a *App) RunCrawl(ctx context.Context, seed crawler.SeedDescriptor) (worker.Summary, error) {
	summary, err := a.service.Run(ctx, seed)
	if err != nil {
		return summary, fmt.Errorf("run crawl: %w", err)
	}
	return summary, nil
}

// Run listens on the configured port and blocks until the context is
// canceled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := net.JoinHostPort("", strconv.Itoa(a.cfg.Server.Port))
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the dispatcher and the HTTP server on ln until ctx is done,
// then shuts everything down. Jobs accepted before shutdown are drained
// until the shutdown timeout, after which in-flight crawls are canceled.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The dispatcher outlives ctx so the queue can drain after it is closed.
	dispatchCtx, stopDispatch := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDispatch()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("consumers", a.cfg.Queue.Consumers))
		a.dispatch.Run(dispatchCtx)
	}()

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			cancel()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	a.logger.Info("draining queued jobs", zap.Int("pending", a.queue.Len()))
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("queue not drained before shutdown timeout, canceling in-flight jobs",
			zap.Int("pending", a.queue.Len()))
		stopDispatch()
		<-dispatchDone
	}

	a.Close()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases clients and flushes the logger. It is safe to call more
// than once.
func (a *App) Close() {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

func (a *App) closeInfrastructure() {
	if a.pubsubPub != nil {
		a.pubsubPub.Stop()
		a.pubsubPub = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.gcsClient = nil
	}
	if a.pgStore != nil {
		a.pgStore.Close()
		a.pgStore = nil
	}
}
