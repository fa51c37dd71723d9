// Package app builds the long-lived services a crawl needs from configuration
// and runs one crawl with them.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/family-crawler/internal/api"
	"github.com/JakeFAU/family-crawler/internal/config"
	"github.com/JakeFAU/family-crawler/internal/crawler"
	"github.com/JakeFAU/family-crawler/internal/grouper"
	"github.com/JakeFAU/family-crawler/internal/id/uuid"
	"github.com/JakeFAU/family-crawler/internal/lifecycle"
	"github.com/JakeFAU/family-crawler/internal/listing/fs"
	"github.com/JakeFAU/family-crawler/internal/listing/httpapi"
	"github.com/JakeFAU/family-crawler/internal/logging"
	"github.com/JakeFAU/family-crawler/internal/metrics"
	"github.com/JakeFAU/family-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/family-crawler/internal/progress"
	"github.com/JakeFAU/family-crawler/internal/progress/sinks"
	"github.com/JakeFAU/family-crawler/internal/publisher"
	"github.com/JakeFAU/family-crawler/internal/publisher/kafka"
	queuemem "github.com/JakeFAU/family-crawler/internal/publisher/memory"
	pubsubqueue "github.com/JakeFAU/family-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/family-crawler/internal/storage/gcs"
	"github.com/JakeFAU/family-crawler/internal/storage/local"
	storemem "github.com/JakeFAU/family-crawler/internal/storage/memory"
	"github.com/JakeFAU/family-crawler/internal/storage/postgres"
	"github.com/JakeFAU/family-crawler/internal/storage/redis"
)

// App holds the shared services for one process.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	Listing   crawler.ListingClient
	Grouper   crawler.Grouper
	Queue     crawler.MessageQueue
	Registry  crawler.CrawlRegistry
	Artifacts crawler.BlobStore
	Hub       *progress.Hub

	publishLimiter publisher.Waiter
	closers        []func() error
}

// New creates the App from cfg. It fails fast if any service cannot be
// initialized and releases whatever was already opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{cfg: cfg, logger: logger}

	if err := a.init(ctx); err != nil {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("cleanup after failed init", zap.Error(cerr))
		}
		return nil, err
	}
	logger.Info("application services initialized",
		zap.String("listing", cfg.Listing.Provider),
		zap.String("queue", cfg.Queue.Provider),
		zap.String("registry", cfg.Registry.Provider),
		zap.String("artifacts", cfg.Artifacts.Provider),
	)
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	var err error
	if a.Grouper, err = grouper.New(a.cfg.Crawl.Grouper); err != nil {
		return fmt.Errorf("init grouper: %w", err)
	}
	if a.Listing, err = a.newListing(); err != nil {
		return fmt.Errorf("init listing: %w", err)
	}
	if a.Queue, err = a.newQueue(ctx); err != nil {
		return fmt.Errorf("init queue: %w", err)
	}
	a.closers = append(a.closers, a.Queue.Close)
	if a.Registry, err = a.newRegistry(ctx); err != nil {
		return fmt.Errorf("init registry: %w", err)
	}
	if a.Artifacts, err = a.newArtifacts(ctx); err != nil {
		return fmt.Errorf("init artifacts: %w", err)
	}
	if a.cfg.Crawl.PublishRate > 0 {
		a.publishLimiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   a.cfg.Crawl.PublishRate,
			DefaultBurst: a.cfg.Crawl.PublishBurst,
		})
	}
	a.Hub = progress.NewHub(progress.Config{Logger: a.logger}, sinks.NewLogSink(a.logger.Named("progress")))
	return nil
}

func (a *App) newListing() (crawler.ListingClient, error) {
	switch a.cfg.Listing.Provider {
	case "http":
		hc := a.cfg.Listing.HTTP
		var limiter httpapi.Waiter
		if hc.RateLimit > 0 {
			limiter = ratelimit.New(ratelimit.Config{DefaultRPS: hc.RateLimit, DefaultBurst: hc.Burst})
		}
		client, err := httpapi.New(httpapi.Config{
			BaseURL:    hc.BaseURL,
			EndpointID: a.cfg.Crawl.EndpointID,
			Token:      hc.Token,
			PageSize:   hc.PageSize,
			Timeout:    hc.Timeout,
		}, &http.Client{Timeout: hc.Timeout}, limiter, a.logger.Named("listing"))
		if err != nil {
			return nil, fmt.Errorf("http listing: %w", err)
		}
		return client, nil
	case "fs":
		client, err := fs.New(fs.Config{Root: a.cfg.Listing.FS.Root, MaxEntries: a.cfg.Listing.FS.MaxEntries})
		if err != nil {
			return nil, fmt.Errorf("fs listing: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown listing provider: %s", a.cfg.Listing.Provider)
	}
}

func (a *App) newQueue(ctx context.Context) (crawler.MessageQueue, error) {
	qc := a.cfg.Queue
	switch qc.Provider {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, qc.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		a.logger.Info("using pubsub queue", zap.String("project", qc.PubSub.ProjectID))
		return pubsubqueue.New(client, a.logger.Named("pubsub")), nil
	case "kafka":
		q, err := kafka.NewQueue(kafka.Config{
			Brokers:           qc.Kafka.Brokers,
			Partitions:        qc.Kafka.Partitions,
			ReplicationFactor: qc.Kafka.ReplicationFactor,
			BatchTimeout:      qc.Kafka.BatchTimeout,
		}, a.logger.Named("kafka"))
		if err != nil {
			return nil, fmt.Errorf("kafka queue: %w", err)
		}
		a.logger.Info("using kafka queue", zap.Strings("brokers", qc.Kafka.Brokers))
		return q, nil
	case "memory":
		a.logger.Warn("using in-memory queue; published families are discarded at exit")
		return queuemem.New(), nil
	default:
		return nil, fmt.Errorf("unknown queue provider: %s", qc.Provider)
	}
}

func (a *App) newRegistry(ctx context.Context) (crawler.CrawlRegistry, error) {
	rc := a.cfg.Registry
	switch rc.Provider {
	case "postgres":
		store, err := postgres.NewCrawlStore(ctx, postgres.CrawlStoreConfig{
			DSN:             rc.Postgres.DSN,
			Table:           rc.Postgres.Table,
			MaxConns:        rc.Postgres.MaxConns,
			MinConns:        rc.Postgres.MinConns,
			MaxConnLifetime: rc.Postgres.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres registry: %w", err)
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		if rc.Postgres.EnsureSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				return nil, fmt.Errorf("postgres schema: %w", err)
			}
		}
		return store, nil
	case "redis":
		store, err := redis.NewCrawlStore(redis.Config{
			Addr:   rc.Redis.Addr,
			Prefix: rc.Redis.Prefix,
			TTL:    rc.Redis.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("redis registry: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case "memory":
		return storemem.NewCrawlStore(), nil
	default:
		return nil, fmt.Errorf("unknown registry provider: %s", rc.Provider)
	}
}

func (a *App) newArtifacts(ctx context.Context) (crawler.BlobStore, error) {
	ac := a.cfg.Artifacts
	switch ac.Provider {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: ac.Bucket})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("gcs artifacts: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		if err := store.CheckBucket(ctx); err != nil {
			return nil, fmt.Errorf("gcs artifacts: %w", err)
		}
		return store, nil
	case "local":
		store, err := local.New(local.Config{BaseDir: ac.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local artifacts: %w", err)
		}
		return store, nil
	case "memory":
		return storemem.NewBlobStore(), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown artifacts provider: %s", ac.Provider)
	}
}

// NewCrawl builds a crawl with the App's services. An empty crawlID gets a
// fresh UUIDv4; a supplied one must parse as a UUID.
func (a *App) NewCrawl(crawlID string) (*lifecycle.Crawl, error) {
	var err error
	if crawlID == "" {
		crawlID, err = uuid.New().NewID()
	} else {
		crawlID, err = uuid.Normalize(crawlID)
	}
	if err != nil {
		return nil, err
	}
	cc := a.cfg.Crawl
	rc := a.cfg.Retry
	crawl, err := lifecycle.New(lifecycle.Config{
		CrawlID:            crawlID,
		RootPath:           cc.RootPath,
		BaseURL:            cc.BaseURL,
		SourceKind:         cc.SourceKind,
		CrawlThreads:       cc.MaxCrawlThreads,
		CommitThreads:      cc.CommitThreads,
		BatchLimit:         cc.BatchLimit,
		MaxPublishAttempts: cc.MaxPublishAttempts,
		IdleBackoffMin:     cc.IdleBackoffMin,
		IdleBackoffMax:     cc.IdleBackoffMax,
		EmptySleep:         cc.EmptySleep,
		ArtifactPrefix:     a.cfg.Artifacts.Prefix,
		HeartbeatInterval:  cc.HeartbeatInterval,
	}, lifecycle.Deps{
		Listing:   a.Listing,
		Grouper:   a.Grouper,
		Queue:     a.Queue,
		Registry:  a.Registry,
		Artifacts: a.Artifacts,
		Limiter:   a.publishLimiter,
		Retry: crawler.NewExponentialRetryPolicy(crawler.RetryConfig{
			BaseDelay:   rc.BaseDelay,
			MaxDelay:    rc.MaxDelay,
			MaxAttempts: rc.MaxAttempts,
			MaxElapsed:  rc.MaxElapsed,
		}),
		Events: a.Hub,
		Logger: logging.ForCrawl(a.logger, crawlID, cc.RootPath),
	})
	if err != nil {
		return nil, fmt.Errorf("build crawl: %w", err)
	}
	return crawl, nil
}

// Run executes one crawl, serving the status API alongside it when enabled.
// The server stops once the crawl reaches a terminal state.
func (a *App) Run(ctx context.Context, crawl *lifecycle.Crawl) error {
	if !a.cfg.Server.Enabled {
		return crawl.Run(ctx)
	}
	srvCtx, stop := context.WithCancel(ctx)
	srvErr := make(chan error, 1)
	go func() {
		srvErr <- api.NewServer(crawl, a.logger.Named("api")).ListenAndServe(srvCtx, a.cfg.Server.Addr)
	}()
	err := crawl.Run(ctx)
	stop()
	if serr := <-srvErr; serr != nil {
		a.logger.Warn("status server error", zap.Error(serr))
	}
	return err
}

// Close shuts down every service in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	if a.Hub != nil {
		if err := a.Hub.Close(context.Background()); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
