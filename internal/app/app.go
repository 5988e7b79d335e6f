// Package app builds the gazette pipeline and its HTTP surface from config and
// owns every resource they acquire.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-watch/internal/api"
	"github.com/JakeFAU/gazette-watch/internal/archive"
	"github.com/JakeFAU/gazette-watch/internal/clock/system"
	"github.com/JakeFAU/gazette-watch/internal/config"
	poppler "github.com/JakeFAU/gazette-watch/internal/extractor/poppler"
	collyfetcher "github.com/JakeFAU/gazette-watch/internal/fetcher/colly"
	"github.com/JakeFAU/gazette-watch/internal/gazette"
	"github.com/JakeFAU/gazette-watch/internal/id/uuid"
	"github.com/JakeFAU/gazette-watch/internal/index/elastic"
	memoryindex "github.com/JakeFAU/gazette-watch/internal/index/memory"
	pgindex "github.com/JakeFAU/gazette-watch/internal/index/postgres"
	memorymailer "github.com/JakeFAU/gazette-watch/internal/mailer/memory"
	smtpmailer "github.com/JakeFAU/gazette-watch/internal/mailer/smtp"
	"github.com/JakeFAU/gazette-watch/internal/metrics"
	"github.com/JakeFAU/gazette-watch/internal/notify"
	"github.com/JakeFAU/gazette-watch/internal/pipeline"
	"github.com/JakeFAU/gazette-watch/internal/policy/ratelimit"
	kafkapublisher "github.com/JakeFAU/gazette-watch/internal/publisher/kafka"
	memorypublisher "github.com/JakeFAU/gazette-watch/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/gazette-watch/internal/publisher/pubsub"
	memoryregistry "github.com/JakeFAU/gazette-watch/internal/registry/memory"
	pgregistry "github.com/JakeFAU/gazette-watch/internal/registry/postgres"
	"github.com/JakeFAU/gazette-watch/internal/report"
	gcsstorage "github.com/JakeFAU/gazette-watch/internal/storage/gcs"
	localstorage "github.com/JakeFAU/gazette-watch/internal/storage/local"
	memorystorage "github.com/JakeFAU/gazette-watch/internal/storage/memory"
	pgstore "github.com/JakeFAU/gazette-watch/internal/storage/postgres"
	"github.com/JakeFAU/gazette-watch/internal/telemetry"
)

const sideEffectTimeout = 30 * time.Second

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// App holds the wired pipeline and the resources behind it.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Clock    *system.Clock
	Pipeline *pipeline.Pipeline
	Server   *api.Server
	// Outbox is set when mail.backend is memory.
	Outbox *memorymailer.Outbox

	closers []closer
}

// Build wires every component named by cfg. Anything acquired before a
// failure is released before Build returns.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (app *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			if closeErr := a.Close(context.Background()); closeErr != nil {
				logger.Warn("release after failed build", zap.Error(closeErr))
			}
		}
	}()

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: cfg.Service.Name,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
		a.onClose("tracer", tp.Shutdown)
	}

	a.Clock, err = system.NewInZone(cfg.Pipeline.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("clock init failed: %w", err)
	}
	links := gazette.NewLinkBuilder(cfg.Links.ViewerURL, cfg.Links.NotebookID)

	limiter := ratelimit.New(ratelimit.Config{
		RPS:   cfg.Upstream.RateLimitRPS,
		Burst: cfg.Upstream.RateLimitBurst,
	})
	fetcher := collyfetcher.New(collyfetcher.Config{
		BaseURL:     cfg.Upstream.BaseURL,
		UserAgent:   cfg.Upstream.UserAgent,
		Timeout:     config.Seconds(cfg.Upstream.TimeoutSeconds),
		MaxAttempts: cfg.Upstream.MaxAttempts,
		Location:    a.Clock.Location(),
	}, limiter, a.Clock, logger.Named("fetcher"))
	logger.Info("using colly fetcher",
		zap.String("base_url", cfg.Upstream.BaseURL),
		zap.Float64("rate_limit_rps", cfg.Upstream.RateLimitRPS),
	)

	extractor := poppler.New(poppler.Config{
		PdfInfoPath:   cfg.Extractor.PdfInfoPath,
		PdfToTextPath: cfg.Extractor.PdfToTextPath,
		Timeout:       config.Seconds(cfg.Extractor.TimeoutSeconds),
		TempDir:       cfg.Extractor.TempDir,
	}, logger.Named("extractor"))

	checks := map[string]api.ReadinessCheck{}

	index, err := a.setupIndex(ctx, links, checks)
	if err != nil {
		return nil, err
	}
	registry, err := a.setupRegistry(ctx)
	if err != nil {
		return nil, err
	}
	transport, err := a.setupMail()
	if err != nil {
		return nil, err
	}
	renderer, err := notify.NewRenderer(links)
	if err != nil {
		return nil, fmt.Errorf("renderer init failed: %w", err)
	}
	archiver, err := a.setupArchive(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.setupEvents(ctx)
	if err != nil {
		return nil, err
	}
	search, err := a.setupSearch(links, checks)
	if err != nil {
		return nil, err
	}
	history, err := a.setupHistory(ctx)
	if err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Fetcher:   fetcher,
		Extractor: extractor,
		Index:     index,
		Registry:  registry,
		Reports:   report.NewBuilder(index),
		Renderer:  renderer,
		Notifier:  notify.NewDispatcher(transport, config.Seconds(cfg.Mail.TimeoutSeconds), logger.Named("notify")),
		History:   history,
		Clock:     a.Clock,
		IDs:       uuid.New(),
		Logger:    logger,
	}
	// Optional collaborators stay untyped nil when absent.
	if archiver != nil {
		deps.Archiver = archiver
	}
	if publisher != nil {
		deps.Publisher = publisher
	}
	var searcher api.ArchiveSearcher
	if search != nil {
		deps.Mirror = search
		searcher = search
	}

	a.Pipeline, err = pipeline.New(pipeline.Config{
		WatcherConcurrency: cfg.Pipeline.WatcherConcurrency,
		EventsTopic:        cfg.Events.Topic,
		Location:           a.Clock.Location(),
		SideEffectTimeout:  sideEffectTimeout,
	}, deps)
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}

	a.Server = api.NewServer(a.Pipeline, history, searcher, checks, cfg, logger)
	logger.Info("application built",
		zap.String("index", cfg.Index.Backend),
		zap.String("registry", cfg.Registry.Backend),
		zap.String("mail", cfg.Mail.Backend),
		zap.String("archive", cfg.Archive.Backend),
		zap.String("events", cfg.Events.Backend),
		zap.String("search", cfg.Search.Backend),
		zap.String("history", cfg.History.Backend),
	)
	return a, nil
}

// Close releases resources in reverse acquisition order. It is safe to call
// more than once.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.Logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) setupIndex(ctx context.Context, links gazette.LinkBuilder, checks map[string]api.ReadinessCheck) (gazette.Index, error) {
	cfg := a.Config.Index
	switch cfg.Backend {
	case "postgres":
		a.Logger.Info("using postgres index", zap.String("table", cfg.Table))
		idx, err := pgindex.New(ctx, pgindex.Config{
			DSN:         cfg.DSN,
			Table:       cfg.Table,
			MaxConns:    cfg.MaxConns,
			Timeout:     config.Seconds(cfg.TimeoutSeconds),
			MaxAttempts: cfg.MaxAttempts,
			Links:       links,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize index: %w", err)
		}
		a.onClose("index", func(context.Context) error { return idx.Close() })
		if cfg.EnsureSchema {
			if err := idx.EnsureSchema(ctx); err != nil {
				return nil, fmt.Errorf("failed to ensure index schema: %w", err)
			}
		}
		checks["index"] = idx.Ping
		return idx, nil
	default:
		a.Logger.Info("using in-memory index", zap.String("snapshot", cfg.SnapshotPath))
		idx, err := memoryindex.New(memoryindex.Config{SnapshotPath: cfg.SnapshotPath, Links: links})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize index: %w", err)
		}
		a.onClose("index", func(context.Context) error { return idx.Close() })
		return idx, nil
	}
}

func (a *App) setupRegistry(ctx context.Context) (gazette.Registry, error) {
	cfg := a.Config.Registry
	switch cfg.Backend {
	case "postgres":
		a.Logger.Info("using postgres watcher registry")
		reg, err := pgregistry.New(ctx, cfg.DSN, config.Seconds(cfg.TimeoutSeconds))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize registry: %w", err)
		}
		a.onClose("registry", func(context.Context) error {
			reg.Close()
			return nil
		})
		return reg, nil
	default:
		a.Logger.Info("using static watcher registry", zap.Int("watchers", len(cfg.Watchers)))
		reg, err := memoryregistry.New(cfg.Watchers)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize registry: %w", err)
		}
		return reg, nil
	}
}

func (a *App) setupMail() (notify.Transport, error) {
	cfg := a.Config.Mail
	switch cfg.Backend {
	case "smtp":
		a.Logger.Info("using smtp transport", zap.String("host", cfg.Host), zap.Int("port", cfg.Port))
		t, err := smtpmailer.New(smtpmailer.Config{
			Host:      cfg.Host,
			Port:      cfg.Port,
			Username:  cfg.Username,
			Password:  cfg.Password,
			From:      cfg.From,
			TLSPolicy: cfg.TLSPolicy,
			SSL:       cfg.SSL,
			Timeout:   config.Seconds(cfg.TimeoutSeconds),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize mail transport: %w", err)
		}
		return t, nil
	default:
		a.Logger.Warn("using in-memory outbox, notifications will not leave the process")
		a.Outbox = memorymailer.NewOutbox()
		return a.Outbox, nil
	}
}

func (a *App) setupArchive(ctx context.Context) (*archive.Archiver, error) {
	cfg := a.Config.Archive
	switch cfg.Backend {
	case "gcs":
		a.Logger.Info("using GCS archive", zap.String("bucket", cfg.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.onClose("gcs", func(context.Context) error { return client.Close() })
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return archive.New(store), nil
	case "local":
		a.Logger.Info("using local archive", zap.String("path", cfg.LocalDir))
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return archive.New(store), nil
	case "memory":
		a.Logger.Info("using in-memory archive")
		return archive.New(memorystorage.NewBlobStore()), nil
	default:
		a.Logger.Info("archive disabled")
		return nil, nil
	}
}

func (a *App) setupEvents(ctx context.Context) (gazette.Publisher, error) {
	cfg := a.Config.Events
	switch cfg.Backend {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.onClose("pubsub client", func(context.Context) error { return client.Close() })
		pub, err := gcppublisher.New(client)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.onClose("pubsub publisher", func(context.Context) error { return pub.Close() })
		a.Logger.Info("Pub/Sub publisher initialized",
			zap.String("project", cfg.ProjectID),
			zap.String("topic", cfg.Topic),
		)
		return pub, nil
	case "kafka":
		pub, err := kafkapublisher.New(kafkapublisher.Config{Brokers: cfg.Brokers})
		if err != nil {
			return nil, fmt.Errorf("kafka publisher init failed: %w", err)
		}
		a.onClose("kafka publisher", func(context.Context) error { return pub.Close() })
		a.Logger.Info("kafka publisher initialized",
			zap.Strings("brokers", cfg.Brokers),
			zap.String("topic", cfg.Topic),
		)
		return pub, nil
	case "memory":
		a.Logger.Info("using in-memory event publisher")
		return memorypublisher.New(), nil
	default:
		a.Logger.Info("run events disabled")
		return nil, nil
	}
}

func (a *App) setupSearch(links gazette.LinkBuilder, checks map[string]api.ReadinessCheck) (*elastic.Client, error) {
	cfg := a.Config.Search
	if cfg.Backend != "elastic" {
		a.Logger.Info("archive search disabled")
		return nil, nil
	}
	client, err := elastic.New(elastic.Config{
		Addresses: cfg.Addresses,
		Index:     cfg.Index,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Timeout:   config.Seconds(cfg.TimeoutSeconds),
	}, links, a.Logger.Named("search"))
	if err != nil {
		return nil, fmt.Errorf("search client init failed: %w", err)
	}
	checks["search"] = client.Health
	a.Logger.Info("elasticsearch mirror enabled", zap.Strings("addresses", cfg.Addresses), zap.String("index", cfg.Index))
	return client, nil
}

func (a *App) setupHistory(ctx context.Context) (gazette.RunHistory, error) {
	cfg := a.Config.History
	switch cfg.Backend {
	case "postgres":
		store, err := pgstore.NewRunStore(ctx, pgstore.RunStoreConfig{DSN: cfg.DSN, Table: cfg.Table})
		if err != nil {
			return nil, fmt.Errorf("run store init failed: %w", err)
		}
		a.onClose("run store", func(context.Context) error {
			store.Close()
			return nil
		})
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure run store schema: %w", err)
		}
		a.Logger.Info("run history stored in postgres", zap.String("table", cfg.Table))
		return store, nil
	default:
		a.Logger.Info("run history kept in memory", zap.Int("max", cfg.Max))
		return memorystorage.NewRunStore(cfg.Max), nil
	}
}
