// Package app builds the long-lived services a command needs from Config and
// hands them out as one container.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/reg-radar/internal/clock/system"
	"github.com/JakeFAU/reg-radar/internal/collector"
	"github.com/JakeFAU/reg-radar/internal/config"
	"github.com/JakeFAU/reg-radar/internal/export"
	"github.com/JakeFAU/reg-radar/internal/fetcher"
	collyfetcher "github.com/JakeFAU/reg-radar/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/reg-radar/internal/fetcher/headless"
	"github.com/JakeFAU/reg-radar/internal/fetcher/ratelimit"
	"github.com/JakeFAU/reg-radar/internal/headless/detector"
	"github.com/JakeFAU/reg-radar/internal/health"
	"github.com/JakeFAU/reg-radar/internal/id/uuid"
	"github.com/JakeFAU/reg-radar/internal/ingest"
	"github.com/JakeFAU/reg-radar/internal/notify"
	"github.com/JakeFAU/reg-radar/internal/pipeline"
	pubsubpublisher "github.com/JakeFAU/reg-radar/internal/publisher/pubsub"
	"github.com/JakeFAU/reg-radar/internal/radar"
	"github.com/JakeFAU/reg-radar/internal/registry"
	"github.com/JakeFAU/reg-radar/internal/sites"
	"github.com/JakeFAU/reg-radar/internal/storage/gcs"
	"github.com/JakeFAU/reg-radar/internal/storage/local"
	"github.com/JakeFAU/reg-radar/internal/storage/memory"
	"github.com/JakeFAU/reg-radar/internal/storage/postgres"
	"github.com/JakeFAU/reg-radar/internal/storage/sqlite"
	"github.com/JakeFAU/reg-radar/internal/store"
)

// App holds the services shared by the commands.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	store    store.Store
	sources  store.SourceRegistry
	pipeline *pipeline.Pipeline
	ids      radar.IDGenerator
	clock    radar.Clock
	channel  notify.Channel
	out      io.Writer
	closers  []func()
}

// Option overrides a service, mostly for tests.
type Option func(*options)

type options struct {
	store     store.Store
	getter    fetcher.Getter
	channel   notify.Channel
	publisher radar.Publisher
	out       io.Writer
	clock     radar.Clock
}

// WithStore skips backend selection and uses s.
func WithStore(s store.Store) Option { return func(o *options) { o.store = s } }

// WithGetter replaces the colly HTTP getter.
func WithGetter(g fetcher.Getter) Option { return func(o *options) { o.getter = g } }

// WithChannel replaces the Mailgun channel.
func WithChannel(c notify.Channel) Option { return func(o *options) { o.channel = c } }

// WithPublisher replaces the Pub/Sub publisher.
func WithPublisher(p radar.Publisher) Option { return func(o *options) { o.publisher = p } }

// WithOutput redirects dry-run and report output.
func WithOutput(w io.Writer) Option { return func(o *options) { o.out = w } }

// WithClock pins time.
func WithClock(c radar.Clock) Option { return func(o *options) { o.clock = c } }

// New connects the configured backend and assembles the collect pipeline.
// Anything New opens is released by Close, including on error.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a = &App{
		cfg:     cfg,
		logger:  logger,
		ids:     uuid.New(),
		clock:   system.New(),
		channel: o.channel,
		out:     os.Stdout,
	}
	if o.clock != nil {
		a.clock = o.clock
	}
	if o.out != nil {
		a.out = o.out
	}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	a.store = o.store
	if a.store == nil {
		if a.store, err = openStore(ctx, cfg, logger); err != nil {
			return a, err
		}
	}
	a.closers = append(a.closers, a.store.Close)

	a.sources = a.store
	if cfg.Sources.File != "" {
		reg, regErr := registry.LoadFile(cfg.Sources.File)
		if regErr != nil {
			return a, regErr
		}
		logger.Info("using source registry file", zap.String("path", cfg.Sources.File), zap.Int("sources", len(reg.Sources())))
		a.sources = reg
	}

	publisher := o.publisher
	if publisher == nil && cfg.PubSub.Topic != "" {
		if publisher, err = a.openPublisher(ctx); err != nil {
			return a, err
		}
	}

	collectors, err := a.buildCollectors(o.getter)
	if err != nil {
		return a, err
	}

	writerOpts := []ingest.Option{ingest.WithPreviewItems(cfg.Pipeline.PreviewItems)}
	if publisher != nil {
		writerOpts = append(writerOpts, ingest.WithPublisher(publisher, cfg.PubSub.Topic))
	}
	writer, err := ingest.New(a.store, a.ids, a.clock, logger.Named("ingest"), writerOpts...)
	if err != nil {
		return a, fmt.Errorf("build writer: %w", err)
	}

	a.pipeline, err = pipeline.New(a.sources, collectors, writer, a.store, a.ids, a.clock, logger.Named("pipeline"), pipeline.Config{
		Concurrency:  cfg.Pipeline.Concurrency,
		WriteTimeout: cfg.Pipeline.WriteTimeout(),
	})
	if err != nil {
		return a, fmt.Errorf("build pipeline: %w", err)
	}
	return a, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Store, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	switch cfg.DB.Driver {
	case config.DriverPostgres:
		logger.Info("connecting to postgres")
		return postgres.New(ctx, postgres.Config{
			DSN: cfg.DB.DSN,
			Tables: postgres.Tables{
				Sources: cfg.DB.Tables.Sources,
				Items:   cfg.DB.Tables.Items,
				Runs:    cfg.DB.Tables.Runs,
			},
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
		})
	case config.DriverSQLite:
		logger.Info("opening sqlite database", zap.String("path", cfg.DB.SQLitePath))
		return sqlite.Open(ctx, cfg.DB.SQLitePath)
	case config.DriverMemory:
		logger.Warn("using in-memory store; nothing survives this process")
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown db driver: %s", cfg.DB.Driver)
	}
}

func (a *App) openPublisher(ctx context.Context) (radar.Publisher, error) {
	client, err := gpubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	pub, err := pubsubpublisher.New(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() {
		if cerr := pub.Close(); cerr != nil {
			a.logger.Warn("closing pubsub publisher", zap.Error(cerr))
		}
	})
	a.logger.Info("announcing discoveries", zap.String("topic", a.cfg.PubSub.Topic))
	return pub, nil
}

func (a *App) buildCollectors(getter fetcher.Getter) ([]collector.Collector, error) {
	cfg := a.cfg
	if getter == nil {
		getter = collyfetcher.New(collyfetcher.Config{
			UserAgent:      cfg.Crawler.UserAgent,
			RespectRobots:  cfg.Crawler.RespectRobots,
			Timeout:        cfg.Crawler.Timeout(),
			ConnectTimeout: cfg.Crawler.ConnectTimeout(),
		})
	}
	polite, err := ratelimit.Wrap(getter, ratelimit.Config{RPS: cfg.Crawler.PerHostRPS, Burst: cfg.Crawler.PerHostBurst})
	if err != nil {
		return nil, fmt.Errorf("build rate limiter: %w", err)
	}
	fetchCfg := fetcher.Config{Retries: cfg.Crawler.MaxRetries, BackoffStep: cfg.Crawler.BackoffStep()}
	pages, err := fetcher.NewResilient(polite, fetchCfg, a.logger.Named("fetcher"))
	if err != nil {
		return nil, fmt.Errorf("build fetcher: %w", err)
	}

	htmlOpts := []collector.HTMLOption{collector.WithRules(sites.DefaultRules)}
	if cfg.Headless.Enabled {
		renderer, err := headlessfetcher.New(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			SettleDelay:       time.Duration(cfg.Headless.SettleDelayMs) * time.Millisecond,
		})
		if err != nil {
			a.logger.Warn("headless renderer unavailable; requires_js sources use plain fetches", zap.Error(err))
		} else {
			a.closers = append(a.closers, renderer.Close)
			rendered, err := fetcher.NewResilient(renderer, fetchCfg, a.logger.Named("renderer"))
			if err != nil {
				return nil, fmt.Errorf("build renderer fetcher: %w", err)
			}
			htmlOpts = append(htmlOpts, collector.WithRenderer(rendered))
			if cfg.Headless.DetectShells {
				htmlOpts = append(htmlOpts, collector.WithShellDetector(detector.NewHeuristic(cfg.Headless.ShellMinBytes)))
			}
		}
	}

	rss, err := collector.NewRSS(pages, cfg.Crawler.MaxItems, a.logger.Named("rss"))
	if err != nil {
		return nil, fmt.Errorf("build rss collector: %w", err)
	}
	html, err := collector.NewHTML(pages, cfg.Crawler.MaxItems, a.logger.Named("html"), htmlOpts...)
	if err != nil {
		return nil, fmt.Errorf("build html collector: %w", err)
	}
	return []collector.Collector{rss, html, collector.NewPDF()}, nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store returns the persistence backend.
func (a *App) Store() store.Store { return a.store }

// Pipeline returns the collect pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Clock returns the app clock.
func (a *App) Clock() radar.Clock { return a.clock }

// Reporter builds the health reporter. Mail settings are only required here,
// so collect and dump runs work without them.
func (a *App) Reporter() (*health.Reporter, error) {
	channel, err := a.Channel()
	if err != nil {
		return nil, err
	}
	return health.New(a.store, a.store, channel, a.ids, a.clock, a.logger.Named("health"))
}

// Channel returns the injected notification channel or builds the Mailgun one
// from the mail settings.
func (a *App) Channel() (notify.Channel, error) {
	if a.channel != nil {
		return a.channel, nil
	}
	if err := a.cfg.RequireMail(); err != nil {
		return nil, err
	}
	mailgun, err := notify.NewMailgun(notify.MailgunConfig{
		APIKey:  a.cfg.Mail.APIKey,
		Domain:  a.cfg.Mail.Domain,
		To:      a.cfg.Mail.Recipients(),
		BaseURL: a.cfg.Mail.BaseURL,
	}, nil, a.out, a.logger.Named("mailgun"))
	if err != nil {
		return nil, err
	}
	return mailgun, nil
}

// DumpTarget resolves --out into a blob store and object path. gs://bucket/object
// targets GCS; anything else is a local file. An empty out uses the default
// timestamped name in the working directory.
func (a *App) DumpTarget(ctx context.Context, out string) (radar.BlobStore, string, error) {
	if strings.TrimSpace(out) == "" {
		out = export.DefaultFileName(a.clock.Now())
	}
	if bucket, object, ok := gcs.ParseURI(out); ok {
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("create storage client: %w", err)
		}
		a.closers = append(a.closers, func() {
			if cerr := client.Close(); cerr != nil {
				a.logger.Warn("closing storage client", zap.Error(cerr))
			}
		})
		blobs, err := gcs.New(client, gcs.Config{Bucket: bucket})
		if err != nil {
			return nil, "", err
		}
		return blobs, object, nil
	}
	if strings.HasPrefix(out, "gs://") {
		return nil, "", fmt.Errorf("gcs output needs gs://bucket/object, got %q", out)
	}
	dir, name := export.SplitLocal(out)
	blobs, err := local.New(local.Config{BaseDir: dir})
	if err != nil {
		return nil, "", err
	}
	return blobs, name, nil
}

// Close releases everything New and DumpTarget opened, newest first.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	_ = a.logger.Sync()
}
