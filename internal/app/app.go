// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/preprint-crawler/internal/api"
	"github.com/JakeFAU/preprint-crawler/internal/clock"
	"github.com/JakeFAU/preprint-crawler/internal/clock/system"
	"github.com/JakeFAU/preprint-crawler/internal/config"
	"github.com/JakeFAU/preprint-crawler/internal/extract"
	"github.com/JakeFAU/preprint-crawler/internal/fetcher"
	collyfetcher "github.com/JakeFAU/preprint-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/preprint-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/preprint-crawler/internal/id/uuid"
	"github.com/JakeFAU/preprint-crawler/internal/ingest"
	"github.com/JakeFAU/preprint-crawler/internal/logging"
	"github.com/JakeFAU/preprint-crawler/internal/metrics"
	"github.com/JakeFAU/preprint-crawler/internal/normalize"
	"github.com/JakeFAU/preprint-crawler/internal/pipeline"
	"github.com/JakeFAU/preprint-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/preprint-crawler/internal/policy/robots"
	"github.com/JakeFAU/preprint-crawler/internal/publisher"
	gcppublisher "github.com/JakeFAU/preprint-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/preprint-crawler/internal/sink"
	"github.com/JakeFAU/preprint-crawler/internal/source"
	"github.com/JakeFAU/preprint-crawler/internal/source/chemrxiv"
	"github.com/JakeFAU/preprint-crawler/internal/source/openreview"
	"github.com/JakeFAU/preprint-crawler/internal/stats"
	"github.com/JakeFAU/preprint-crawler/internal/storage/gcs"
	"github.com/JakeFAU/preprint-crawler/internal/storage/local"
	"github.com/JakeFAU/preprint-crawler/internal/storage/postgres"
	"github.com/JakeFAU/preprint-crawler/internal/telemetry"
)

// SourceInfo describes a configured adapter.
type SourceInfo struct {
	Name      string
	Transport string
	Endpoint  string
}

// Report is the outcome of one run.
type Report struct {
	RunID string
	Mode  pipeline.Mode
	pipeline.Result
}

// Catalog is the optional run and record catalog.
type Catalog interface {
	sink.Named
	RecordRun(ctx context.Context, run postgres.RunSummary) error
}

// Archive mirrors run outputs to object storage.
type Archive interface {
	gcs.Putter
	Close() error
}

// Notifications publishes per-record messages.
type Notifications interface {
	publisher.Publisher
	Close() error
}

// Services holds the optional external backends. Nil members are skipped.
type Services struct {
	Catalog       Catalog
	Archive       Archive
	Notifications Notifications
}

// App holds all the shared, long-lived services for the application.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	clock    clock.Clock
	ids      *uuid.Generator
	out      io.Writer
	services Services

	limiter  *ratelimit.Limiter
	fetcher  *fetcher.Fetcher
	renderer *headless.Renderer
	store    *local.BlobStore
	sources  []ingest.Source
	info     []SourceInfo

	current  atomic.Pointer[stats.RunStats]
	shutdown func(context.Context) error
	closed   atomic.Bool
}

// Option customises an App.
type Option func(*App)

// WithServices injects external backends instead of dialing them.
func WithServices(s Services) Option {
	return func(a *App) { a.services = s }
}

// WithOutput redirects the run summary table.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// New builds the application container. External backends named in cfg are
// dialed unless WithServices supplies them. It performs no crawl traffic.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
		out:    os.Stdout,
	}
	for _, opt := range opts {
		opt(a)
	}
	injected := a.services != (Services{})
	metrics.Init()

	if cfg.Telemetry.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		a.shutdown = tp.Shutdown
	}

	if err := a.buildFetchStack(); err != nil {
		return nil, err
	}
	if err := a.buildSources(); err != nil {
		a.renderer.Close()
		return nil, err
	}
	if !injected {
		if err := a.dialServices(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	logger.Info("application services initialized",
		zap.Strings("sources", cfg.Sources),
		zap.String("output_dir", cfg.OutputDir),
		zap.Bool("catalog", a.services.Catalog != nil),
		zap.Bool("archive", a.services.Archive != nil),
		zap.Bool("notifications", a.services.Notifications != nil),
	)
	return a, nil
}

func (a *App) buildFetchStack() error {
	cfg := a.cfg
	a.limiter = ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.MaxRequestsPerMinute,
		Burst:                cfg.RateLimit.Burst,
		BackoffInitial:       cfg.RateLimit.BackoffInitial(),
		BackoffMax:           cfg.RateLimit.BackoffMax(),
	}, ratelimit.WithLogger(a.logger.Named("ratelimit")))

	policy := robots.New(&http.Client{Timeout: cfg.HTTP.Timeout()}, cfg.UserAgent, a.logger.Named("robots"))
	transport := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.HTTP.Timeout(),
	})
	f, err := fetcher.New(fetcher.Config{
		UserAgent:   cfg.UserAgent,
		MaxAttempts: cfg.Retry.MaxAttempts,
	}, transport, policy, a.limiter, fetcher.WithLogger(a.logger.Named("fetcher")))
	if err != nil {
		return fmt.Errorf("init fetcher: %w", err)
	}
	a.fetcher = f

	a.renderer, err = headless.NewChromedp(headless.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         cfg.UserAgent,
		NavigationTimeout: cfg.Headless.NavTimeout(),
		DomainQPS:         cfg.Headless.QPS,
	}, f, a.logger.Named("headless"))
	if err != nil {
		return fmt.Errorf("init headless renderer: %w", err)
	}

	a.store, err = local.New(local.Config{BaseDir: cfg.OutputDir})
	if err != nil {
		a.renderer.Close()
		return fmt.Errorf("init artifact store: %w", err)
	}
	return nil
}

func (a *App) buildSources() error {
	cfg := a.cfg
	extractor := extract.New(extract.Options{
		OCREnabled:  cfg.OCR.Enabled,
		OCRLanguage: cfg.OCR.Language,
	}, a.logger.Named("extract"))
	finisher := source.NewFinisher(extractor, normalize.New(a.store))
	artifacts := source.NewArtifacts(a.fetcher, a.store, a.logger.Named("artifacts"))

	for _, name := range cfg.Sources {
		switch name {
		case chemrxiv.Name:
			a.sources = append(a.sources, chemrxiv.New(chemrxiv.Config{
				ListingURL:          cfg.ChemRxiv.ListingURL,
				ListingWaitSelector: cfg.ChemRxiv.ListingWaitSelector,
				ItemLinkSelector:    cfg.ChemRxiv.ItemLinkSelector,
				PDFLinkSelector:     cfg.ChemRxiv.PDFLinkSelector,
			}, a.renderer, artifacts, finisher, a.logger))
			a.info = append(a.info, SourceInfo{Name: name, Transport: "headless", Endpoint: cfg.ChemRxiv.ListingURL})
		case openreview.Name:
			a.sources = append(a.sources, openreview.New(openreview.Config{
				APIBase:         cfg.OpenReview.APIBase,
				SearchPath:      cfg.OpenReview.SearchPath,
				DiscussionsPath: cfg.OpenReview.DiscussionsPath,
				ForumBase:       cfg.OpenReview.ForumBase,
				PageSize:        cfg.OpenReview.PageSize,
			}, a.fetcher, artifacts, finisher, a.logger))
			a.info = append(a.info, SourceInfo{Name: name, Transport: "api", Endpoint: cfg.OpenReview.APIBase + cfg.OpenReview.SearchPath})
		default:
			return &ingest.ConfigError{Err: fmt.Errorf("unknown source %q", name)}
		}
	}
	return nil
}

func (a *App) dialServices(ctx context.Context) error {
	cfg := a.cfg
	if cfg.DB.DSN != "" {
		catalog, err := postgres.NewCatalog(ctx, postgres.Config{DSN: cfg.DB.DSN, Table: cfg.DB.Table})
		if err != nil {
			return fmt.Errorf("init catalog: %w", err)
		}
		a.services.Catalog = catalog
	}
	if cfg.Storage.GCSBucket != "" {
		store, err := gcs.Dial(ctx, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("init archive: %w", err)
		}
		a.services.Archive = store
	}
	if cfg.PubSub.Topic != "" {
		pub, err := gcppublisher.Dial(ctx, cfg.PubSub.ProjectID, cfg.PubSub.Topic)
		if err != nil {
			return fmt.Errorf("init notifications: %w", err)
		}
		a.services.Notifications = pub
	}
	return nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Sources describes the configured adapters in run order.
func (a *App) Sources() []SourceInfo {
	return append([]SourceInfo(nil), a.info...)
}

// Snapshot reports the current or most recent run.
func (a *App) Snapshot() stats.Snapshot {
	if st := a.current.Load(); st != nil {
		return st.Snapshot()
	}
	return stats.Snapshot{}
}

// Ready fails once the container is closed.
func (a *App) Ready(context.Context) error {
	if a.closed.Load() {
		return errors.New("shutting down")
	}
	return nil
}

// Serve runs the status server until ctx is canceled. It returns
// immediately when the server is disabled.
func (a *App) Serve(ctx context.Context) error {
	if !a.cfg.Server.Enabled {
		return nil
	}
	srv := api.NewServer(a, a.Ready, a.logger.Named("api"))
	return srv.Serve(ctx, fmt.Sprintf(":%d", a.cfg.Server.Port))
}

// Run executes one pipeline run. limit caps the items taken across all
// sources and zero means no cap. It fails only when the run cannot start.
func (a *App) Run(ctx context.Context, mode pipeline.Mode, limit int) (Report, error) {
	from, to, err := a.cfg.Window()
	if err != nil {
		return Report{}, err
	}
	runID := a.ids.MustID()
	logger := logging.ForRun(a.logger, runID, string(mode))
	started := a.clock.Now()
	st := stats.New(runID, string(mode), started)
	a.current.Store(st)

	var recordSink ingest.RecordSink
	if mode != pipeline.ModeDryRun {
		fan, err := a.openSinks(runID, logger)
		if err != nil {
			return Report{}, err
		}
		recordSink = fan
		defer func() {
			if cerr := fan.Close(); cerr != nil {
				logger.Warn("close sinks", zap.Error(cerr))
			}
		}()
	}

	runner, err := pipeline.New(pipeline.Config{
		Mode:      mode,
		RunID:     runID,
		From:      from,
		To:        to,
		Limit:     limit,
		Downloads: a.cfg.Concurrency.Downloads,
		Parsing:   a.cfg.Concurrency.Parsing,
	}, a.sources, recordSink, st, pipeline.WithClock(a.clock), pipeline.WithLogger(logger))
	if err != nil {
		return Report{}, fmt.Errorf("init pipeline: %w", err)
	}

	res, err := runner.Run(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("run pipeline: %w", err)
	}
	st.Finish(res.Elapsed)

	if mode != pipeline.ModeDryRun {
		if err := st.WriteReports(a.cfg.ReportsDir()); err != nil {
			logger.Warn("write reports", zap.Error(err))
		}
		a.recordRun(ctx, logger, postgres.RunSummary{
			RunID:      runID,
			Mode:       string(mode),
			StartedAt:  started,
			FinishedAt: a.clock.Now(),
			Records:    res.Records,
			Errors:     res.Errors,
		})
	}
	st.RenderSummary(a.out, res.Elapsed.Seconds())
	return Report{RunID: runID, Mode: mode, Result: res}, nil
}

// openSinks opens the per-run JSONL file and fans out to the enabled
// backends. Backends outlive the run, so the fan-out never closes them.
func (a *App) openSinks(runID string, logger *zap.Logger) (*sink.Fanout, error) {
	primary, err := sink.OpenJSONL(a.cfg.JSONLPath())
	if err != nil {
		return nil, fmt.Errorf("open record sink: %w", err)
	}
	var secondaries []sink.Named
	if a.services.Catalog != nil {
		secondaries = append(secondaries, keepOpen{a.services.Catalog})
	}
	if a.services.Archive != nil {
		archive, err := gcs.NewArchive(a.services.Archive, a.cfg.Storage.Prefix, a.cfg.RunName)
		if err != nil {
			_ = primary.Close()
			return nil, fmt.Errorf("init archive sink: %w", err)
		}
		secondaries = append(secondaries, archive)
	}
	if a.services.Notifications != nil {
		notifier, err := publisher.NewNotifier(a.services.Notifications, a.cfg.PubSub.Topic, runID, nil)
		if err != nil {
			_ = primary.Close()
			return nil, fmt.Errorf("init notifier sink: %w", err)
		}
		secondaries = append(secondaries, notifier)
	}
	return sink.NewFanout(primary, logger, secondaries...), nil
}

func (a *App) recordRun(ctx context.Context, logger *zap.Logger, run postgres.RunSummary) {
	if a.services.Catalog == nil {
		return
	}
	if err := a.services.Catalog.RecordRun(ctx, run); err != nil {
		logger.Warn("record run in catalog", zap.Error(err))
	}
}

// Close gracefully shuts down all services in the App container.
// It is called by a Cobra hook after the command finishes execution.
func (a *App) Close() {
	if !a.closed.CompareAndSwap(false, true) {
		return
	}
	a.logger.Info("shutting down application services")
	if a.renderer != nil {
		a.renderer.Close()
	}
	if c := a.services.Catalog; c != nil {
		if err := c.Close(); err != nil {
			a.logger.Warn("error closing catalog", zap.Error(err))
		}
	}
	if s := a.services.Archive; s != nil {
		if err := s.Close(); err != nil {
			a.logger.Warn("error closing archive client", zap.Error(err))
		}
	}
	if n := a.services.Notifications; n != nil {
		if err := n.Close(); err != nil {
			a.logger.Warn("error closing pubsub client", zap.Error(err))
		}
	}
	if a.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdown(ctx); err != nil {
			a.logger.Warn("error shutting down tracing", zap.Error(err))
		}
	}
	_ = a.logger.Sync() //nolint:errcheck // best-effort flush
}

// keepOpen hides Close from the fan-out so a shared backend survives runs.
type keepOpen struct {
	sink.Named
}

func (keepOpen) Close() error { return nil }
