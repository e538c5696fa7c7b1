// Package pipeline drives every configured source through list, fetch and
// normalize, persisting what succeeds and recording what does not.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/preprint-crawler/internal/clock"
	"github.com/JakeFAU/preprint-crawler/internal/clock/system"
	"github.com/JakeFAU/preprint-crawler/internal/ingest"
	"github.com/JakeFAU/preprint-crawler/internal/metrics"
	"github.com/JakeFAU/preprint-crawler/internal/stats"
	"github.com/JakeFAU/preprint-crawler/internal/telemetry"
)

// Mode selects what a run does with listed items.
type Mode string

// Run modes.
const (
	ModeRun    Mode = "run"
	ModeTrial  Mode = "trial"
	ModeDryRun Mode = "dry-run"
)

// listErrorItem is the item id recorded for listing failures.
const listErrorItem = "-"

// Config controls a single run.
type Config struct {
	Mode Mode
	// RunID, when set, is stamped on every record as extra.run_id.
	RunID string
	From time.Time
	To   time.Time
	// Limit caps the number of items taken from all sources together. Zero
	// means no cap.
	Limit     int
	Downloads int
	Parsing   int
}

// Result summarizes a finished run.
type Result struct {
	Listed  int
	Records int
	Errors  int
	Elapsed time.Duration
	// Planned holds the items a dry run would have fetched.
	Planned []ingest.Item
}

// Runner owns one run. It is not reusable.
type Runner struct {
	cfg     Config
	sources []ingest.Source
	sink    ingest.RecordSink
	stats   *stats.RunStats
	clock   clock.Clock
	logger  *zap.Logger

	dispatched atomic.Int64
	records    atomic.Int64
	errCount   atomic.Int64
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock replaces the clock used for elapsed time.
func WithClock(c clock.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// New validates cfg and creates a Runner. sink may be nil for dry runs.
func New(cfg Config, sources []ingest.Source, sink ingest.RecordSink, st *stats.RunStats, opts ...Option) (*Runner, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeRun
	}
	if cfg.Mode != ModeDryRun && sink == nil {
		return nil, errors.New("record sink is required")
	}
	if st == nil {
		return nil, errors.New("run stats are required")
	}
	if cfg.Limit < 0 {
		return nil, fmt.Errorf("limit must be >= 0, got %d", cfg.Limit)
	}
	cfg.Downloads = max(cfg.Downloads, 1)
	cfg.Parsing = max(cfg.Parsing, 1)
	r := &Runner{
		cfg:     cfg,
		sources: sources,
		sink:    sink,
		stats:   st,
		clock:   system.New(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run processes every source. It returns once all dispatched items have
// finished; per-item and per-source failures never make it fail.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	start := r.clock.Now()
	downloads, err := ants.NewPool(r.cfg.Downloads, ants.WithPanicHandler(r.poolPanic))
	if err != nil {
		return Result{}, fmt.Errorf("create download pool: %w", err)
	}
	defer downloads.Release()
	parsing, err := ants.NewPool(r.cfg.Parsing, ants.WithPanicHandler(r.poolPanic))
	if err != nil {
		return Result{}, fmt.Errorf("create parsing pool: %w", err)
	}
	defer parsing.Release()

	w := &workers{runner: r, downloads: downloads, parsing: parsing}
	var planned []ingest.Item
	for _, src := range r.sources {
		if r.capReached() {
			r.logger.Info("item cap reached, skipping source", zap.String("source", src.Name()))
			continue
		}
		if ctx.Err() != nil {
			break
		}
		planned = append(planned, r.runSource(ctx, src, w)...)
	}
	w.wg.Wait()

	res := Result{
		Listed:  int(r.dispatched.Load()),
		Records: int(r.records.Load()),
		Errors:  int(r.errCount.Load()),
		Elapsed: r.clock.Now().Sub(start),
		Planned: planned,
	}
	r.logger.Info("run finished",
		zap.String("mode", string(r.cfg.Mode)),
		zap.Int("items", res.Listed),
		zap.Int("records", res.Records),
		zap.Int("errors", res.Errors),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

// runSource pulls items from src until the sequence ends, fails, or the
// cap is reached. Breaking out of the range loop stops the adapter.
func (r *Runner) runSource(ctx context.Context, src ingest.Source, w *workers) []ingest.Item {
	name := src.Name()
	log := r.logger.With(zap.String("source", name))
	log.Info("listing items",
		zap.String("from", r.cfg.From.Format(time.DateOnly)),
		zap.String("to", r.cfg.To.Format(time.DateOnly)),
	)
	ctx, span := telemetry.StartSpan(ctx, "list_items", name, "")

	var (
		planned []ingest.Item
		listErr error
	)
	func() {
		defer func() {
			if p := recover(); p != nil {
				listErr = fmt.Errorf("panic: %v", p)
			}
		}()
		for item, err := range src.ListItems(ctx, r.cfg.From, r.cfg.To) {
			if err != nil {
				listErr = err
				return
			}
			if ctx.Err() != nil {
				return
			}
			n := r.dispatched.Add(1)
			r.stats.AddListed(name)
			metrics.ObserveListed(name)

			if r.cfg.Mode == ModeDryRun {
				log.Info("would fetch",
					zap.String("item", item.Identity()),
					zap.String("url", item.URL),
					zap.String("pdf_url", item.PDFURL),
				)
				planned = append(planned, item)
			} else {
				w.dispatch(ctx, src, item)
			}
			if r.cfg.Limit > 0 && n >= int64(r.cfg.Limit) {
				log.Info("item cap reached", zap.Int("limit", r.cfg.Limit))
				return
			}
		}
	}()

	if listErr != nil {
		r.recordError(name, listErrorItem, ingest.StageList, &ingest.ListError{Source: name, Err: listErr})
	}
	telemetry.End(span, listErr)
	return planned
}

func (r *Runner) capReached() bool {
	return r.cfg.Limit > 0 && r.dispatched.Load() >= int64(r.cfg.Limit)
}

func (r *Runner) recordError(source, item string, stage ingest.Stage, err error) {
	r.errCount.Add(1)
	r.stats.AddError(ingest.ErrorEntry{Source: source, ItemID: item, Stage: stage, Message: err.Error()})
	metrics.ObserveError(source, string(stage))
	r.logger.Warn("item failed",
		zap.String("source", source),
		zap.String("item", item),
		zap.String("stage", string(stage)),
		zap.Error(err),
	)
}

func (r *Runner) recordSuccess(rec ingest.Record) {
	r.records.Add(1)
	r.stats.AddRecord(rec)
	metrics.ObserveRecord(rec.Source)
	r.logger.Info("record persisted",
		zap.String("source", rec.Source),
		zap.String("item", rec.ID),
		zap.Int("length_chars", rec.LengthChars),
		zap.Int("sections", rec.Sections),
	)
}

func (r *Runner) poolPanic(p any) {
	r.logger.Error("worker panic escaped recovery", zap.Any("panic", p))
}

// workers moves items through the download and parsing pools.
type workers struct {
	runner    *Runner
	downloads *ants.Pool
	parsing   *ants.Pool
	wg        sync.WaitGroup
}

// dispatch blocks while every download worker is busy, which throttles
// listing to the pace of fetching.
func (w *workers) dispatch(ctx context.Context, src ingest.Source, item ingest.Item) {
	w.wg.Add(1)
	if err := w.downloads.Submit(func() { w.fetch(ctx, src, item) }); err != nil {
		w.wg.Done()
		w.runner.recordError(src.Name(), item.Identity(), ingest.StageFetch, fmt.Errorf("schedule fetch: %w", err))
	}
}

func (w *workers) fetch(ctx context.Context, src ingest.Source, item ingest.Item) {
	metrics.WorkerStarted("download")
	defer metrics.WorkerDone("download")

	id := item.Identity()
	spanCtx, span := telemetry.StartSpan(ctx, "fetch_item", src.Name(), id)
	rec, err := guard(func() (ingest.Record, error) { return src.FetchItem(spanCtx, item) })
	telemetry.End(span, err)
	if err != nil {
		w.runner.recordError(src.Name(), id, ingest.StageFetch, err)
		w.wg.Done()
		return
	}
	if err := w.parsing.Submit(func() { w.normalize(ctx, src, id, rec) }); err != nil {
		w.runner.recordError(src.Name(), id, ingest.StageParse, fmt.Errorf("schedule parse: %w", err))
		w.wg.Done()
	}
}

func (w *workers) normalize(ctx context.Context, src ingest.Source, id string, rec ingest.Record) {
	defer w.wg.Done()
	metrics.WorkerStarted("parsing")
	defer metrics.WorkerDone("parsing")

	spanCtx, span := telemetry.StartSpan(ctx, "parse_and_normalize", src.Name(), id)
	out, err := guard(func() (ingest.Record, error) { return src.ParseAndNormalize(spanCtx, rec) })
	if err == nil {
		if w.runner.cfg.RunID != "" {
			out.SetExtra("run_id", w.runner.cfg.RunID)
		}
		if sinkErr := w.runner.sink.Append(spanCtx, out); sinkErr != nil {
			err = fmt.Errorf("persist record: %w", sinkErr)
		}
	}
	telemetry.End(span, err)
	if err != nil {
		w.runner.recordError(src.Name(), id, ingest.StageParse, err)
		return
	}
	w.runner.recordSuccess(out)
}

// guard converts a panic in fn into an error.
func guard(fn func() (ingest.Record, error)) (rec ingest.Record, err error) {
	defer func() {
		if p := recover(); p != nil {
			rec, err = ingest.Record{}, fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}
