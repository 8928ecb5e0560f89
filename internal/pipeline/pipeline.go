// Package pipeline runs one harvesting pass: read the registry, fan the
// (collector, source) tasks out to a bounded worker pool, deduplicate the
// results and hand them to the writer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/reg-radar/internal/collector"
	"github.com/JakeFAU/reg-radar/internal/dedup"
	"github.com/JakeFAU/reg-radar/internal/ingest"
	"github.com/JakeFAU/reg-radar/internal/metrics"
	"github.com/JakeFAU/reg-radar/internal/radar"
	"github.com/JakeFAU/reg-radar/internal/store"
)

// Defaults applied by New.
const (
	DefaultConcurrency  = 4
	DefaultWriteTimeout = 2 * time.Minute
)

// Options select what a single run covers.
type Options struct {
	Limit   int
	Only    radar.CollectorType
	Country radar.Country
	DryRun  bool
}

// Config tunes the worker pool.
type Config struct {
	Concurrency int
	// WriteTimeout bounds the write and run-log phase once the run context
	// has been cancelled.
	WriteTimeout time.Duration
}

// Collection is the deduplicated output of the collect phase.
type Collection struct {
	Sources   []radar.Source
	Items     []radar.IngestItem
	Tasks     int
	OK        int
	Failed    int
	Skipped   int
	Dedup     dedup.Stats
	Cancelled bool
}

// Result describes a finished run.
type Result struct {
	RunID string
	Collection
	Write ingest.Result
	Notes string
}

// Pipeline wires the registry, collectors, writer and run log together.
type Pipeline struct {
	registry   store.SourceRegistry
	collectors []collector.Collector
	writer     *ingest.Writer
	runs       store.RunLog
	ids        radar.IDGenerator
	clock      radar.Clock
	logger     *zap.Logger
	cfg        Config
}

// New validates dependencies. runs may be nil only for pipelines that are
// always run dry.
func New(
	registry store.SourceRegistry,
	collectors []collector.Collector,
	writer *ingest.Writer,
	runs store.RunLog,
	ids radar.IDGenerator,
	clock radar.Clock,
	logger *zap.Logger,
	cfg Config,
) (*Pipeline, error) {
	if registry == nil {
		return nil, fmt.Errorf("source registry is required")
	}
	if len(collectors) == 0 {
		return nil, fmt.Errorf("at least one collector is required")
	}
	if ids == nil || clock == nil {
		return nil, fmt.Errorf("id generator and clock are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	return &Pipeline{
		registry:   registry,
		collectors: orderCollectors(collectors),
		writer:     writer,
		runs:       runs,
		ids:        ids,
		clock:      clock,
		logger:     logger,
		cfg:        cfg,
	}, nil
}

// orderCollectors sorts into rss, html, pdf pass order; unknown types keep
// their relative order after the known ones.
func orderCollectors(in []collector.Collector) []collector.Collector {
	out := make([]collector.Collector, 0, len(in))
	for _, t := range radar.CollectorTypes {
		for _, c := range in {
			if c.Type() == t {
				out = append(out, c)
			}
		}
	}
	for _, c := range in {
		known := false
		for _, t := range radar.CollectorTypes {
			known = known || c.Type() == t
		}
		if !known {
			out = append(out, c)
		}
	}
	return out
}

// Run executes a full pass and records it in the run log unless opts.DryRun.
// Cancellation still writes what finished and returns the context error.
func (p *Pipeline) Run(ctx context.Context, opts Options) (Result, error) {
	start := p.clock.Now()
	var res Result

	if !opts.DryRun {
		if p.writer == nil || p.runs == nil {
			return res, fmt.Errorf("writer and run log are required outside dry-run")
		}
		id, err := p.ids.NewID()
		if err != nil {
			return res, fmt.Errorf("new run id: %w", err)
		}
		res.RunID = id
		if err := p.runs.StartRun(ctx, radar.RunRecord{ID: id, RunType: radar.RunTypePipeline, StartedAt: start}); err != nil {
			return res, fmt.Errorf("start run: %w", err)
		}
	}

	col, err := p.Collect(ctx, opts)
	res.Collection = col
	if err != nil {
		p.finish(ctx, &res, opts, start, err)
		return res, err
	}
	if len(col.Sources) == 0 {
		p.logger.Info("no active sources match the filter")
		res.Notes = "no-sources"
		p.finish(ctx, &res, opts, start, nil)
		return res, nil
	}

	writeCtx := ctx
	if col.Cancelled {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), p.cfg.WriteTimeout)
		defer cancel()
	}
	if p.writer != nil {
		res.Write, err = p.writer.Write(writeCtx, col.Items, opts.DryRun)
		if err != nil {
			err = fmt.Errorf("write items: %w", err)
			p.finish(ctx, &res, opts, start, err)
			return res, err
		}
	}

	res.Notes = summaryNotes(res)
	p.finish(ctx, &res, opts, start, nil)
	if col.Cancelled {
		return res, fmt.Errorf("run cancelled: %w", context.Cause(ctx))
	}
	return res, nil
}

func summaryNotes(res Result) string {
	notes := fmt.Sprintf("sources=%d tasks=%d items=%d inserted=%d updated=%d write_failed=%d",
		len(res.Sources), res.Tasks, len(res.Items), res.Write.Inserted, res.Write.Updated, res.Write.Failed)
	if res.Cancelled {
		notes = "cancelled; " + notes
	}
	return notes
}

// finish closes the run record. It runs on a detached context so a
// cancelled run still leaves a finished_at behind.
func (p *Pipeline) finish(ctx context.Context, res *Result, opts Options, start time.Time, runErr error) {
	okCount, failCount := res.OK, res.Failed
	status := "ok"
	if runErr != nil {
		failCount++
		res.Notes = "fatal: " + runErr.Error()
		status = "fatal"
	} else if res.Cancelled {
		status = "cancelled"
	}
	end := p.clock.Now()
	metrics.ObserveRun(radar.RunTypePipeline, status, end.Sub(start))

	p.logger.Info("pipeline summary",
		zap.String("run_id", res.RunID),
		zap.Int("ok", okCount),
		zap.Int("fail", failCount),
		zap.Int("items", len(res.Items)),
		zap.Bool("dry_run", opts.DryRun),
		zap.String("notes", res.Notes),
	)
	if opts.DryRun || res.RunID == "" {
		return
	}

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.WriteTimeout)
	defer cancel()
	notes := res.Notes
	run := radar.RunRecord{
		ID:         res.RunID,
		RunType:    radar.RunTypePipeline,
		StartedAt:  start,
		FinishedAt: &end,
		OKCount:    okCount,
		FailCount:  failCount,
		Notes:      &notes,
	}
	if err := p.runs.FinishRun(finishCtx, run); err != nil {
		p.logger.Error("finish run failed", zap.String("run_id", res.RunID), zap.Error(err))
	}
}

// Collect reads the registry and runs every applicable (collector, source)
// task. Only a registry failure is returned as an error; task failures are
// counted. Items are deduplicated first-wins in pass, priority and
// within-source order.
func (p *Pipeline) Collect(ctx context.Context, opts Options) (Collection, error) {
	var col Collection
	sources, err := p.registry.ActiveSources(ctx, store.SourceQuery{
		Country: opts.Country,
		Only:    opts.Only,
		Limit:   opts.Limit,
	})
	if err != nil {
		return col, fmt.Errorf("load sources: %w", err)
	}
	col.Sources = sources
	if len(sources) == 0 {
		return col, nil
	}
	p.logger.Info("sources to process", zap.Int("count", len(sources)))

	tasks := p.plan(sources, opts.Only)
	col.Tasks = len(tasks)
	results := p.execute(ctx, tasks)

	var collected []radar.IngestItem
	for _, r := range results {
		switch {
		case !r.ran:
			col.Skipped++
		case r.err != nil:
			col.Failed++
		default:
			col.OK++
			collected = append(collected, r.items...)
		}
	}
	col.Cancelled = ctx.Err() != nil
	col.Items, col.Dedup = dedup.Items(collected)
	p.logger.Info("collection finished",
		zap.Int("tasks", col.Tasks),
		zap.Int("ok", col.OK),
		zap.Int("failed", col.Failed),
		zap.Int("skipped", col.Skipped),
		zap.Int("items_in", col.Dedup.In),
		zap.Int("items_out", col.Dedup.Out),
		zap.Int("unusable", col.Dedup.Unusable),
		zap.Int("duplicates", col.Dedup.Duplicates),
	)
	return col, nil
}

type task struct {
	collector collector.Collector
	source    radar.Source
}

type taskResult struct {
	items []radar.IngestItem
	err   error
	ran   bool
}

func (p *Pipeline) plan(sources []radar.Source, only radar.CollectorType) []task {
	var tasks []task
	for _, c := range p.collectors {
		if only != "" && c.Type() != only {
			continue
		}
		for _, src := range sources {
			if c.Accepts(src) {
				tasks = append(tasks, task{collector: c, source: src})
			}
		}
	}
	return tasks
}

// execute fans tasks out to the worker pool. Results are stored by task
// index so the output order does not depend on scheduling.
func (p *Pipeline) execute(ctx context.Context, tasks []task) []taskResult {
	results := make([]taskResult, len(tasks))
	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := min(p.cfg.Concurrency, len(tasks))
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					continue
				}
				results[i] = p.runTask(ctx, tasks[i])
			}
		}()
	}
	for i := range tasks {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return results
}

func (p *Pipeline) runTask(ctx context.Context, t task) (res taskResult) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	typ := string(t.collector.Type())
	logger := p.logger.With(
		zap.String("collector", typ),
		zap.String("source", t.source.ID),
		zap.String("authority", t.source.Authority),
	)
	res.ran = true
	defer func() {
		if r := recover(); r != nil {
			res.items = nil
			res.err = fmt.Errorf("collector panic: %v", r)
			metrics.ObserveCollectorTask(typ, "panic", 0)
			logger.Error("collector panicked", zap.Any("panic", r))
		}
	}()

	items, err := t.collector.Collect(ctx, t.source)
	if err != nil {
		res.err = err
		result := "error"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			result = "cancelled"
		}
		metrics.ObserveCollectorTask(typ, result, 0)
		logger.Warn("collector failed", zap.Error(err))
		return res
	}
	res.items = items
	metrics.ObserveCollectorTask(typ, "ok", len(items))
	logger.Debug("collector finished", zap.Int("items", len(items)))
	return res
}
