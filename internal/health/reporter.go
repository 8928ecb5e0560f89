package health

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/reg-radar/internal/metrics"
	"github.com/JakeFAU/reg-radar/internal/notify"
	"github.com/JakeFAU/reg-radar/internal/radar"
	"github.com/JakeFAU/reg-radar/internal/staleness"
	"github.com/JakeFAU/reg-radar/internal/store"
)

// Options controls one health check.
type Options struct {
	Country         radar.Country
	MinSilenceHours int
	Overrides       map[string]int
	SinceHours      int
	MaxRows         int
	OnlyIfIssues    bool
	DryRun          bool
}

func (o Options) withDefaults() Options {
	if o.MinSilenceHours <= 0 {
		o.MinSilenceHours = staleness.DefaultThresholdHours
	}
	if o.SinceHours <= 0 {
		o.SinceHours = DefaultSinceHours
	}
	if o.MaxRows <= 0 {
		o.MaxRows = DefaultMaxRows
	}
	return o
}

// Outcome describes what a check did.
type Outcome struct {
	RunID      string
	Report     Report
	Sent       bool
	Suppressed bool
	Notes      string
}

// Reporter gathers, renders and delivers health reports.
type Reporter struct {
	items   store.ItemReader
	runs    store.RunLog
	channel notify.Channel
	ids     radar.IDGenerator
	clock   radar.Clock
	logger  *zap.Logger
}

// New validates dependencies.
func New(
	items store.ItemReader,
	runs store.RunLog,
	channel notify.Channel,
	ids radar.IDGenerator,
	clock radar.Clock,
	logger *zap.Logger,
) (*Reporter, error) {
	if items == nil || runs == nil {
		return nil, fmt.Errorf("item reader and run log are required")
	}
	if channel == nil {
		return nil, fmt.Errorf("notification channel is required")
	}
	if ids == nil || clock == nil {
		return nil, fmt.Errorf("id generator and clock are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{items: items, runs: runs, channel: channel, ids: ids, clock: clock, logger: logger}, nil
}

// Build gathers the report without sending or recording anything.
func (r *Reporter) Build(ctx context.Context, opts Options) (Report, error) {
	opts = opts.withDefaults()
	now := r.clock.Now()
	rep := Report{
		GeneratedAt:     now,
		Country:         opts.Country,
		SinceHours:      opts.SinceHours,
		MinSilenceHours: opts.MinSilenceHours,
		Overrides:       opts.Overrides,
	}

	pending, err := r.items.CountPendingEnrichment(ctx, opts.Country)
	if err != nil {
		return rep, fmt.Errorf("count pending: %w", err)
	}
	rep.Pending = pending

	since := now.Add(-time.Duration(opts.SinceHours) * time.Hour)
	failed, err := r.runs.FailedRunsSince(ctx, since)
	if err != nil {
		return rep, fmt.Errorf("failed runs: %w", err)
	}
	rep.FailedRuns = failed

	stamps, err := r.items.ItemStamps(ctx, opts.Country, opts.MaxRows)
	if err != nil {
		return rep, fmt.Errorf("item stamps: %w", err)
	}
	rep.Silent = staleness.Detect(stamps, now, staleness.Policy{
		DefaultHours: opts.MinSilenceHours,
		Overrides:    opts.Overrides,
	})
	return rep, nil
}

// Run performs a check end to end. A send failure is recorded in the run
// log and returned. Dry runs print the report and leave the run log alone.
func (r *Reporter) Run(ctx context.Context, opts Options) (Outcome, error) {
	start := r.clock.Now()
	var out Outcome

	if !opts.DryRun {
		id, err := r.ids.NewID()
		if err != nil {
			return out, fmt.Errorf("new run id: %w", err)
		}
		out.RunID = id
		if err := r.runs.StartRun(ctx, radar.RunRecord{ID: id, RunType: radar.RunTypeHealth, StartedAt: start}); err != nil {
			return out, fmt.Errorf("start run: %w", err)
		}
	}

	rep, err := r.Build(ctx, opts)
	out.Report = rep
	if err != nil {
		out.Notes = "fatal: " + err.Error()
		r.finish(ctx, &out, opts, start, 0, 1)
		return out, err
	}
	metrics.SetHealth(rep.Pending, len(rep.FailedRuns), len(rep.Silent))

	if opts.OnlyIfIssues && !rep.HasIssues() {
		out.Suppressed = true
		out.Notes = "no problems"
		metrics.ObserveNotification("suppressed")
		r.finish(ctx, &out, opts, start, 1, 0)
		return out, nil
	}

	msg := notify.Message{Subject: rep.Subject(), Text: rep.Body()}
	if err := r.channel.Send(ctx, msg, opts.DryRun); err != nil {
		metrics.ObserveNotification("failed")
		out.Notes = "send failed: " + err.Error()
		r.finish(ctx, &out, opts, start, 0, 1)
		return out, fmt.Errorf("send health report: %w", err)
	}
	out.Sent = !opts.DryRun
	if opts.DryRun {
		metrics.ObserveNotification("dry_run")
	} else {
		metrics.ObserveNotification("sent")
	}
	out.Notes = fmt.Sprintf("sent: fails=%d silent=%d", len(rep.FailedRuns), len(rep.Silent))
	r.finish(ctx, &out, opts, start, 1, 0)
	return out, nil
}

func (r *Reporter) finish(ctx context.Context, out *Outcome, opts Options, start time.Time, ok, fail int) {
	end := r.clock.Now()
	status := "ok"
	if fail > 0 {
		status = "failed"
	}
	metrics.ObserveRun(radar.RunTypeHealth, status, end.Sub(start))
	r.logger.Info("health check finished",
		zap.String("run_id", out.RunID),
		zap.Int("pending", out.Report.Pending),
		zap.Int("failed_runs", len(out.Report.FailedRuns)),
		zap.Int("silent", len(out.Report.Silent)),
		zap.Bool("dry_run", opts.DryRun),
		zap.String("notes", out.Notes),
	)
	if opts.DryRun || out.RunID == "" {
		return
	}
	notes := out.Notes
	run := radar.RunRecord{
		ID:         out.RunID,
		RunType:    radar.RunTypeHealth,
		StartedAt:  start,
		FinishedAt: &end,
		OKCount:    ok,
		FailCount:  fail,
		Notes:      &notes,
	}
	if err := r.runs.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		r.logger.Error("finish health run failed", zap.String("run_id", out.RunID), zap.Error(err))
	}
}
