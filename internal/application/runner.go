package application

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/davarch/aerotiles/internal/domain"
	"github.com/davarch/aerotiles/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

// RunnerHooks are the optional side effects of a finished chart run.
type RunnerHooks struct {
	Recorder domain.RunRecorder
	Mirror   domain.Mirror
	Notifier domain.Notifier
}

type Runner struct {
	log   *zap.Logger
	ws    domain.Workspace
	acq   *Acquirer
	exec  *Executor
	hooks RunnerHooks

	mu      sync.RWMutex
	sources map[domain.ChartType]domain.ChartSource
}

func NewRunner(l *zap.Logger, ws domain.Workspace, acq *Acquirer, exec *Executor, sources map[domain.ChartType]domain.ChartSource, hooks RunnerHooks) *Runner {
	return &Runner{
		log: l, ws: ws, acq: acq, exec: exec, hooks: hooks,
		sources: sources,
	}
}

func (r *Runner) UpdateSources(sources map[domain.ChartType]domain.ChartSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = sources
	r.log.Info("chart sources reloaded", zap.Int("charts", len(sources)))
}

// EnabledCharts lists the configured, not disabled charts in processing order.
func (r *Runner) EnabledCharts() []domain.ChartType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.ChartType
	for _, c := range domain.AllChartTypes() {
		if s, ok := r.sources[c]; ok && !s.Disabled {
			out = append(out, c)
		}
	}
	return out
}

func (r *Runner) MissingPublished() []domain.ChartType {
	return r.ws.MissingPublished(r.EnabledCharts())
}

// RunPass runs every enabled chart for date, one after another. A failed
// chart does not stop the pass; a done ctx does.
func (r *Runner) RunPass(ctx context.Context, date time.Time) []*domain.PipelineRun {
	var runs []*domain.PipelineRun
	for _, c := range r.EnabledCharts() {
		if ctx.Err() != nil {
			r.log.Info("pass stopped", zap.String("next_chart", string(c)))
			break
		}
		runs = append(runs, r.RunChart(ctx, c, date))
	}

	failed := 0
	for _, run := range runs {
		if !run.Succeeded() {
			failed++
		}
	}
	r.log.Info("pass finished",
		zap.String("date", domain.FormatDate(date)),
		zap.Int("charts", len(runs)),
		zap.Int("failed", failed),
	)
	return runs
}

func (r *Runner) RunChart(ctx context.Context, chart domain.ChartType, date time.Time) *domain.PipelineRun {
	run := domain.NewPipelineRun(chart, date)
	log := r.log.With(
		zap.String("chart", string(chart)),
		zap.String("date", domain.FormatDate(date)),
		zap.String("run", run.ID.String()),
	)

	err := r.runChart(ctx, run, log)
	run.Finish(err)

	if errors.Is(err, domain.ErrRunInProgress) {
		log.Warn("run skipped", zap.Error(err))
		return run
	}
	if err != nil {
		log.Error("run failed", zap.Error(err), zap.Int("unit_failures", run.Failed()))
	} else {
		log.Info("run finished",
			zap.Int("acquired", run.Acquired),
			zap.Int("unit_failures", run.Failed()),
			zap.Duration("took", run.Duration()),
		)
	}

	r.after(ctx, run, log)
	return run
}

func (r *Runner) runChart(ctx context.Context, run *domain.PipelineRun, log *zap.Logger) error {
	r.mu.RLock()
	src, ok := r.sources[run.Chart]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no source configured for %s", run.Chart)
	}

	unlock, err := r.ws.Lock(run.Chart)
	if err != nil {
		return err
	}
	defer unlock()

	p := r.ws.Paths(run.Chart)
	if err := r.ws.CleanIntermediates(p); err != nil {
		return fmt.Errorf("clean: %w", err)
	}
	if err := r.ws.Prepare(p); err != nil {
		return err
	}

	acquire := r.acq.Acquire
	if src.Bundle != nil {
		acquire = r.acq.AcquireBundle
	}
	n, outcomes, err := acquire(ctx, run.Chart, src, run.Date, p.Raw)
	run.Acquired = n
	for _, o := range outcomes {
		run.Record(o.Stage, o.Unit, o.Err)
		metrics.RecordUnit(string(run.Chart), string(o.Stage), o.Err)
	}
	if err != nil {
		return err
	}
	log.Info("acquired", zap.Int("rasters", n))

	staging := r.ws.StagingDir(run.Chart, run.ID)
	if err := r.exec.Execute(ctx, run, p, staging); err != nil {
		_ = os.RemoveAll(staging)
		return err
	}

	if err := r.ws.Publish(staging, p.Published); err != nil {
		_ = os.RemoveAll(staging)
		return err
	}
	log.Info("tiles published", zap.String("dir", p.Published))
	return nil
}

// after runs the side effects of a finished run. None of them changes its result.
func (r *Runner) after(ctx context.Context, run *domain.PipelineRun, log *zap.Logger) {
	metrics.RecordRun(string(run.Chart), run.Succeeded(), run.Duration())

	if r.hooks.Recorder != nil {
		if err := r.hooks.Recorder.Record(ctx, run); err != nil {
			log.Warn("run history not written", zap.Error(err))
		}
	}

	if r.hooks.Mirror != nil && run.Succeeded() {
		if err := r.hooks.Mirror.Mirror(ctx, run.Chart, r.ws.Paths(run.Chart).Published); err != nil {
			log.Warn("mirror failed", zap.Error(err))
		}
	}

	if r.hooks.Notifier != nil {
		if err := r.hooks.Notifier.Notify(ctx, titleFor(run), bodyFor(run)); err != nil {
			log.Warn("notify failed", zap.Error(err))
		}
	}
}

func titleFor(run *domain.PipelineRun) string {
	if run.Succeeded() {
		return "aerotiles: " + run.Chart.Slug() + " published"
	}
	return "aerotiles: " + run.Chart.Slug() + " failed"
}

func bodyFor(run *domain.PipelineRun) string {
	body := fmt.Sprintf("Edition %s, %d rasters, %d unit failures", domain.FormatDate(run.Date), run.Acquired, run.Failed())
	if run.Err != nil {
		body += ": " + run.Err.Error()
	}
	return body
}
