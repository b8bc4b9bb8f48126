package application

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/davarch/aerotiles/internal/domain"
	"github.com/davarch/aerotiles/internal/infrastructure/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type ExecutorOptions struct {
	Workers       int
	ToolRetries   int
	RetryInterval time.Duration
	TargetSRS     string
	Zoom          domain.ZoomRange
	RGBANoData    int
	WarpNoData    int
}

// Executor runs the stages of a chart's policy against its workspace.
type Executor struct {
	log  *zap.Logger
	tool domain.RasterTool
	opt  ExecutorOptions
}

func NewExecutor(l *zap.Logger, tool domain.RasterTool, opt ExecutorOptions) *Executor {
	if opt.Workers < 1 {
		opt.Workers = 1
	}
	if opt.RetryInterval <= 0 {
		opt.RetryInterval = 2 * time.Second
	}
	if opt.TargetSRS == "" {
		opt.TargetSRS = "EPSG:3857"
	}
	return &Executor{log: l, tool: tool, opt: opt}
}

type unit struct {
	name string
	fn   func(ctx context.Context) error
}

// Execute walks run.Stages from p.Raw, each stage reading the previous
// stage's output, and renders tiles into staging. Unit failures are recorded
// on run; a returned error fails the whole run.
func (e *Executor) Execute(ctx context.Context, run *domain.PipelineRun, p domain.WorkspacePaths, staging string) error {
	policy := domain.PolicyFor(run.Chart)
	input := p.Raw

	for _, stage := range run.Stages {
		if err := ctx.Err(); err != nil {
			return err
		}

		started := time.Now()
		var err error
		switch stage {
		case domain.StageCrop:
			err = e.crop(ctx, run, input, p.Shapes, p.Cropped)
			input = p.Cropped
		case domain.StageColor:
			err = e.color(ctx, run, input, p.Color, policy.Color)
			input = p.Color
		case domain.StageReproject:
			err = e.reproject(ctx, run, input, p.Reprojected)
			input = p.Reprojected
		case domain.StageMosaic:
			err = e.mosaic(ctx, run, input, p.MosaicFile())
		case domain.StageTile:
			err = e.tile(ctx, run, p.MosaicFile(), staging)
		default:
			err = fmt.Errorf("unknown stage %s", stage)
		}
		metrics.StageDuration.WithLabelValues(string(run.Chart), string(stage)).Observe(time.Since(started).Seconds())

		if err != nil {
			return fmt.Errorf("%s: %w", stage, err)
		}
		e.log.Info("stage finished",
			zap.String("chart", string(run.Chart)),
			zap.String("stage", string(stage)),
			zap.Duration("took", time.Since(started)),
		)
	}
	return nil
}

// crop pairs every shape cell with the raster of the same name. A cell
// missing either side is skipped.
func (e *Executor) crop(ctx context.Context, run *domain.PipelineRun, in, shapes, out string) error {
	cells, err := os.ReadDir(shapes)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	rasters, err := listRasters(in)
	if err != nil {
		return err
	}
	byCell := make(map[string]string, len(rasters))
	for _, r := range rasters {
		byCell[strings.ToLower(strings.TrimSuffix(filepath.Base(r), filepath.Ext(r)))] = r
	}

	var units []unit
	for _, c := range cells {
		if !c.IsDir() {
			continue
		}
		cell := c.Name()
		src, ok := byCell[strings.ToLower(cell)]
		delete(byCell, strings.ToLower(cell))
		shp, err := findShape(filepath.Join(shapes, cell))
		if err != nil {
			e.skip(run, domain.StageCrop, cell, err)
			continue
		}
		if !ok {
			e.skip(run, domain.StageCrop, cell, fmt.Errorf("no raster for cell %s", cell))
			continue
		}
		dst := filepath.Join(out, filepath.Base(src))
		units = append(units, unit{name: cell, fn: func(ctx context.Context) error {
			return e.tool.CutlineCrop(ctx, src, shp, dst)
		}})
	}

	for _, r := range rasters {
		if _, unclaimed := byCell[strings.ToLower(strings.TrimSuffix(filepath.Base(r), filepath.Ext(r)))]; unclaimed {
			e.skip(run, domain.StageCrop, filepath.Base(r), fmt.Errorf("no shape folder for %s", filepath.Base(r)))
		}
	}

	e.forEach(ctx, run, domain.StageCrop, units)
	return nil
}

func (e *Executor) color(ctx context.Context, run *domain.PipelineRun, in, out string, mode domain.ColorMode) error {
	var nodata *int
	if mode == domain.ColorRGBA {
		v := e.opt.RGBANoData
		nodata = &v
	}
	return e.each(ctx, run, domain.StageColor, in, out, func(ctx context.Context, src, dst string) error {
		return e.tool.BandExpand(ctx, src, dst, mode, nodata)
	})
}

func (e *Executor) reproject(ctx context.Context, run *domain.PipelineRun, in, out string) error {
	return e.each(ctx, run, domain.StageReproject, in, out, func(ctx context.Context, src, dst string) error {
		return e.tool.Warp(ctx, src, dst, e.opt.TargetSRS, e.opt.WarpNoData)
	})
}

func (e *Executor) mosaic(ctx context.Context, run *domain.PipelineRun, in, dst string) error {
	srcs, err := listRasters(in)
	if err != nil {
		return err
	}
	if len(srcs) == 0 {
		return domain.ErrNoOutputs
	}
	err = e.retry(ctx, func() error { return e.tool.BuildMosaic(ctx, dst, srcs) })
	e.record(run, domain.StageMosaic, filepath.Base(dst), err)
	return err
}

func (e *Executor) tile(ctx context.Context, run *domain.PipelineRun, mosaic, staging string) error {
	if _, err := os.Stat(mosaic); err != nil {
		return domain.ErrNoOutputs
	}
	err := e.retry(ctx, func() error { return e.tool.RenderTiles(ctx, mosaic, staging, e.opt.Zoom) })
	e.record(run, domain.StageTile, filepath.Base(staging), err)
	return err
}

// each maps every raster in `in` to a file of the same name in `out`.
func (e *Executor) each(ctx context.Context, run *domain.PipelineRun, stage domain.Stage, in, out string, fn func(ctx context.Context, src, dst string) error) error {
	srcs, err := listRasters(in)
	if err != nil {
		return err
	}
	units := make([]unit, 0, len(srcs))
	for _, src := range srcs {
		dst := filepath.Join(out, filepath.Base(src))
		units = append(units, unit{name: filepath.Base(src), fn: func(ctx context.Context) error {
			return fn(ctx, src, dst)
		}})
	}
	e.forEach(ctx, run, stage, units)
	return nil
}

// forEach runs units on at most Workers goroutines and returns once all have
// finished. No unit is started after ctx is done.
func (e *Executor) forEach(ctx context.Context, run *domain.PipelineRun, stage domain.Stage, units []unit) {
	var g errgroup.Group
	g.SetLimit(e.opt.Workers)

	for _, u := range units {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			err := e.retry(ctx, func() error { return u.fn(ctx) })
			e.record(run, stage, u.name, err)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Executor) retry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.opt.RetryInterval
	bo.MaxElapsedTime = 0

	var b backoff.BackOff = backoff.WithContext(bo, ctx)
	b = backoff.WithMaxRetries(b, uint64(e.opt.ToolRetries))

	return backoff.Retry(op, b)
}

func (e *Executor) record(run *domain.PipelineRun, stage domain.Stage, name string, err error) {
	run.Record(stage, name, err)
	metrics.RecordUnit(string(run.Chart), string(stage), err)
	if err != nil {
		e.log.Warn("unit failed",
			zap.String("chart", string(run.Chart)),
			zap.String("stage", string(stage)),
			zap.String("unit", name),
			zap.Error(err),
		)
	}
}

func (e *Executor) skip(run *domain.PipelineRun, stage domain.Stage, name string, err error) {
	run.Record(stage, name, err)
	metrics.RecordUnit(string(run.Chart), string(stage), err)
	e.log.Warn("unit skipped",
		zap.String("chart", string(run.Chart)),
		zap.String("stage", string(stage)),
		zap.String("unit", name),
		zap.Error(err),
	)
}

// listRasters returns the .tif files directly under dir, sorted. A missing
// dir has no rasters.
func listRasters(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && isRaster(e.Name()) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func findShape(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".shp") {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("no shapefile in %s", dir)
}
