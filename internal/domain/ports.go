package domain

import (
	"context"

	"github.com/google/uuid"
)

type ZoomRange struct {
	Min int
	Max int
}

// RasterTool is the fixed contract with the external raster-processing tool.
// Every call is one process; a non-nil error fails that unit only.
type RasterTool interface {
	CutlineCrop(ctx context.Context, src, boundary, dst string) error
	BandExpand(ctx context.Context, src, dst string, mode ColorMode, nodata *int) error
	Warp(ctx context.Context, src, dst, targetSRS string, nodata int) error
	BuildMosaic(ctx context.Context, dst string, srcs []string) error
	RenderTiles(ctx context.Context, mosaic, outDir string, zoom ZoomRange) error
}

type Downloader interface {
	Download(ctx context.Context, url, dst string) error
}

// Extractor unpacks the archive members accepted by keep into dir and returns
// the extracted file paths.
type Extractor interface {
	Extract(archive, dir string, keep func(name string) bool) ([]string, error)
}

type RunRecorder interface {
	Record(ctx context.Context, run *PipelineRun) error
}

type Mirror interface {
	Mirror(ctx context.Context, chart ChartType, dir string) error
}

type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

// Workspace is the on-disk layout of one deployment. Lock returns a release
// func; a busy chart yields ErrRunInProgress.
type Workspace interface {
	Paths(chart ChartType) WorkspacePaths
	Prepare(p WorkspacePaths) error
	CleanIntermediates(p WorkspacePaths) error
	MissingPublished(charts []ChartType) []ChartType
	Lock(chart ChartType) (func(), error)
	StagingDir(chart ChartType, runID uuid.UUID) string
	Publish(staging, published string) error
}
