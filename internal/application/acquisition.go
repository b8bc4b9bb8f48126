package application

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/davarch/aerotiles/internal/domain"
	"go.uber.org/zap"
)

type Acquirer struct {
	log *zap.Logger
	dl  domain.Downloader
	ex  domain.Extractor
}

func NewAcquirer(l *zap.Logger, dl domain.Downloader, ex domain.Extractor) *Acquirer {
	return &Acquirer{log: l, dl: dl, ex: ex}
}

// Acquire fetches one archive per area and moves its rasters into targetDir.
// Failed areas are logged and returned as outcomes; only a targetDir that
// cannot be created is an error.
func (a *Acquirer) Acquire(ctx context.Context, chart domain.ChartType, src domain.ChartSource, date time.Time, targetDir string) (int, []domain.UnitOutcome, error) {
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return 0, nil, fmt.Errorf("acquire %s: %w", chart, err)
	}

	lower := domain.PolicyFor(chart).LowercaseNames
	var (
		total    int
		outcomes []domain.UnitOutcome
	)
	for _, area := range src.Areas {
		if err := ctx.Err(); err != nil {
			return total, outcomes, err
		}

		n, err := a.fetch(ctx, src.AreaURL(date, area), targetDir, isRaster, lower)
		outcomes = append(outcomes, domain.UnitOutcome{Stage: domain.StageAcquire, Unit: area, Err: err})
		if err != nil {
			a.log.Warn("area skipped",
				zap.String("chart", string(chart)),
				zap.String("area", area),
				zap.Error(err),
			)
			continue
		}
		a.log.Info("area acquired",
			zap.String("chart", string(chart)),
			zap.String("area", area),
			zap.Int("rasters", n),
		)
		total += n
	}

	return total, outcomes, nil
}

// AcquireBundle fetches the single bundle archive and keeps only the rasters
// selected by the source's bundle filter.
func (a *Acquirer) AcquireBundle(ctx context.Context, chart domain.ChartType, src domain.ChartSource, date time.Time, targetDir string) (int, []domain.UnitOutcome, error) {
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return 0, nil, fmt.Errorf("acquire %s: %w", chart, err)
	}
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	var filter domain.BundleFilter
	if src.Bundle != nil {
		filter = *src.Bundle
	}
	keep := func(name string) bool { return len(SelectBundleMembers([]string{name}, filter)) == 1 }

	url := src.BundleURL(date)
	n, err := a.fetch(ctx, url, targetDir, keep, domain.PolicyFor(chart).LowercaseNames)
	out := []domain.UnitOutcome{{Stage: domain.StageAcquire, Unit: filepath.Base(url), Err: err}}
	if err != nil {
		a.log.Warn("bundle skipped", zap.String("chart", string(chart)), zap.String("url", url), zap.Error(err))
		return 0, out, nil
	}
	a.log.Info("bundle acquired", zap.String("chart", string(chart)), zap.Int("rasters", n))
	return n, out, nil
}

// SelectBundleMembers keeps raster names containing include and not exclude.
// An empty include matches everything; an empty exclude matches nothing.
func SelectBundleMembers(names []string, f domain.BundleFilter) []string {
	var out []string
	for _, n := range names {
		if !isRaster(n) {
			continue
		}
		if f.Include != "" && !strings.Contains(n, f.Include) {
			continue
		}
		if f.Exclude != "" && strings.Contains(n, f.Exclude) {
			continue
		}
		out = append(out, n)
	}
	return out
}

func isRaster(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".tif")
}

// fetch downloads url and extracts the kept members into targetDir. The
// scratch directory sits next to targetDir so the final move is a rename.
func (a *Acquirer) fetch(ctx context.Context, url, targetDir string, keep func(string) bool, lower bool) (int, error) {
	tmp, err := os.MkdirTemp(filepath.Dir(targetDir), ".acquire-*")
	if err != nil {
		return 0, err
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	archive := filepath.Join(tmp, "archive.zip")
	if err := a.dl.Download(ctx, url, archive); err != nil {
		return 0, err
	}

	files, err := a.ex.Extract(archive, filepath.Join(tmp, "x"), keep)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, f := range files {
		name := filepath.Base(f)
		if lower {
			name = strings.ToLower(name)
		}
		if err := os.Rename(f, filepath.Join(targetDir, name)); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
