package workspace_fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/davarch/aerotiles/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	rawDir         = "tifs_original"
	shapesDir      = "shape_files"
	tempDir        = "temp_files"
	locksDir       = "locks"
	croppedDir     = "cropped_tifs"
	colorDir       = "rgb_tifs"
	reprojectedDir = "reprojected_tifs"
	mosaicDir      = "virtual_raster"
)

// Workspace owns the on-disk layout under a root and the published tile root.
type Workspace struct {
	log    *zap.Logger
	root   string
	charts string

	mu   sync.Mutex
	held map[domain.ChartType]bool
}

func New(l *zap.Logger, root, charts string) *Workspace {
	return &Workspace{log: l, root: root, charts: charts, held: map[domain.ChartType]bool{}}
}

func (w *Workspace) Root() string { return w.root }

func (w *Workspace) ChartsRoot() string { return w.charts }

func (w *Workspace) Paths(chart domain.ChartType) domain.WorkspacePaths {
	key := chart.Key()
	tmp := filepath.Join(w.root, tempDir, key)
	return domain.WorkspacePaths{
		Raw:         filepath.Join(w.root, rawDir, key),
		Shapes:      filepath.Join(w.root, shapesDir, key),
		Cropped:     filepath.Join(tmp, croppedDir),
		Color:       filepath.Join(tmp, colorDir),
		Reprojected: filepath.Join(tmp, reprojectedDir),
		Mosaic:      filepath.Join(tmp, mosaicDir),
		Published:   filepath.Join(w.charts, chart.Slug()),
	}
}

// Prepare creates every directory a run writes to. The published directory
// itself is created by Publish; only its parent is made here.
func (w *Workspace) Prepare(p domain.WorkspacePaths) error {
	dirs := append([]string{p.Raw, p.Shapes, filepath.Dir(p.Published)}, p.Intermediates()...)
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("prepare %s: %w", d, err)
		}
	}
	return nil
}

func (w *Workspace) CleanIntermediates(p domain.WorkspacePaths) error {
	return Clean(p.Intermediates()...)
}

// MissingPublished returns the charts whose published directory does not exist.
func (w *Workspace) MissingPublished(charts []domain.ChartType) []domain.ChartType {
	var out []domain.ChartType
	for _, c := range charts {
		fi, err := os.Stat(filepath.Join(w.charts, c.Slug()))
		if err != nil || !fi.IsDir() {
			out = append(out, c)
		}
	}
	return out
}

// Lock guards a chart's workspace against a second writer, in this process
// and across processes sharing the root. The returned func releases it.
func (w *Workspace) Lock(chart domain.ChartType) (func(), error) {
	w.mu.Lock()
	if w.held[chart] {
		w.mu.Unlock()
		return nil, domain.ErrRunInProgress
	}
	w.held[chart] = true
	w.mu.Unlock()

	release := func() {
		w.mu.Lock()
		delete(w.held, chart)
		w.mu.Unlock()
	}

	dir := filepath.Join(w.root, locksDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		release()
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, chart.Key()+".lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		release()
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		release()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, domain.ErrRunInProgress
		}
		return nil, err
	}

	return func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		release()
	}, nil
}

// StagingDir is a hidden sibling of the published directory, on the same
// filesystem so Publish can rename it into place.
func (w *Workspace) StagingDir(chart domain.ChartType, runID uuid.UUID) string {
	return filepath.Join(w.charts, "."+chart.Slug()+"-"+runID.String())
}

func (w *Workspace) Publish(staging, published string) error {
	return Publish(w.log, staging, published)
}

// Publish swaps staging into published. The previous tree is moved to a
// hidden sibling first and removed only after the new one is in place.
func Publish(l *zap.Logger, staging, published string) error {
	if _, err := os.Stat(staging); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	old := ""
	if _, err := os.Stat(published); err == nil {
		old = retiredDir(published)
		if err := os.Rename(published, old); err != nil {
			return fmt.Errorf("publish: move current aside: %w", err)
		}
	}

	if err := os.Rename(staging, published); err != nil {
		if old != "" {
			_ = os.Rename(old, published)
		}
		return fmt.Errorf("publish: %w", err)
	}

	if old != "" {
		if err := os.RemoveAll(old); err != nil {
			l.Warn("previous tile tree not removed", zap.String("dir", old), zap.Error(err))
		}
	}
	return nil
}

// retiredDir names the hidden directory the current tree moves to during a swap.
func retiredDir(published string) string {
	return filepath.Join(filepath.Dir(published), "."+filepath.Base(published)+".old-"+uuid.NewString())
}

// Clean empties each directory root and keeps the root itself. A path naming
// a regular file is removed. Missing paths are ignored.
func Clean(paths ...string) error {
	var errs []error
	for _, p := range paths {
		fi, err := os.Lstat(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !fi.IsDir() {
			if err := os.Remove(p); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		entries, err := os.ReadDir(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, e := range entries {
			if err := os.RemoveAll(filepath.Join(p, e.Name())); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
