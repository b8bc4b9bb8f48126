package workspace_fs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/davarch/aerotiles/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func write(t *testing.T, p, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestClean_KeepsRootRemovesContents(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "cropped")
	write(t, filepath.Join(dir, "a.tif"), "a")
	write(t, filepath.Join(dir, "sub", "b.tif"), "b")
	bare := filepath.Join(root, "combined.vrt")
	write(t, bare, "vrt")

	if err := Clean(dir, bare, filepath.Join(root, "missing")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("root removed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty dir, got %d entries", len(entries))
	}
	if _, err := os.Stat(bare); !os.IsNotExist(err) {
		t.Errorf("bare file should be removed")
	}
}

func TestPaths_Layout(t *testing.T) {
	ws := New(zap.NewNop(), "/data", "/data/charts")
	p := ws.Paths(domain.TerminalArea)

	if p.Raw != "/data/tifs_original/terminal_area" {
		t.Errorf("raw %s", p.Raw)
	}
	if p.Shapes != "/data/shape_files/terminal_area" {
		t.Errorf("shapes %s", p.Shapes)
	}
	if p.Mosaic != "/data/temp_files/terminal_area/virtual_raster" {
		t.Errorf("mosaic %s", p.Mosaic)
	}
	if p.Published != "/data/charts/terminal-area" {
		t.Errorf("published %s", p.Published)
	}
}

func TestCleanIntermediates_LeavesPublished(t *testing.T) {
	root := t.TempDir()
	ws := New(zap.NewNop(), root, filepath.Join(root, "charts"))
	p := ws.Paths(domain.Sectional)
	if err := ws.Prepare(p); err != nil {
		t.Fatal(err)
	}
	write(t, filepath.Join(p.Reprojected, "x.tif"), "x")
	write(t, filepath.Join(p.Published, "0", "0", "0.png"), "png")
	write(t, filepath.Join(p.Raw, "Seattle.tif"), "raw")

	if err := ws.CleanIntermediates(p); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(p.Reprojected, "x.tif")); !os.IsNotExist(err) {
		t.Errorf("intermediate not cleaned")
	}
	if _, err := os.Stat(filepath.Join(p.Published, "0", "0", "0.png")); err != nil {
		t.Errorf("published tile removed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(p.Raw, "Seattle.tif")); err != nil {
		t.Errorf("raw raster removed: %v", err)
	}
}

func TestMissingPublished(t *testing.T) {
	root := t.TempDir()
	ws := New(zap.NewNop(), root, filepath.Join(root, "charts"))
	_ = os.MkdirAll(filepath.Join(root, "charts", "sectional"), 0o755)

	got := ws.MissingPublished([]domain.ChartType{domain.Sectional, domain.Helicopter})
	if len(got) != 1 || got[0] != domain.Helicopter {
		t.Errorf("unexpected missing %v", got)
	}
}

func TestLock_SecondWriterRejected(t *testing.T) {
	ws := New(zap.NewNop(), t.TempDir(), t.TempDir())

	unlock, err := ws.Lock(domain.Sectional)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if _, err := ws.Lock(domain.Sectional); !errors.Is(err, domain.ErrRunInProgress) {
		t.Errorf("expected ErrRunInProgress, got %v", err)
	}

	other, err := ws.Lock(domain.Helicopter)
	if err != nil {
		t.Fatalf("other chart should lock: %v", err)
	}
	other()

	unlock()
	again, err := ws.Lock(domain.Sectional)
	if err != nil {
		t.Fatalf("relock after release: %v", err)
	}
	again()
}

func TestPublish_SwapsTree(t *testing.T) {
	charts := t.TempDir()
	ws := New(zap.NewNop(), t.TempDir(), charts)
	published := filepath.Join(charts, "sectional")
	write(t, filepath.Join(published, "3", "1", "1.png"), "old")

	staging := ws.StagingDir(domain.Sectional, uuid.New())
	write(t, filepath.Join(staging, "0", "0", "0.png"), "new")

	if err := Publish(zap.NewNop(), staging, published); err != nil {
		t.Fatalf("publish: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(published, "0", "0", "0.png"))
	if err != nil || string(b) != "new" {
		t.Fatalf("new tile not published: %v %q", err, b)
	}
	if _, err := os.Stat(filepath.Join(published, "3")); !os.IsNotExist(err) {
		t.Errorf("old tree still visible")
	}
	if _, err := os.Stat(staging); !os.IsNotExist(err) {
		t.Errorf("staging dir left behind")
	}

	entries, _ := os.ReadDir(charts)
	if len(entries) != 1 {
		t.Errorf("expected only the published dir, got %d entries", len(entries))
	}
}

func TestRetiredDir_HiddenSibling(t *testing.T) {
	published := filepath.Join("/srv", "charts", "sectional")
	old := retiredDir(published)

	if filepath.Dir(old) != filepath.Dir(published) {
		t.Errorf("retired tree must stay on the same filesystem level, got %s", old)
	}
	base := filepath.Base(old)
	if !strings.HasPrefix(base, ".sectional.old-") {
		t.Errorf("retired tree must be hidden from the tile server, got %s", base)
	}
}
