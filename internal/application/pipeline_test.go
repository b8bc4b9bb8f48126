package application

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/davarch/aerotiles/internal/domain"
	"github.com/davarch/aerotiles/internal/infrastructure/workspace_fs"
	"go.uber.org/zap"
)

func preparedPaths(t *testing.T, chart domain.ChartType) (domain.WorkspacePaths, string) {
	t.Helper()
	root := t.TempDir()
	ws := workspace_fs.New(zap.NewNop(), root, filepath.Join(root, "charts"))
	p := ws.Paths(chart)
	if err := ws.Prepare(p); err != nil {
		t.Fatal(err)
	}
	return p, filepath.Join(root, "charts", ".staging")
}

func newTestExecutor(tool domain.RasterTool) *Executor {
	return NewExecutor(zap.NewNop(), tool, ExecutorOptions{Workers: 3, Zoom: domain.ZoomRange{Min: 0, Max: 1}})
}

func TestExecute_CropSkipsCellWithoutShape(t *testing.T) {
	p, staging := preparedPaths(t, domain.Sectional)
	writeFile(t, filepath.Join(p.Raw, "Seattle.tif"), "seattle")
	writeFile(t, filepath.Join(p.Raw, "Denver.tif"), "denver")
	writeFile(t, filepath.Join(p.Shapes, "Seattle", "Seattle.shp"), "shape")
	_ = os.MkdirAll(filepath.Join(p.Shapes, "Denver"), 0o755)

	tool := &domain.MockRasterTool{}
	run := domain.NewPipelineRun(domain.Sectional, edition)

	if err := newTestExecutor(tool).Execute(context.Background(), run, p, staging); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tool.CallCount("crop") != 1 {
		t.Errorf("expected 1 crop, got %d", tool.CallCount("crop"))
	}
	if tool.CallCount("warp") != 1 {
		t.Errorf("only the cropped raster should be reprojected, got %d", tool.CallCount("warp"))
	}
	if run.Failed() != 1 {
		t.Errorf("expected the shapeless cell recorded as failed, got %d", run.Failed())
	}
	if _, err := os.Stat(filepath.Join(staging, "1", "0", "0.png")); err != nil {
		t.Errorf("tiles not rendered: %v", err)
	}
}

func TestExecute_CropSkipsRasterWithoutShapeFolder(t *testing.T) {
	p, staging := preparedPaths(t, domain.Sectional)
	writeFile(t, filepath.Join(p.Raw, "Seattle.tif"), "seattle")
	writeFile(t, filepath.Join(p.Raw, "Denver.tif"), "denver")
	writeFile(t, filepath.Join(p.Shapes, "Seattle", "Seattle.shp"), "shape")

	tool := &domain.MockRasterTool{}
	run := domain.NewPipelineRun(domain.Sectional, edition)
	if err := newTestExecutor(tool).Execute(context.Background(), run, p, staging); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tool.CallCount("crop") != 1 {
		t.Errorf("expected 1 crop, got %d", tool.CallCount("crop"))
	}

	var skipped []string
	for _, o := range run.Outcomes() {
		if o.Stage == domain.StageCrop && o.Err != nil {
			skipped = append(skipped, o.Unit)
		}
	}
	if len(skipped) != 1 || skipped[0] != "Denver.tif" {
		t.Errorf("expected Denver.tif recorded as skipped, got %v", skipped)
	}
}

func TestExecute_UnitFailureDoesNotFailRun(t *testing.T) {
	p, staging := preparedPaths(t, domain.TerminalArea)
	writeFile(t, filepath.Join(p.Raw, "Denver TAC.tif"), "d")
	writeFile(t, filepath.Join(p.Raw, "Seattle TAC.tif"), "s")

	tool := &domain.MockRasterTool{Fail: map[string]bool{"Denver TAC.tif": true}}
	run := domain.NewPipelineRun(domain.TerminalArea, edition)

	if err := newTestExecutor(tool).Execute(context.Background(), run, p, staging); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tool.CallCount("crop") != 0 {
		t.Errorf("terminal area charts are not cropped")
	}
	if run.Failed() != 1 {
		t.Errorf("expected 1 failed unit, got %d", run.Failed())
	}

	var serr *domain.StageToolError
	for _, o := range run.Outcomes() {
		if o.Err != nil && !errors.As(o.Err, &serr) {
			t.Errorf("expected StageToolError, got %v", o.Err)
		}
	}
	b, err := os.ReadFile(p.MosaicFile())
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "mosaic|warp-EPSG:3857|expand-rgba|s" {
		t.Errorf("mosaic built from unexpected inputs: %q", b)
	}
}

func TestExecute_EnrouteSkipsColor(t *testing.T) {
	p, staging := preparedPaths(t, domain.IFREnrouteHigh)
	writeFile(t, filepath.Join(p.Raw, "enr_h01.tif"), "h")
	writeFile(t, filepath.Join(p.Shapes, "enr_h01", "enr_h01.shp"), "shape")

	tool := &domain.MockRasterTool{}
	run := domain.NewPipelineRun(domain.IFREnrouteHigh, edition)
	if err := newTestExecutor(tool).Execute(context.Background(), run, p, staging); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tool.CallCount("expand") != 0 || tool.CallCount("crop") != 1 {
		t.Errorf("unexpected calls %v", tool.Calls)
	}
}

func TestExecute_EmptyInputIsNoOutputs(t *testing.T) {
	p, staging := preparedPaths(t, domain.Helicopter)

	run := domain.NewPipelineRun(domain.Helicopter, edition)
	err := newTestExecutor(&domain.MockRasterTool{}).Execute(context.Background(), run, p, staging)
	if !errors.Is(err, domain.ErrNoOutputs) {
		t.Fatalf("expected ErrNoOutputs, got %v", err)
	}
	if _, err := os.Stat(staging); !os.IsNotExist(err) {
		t.Errorf("no tiles should be rendered")
	}
}

func TestExecute_StoppedBeforeStart(t *testing.T) {
	p, staging := preparedPaths(t, domain.TerminalArea)
	writeFile(t, filepath.Join(p.Raw, "Seattle TAC.tif"), "s")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tool := &domain.MockRasterTool{}
	run := domain.NewPipelineRun(domain.TerminalArea, edition)
	if err := newTestExecutor(tool).Execute(ctx, run, p, staging); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(tool.Calls) != 0 {
		t.Errorf("no tool call expected after stop, got %v", tool.Calls)
	}
}
