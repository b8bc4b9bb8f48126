package gdal_exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/davarch/aerotiles/internal/domain"
)

type Binaries struct {
	Gdalwarp      string
	GdalTranslate string
	Gdalbuildvrt  string
	Gdal2tiles    string
}

func DefaultBinaries() Binaries {
	return Binaries{
		Gdalwarp:      "gdalwarp",
		GdalTranslate: "gdal_translate",
		Gdalbuildvrt:  "gdalbuildvrt",
		Gdal2tiles:    "gdal2tiles.py",
	}
}

// Tool runs GDAL command line programs, one process per call.
type Tool struct {
	bin Binaries
	env []string
}

func New(bin Binaries) *Tool {
	return &Tool{
		bin: bin,
		env: append(os.Environ(), "GTIFF_SRS_SOURCE=EPSG"),
	}
}

// CheckDependencies reports every configured executable missing from PATH.
func (t *Tool) CheckDependencies() error {
	var missing []string
	for _, b := range []string{t.bin.Gdalwarp, t.bin.GdalTranslate, t.bin.Gdalbuildvrt, t.bin.Gdal2tiles} {
		if _, err := exec.LookPath(b); err != nil {
			missing = append(missing, b)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("raster tools not found on PATH: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (t *Tool) CutlineCrop(ctx context.Context, src, boundary, dst string) error {
	return t.run(ctx, "crop", src, t.bin.Gdalwarp,
		"-cutline", boundary,
		"-crop_to_cutline",
		src, dst,
	)
}

func (t *Tool) BandExpand(ctx context.Context, src, dst string, mode domain.ColorMode, nodata *int) error {
	args := []string{"-of", "GTiff", "-expand", string(mode)}
	if nodata != nil {
		args = append(args, "-a_nodata", strconv.Itoa(*nodata))
	}
	args = append(args, "-co", "COMPRESS=LZW", "-co", "TILED=YES", src, dst)
	return t.run(ctx, "expand", src, t.bin.GdalTranslate, args...)
}

func (t *Tool) Warp(ctx context.Context, src, dst, targetSRS string, nodata int) error {
	return t.run(ctx, "warp", src, t.bin.Gdalwarp,
		"-t_srs", targetSRS,
		"-dstnodata", strconv.Itoa(nodata),
		"-overwrite",
		src, dst,
	)
}

func (t *Tool) BuildMosaic(ctx context.Context, dst string, srcs []string) error {
	if len(srcs) == 0 {
		return domain.ErrNoOutputs
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return t.run(ctx, "mosaic", dst, t.bin.Gdalbuildvrt, append([]string{"-overwrite", dst}, srcs...)...)
}

func (t *Tool) RenderTiles(ctx context.Context, mosaic, outDir string, zoom domain.ZoomRange) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	return t.run(ctx, "tiles", mosaic, t.bin.Gdal2tiles,
		fmt.Sprintf("--zoom=%d-%d", zoom.Min, zoom.Max),
		mosaic, outDir,
	)
}

const stderrTail = 512

// run blocks until the process exits. Cancellation of ctx does not kill an
// in-flight process; callers stop scheduling new work instead.
func (t *Tool) run(ctx context.Context, op, unit, name string, args ...string) error {
	cmd := exec.CommandContext(context.WithoutCancel(ctx), name, args...)
	cmd.Env = t.env

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		code := -1
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			code = ee.ExitCode()
		}
		return &domain.StageToolError{
			Op:       op,
			Unit:     filepath.Base(unit),
			ExitCode: code,
			Stderr:   tail(stderr.String(), stderrTail),
			Err:      err,
		}
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
