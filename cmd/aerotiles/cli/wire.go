package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/davarch/aerotiles/internal/application"
	"github.com/davarch/aerotiles/internal/domain"
	"github.com/davarch/aerotiles/internal/infrastructure/archive_zip"
	"github.com/davarch/aerotiles/internal/infrastructure/config"
	"github.com/davarch/aerotiles/internal/infrastructure/faa_http"
	"github.com/davarch/aerotiles/internal/infrastructure/gdal_exec"
	"github.com/davarch/aerotiles/internal/infrastructure/logging"
	"github.com/davarch/aerotiles/internal/infrastructure/notify_exec"
	"github.com/davarch/aerotiles/internal/infrastructure/objectstore_minio"
	"github.com/davarch/aerotiles/internal/infrastructure/report_csv"
	"github.com/davarch/aerotiles/internal/infrastructure/workspace_fs"
	"go.uber.org/zap"
)

func newLogger(cfg config.Config, console bool) *zap.Logger {
	return logging.New(logging.Options{
		File:       cfg.Logging.File,
		Level:      cfg.Logging.Level,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Console:    console,
	})
}

func buildRunner(cfg config.Config, log *zap.Logger) (*application.Runner, *gdal_exec.Tool, error) {
	tool := gdal_exec.New(gdal_exec.Binaries{
		Gdalwarp:      cfg.Tools.Gdalwarp,
		GdalTranslate: cfg.Tools.GdalTranslate,
		Gdalbuildvrt:  cfg.Tools.Gdalbuildvrt,
		Gdal2tiles:    cfg.Tools.Gdal2tiles,
	})

	dl := faa_http.New(faa_http.Options{
		Timeout:         cfg.Download.Timeout,
		Retries:         cfg.Download.Retries,
		BreakerFailures: cfg.Download.BreakerFailures,
		BreakerCooldown: cfg.Download.BreakerCooldown,
	})

	exec := application.NewExecutor(log, tool, application.ExecutorOptions{
		Workers:     cfg.Pipeline.Workers,
		ToolRetries: cfg.Pipeline.ToolRetries,
		TargetSRS:   cfg.Pipeline.TargetSRS,
		Zoom:        domain.ZoomRange{Min: cfg.Pipeline.ZoomMin, Max: cfg.Pipeline.ZoomMax},
		RGBANoData:  cfg.Pipeline.RGBANoData,
		WarpNoData:  cfg.Pipeline.WarpNoData,
	})

	var hooks application.RunnerHooks
	if cfg.Report.Path != "" {
		hooks.Recorder = report_csv.New(cfg.Report.Path)
	}
	if cfg.Mirror.Enabled {
		m, err := objectstore_minio.New(log, objectstore_minio.Config{
			Endpoint:  cfg.Mirror.Endpoint,
			AccessKey: cfg.Mirror.AccessKey,
			SecretKey: cfg.Mirror.SecretKey,
			Region:    cfg.Mirror.Region,
			UseSSL:    cfg.Mirror.UseSSL,
			Bucket:    cfg.Mirror.Bucket,
			Prefix:    cfg.Mirror.Prefix,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("mirror: %w", err)
		}
		hooks.Mirror = m
	}
	if len(cfg.Notify.Command) > 0 {
		hooks.Notifier = notify_exec.NewSoft(cfg.Notify.Command)
	}

	runner := application.NewRunner(log,
		workspace_fs.New(log, cfg.Paths.Root, cfg.Paths.Charts),
		application.NewAcquirer(log, dl, archive_zip.New()),
		exec,
		cfg.Sources(),
		hooks,
	)
	return runner, tool, nil
}

// printRuns writes a pass summary and reports an error if any chart failed.
func printRuns(out io.Writer, runs []*domain.PipelineRun) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CHART\tRESULT\tRASTERS\tUNIT_FAILURES\tDURATION")
	failed := 0
	for _, r := range runs {
		res := "ok"
		if !r.Succeeded() {
			res = "failed: " + r.Err.Error()
			failed++
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", r.Chart, res, r.Acquired, r.Failed(), r.Duration().Round(time.Second))
	}
	_ = w.Flush()

	if failed > 0 {
		return fmt.Errorf("%d of %d charts failed", failed, len(runs))
	}
	return nil
}
