package cli

import (
	"context"
	"net"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/davarch/aerotiles/internal/application"
	"github.com/davarch/aerotiles/internal/domain"
	"github.com/davarch/aerotiles/internal/infrastructure/config"
	"github.com/davarch/aerotiles/internal/infrastructure/supervisor"
	"github.com/davarch/aerotiles/internal/infrastructure/tileserver"
	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveTestDate string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Bootstrap missing charts, follow the update calendar and serve tiles",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		log := newLogger(cfg, serveTestDate != "")
		defer func() { _ = log.Sync() }()

		runner, tool, err := buildRunner(cfg, log)
		if err != nil {
			log.Fatal("wiring", zap.Error(err))
		}
		if err := tool.CheckDependencies(); err != nil {
			log.Fatal("dependencies", zap.Error(err))
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		if serveTestDate != "" {
			date, err := domain.ParseDate(serveTestDate)
			if err != nil {
				log.Fatal("test date", zap.Error(err))
			}
			log.Info("test pass", zap.String("date", serveTestDate))
			if err := printRuns(cmd.OutOrStdout(), runner.RunPass(ctx, date)); err != nil {
				log.Error("test pass", zap.Error(err))
			}
			return
		}

		sched := application.NewScheduler(log, runner, cfg.Calendar, application.SchedulerOptions{
			Every: cfg.Scheduler.CheckInterval,
			Hour:  cfg.Scheduler.CheckHour,
		})

		tiles := supervisor.NewHTTPService(log, "tile-server",
			net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
			tileserver.NewRouter(log, tileserver.Options{
				Root:        cfg.Paths.Charts,
				Charts:      domain.AllChartTypes(),
				CORSOrigins: cfg.Server.CORSOrigins,
				RateLimit:   cfg.Server.RateLimit.Requests,
				RateWindow:  cfg.Server.RateLimit.Window,
			}),
			10*time.Second,
		)
		if err := tiles.Listen(); err != nil {
			log.Fatal("tile server", zap.Error(err))
		}
		for _, c := range runner.EnabledCharts() {
			log.Info("chart tiles",
				zap.String("chart", string(c)),
				zap.String("url", tileserver.URLTemplate("http://"+tiles.Addr(), c)),
			)
		}

		tree := supervisor.NewTree(log, supervisor.TreeConfig{})
		tree.Add(tiles)

		if cfg.Metrics.Addr != "" {
			m := supervisor.NewHTTPService(log, "metrics", cfg.Metrics.Addr, promhttp.Handler(), 5*time.Second)
			if err := m.Listen(); err != nil {
				log.Fatal("metrics server", zap.Error(err))
			}
			tree.Add(m)
		}

		var bootstrap sync.Once
		tree.Add(supervisor.NewLoop("scheduler", func(ctx context.Context) {
			bootstrap.Do(func() { sched.Bootstrap(ctx) })
			sched.Run(ctx)
		}))

		watchAndReload(ctx, cfgPath, log, sched, runner)

		log.Info("start",
			zap.String("version", version),
			zap.String("addr", tiles.Addr()),
			zap.Int("charts", len(runner.EnabledCharts())),
			zap.Int("update_dates", cfg.Calendar.Len()),
			zap.Duration("check_every", cfg.Scheduler.CheckInterval),
			zap.String("root", cfg.Paths.Root),
		)
		if err := tree.Serve(ctx); err != nil {
			log.Error("supervisor", zap.Error(err))
		}
		log.Info("stopped")
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveTestDate, "test-date", "", "run one pass for MM-DD-YYYY and exit")
	rootCmd.AddCommand(serveCmd)
}

// watchAndReload pushes calendar and chart source changes from the config
// file into the running scheduler and runner. A broken file is logged and
// the previous config stays active.
func watchAndReload(ctx context.Context, cfgPath string, log *zap.Logger, sched *application.Scheduler, runner *application.Runner) {
	if cfgPath == "" {
		return
	}

	dir := filepath.Dir(cfgPath)
	base := filepath.Base(cfgPath)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("fsnotify init failed", zap.Error(err))
		return
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		log.Warn("fsnotify add dir failed", zap.String("dir", dir), zap.Error(err))
		return
	}

	reload := func() {
		next, err := config.Load(cfgPath)
		if err != nil {
			log.Warn("config reload failed", zap.Error(err))
			return
		}
		if len(next.EnabledCharts()) == 0 {
			log.Warn("config reload: no enabled charts")
		}
		sched.UpdateCalendar(next.Calendar)
		runner.UpdateSources(next.Sources())
	}

	go func() {
		defer func() { _ = w.Close() }()

		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer == nil {
					timer = time.AfterFunc(300*time.Millisecond, reload)
				} else {
					timer.Reset(300 * time.Millisecond)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("fsnotify error", zap.Error(err))
			}
		}
	}()
}
