package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/davarch/aerotiles/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config %s: %v", e.Path, e.Err) }

func (e *ConfigError) Unwrap() error { return e.Err }

type Bundle struct {
	Include string `yaml:"include" validate:"required"`
	Exclude string `yaml:"exclude,omitempty"`
}

type ChartFiles struct {
	BaseURL  string   `yaml:"base_url" validate:"required,contains={date}"`
	Areas    []string `yaml:"areas,omitempty"`
	Bundle   *Bundle  `yaml:"bundle,omitempty"`
	Disabled bool     `yaml:"disabled,omitempty"`
}

type YearSchedule struct {
	Year  int      `yaml:"year"`
	Dates []string `yaml:"dates"`
}

type Config struct {
	ChartFiles map[string]ChartFiles `yaml:"chart_files" validate:"required,min=1,dive"`

	Server struct {
		Host        string   `yaml:"host" validate:"required"`
		Port        int      `yaml:"port" validate:"min=1,max=65535"`
		CORSOrigins []string `yaml:"cors_origins,omitempty"`
		RateLimit   struct {
			Requests int           `yaml:"requests"`
			Window   time.Duration `yaml:"window"`
		} `yaml:"rate_limit"`
	} `yaml:"server_config"`

	UpdateSchedule []YearSchedule `yaml:"update_schedule"`

	Paths struct {
		Root   string `yaml:"root" validate:"required"`
		Charts string `yaml:"charts" validate:"required"`
	} `yaml:"paths"`

	Logging struct {
		File       string `yaml:"file"`
		Level      string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
		MaxSizeMB  int    `yaml:"max_size_mb" validate:"min=1"`
		MaxBackups int    `yaml:"max_backups" validate:"min=0"`
		MaxAgeDays int    `yaml:"max_age_days" validate:"min=0"`
	} `yaml:"logging"`

	Pipeline struct {
		Workers     int    `yaml:"workers" validate:"min=1,max=64"`
		ToolRetries int    `yaml:"tool_retries" validate:"min=0,max=10"`
		TargetSRS   string `yaml:"target_srs" validate:"required"`
		ZoomMin     int    `yaml:"zoom_min" validate:"min=0,max=22"`
		ZoomMax     int    `yaml:"zoom_max" validate:"min=0,max=22,gtefield=ZoomMin"`
		RGBANoData  int    `yaml:"rgba_nodata" validate:"min=0,max=255"`
		WarpNoData  int    `yaml:"warp_nodata" validate:"min=0,max=255"`
	} `yaml:"pipeline"`

	Download struct {
		Timeout         time.Duration `yaml:"timeout"`
		Retries         int           `yaml:"retries" validate:"min=0,max=10"`
		BreakerFailures int           `yaml:"breaker_failures" validate:"min=1"`
		BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
	} `yaml:"download"`

	Tools struct {
		Gdalwarp      string `yaml:"gdalwarp" validate:"required"`
		GdalTranslate string `yaml:"gdal_translate" validate:"required"`
		Gdalbuildvrt  string `yaml:"gdalbuildvrt" validate:"required"`
		Gdal2tiles    string `yaml:"gdal2tiles" validate:"required"`
	} `yaml:"tools"`

	Scheduler struct {
		CheckInterval time.Duration `yaml:"check_interval"`
		CheckHour     int           `yaml:"check_hour" validate:"min=0,max=23"`
	} `yaml:"scheduler"`

	Metrics struct {
		Addr string `yaml:"addr,omitempty"`
	} `yaml:"metrics"`

	Report struct {
		Path string `yaml:"path"`
	} `yaml:"report"`

	Mirror struct {
		Enabled   bool   `yaml:"enabled"`
		Endpoint  string `yaml:"endpoint,omitempty" validate:"required_if=Enabled true,excludes=://"`
		AccessKey string `yaml:"access_key,omitempty"`
		SecretKey string `yaml:"secret_key,omitempty"`
		Region    string `yaml:"region,omitempty"`
		UseSSL    bool   `yaml:"use_ssl,omitempty"`
		Bucket    string `yaml:"bucket,omitempty" validate:"required_if=Enabled true"`
		Prefix    string `yaml:"prefix,omitempty"`
	} `yaml:"mirror"`

	Discovery struct {
		PageURL string `yaml:"page_url,omitempty" validate:"omitempty,url"`
	} `yaml:"discovery"`

	Notify struct {
		Command []string `yaml:"command,omitempty"`
	} `yaml:"notify"`

	Calendar domain.Calendar `yaml:"-"`

	// file holds the values environment overrides replaced, so Save writes
	// back what the file said rather than the process environment.
	file *overridable
}

type overridable struct {
	root, charts, host, logFile, metricsAddr, accessKey, secretKey string
	port                                                           int
}

func (c *Config) snapshot() *overridable {
	return &overridable{
		root: c.Paths.Root, charts: c.Paths.Charts, host: c.Server.Host,
		logFile: c.Logging.File, metricsAddr: c.Metrics.Addr,
		accessKey: c.Mirror.AccessKey, secretKey: c.Mirror.SecretKey,
		port: c.Server.Port,
	}
}

func (c Config) forSave() Config {
	if c.file == nil {
		return c
	}
	f := c.file
	c.Paths.Root, c.Paths.Charts, c.Server.Host = f.root, f.charts, f.host
	c.Logging.File, c.Metrics.Addr = f.logFile, f.metricsAddr
	c.Mirror.AccessKey, c.Mirror.SecretKey = f.accessKey, f.secretKey
	c.Server.Port = f.port
	return c
}

func defaults() Config {
	var c Config
	c.Server.Host = "0.0.0.0"
	c.Server.Port = 8187
	c.Server.CORSOrigins = []string{"*"}
	c.Server.RateLimit.Window = time.Minute
	c.Paths.Root = "data"
	c.Paths.Charts = "data/charts"
	c.Logging.File = "logs/aerotiles.log"
	c.Logging.Level = "info"
	c.Logging.MaxSizeMB = 10
	c.Logging.MaxBackups = 2
	c.Pipeline.Workers = runtime.NumCPU()
	c.Pipeline.ToolRetries = 1
	c.Pipeline.TargetSRS = "EPSG:3857"
	c.Pipeline.ZoomMin = 0
	c.Pipeline.ZoomMax = 10
	c.Pipeline.RGBANoData = 255
	c.Pipeline.WarpNoData = 0
	c.Download.Timeout = 10 * time.Minute
	c.Download.Retries = 3
	c.Download.BreakerFailures = 5
	c.Download.BreakerCooldown = 5 * time.Minute
	c.Tools.Gdalwarp = "gdalwarp"
	c.Tools.GdalTranslate = "gdal_translate"
	c.Tools.Gdalbuildvrt = "gdalbuildvrt"
	c.Tools.Gdal2tiles = "gdal2tiles.py"
	c.Scheduler.CheckInterval = time.Hour
	c.Report.Path = "data/runs.csv"
	c.Discovery.PageURL = "https://www.faa.gov/air_traffic/flight_info/aeronav/digital_products/vfr/"
	return c
}

var validate = validator.New()

func Load(path string) (Config, error) {
	c := defaults()

	if path == "" {
		return c, &ConfigError{Path: path, Err: errors.New("empty config path")}
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return c, &ConfigError{Path: path, Err: err}
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, &ConfigError{Path: path, Err: err}
	}
	c.file = c.snapshot()

	// .env next to the config is optional; it only feeds the overrides below.
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

	if v := getenv("AEROTILES_ROOT", os.Getenv("NGAFID_CHART_PROCESSOR_PATH")); v != "" {
		c.Paths.Root = v
	}

	if v := os.Getenv("AEROTILES_CHARTS_DIR"); v != "" {
		c.Paths.Charts = v
	}

	if v := os.Getenv("AEROTILES_HOST"); v != "" {
		c.Server.Host = v
	}

	if v := os.Getenv("AEROTILES_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}

	if v := os.Getenv("AEROTILES_LOG_FILE"); v != "" {
		c.Logging.File = v
	}

	if v := os.Getenv("AEROTILES_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}

	if v := os.Getenv("AEROTILES_MINIO_ACCESS_KEY"); v != "" {
		c.Mirror.AccessKey = v
	}

	if v := os.Getenv("AEROTILES_MINIO_SECRET_KEY"); v != "" {
		c.Mirror.SecretKey = v
	}

	c.Paths.Root = expandHome(c.Paths.Root)
	c.Paths.Charts = expandHome(c.Paths.Charts)
	c.Logging.File = expandHome(c.Logging.File)
	c.Report.Path = expandHome(c.Report.Path)

	if c.Scheduler.CheckInterval <= 0 {
		c.Scheduler.CheckInterval = time.Hour
	}

	if c.Download.Timeout <= 0 {
		c.Download.Timeout = 10 * time.Minute
	}

	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = 1
	}

	if err := validate.Struct(&c); err != nil {
		return c, &ConfigError{Path: path, Err: err}
	}

	for name, cf := range c.ChartFiles {
		if _, err := domain.ParseChartType(name); err != nil {
			return c, &ConfigError{Path: path, Err: err}
		}
		if cf.Bundle == nil && len(cf.Areas) == 0 {
			return c, &ConfigError{Path: path, Err: fmt.Errorf("chart %s: areas or bundle required", name)}
		}
	}

	cal, err := domain.NewCalendar(c.ScheduleDates())
	if err != nil {
		return c, &ConfigError{Path: path, Err: err}
	}
	c.Calendar = cal

	return c, nil
}

func (c Config) ScheduleDates() []string {
	var out []string
	for _, y := range c.UpdateSchedule {
		out = append(out, y.Dates...)
	}
	return out
}

// Source returns the acquisition source for chart, keyed case-insensitively.
func (c Config) Source(chart domain.ChartType) (domain.ChartSource, bool) {
	for name, cf := range c.ChartFiles {
		ct, err := domain.ParseChartType(name)
		if err != nil || ct != chart {
			continue
		}
		src := domain.ChartSource{
			URLTemplate: cf.BaseURL,
			Areas:       append([]string(nil), cf.Areas...),
			Disabled:    cf.Disabled,
		}
		if cf.Bundle != nil {
			src.Bundle = &domain.BundleFilter{Include: cf.Bundle.Include, Exclude: cf.Bundle.Exclude}
		}
		return src, true
	}
	return domain.ChartSource{}, false
}

func (c Config) Sources() map[domain.ChartType]domain.ChartSource {
	out := make(map[domain.ChartType]domain.ChartSource)
	for _, ct := range domain.AllChartTypes() {
		if s, ok := c.Source(ct); ok {
			out[ct] = s
		}
	}
	return out
}

// EnabledCharts lists configured, not disabled chart types in processing order.
func (c Config) EnabledCharts() []domain.ChartType {
	var out []domain.ChartType
	for _, ct := range domain.AllChartTypes() {
		if s, ok := c.Source(ct); ok && !s.Disabled {
			out = append(out, ct)
		}
	}
	return out
}

// SetSchedule replaces update_schedule with the calendar grouped by year.
func (c *Config) SetSchedule(cal domain.Calendar) {
	byYear := map[int][]string{}
	for _, d := range cal.Dates() {
		byYear[d.Year()] = append(byYear[d.Year()], domain.FormatDate(d))
	}
	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)

	c.UpdateSchedule = c.UpdateSchedule[:0]
	for _, y := range years {
		c.UpdateSchedule = append(c.UpdateSchedule, YearSchedule{Year: y, Dates: byYear[y]})
	}
	c.Calendar = cal
}

func Save(path string, c Config) error {
	if path == "" {
		return errors.New("empty config path")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	lockFile := path + ".lock"
	lf, err := os.OpenFile(lockFile, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = lf.Close() }()

	if runtime.GOOS != "windows" {
		if err := syscall.Flock(int(lf.Fd()), syscall.LOCK_EX); err != nil {
			return err
		}
		defer func() { _ = syscall.Flock(int(lf.Fd()), syscall.LOCK_UN) }()
	}

	c = c.forSave()
	b, err := yaml.Marshal(&c)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	defer func() { _ = f.Close() }()

	if _, err := f.Write(b); err != nil {
		return err
	}

	if err := f.Sync(); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		if h, _ := os.UserHomeDir(); h != "" {
			return h + p[1:]
		}
	}
	return p
}
