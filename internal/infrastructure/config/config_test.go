package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/davarch/aerotiles/internal/domain"
)

const sample = `
chart_files:
  SECTIONAL:
    base_url: https://aeronav.faa.gov/visual/{date}/sectional-files/
    areas: [Seattle, Albuquerque]
  TERMINAL_AREA:
    base_url: https://aeronav.faa.gov/visual/{date}/All_Files/Terminal.zip
    bundle:
      include: TAC
      exclude: VFR
  HELICOPTER:
    base_url: https://aeronav.faa.gov/visual/{date}/Helicopter/
    areas: [Boston]
    disabled: true

server_config:
  host: 127.0.0.1
  port: 8187

update_schedule:
  - year: 2024
    dates: ["12-26-2024", "01-25-2024"]
  - year: 2025
    dates: ["02-20-2025"]

paths:
  root: /tmp/aerotiles
  charts: /tmp/aerotiles/charts
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_FromYAMLAndEnvOverride(t *testing.T) {
	p := writeConfig(t, sample)

	t.Setenv("AEROTILES_PORT", "9000")

	c, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if c.Server.Port != 9000 {
		t.Errorf("env override failed, got %d", c.Server.Port)
	}
	if c.Calendar.Len() != 3 {
		t.Errorf("expected 3 schedule dates, got %d", c.Calendar.Len())
	}
	if got := domain.FormatDate(c.Calendar.Dates()[0]); got != "01-25-2024" {
		t.Errorf("calendar not sorted, first=%s", got)
	}
	if c.Logging.MaxSizeMB != 10 || c.Pipeline.ZoomMax != 10 {
		t.Errorf("defaults not applied: %+v %+v", c.Logging, c.Pipeline)
	}

	src, ok := c.Source(domain.TerminalArea)
	if !ok || src.Bundle == nil || src.Bundle.Include != "TAC" {
		t.Errorf("terminal bundle source not parsed: %+v", src)
	}

	enabled := c.EnabledCharts()
	if len(enabled) != 2 || enabled[0] != domain.TerminalArea || enabled[1] != domain.Sectional {
		t.Errorf("unexpected enabled charts %v", enabled)
	}
}

func TestLoad_AcceptsJSON(t *testing.T) {
	p := writeConfig(t, `{
  "chart_files": {"IFR_ENROUTE_LOW": {"base_url": "https://aeronav.faa.gov/enroute/{date}/", "areas": ["ENR_L01"]}},
  "server_config": {"host": "localhost", "port": 8187},
  "update_schedule": [{"year": 2024, "dates": ["12-26-2024"]}],
  "paths": {"root": "x", "charts": "x/charts"}
}`)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := c.Source(domain.IFREnrouteLow); !ok {
		t.Errorf("expected enroute low source")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestLoad_MalformedScheduleDate(t *testing.T) {
	p := writeConfig(t, strings.Replace(sample, `"02-20-2025"`, `"2025-02-20"`, 1))
	_, err := Load(p)

	var cerr *ConfigError
	var perr *domain.ScheduleParseError
	if !errors.As(err, &cerr) || !errors.As(err, &perr) {
		t.Fatalf("expected ConfigError wrapping ScheduleParseError, got %v", err)
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	p := writeConfig(t, `
chart_files:
  SECTIONAL:
    base_url: https://aeronav.faa.gov/visual/sectional-files/
    areas: [Seattle]
server_config:
  host: 127.0.0.1
  port: 8187
`)
	if _, err := Load(p); err == nil {
		t.Fatalf("expected validation error for template without {date}")
	}
}

func TestSave_RoundTripSchedule(t *testing.T) {
	p := writeConfig(t, sample)
	c, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}

	d, _ := domain.ParseDate("03-20-2025")
	c.SetSchedule(c.Calendar.Merge([]time.Time{d}))
	if err := Save(p, c); err != nil {
		t.Fatalf("save: %v", err)
	}

	again, err := Load(p)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Calendar.Len() != 4 {
		t.Errorf("expected 4 dates after save, got %d", again.Calendar.Len())
	}
	if len(again.UpdateSchedule) != 2 {
		t.Errorf("expected schedule grouped into 2 years, got %d", len(again.UpdateSchedule))
	}
}

func TestSave_KeepsEnvOverridesOutOfFile(t *testing.T) {
	p := writeConfig(t, sample)
	t.Setenv("AEROTILES_MINIO_SECRET_KEY", "from-env")
	t.Setenv("AEROTILES_PORT", "9000")

	c, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if c.Mirror.SecretKey != "from-env" {
		t.Fatalf("env override not applied")
	}
	if err := Save(p, c); err != nil {
		t.Fatal(err)
	}

	b, _ := os.ReadFile(p)
	if strings.Contains(string(b), "from-env") || strings.Contains(string(b), "9000") {
		t.Errorf("environment values written to config file:\n%s", b)
	}
}
