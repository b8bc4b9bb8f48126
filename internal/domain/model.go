package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type ChartType string

const (
	Sectional      ChartType = "SECTIONAL"
	TerminalArea   ChartType = "TERMINAL_AREA"
	IFREnrouteLow  ChartType = "IFR_ENROUTE_LOW"
	IFREnrouteHigh ChartType = "IFR_ENROUTE_HIGH"
	Helicopter     ChartType = "HELICOPTER"
)

// AllChartTypes returns every chart type in processing order.
func AllChartTypes() []ChartType {
	return []ChartType{TerminalArea, Sectional, IFREnrouteLow, IFREnrouteHigh, Helicopter}
}

func ParseChartType(s string) (ChartType, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for _, c := range AllChartTypes() {
		if string(c) == norm {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown chart type %q", s)
}

// Key is the workspace directory name, e.g. "terminal_area".
func (c ChartType) Key() string { return strings.ToLower(string(c)) }

// Slug is the published directory name, e.g. "terminal-area".
func (c ChartType) Slug() string { return strings.ReplaceAll(c.Key(), "_", "-") }

type ColorMode string

const (
	ColorNone ColorMode = "none"
	ColorRGBA ColorMode = "rgba"
	ColorRGB  ColorMode = "rgb"
)

type Stage string

const (
	StageAcquire   Stage = "ACQUIRE"
	StageCrop      Stage = "CROP"
	StageColor     Stage = "COLOR_CONVERT"
	StageReproject Stage = "REPROJECT"
	StageMosaic    Stage = "MOSAIC"
	StageTile      Stage = "TILE"
)

type BundleFilter struct {
	Include string
	Exclude string
}

// ChartSource is where a chart type's rasters come from for a given edition.
type ChartSource struct {
	URLTemplate string
	Areas       []string
	Bundle      *BundleFilter
	Disabled    bool
}

const (
	datePlaceholder = "{date}"
	areaPlaceholder = "{area}"
)

// AreaURL expands the template for one area. Without an {area} placeholder
// the archive name "<area>.zip" is appended.
func (s ChartSource) AreaURL(date time.Time, area string) string {
	u := strings.ReplaceAll(s.URLTemplate, datePlaceholder, FormatDate(date))
	if strings.Contains(u, areaPlaceholder) {
		return strings.ReplaceAll(u, areaPlaceholder, area)
	}
	return u + area + ".zip"
}

func (s ChartSource) BundleURL(date time.Time) string {
	return strings.ReplaceAll(s.URLTemplate, datePlaceholder, FormatDate(date))
}

type WorkspacePaths struct {
	Raw         string
	Shapes      string
	Cropped     string
	Color       string
	Reprojected string
	Mosaic      string
	Published   string
}

const MosaicFileName = "combined.vrt"

func (p WorkspacePaths) MosaicFile() string { return filepath.Join(p.Mosaic, MosaicFileName) }

// Intermediates are the roots cleared before every run. Published is never included.
func (p WorkspacePaths) Intermediates() []string {
	return []string{p.Cropped, p.Color, p.Reprojected, p.Mosaic}
}

type UnitOutcome struct {
	Stage Stage
	Unit  string
	Err   error
}

type PipelineRun struct {
	ID         uuid.UUID
	Chart      ChartType
	Date       time.Time
	Stages     []Stage
	Acquired   int
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error

	mu       sync.Mutex
	outcomes []UnitOutcome
}

func NewPipelineRun(chart ChartType, date time.Time) *PipelineRun {
	return &PipelineRun{
		ID:        uuid.New(),
		Chart:     chart,
		Date:      date,
		Stages:    PolicyFor(chart).Stages(),
		StartedAt: time.Now(),
	}
}

// Record is safe for concurrent use by stage workers.
func (r *PipelineRun) Record(stage Stage, unit string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, UnitOutcome{Stage: stage, Unit: unit, Err: err})
}

func (r *PipelineRun) Outcomes() []UnitOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]UnitOutcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

func (r *PipelineRun) Failed() int {
	n := 0
	for _, o := range r.Outcomes() {
		if o.Err != nil {
			n++
		}
	}
	return n
}

func (r *PipelineRun) Succeeded() bool { return r.Err == nil }

func (r *PipelineRun) Finish(err error) {
	r.Err = err
	r.FinishedAt = time.Now()
}

func (r *PipelineRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
