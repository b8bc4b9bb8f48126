package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aerotiles_pipeline_runs_total",
			Help: "Pipeline runs per chart type and result",
		},
		[]string{"chart", "result"},
	)

	PipelineRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aerotiles_pipeline_run_duration_seconds",
			Help:    "Wall time of a chart type's pipeline run",
			Buckets: []float64{30, 60, 300, 600, 1800, 3600, 7200, 14400},
		},
		[]string{"chart"},
	)

	StageUnitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aerotiles_stage_units_total",
			Help: "Stage units processed per chart type, stage and outcome",
		},
		[]string{"chart", "stage", "outcome"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aerotiles_stage_duration_seconds",
			Help:    "Duration of a whole stage",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
		[]string{"chart", "stage"},
	)

	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aerotiles_downloads_total",
			Help: "Archive downloads by outcome",
		},
		[]string{"outcome"},
	)

	LastSuccessfulRun = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aerotiles_last_successful_run_timestamp_seconds",
			Help: "Unix time of the last successful publish per chart type",
		},
		[]string{"chart"},
	)

	TileRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aerotiles_tile_requests_total",
			Help: "Tile requests by chart kind and status code",
		},
		[]string{"chart", "code"},
	)

	TileRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aerotiles_tile_request_duration_seconds",
			Help:    "Tile request latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		},
	)

	SchedulerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aerotiles_scheduler_state",
			Help: "1 for the scheduler's current state, 0 otherwise",
		},
		[]string{"state"},
	)
)

func RecordRun(chart string, ok bool, d time.Duration) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	PipelineRunsTotal.WithLabelValues(chart, result).Inc()
	PipelineRunDuration.WithLabelValues(chart).Observe(d.Seconds())
	if ok {
		LastSuccessfulRun.WithLabelValues(chart).SetToCurrentTime()
	}
}

func RecordUnit(chart, stage string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	StageUnitsTotal.WithLabelValues(chart, stage, outcome).Inc()
}

func SetSchedulerState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		SchedulerState.WithLabelValues(s).Set(v)
	}
}
