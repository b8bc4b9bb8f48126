package report_csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/davarch/aerotiles/internal/domain"
	"github.com/jszwec/csvutil"
)

// StageRun marks the summary row written once per pipeline run.
const StageRun = "RUN"

type Row struct {
	RunID      string    `csv:"run_id"`
	Chart      string    `csv:"chart"`
	Edition    string    `csv:"edition"`
	Stage      string    `csv:"stage"`
	Unit       string    `csv:"unit"`
	Result     string    `csv:"result"`
	Error      string    `csv:"error"`
	Acquired   int       `csv:"acquired"`
	Failures   int       `csv:"failures"`
	StartedAt  time.Time `csv:"started_at"`
	DurationMS int64     `csv:"duration_ms"`
}

func (r Row) IsSummary() bool { return r.Stage == StageRun }

// Recorder appends run history to a CSV file.
type Recorder struct {
	path string
	mu   sync.Mutex
}

func New(path string) *Recorder { return &Recorder{path: path} }

func (r *Recorder) Record(_ context.Context, run *domain.PipelineRun) error {
	rows := Rows(run)

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	enc := csvutil.NewEncoder(w)
	enc.AutoHeader = fi.Size() == 0
	if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("encode run history: %w", err)
	}
	w.Flush()
	return w.Error()
}

// Rows flattens run into one row per unit outcome followed by its summary.
func Rows(run *domain.PipelineRun) []Row {
	base := Row{
		RunID:     run.ID.String(),
		Chart:     string(run.Chart),
		Edition:   domain.FormatDate(run.Date),
		StartedAt: run.StartedAt.UTC(),
	}

	var out []Row
	for _, o := range run.Outcomes() {
		row := base
		row.Stage = string(o.Stage)
		row.Unit = o.Unit
		row.Result, row.Error = result(o.Err)
		out = append(out, row)
	}

	sum := base
	sum.Stage = StageRun
	sum.Result, sum.Error = result(run.Err)
	sum.Acquired = run.Acquired
	sum.Failures = run.Failed()
	sum.DurationMS = run.Duration().Milliseconds()
	return append(out, sum)
}

func result(err error) (string, string) {
	if err != nil {
		return "failed", err.Error()
	}
	return "ok", ""
}

// Read loads every row from path. A missing or empty file has no rows.
func Read(path string) ([]Row, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	dec, err := csvutil.NewDecoder(csv.NewReader(f))
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read run history: %w", err)
	}

	var rows []Row
	if err := dec.Decode(&rows); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode run history: %w", err)
	}
	return rows, nil
}

// Summaries keeps the summary rows, optionally for one chart.
func Summaries(rows []Row, chart string) []Row {
	var out []Row
	for _, r := range rows {
		if r.IsSummary() && (chart == "" || r.Chart == chart) {
			out = append(out, r)
		}
	}
	return out
}
