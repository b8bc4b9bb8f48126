package domain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// MockRasterTool writes deterministic files derived from its inputs so the
// stages downstream of it have something to read.
type MockRasterTool struct {
	// Fail makes any call whose unit (base name of the source or boundary) is listed fail.
	Fail map[string]bool

	mu    sync.Mutex
	Calls []string
}

func (m *MockRasterTool) call(op, unit string) error {
	m.mu.Lock()
	m.Calls = append(m.Calls, op+":"+unit)
	m.mu.Unlock()
	if m.Fail[unit] {
		return &StageToolError{Op: op, Unit: unit, ExitCode: 1}
	}
	return nil
}

func (m *MockRasterTool) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if strings.HasPrefix(c, op+":") {
			n++
		}
	}
	return n
}

func derive(op, dst string, srcs ...string) error {
	var buf bytes.Buffer
	buf.WriteString(op)
	for _, s := range srcs {
		b, err := os.ReadFile(s)
		if err != nil {
			return err
		}
		buf.WriteByte('|')
		buf.Write(b)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, buf.Bytes(), 0o644)
}

func (m *MockRasterTool) CutlineCrop(_ context.Context, src, boundary, dst string) error {
	if err := m.call("crop", filepath.Base(src)); err != nil {
		return err
	}
	return derive("crop", dst, src, boundary)
}

func (m *MockRasterTool) BandExpand(_ context.Context, src, dst string, mode ColorMode, _ *int) error {
	if err := m.call("expand", filepath.Base(src)); err != nil {
		return err
	}
	return derive("expand-"+string(mode), dst, src)
}

func (m *MockRasterTool) Warp(_ context.Context, src, dst, srs string, _ int) error {
	if err := m.call("warp", filepath.Base(src)); err != nil {
		return err
	}
	return derive("warp-"+srs, dst, src)
}

func (m *MockRasterTool) BuildMosaic(_ context.Context, dst string, srcs []string) error {
	if err := m.call("mosaic", filepath.Base(dst)); err != nil {
		return err
	}
	sorted := append([]string(nil), srcs...)
	sort.Strings(sorted)
	return derive("mosaic", dst, sorted...)
}

func (m *MockRasterTool) RenderTiles(_ context.Context, mosaic, outDir string, zoom ZoomRange) error {
	if err := m.call("tiles", filepath.Base(mosaic)); err != nil {
		return err
	}
	for z := zoom.Min; z <= zoom.Max; z++ {
		dst := filepath.Join(outDir, fmt.Sprint(z), "0", "0.png")
		if err := derive(fmt.Sprintf("tile-%d", z), dst, mosaic); err != nil {
			return err
		}
	}
	return nil
}

// MockDownloader serves canned archive bytes keyed by URL.
type MockDownloader struct {
	Files map[string][]byte
	Err   error

	mu   sync.Mutex
	URLs []string
}

func (d *MockDownloader) Download(_ context.Context, url, dst string) error {
	d.mu.Lock()
	d.URLs = append(d.URLs, url)
	d.mu.Unlock()
	if d.Err != nil {
		return d.Err
	}
	b, ok := d.Files[url]
	if !ok {
		return errors.New("404 Not Found")
	}
	return os.WriteFile(dst, b, 0o644)
}

func (d *MockDownloader) Called() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.URLs)
}

type MockRecorder struct {
	mu   sync.Mutex
	Runs []*PipelineRun
	Err  error
}

func (r *MockRecorder) Record(_ context.Context, run *PipelineRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Runs = append(r.Runs, run)
	return r.Err
}

type MockMirror struct {
	Charts []ChartType
	Err    error
}

func (m *MockMirror) Mirror(_ context.Context, chart ChartType, _ string) error {
	m.Charts = append(m.Charts, chart)
	return m.Err
}

type MockNotifier struct {
	Messages []string
	Err      error
}

func (n *MockNotifier) Notify(_ context.Context, title, body string) error {
	n.Messages = append(n.Messages, title+"|"+body)
	return n.Err
}
