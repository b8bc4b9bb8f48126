package application

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/davarch/aerotiles/internal/domain"
	"github.com/davarch/aerotiles/internal/infrastructure/archive_zip"
	"github.com/davarch/aerotiles/internal/infrastructure/workspace_fs"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"
)

func zipBytes(t *testing.T, members map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range members {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = w.Write([]byte(body))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func writeFile(t *testing.T, p, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

// snapshot maps every file under root to its contents.
func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, p)
		out[rel] = string(b)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

type rig struct {
	ws     *workspace_fs.Workspace
	dl     *domain.MockDownloader
	tool   *domain.MockRasterTool
	rec    *domain.MockRecorder
	mirror *domain.MockMirror
	note   *domain.MockNotifier
	runner *Runner
}

func newRig(t *testing.T, sources map[domain.ChartType]domain.ChartSource) *rig {
	t.Helper()
	root := t.TempDir()
	r := &rig{
		ws:     workspace_fs.New(zap.NewNop(), root, filepath.Join(root, "charts")),
		dl:     &domain.MockDownloader{Files: map[string][]byte{}},
		tool:   &domain.MockRasterTool{},
		rec:    &domain.MockRecorder{},
		mirror: &domain.MockMirror{},
		note:   &domain.MockNotifier{},
	}
	l := zap.NewNop()
	acq := NewAcquirer(l, r.dl, archive_zip.New())
	exec := NewExecutor(l, r.tool, ExecutorOptions{
		Workers: 2,
		Zoom:    domain.ZoomRange{Min: 0, Max: 2},
	})
	r.runner = NewRunner(l, r.ws, acq, exec, sources, RunnerHooks{
		Recorder: r.rec,
		Mirror:   r.mirror,
		Notifier: r.note,
	})
	return r
}
