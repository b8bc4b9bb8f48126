package tileserver

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/davarch/aerotiles/internal/domain"
	"go.uber.org/zap"
)

func setup(t *testing.T) (http.Handler, string) {
	t.Helper()
	base := t.TempDir()
	root := filepath.Join(base, "charts")
	tile := filepath.Join(root, "sectional", "5", "9", "20.png")
	if err := os.MkdirAll(filepath.Dir(tile), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tile, []byte("PNGDATA"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(base, "secret.txt"), []byte("secret"), 0o644); err != nil {
		t.Fatal(err)
	}

	h := NewRouter(zap.NewNop(), Options{
		Root:        root,
		Charts:      domain.AllChartTypes(),
		CORSOrigins: []string{"*"},
	})
	return h, base
}

func do(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestServe_Tile(t *testing.T) {
	h, _ := setup(t)

	rec := do(h, http.MethodGet, "/sectional/5/9/20.png")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if string(body) != "PNGDATA" {
		t.Errorf("unexpected body %q", body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("unexpected content type %q", ct)
	}
}

func TestServe_RangeRequest(t *testing.T) {
	h, _ := setup(t)

	req := httptest.NewRequest(http.MethodGet, "/sectional/5/9/20.png", nil)
	req.Header.Set("Range", "bytes=0-2")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusPartialContent || rec.Body.String() != "PNG" {
		t.Errorf("unexpected range response %d %q", rec.Code, rec.Body.String())
	}
}

func TestServe_NotFoundCases(t *testing.T) {
	h, base := setup(t)
	if err := os.Symlink(filepath.Join(base, "secret.txt"), filepath.Join(base, "charts", "sectional", "link.png")); err != nil {
		t.Fatal(err)
	}
	_ = os.MkdirAll(filepath.Join(base, "charts", ".sectional-staging", "0"), 0o755)

	for _, target := range []string{
		"/sectional/5/9/404.png",
		"/sectional/5",
		"/",
		"/../secret.txt",
		"/sectional/../../secret.txt",
		"/%2e%2e/secret.txt",
		"/sectional/link.png",
		"/.sectional-staging/0",
	} {
		if rec := do(h, http.MethodGet, target); rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", target, rec.Code)
		}
	}
}

func TestServe_OnlyGet(t *testing.T) {
	h, _ := setup(t)

	for _, m := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		if rec := do(h, m, "/sectional/5/9/20.png"); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected 405, got %d", m, rec.Code)
		}
	}
}

func TestServe_RateLimited(t *testing.T) {
	limited := NewRouter(zap.NewNop(), Options{Root: t.TempDir(), RateLimit: 1})

	first := do(limited, http.MethodGet, "/x.png")
	second := do(limited, http.MethodGet, "/x.png")
	if first.Code != http.StatusNotFound || second.Code != http.StatusTooManyRequests {
		t.Errorf("unexpected codes %d %d", first.Code, second.Code)
	}
}

func TestURLTemplate(t *testing.T) {
	got := URLTemplate("http://localhost:8187/", domain.TerminalArea)
	if got != "http://localhost:8187/terminal-area/{z}/{x}/{-y}.png" {
		t.Errorf("unexpected template %s", got)
	}
}
