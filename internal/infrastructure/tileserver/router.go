package tileserver

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/davarch/aerotiles/internal/domain"
	"github.com/davarch/aerotiles/internal/infrastructure/metrics"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"
)

type Options struct {
	Root        string
	Charts      []domain.ChartType
	CORSOrigins []string
	// RateLimit is requests per RateWindow per client IP; 0 disables it.
	RateLimit  int
	RateWindow time.Duration
}

// NewRouter serves the published tile tree read-only. Only GET is routed.
func NewRouter(l *zap.Logger, opt Options) http.Handler {
	known := make(map[string]bool, len(opt.Charts))
	for _, c := range opt.Charts {
		known[c.Slug()] = true
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLog(l, known))
	if len(opt.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opt.CORSOrigins,
			AllowedMethods: []string{http.MethodGet},
			MaxAge:         300,
		}))
	}
	if opt.RateLimit > 0 {
		window := opt.RateWindow
		if window <= 0 {
			window = time.Minute
		}
		r.Use(httprate.LimitByIP(opt.RateLimit, window))
	}

	root, err := filepath.Abs(opt.Root)
	if err != nil {
		root = opt.Root
	}
	t := &tiles{root: root}
	r.Get("/*", t.serve)
	return r
}

// URLTemplate is the tile URL clients use for chart, in TMS row order.
func URLTemplate(base string, c domain.ChartType) string {
	return strings.TrimRight(base, "/") + "/" + c.Slug() + "/{z}/{x}/{-y}.png"
}

type tiles struct {
	root string
}

func (t *tiles) serve(w http.ResponseWriter, r *http.Request) {
	p, ok := t.resolve(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	f, err := os.Open(p)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil || fi.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, fi.Name(), fi.ModTime(), f)
}

// resolve maps a request path to a file under root. Paths that contain NUL,
// name hidden entries, or resolve outside root (directly or via symlink)
// are rejected.
func (t *tiles) resolve(urlPath string) (string, bool) {
	if strings.ContainsRune(urlPath, 0) {
		return "", false
	}
	clean := path.Clean("/" + urlPath)
	for _, seg := range strings.Split(clean, "/") {
		if strings.HasPrefix(seg, ".") {
			return "", false
		}
	}

	full := filepath.Join(t.root, filepath.FromSlash(clean))
	if !within(t.root, full) {
		return "", false
	}

	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		return "", false
	}
	root, err := filepath.EvalSymlinks(t.root)
	if err != nil || !within(root, resolved) {
		return "", false
	}
	return resolved, true
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func requestLog(l *zap.Logger, known map[string]bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			took := time.Since(start)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			chart := "other"
			if seg, _, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/"); known[seg] {
				chart = seg
			}
			metrics.TileRequestsTotal.WithLabelValues(chart, strconv.Itoa(status)).Inc()
			metrics.TileRequestDuration.Observe(took.Seconds())

			l.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.String("remote", r.RemoteAddr),
				zap.Duration("took", took),
			)
		})
	}
}
