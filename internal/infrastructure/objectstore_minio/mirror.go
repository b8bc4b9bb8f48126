package objectstore_minio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/davarch/aerotiles/internal/domain"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}

// Mirror uploads published tile trees to an S3-compatible bucket.
type Mirror struct {
	client *minio.Client
	cfg    Config
	log    *zap.Logger

	// ensure is retried on every Mirror call until it succeeds once.
	ensure func(ctx context.Context) error
	mu     sync.Mutex
	ready  bool
}

func New(l *zap.Logger, cfg Config) (*Mirror, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, err
	}
	m := &Mirror{client: client, cfg: cfg, log: l}
	m.ensure = m.ensureBucket
	return m, nil
}

func (m *Mirror) Mirror(ctx context.Context, chart domain.ChartType, dir string) error {
	if err := m.bucketReady(ctx); err != nil {
		return fmt.Errorf("ensure bucket %s: %w", m.cfg.Bucket, err)
	}

	files, err := Objects(m.cfg.Prefix, chart, dir)
	if err != nil {
		return err
	}

	start := time.Now()
	for key, p := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		ct := mime.TypeByExtension(path.Ext(key))
		if ct == "" {
			ct = "application/octet-stream"
		}
		if _, err := m.client.FPutObject(ctx, m.cfg.Bucket, key, p, minio.PutObjectOptions{ContentType: ct}); err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
	}

	m.log.Info("tiles mirrored",
		zap.String("chart", string(chart)),
		zap.String("bucket", m.cfg.Bucket),
		zap.Int("objects", len(files)),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

// Objects maps object keys to local files for every file under dir.
func Objects(prefix string, chart domain.ChartType, dir string) (map[string]string, error) {
	out := map[string]string{}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		out[path.Join(prefix, chart.Slug(), filepath.ToSlash(rel))] = p
		return nil
	})
	return out, err
}

func (m *Mirror) bucketReady(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ready {
		return nil
	}
	if err := m.ensure(ctx); err != nil {
		return err
	}
	m.ready = true
	return nil
}

func (m *Mirror) ensureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.cfg.Bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return m.client.MakeBucket(ctx, m.cfg.Bucket, minio.MakeBucketOptions{Region: m.cfg.Region})
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
