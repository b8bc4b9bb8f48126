package objectstore_minio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/davarch/aerotiles/internal/domain"
	"go.uber.org/zap"
)

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Endpoint:  "localhost:9000",
		AccessKey: "a",
		SecretKey: "b",
		Bucket:    "tiles",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	invalid := valid
	invalid.Endpoint = "http://localhost:9000"
	if err := invalid.Validate(); err == nil {
		t.Fatalf("Validate() expected error for scheme in endpoint")
	}

	invalid = valid
	invalid.Bucket = ""
	if _, err := New(zap.NewNop(), invalid); err == nil {
		t.Fatalf("New() expected error without bucket")
	}
}

func TestObjects_KeysUnderPrefixAndSlug(t *testing.T) {
	dir := t.TempDir()
	tile := filepath.Join(dir, "3", "2", "5.png")
	_ = os.MkdirAll(filepath.Dir(tile), 0o755)
	_ = os.WriteFile(tile, []byte("png"), 0o644)

	got, err := Objects("charts", domain.TerminalArea, dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got["charts/terminal-area/3/2/5.png"] != tile {
		t.Errorf("unexpected objects %v", got)
	}
}

func TestBucketReady_RetriesAfterFailure(t *testing.T) {
	m, err := New(zap.NewNop(), Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b", Bucket: "tiles"})
	if err != nil {
		t.Fatal(err)
	}
	calls := 0
	m.ensure = func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("connection refused")
		}
		return nil
	}

	if err := m.bucketReady(context.Background()); err == nil {
		t.Fatal("expected first check to fail")
	}
	if err := m.bucketReady(context.Background()); err != nil {
		t.Fatalf("second check should succeed: %v", err)
	}
	if err := m.bucketReady(context.Background()); err != nil || calls != 2 {
		t.Errorf("bucket should be checked once after success, calls=%d err=%v", calls, err)
	}
}
