package notify_exec

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestNotify_AppendsTitleAndBody(t *testing.T) {
	out := filepath.Join(t.TempDir(), "msg")
	n := New([]string{"sh", "-c", `printf '%s|%s' "$1" "$2" > "` + out + `"`, "notify"})

	if err := n.Notify(context.Background(), "sectional published", "Edition 12-26-2024"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "sectional published|Edition 12-26-2024" {
		t.Errorf("unexpected message %q", b)
	}
}

func TestNotify_SoftSwallowsFailure(t *testing.T) {
	argv := []string{"sh", "-c", "exit 2"}
	if err := New(argv).Notify(context.Background(), "t", "b"); err == nil {
		t.Error("expected error from failing command")
	}
	if err := NewSoft(argv).Notify(context.Background(), "t", "b"); err != nil {
		t.Errorf("soft notifier returned %v", err)
	}
}
