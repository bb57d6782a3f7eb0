package socketmap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestDenyList_LoadAndContains(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "denylist.txt")
	if err := os.WriteFile(path, []byte("# comment\nSpammer@Example.com\n\nbad@example.com\n"), 0o644); err != nil {
		t.Fatalf("failed to write deny list: %v", err)
	}

	d, err := NewDenyList(path, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !d.Contains("spammer@example.com") {
		t.Error("expected a case-insensitive match against the deny list")
	}
	if !d.Contains("bad@example.com") {
		t.Error("expected bad@example.com to be denied")
	}
	if d.Contains("ok@example.com") {
		t.Error("did not expect ok@example.com to be denied")
	}
}

func TestDenyList_EmptyPathDeniesNoOne(t *testing.T) {
	d, err := NewDenyList("", zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Contains("anyone@example.com") {
		t.Error("an unconfigured deny list must deny no one")
	}
}

func TestDenyList_WatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "denylist.txt")
	if err := os.WriteFile(path, []byte("a@example.com\n"), 0o644); err != nil {
		t.Fatalf("failed to write deny list: %v", err)
	}

	d, err := NewDenyList(path, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Watch(ctx, path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := os.WriteFile(path, []byte("b@example.com\n"), 0o644); err != nil {
		t.Fatalf("failed to rewrite deny list: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if d.Contains("b@example.com") && !d.Contains("a@example.com") {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("deny list was not reloaded after the file changed")
}
