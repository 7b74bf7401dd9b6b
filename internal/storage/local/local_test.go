package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/audit-trail/audit-trail/internal/config"
)

func newTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := New(&config.LocalStorageConfig{BasePath: t.TempDir()})
	if err != nil {
		t.Fatal("New:", err)
	}
	return s
}

func TestNew_CreatesDirectory(t *testing.T) {
	subDir := filepath.Join(t.TempDir(), "a", "b", "c")
	if _, err := New(&config.LocalStorageConfig{BasePath: subDir}); err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := os.Stat(subDir); os.IsNotExist(err) {
		t.Error("New() did not create base directory")
	}
}

func TestNew_RequiresBasePath(t *testing.T) {
	if _, err := New(&config.LocalStorageConfig{}); err == nil {
		t.Error("New() = nil error, want error for empty base_path")
	}
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	content := `{"id":"a"}` + "\n"
	key := "archive/default/2026/03/04/run-1.jsonl.gz"
	result, err := s.Upload(ctx, key, strings.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if result.Key != key {
		t.Errorf("Key = %q, want %q", result.Key, key)
	}
	if result.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", result.Size, len(content))
	}
	if len(result.Checksum) != 64 {
		t.Errorf("Checksum len = %d, want 64 (SHA256 hex)", len(result.Checksum))
	}

	rc, err := s.Download(ctx, key)
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != content {
		t.Errorf("Download() = %q, want %q", got, content)
	}
}

func TestUpload_ChecksumConsistency(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	r1, err := s.Upload(ctx, "a.txt", strings.NewReader("same"), 4)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := s.Upload(ctx, "b.txt", strings.NewReader("same"), 4)
	if err != nil {
		t.Fatal(err)
	}
	if r1.Checksum != r2.Checksum {
		t.Errorf("same content produced different checksums: %q vs %q", r1.Checksum, r2.Checksum)
	}
}

func TestUpload_RejectsEscapingKey(t *testing.T) {
	s := newTestStorage(t)
	if _, err := s.Upload(context.Background(), "../outside.txt", strings.NewReader("x"), 1); err == nil {
		t.Error("Upload() = nil error, want error for key escaping the base path")
	}
}

func TestDownload_NotFound(t *testing.T) {
	s := newTestStorage(t)
	if _, err := s.Download(context.Background(), "missing.txt"); err == nil {
		t.Error("Download() = nil error, want error for missing object")
	}
}

func TestExistsAndDelete(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	if _, err := s.Upload(ctx, "x/y/z.txt", strings.NewReader("z"), 1); err != nil {
		t.Fatal(err)
	}
	ok, err := s.Exists(ctx, "x/y/z.txt")
	if err != nil || !ok {
		t.Fatalf("Exists() = %v, %v; want true, nil", ok, err)
	}

	if err := s.Delete(ctx, "x/y/z.txt"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	ok, _ = s.Exists(ctx, "x/y/z.txt")
	if ok {
		t.Error("Exists() = true after Delete")
	}
	if _, err := os.Stat(filepath.Join(s.basePath, "x")); !os.IsNotExist(err) {
		t.Error("Delete() left empty parent directories behind")
	}

	if err := s.Delete(ctx, "x/y/z.txt"); err != nil {
		t.Errorf("Delete() of missing object = %v, want nil", err)
	}
}
