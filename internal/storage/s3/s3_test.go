package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	appconfig "github.com/audit-trail/audit-trail/internal/config"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  appconfig.S3StorageConfig
	}{
		{"missing bucket", appconfig.S3StorageConfig{Region: "us-east-1"}},
		{"missing region", appconfig.S3StorageConfig{Bucket: "b"}},
		{"static without keys", appconfig.S3StorageConfig{Bucket: "b", Region: "us-east-1", AuthMethod: "static"}},
		{"unsupported auth", appconfig.S3StorageConfig{Bucket: "b", Region: "us-east-1", AuthMethod: "kerberos"}},
		{"oidc without role", appconfig.S3StorageConfig{Bucket: "b", Region: "us-east-1", AuthMethod: "oidc"}},
		{"oidc without token file", appconfig.S3StorageConfig{Bucket: "b", Region: "us-east-1", AuthMethod: "oidc", RoleARN: "arn:aws:iam::1:role/r"}},
		{"assume_role without role", appconfig.S3StorageConfig{Bucket: "b", Region: "us-east-1", AuthMethod: "assume_role"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			if _, err := New(&cfg); err == nil {
				t.Errorf("New() = nil error, want error")
			}
		})
	}
}

func TestNew_AssumeRoleWithExternalID(t *testing.T) {
	s, err := New(&appconfig.S3StorageConfig{
		Bucket: "b", Region: "us-east-1", AuthMethod: "assume_role",
		RoleARN: "arn:aws:iam::123456789012:role/archive", ExternalID: "ext",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if s.bucket != "b" {
		t.Errorf("bucket = %q, want b", s.bucket)
	}
}

type s3MockStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
}

// newS3TestStorage points an S3Storage at a path-style mock that speaks just enough
// of the object API for put/get/head/delete.
func newS3TestStorage(t *testing.T) (*S3Storage, *s3MockStore) {
	t.Helper()
	ms := &s3MockStore{objects: map[string][]byte{}, meta: map[string]map[string]string{}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/"), "archive-bucket/")
		ms.mu.Lock()
		defer ms.mu.Unlock()

		switch r.Method {
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			meta := map[string]string{}
			for hk, hv := range r.Header {
				if lk := strings.ToLower(hk); strings.HasPrefix(lk, "x-amz-meta-") && len(hv) > 0 {
					meta[strings.TrimPrefix(lk, "x-amz-meta-")] = hv[0]
				}
			}
			ms.objects[key] = data
			ms.meta[key] = meta
			w.Header().Set("ETag", `"etag"`)
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			data, ok := ms.objects[key]
			if !ok {
				w.Header().Set("Content-Type", "application/xml")
				w.WriteHeader(http.StatusNotFound)
				fmt.Fprint(w, `<?xml version="1.0"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
				return
			}
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data)
		case http.MethodHead:
			data, ok := ms.objects[key]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
			w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			delete(ms.objects, key)
			delete(ms.meta, key)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)

	s, err := New(&appconfig.S3StorageConfig{
		Bucket:          "archive-bucket",
		Region:          "us-east-1",
		AuthMethod:      "static",
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
		Endpoint:        srv.URL,
	})
	if err != nil {
		t.Fatalf("New() for mock S3: %v", err)
	}
	return s, ms
}

func TestS3_UploadStoresChecksumMetadata(t *testing.T) {
	s, ms := newS3TestStorage(t)
	data := []byte("gzip bytes")

	res, err := s.Upload(context.Background(), "archive/p/run.jsonl.gz", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if res.Size != int64(len(data)) || len(res.Checksum) != 64 {
		t.Errorf("Upload() = %+v, want size %d and a SHA256 hex checksum", res, len(data))
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if got := ms.meta["archive/p/run.jsonl.gz"]["sha256"]; got != res.Checksum {
		t.Errorf("stored sha256 metadata = %q, want %q", got, res.Checksum)
	}
}

func TestS3_RoundTripExistsDelete(t *testing.T) {
	s, _ := newS3TestStorage(t)
	ctx := context.Background()

	if ok, err := s.Exists(ctx, "obj"); err != nil || ok {
		t.Fatalf("Exists() before upload = %v, %v; want false, nil", ok, err)
	}
	if _, err := s.Upload(ctx, "obj", strings.NewReader("payload"), 7); err != nil {
		t.Fatal(err)
	}
	if ok, err := s.Exists(ctx, "obj"); err != nil || !ok {
		t.Fatalf("Exists() after upload = %v, %v; want true, nil", ok, err)
	}

	rc, err := s.Download(ctx, "obj")
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if string(got) != "payload" {
		t.Errorf("Download() = %q, want payload", got)
	}

	if err := s.Delete(ctx, "obj"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if ok, _ := s.Exists(ctx, "obj"); ok {
		t.Error("Exists() = true after delete")
	}
}

func TestS3_DownloadNotFound(t *testing.T) {
	s, _ := newS3TestStorage(t)
	if _, err := s.Download(context.Background(), "ghost"); err == nil {
		t.Error("Download() = nil error, want error for missing key")
	}
}
