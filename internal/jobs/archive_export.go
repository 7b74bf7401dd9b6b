package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/audit-trail/audit-trail/internal/db/models"
	"github.com/audit-trail/audit-trail/internal/storage"
)

var unsafeKeyChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// ArchiveExporter writes archived rows to an object store as gzip-compressed JSON
// lines, one object per policy per run.
type ArchiveExporter struct {
	store  storage.Storage
	prefix string
}

// NewArchiveExporter creates an exporter writing under prefix.
func NewArchiveExporter(store storage.Storage, prefix string) *ArchiveExporter {
	return &ArchiveExporter{store: store, prefix: strings.Trim(prefix, "/")}
}

// ExportKey returns archive/<policy>/<yyyy>/<mm>/<dd>/<run-id>.jsonl.gz under the prefix.
func (x *ArchiveExporter) ExportKey(policyName, runID string, at time.Time) string {
	slug := unsafeKeyChars.ReplaceAllString(strings.ToLower(policyName), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "unnamed"
	}
	at = at.UTC()
	return path.Join(x.prefix, "archive", slug,
		fmt.Sprintf("%04d", at.Year()), fmt.Sprintf("%02d", int(at.Month())), fmt.Sprintf("%02d", at.Day()),
		runID+".jsonl.gz")
}

// Export uploads events and returns the object key.
func (x *ArchiveExporter) Export(ctx context.Context, policyName, runID string, at time.Time, events []*models.AuditEvent) (string, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	enc := json.NewEncoder(zw)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return "", fmt.Errorf("encode archived event %s: %w", e.ID, err)
		}
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compress archive export: %w", err)
	}

	key := x.ExportKey(policyName, runID, at)
	if _, err := x.store.Upload(ctx, key, &buf, int64(buf.Len())); err != nil {
		return "", fmt.Errorf("upload archive export %s: %w", key, err)
	}
	return key, nil
}
