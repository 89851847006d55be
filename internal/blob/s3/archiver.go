package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/band4band/internal/domain"
)

// archivePartSize is the multipart chunk size for audit uploads.
const archivePartSize int64 = 8 * 1024 * 1024

// Archiver copies new audit log entries to the bucket as JSONL files,
// one file per run, partitioned by day:
//
//	<prefix>/audit/2025-01-04/1736000000-1736003600.jsonl
//
// It never deletes from the audit store.
type Archiver struct {
	writer domain.BlobWriter
	audit  domain.AuditStore
	prefix string
	logger *slog.Logger
	now    func() time.Time

	since  time.Time
	lastID int64
}

func NewArchiver(w domain.BlobWriter, audit domain.AuditStore, prefix string, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: w,
		audit:  audit,
		prefix: prefix,
		logger: logger.With(slog.String("component", "audit_archiver")),
		now:    time.Now,
	}
}

// WithClock replaces the wall clock, for tests.
func (a *Archiver) WithClock(now func() time.Time) *Archiver {
	a.now = now
	return a
}

// ArchiveOnce uploads every entry logged since the previous run and returns
// how many were written. Entries are stored oldest first.
func (a *Archiver) ArchiveOnce(ctx context.Context) (int, error) {
	until := a.now().UTC()
	opts := domain.ListOpts{Until: &until}
	if !a.since.IsZero() {
		opts.Since = &a.since
	}
	entries, err := a.audit.List(ctx, opts)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}

	fresh := make([]domain.AuditEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].ID > a.lastID {
			fresh = append(fresh, entries[i])
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(fresh)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}
	first := fresh[0].CreatedAt.UTC()
	path := joinKey(a.prefix, "audit", first.Format("2006-01-02"),
		fmt.Sprintf("%d-%d.jsonl", first.Unix(), until.Unix()))
	if err := a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), archivePartSize); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	a.lastID = fresh[len(fresh)-1].ID
	a.since = fresh[len(fresh)-1].CreatedAt
	a.logger.InfoContext(ctx, "audit entries archived",
		slog.String("path", path),
		slog.Int("count", len(fresh)),
	)
	return len(fresh), nil
}

// Run archives every interval until ctx is done. Failed runs are retried on
// the next tick.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := a.ArchiveOnce(ctx); err != nil {
				a.logger.WarnContext(ctx, "audit archive failed", slog.String("error", err.Error()))
			}
		}
	}
}

type archivedEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// marshalJSONL writes one compact JSON object per line.
func marshalJSONL(entries []domain.AuditEntry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, e := range entries {
		rec := archivedEntry{ID: e.ID, Event: e.Event, Detail: e.Detail, CreatedAt: e.CreatedAt.UTC()}
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
