package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/band4band/internal/domain"
)

type auditEntryView struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditHandler lists the audit log.
type AuditHandler struct {
	audit  domain.AuditStore
	logger *slog.Logger
}

func NewAuditHandler(audit domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logHandler(logger, "audit")}
}

// List returns audit entries newest first. since and until take RFC 3339
// times.
// GET /api/audit
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	for name, dst := range map[string]**time.Time{"since": &opts.Since, "until": &opts.Until} {
		v := r.URL.Query().Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+name+": expected RFC 3339 time")
			return
		}
		*dst = &t
	}

	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	out := make([]auditEntryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntryView{ID: e.ID, Event: e.Event, Detail: e.Detail, CreatedAt: e.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}
