package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/band4band/internal/domain"
)

// StatusInfo describes the running node.
type StatusInfo struct {
	Mode      string    `json:"mode"`
	Storage   string    `json:"storage"`
	Auth      string    `json:"auth"`
	Redis     bool      `json:"redis"`
	Pinning   bool      `json:"pinning"`
	Faucet    bool      `json:"faucet"`
	StartedAt time.Time `json:"started_at"`

	// ResolutionStaleness is the engine's configured bound; zero reports
	// the default.
	ResolutionStaleness int64 `json:"-"`
}

// StatusHandler serves node metadata.
type StatusHandler struct {
	info StatusInfo
}

func NewStatusHandler(info StatusInfo) *StatusHandler {
	return &StatusHandler{info: info}
}

// GetStatus reports the node's configuration and protocol constants.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	staleness := h.info.ResolutionStaleness
	if staleness <= 0 {
		staleness = domain.ResolutionStaleness
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node":           h.info,
		"uptime_seconds": int64(time.Since(h.info.StartedAt).Seconds()),
		"protocol": map[string]any{
			"minimum_stake":        domain.MinimumStake,
			"resolution_staleness": staleness,
			"ring_capacity":        domain.RingCapacity,
			"publisher_capacity":   domain.PublisherCapacity,
		},
	})
}
