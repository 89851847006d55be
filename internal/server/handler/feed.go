package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/band4band/internal/api"
	"github.com/alanyoungcy/band4band/internal/domain"
	"github.com/alanyoungcy/band4band/internal/oracle"
)

// FeedHandler serves oracle feeds and their pinned payloads. pinner may be
// nil when no object store is configured.
type FeedHandler struct {
	eng    Settlement
	pinner domain.Pinner
	logger *slog.Logger
}

func NewFeedHandler(eng Settlement, pinner domain.Pinner, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{eng: eng, pinner: pinner, logger: logHandler(logger, "feed")}
}

// Init creates a feed.
// POST /api/feeds
func (h *FeedHandler) Init(w http.ResponseWriter, r *http.Request) {
	env, ok := decodeEnvelope[domain.InitFeedRequest](w, r)
	if !ok {
		return
	}
	f, err := h.eng.InitFeed(r.Context(), env.Credentials, env.Request)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, api.NewFeedView(f))
}

// SubmitUpdate records a publisher's result update.
// POST /api/feeds/updates
func (h *FeedHandler) SubmitUpdate(w http.ResponseWriter, r *http.Request) {
	env, ok := decodeEnvelope[domain.SubmitUpdateRequest](w, r)
	if !ok {
		return
	}
	f, err := h.eng.SubmitUpdate(r.Context(), env.Credentials, env.Request)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, api.NewFeedView(f))
}

// Get returns a feed with its retained history.
// GET /api/feeds/{league}/{game}
func (h *FeedHandler) Get(w http.ResponseWriter, r *http.Request) {
	key, err := feedKeyParam(r)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	f, err := h.eng.Feed(r.Context(), key)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, api.NewFeedView(f))
}

// Payload returns the pinned payload behind a feed's latest update after
// checking it against the recorded hash.
// GET /api/feeds/{league}/{game}/payload
func (h *FeedHandler) Payload(w http.ResponseWriter, r *http.Request) {
	if h.pinner == nil {
		writeError(w, http.StatusServiceUnavailable, "payload storage is not configured")
		return
	}
	key, err := feedKeyParam(r)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	f, err := h.eng.Feed(r.Context(), key)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	cid := f.CID.String()
	if f.UpdateCount == 0 || cid == "" {
		writeError(w, http.StatusNotFound, "feed has no pinned payload")
		return
	}

	raw, err := h.pinner.Fetch(r.Context(), cid)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if !oracle.VerifyPayloadAgainstHash(raw, f.LatestHash) {
		writeError(w, http.StatusConflict, "pinned payload does not match the feed hash")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Payload-Hash", f.LatestHash.String())
	w.Header().Set("X-Payload-CID", cid)
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

// Pin validates a game payload, pins its canonical form and returns the
// hash and CID a publisher submits.
// POST /api/payloads
func (h *FeedHandler) Pin(w http.ResponseWriter, r *http.Request) {
	if h.pinner == nil {
		writeError(w, http.StatusServiceUnavailable, "payload storage is not configured")
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	p, err := oracle.ParsePayload(raw)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	prep, err := oracle.Prepare(p)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if err := h.pinner.Pin(r.Context(), prep.CID, prep.Canonical); err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeDomainError(w, h.logger, err)
			return
		}
		h.logger.Error("pin failed", slog.String("cid", prep.CID), slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "payload storage unavailable")
		return
	}
	writeJSON(w, http.StatusCreated, api.PinResult{Hash: prep.Hash, CID: prep.CID})
}
