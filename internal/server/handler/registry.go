package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/band4band/internal/api"
	"github.com/alanyoungcy/band4band/internal/domain"
)

// Settlement is the engine surface the handlers drive.
type Settlement interface {
	InitRegistry(ctx context.Context, cred domain.Credentials, req domain.InitRegistryRequest) (domain.Registry, error)
	AddPublisher(ctx context.Context, cred domain.Credentials, req domain.AddPublisherRequest) error
	RemovePublisher(ctx context.Context, cred domain.Credentials, req domain.RemovePublisherRequest) error
	SetFreshnessWindow(ctx context.Context, cred domain.Credentials, req domain.SetFreshnessWindowRequest) error

	InitFeed(ctx context.Context, cred domain.Credentials, req domain.InitFeedRequest) (domain.OracleFeed, error)
	SubmitUpdate(ctx context.Context, cred domain.Credentials, req domain.SubmitUpdateRequest) (domain.OracleFeed, error)

	InitMarket(ctx context.Context, cred domain.Credentials, req domain.InitMarketRequest) (domain.Market, error)
	PlacePosition(ctx context.Context, cred domain.Credentials, req domain.PlacePositionRequest) (domain.Position, error)
	LockMarket(ctx context.Context, cred domain.Credentials, req domain.LockMarketRequest) (domain.Market, error)
	ResolveMarket(ctx context.Context, cred domain.Credentials, req domain.ResolveMarketRequest) (domain.Market, error)
	VoidMarket(ctx context.Context, cred domain.Credentials, req domain.VoidMarketRequest) (domain.Market, error)
	Claim(ctx context.Context, cred domain.Credentials, req domain.ClaimRequest) (uint64, error)

	Registry(ctx context.Context) (domain.Registry, error)
	Feed(ctx context.Context, key domain.FeedKey) (domain.OracleFeed, error)
	Market(ctx context.Context, key domain.MarketKey) (domain.Market, error)
	Position(ctx context.Context, key domain.PositionKey) (domain.Position, error)
	Balance(ctx context.Context, account domain.Identity) (uint64, error)
}

// RegistryHandler serves the publisher registry.
type RegistryHandler struct {
	eng    Settlement
	logger *slog.Logger
}

func NewRegistryHandler(eng Settlement, logger *slog.Logger) *RegistryHandler {
	return &RegistryHandler{eng: eng, logger: logHandler(logger, "registry")}
}

// Init creates the registry with the caller as authority.
// POST /api/registry
func (h *RegistryHandler) Init(w http.ResponseWriter, r *http.Request) {
	env, ok := decodeEnvelope[domain.InitRegistryRequest](w, r)
	if !ok {
		return
	}
	reg, err := h.eng.InitRegistry(r.Context(), env.Credentials, env.Request)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, api.NewRegistryView(reg))
}

// AddPublisher authorizes a publisher.
// POST /api/registry/publishers
func (h *RegistryHandler) AddPublisher(w http.ResponseWriter, r *http.Request) {
	env, ok := decodeEnvelope[domain.AddPublisherRequest](w, r)
	if !ok {
		return
	}
	h.mutate(w, r, h.eng.AddPublisher(r.Context(), env.Credentials, env.Request))
}

// RemovePublisher revokes a publisher.
// POST /api/registry/publishers/remove
func (h *RegistryHandler) RemovePublisher(w http.ResponseWriter, r *http.Request) {
	env, ok := decodeEnvelope[domain.RemovePublisherRequest](w, r)
	if !ok {
		return
	}
	h.mutate(w, r, h.eng.RemovePublisher(r.Context(), env.Credentials, env.Request))
}

// SetFreshnessWindow changes the submission window.
// POST /api/registry/freshness
func (h *RegistryHandler) SetFreshnessWindow(w http.ResponseWriter, r *http.Request) {
	env, ok := decodeEnvelope[domain.SetFreshnessWindowRequest](w, r)
	if !ok {
		return
	}
	h.mutate(w, r, h.eng.SetFreshnessWindow(r.Context(), env.Credentials, env.Request))
}

// Get returns the registry.
// GET /api/registry
func (h *RegistryHandler) Get(w http.ResponseWriter, r *http.Request) {
	reg, err := h.eng.Registry(r.Context())
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, api.NewRegistryView(reg))
}

// mutate answers a registry change with the updated registry.
func (h *RegistryHandler) mutate(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	h.Get(w, r)
}
