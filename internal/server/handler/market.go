package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/band4band/internal/api"
	"github.com/alanyoungcy/band4band/internal/domain"
)

// MarketHandler serves markets, positions and claims.
type MarketHandler struct {
	eng    Settlement
	logger *slog.Logger
}

func NewMarketHandler(eng Settlement, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{eng: eng, logger: logHandler(logger, "market")}
}

// Init opens a market.
// POST /api/markets
func (h *MarketHandler) Init(w http.ResponseWriter, r *http.Request) {
	env, ok := decodeEnvelope[domain.InitMarketRequest](w, r)
	if !ok {
		return
	}
	m, err := h.eng.InitMarket(r.Context(), env.Credentials, env.Request)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, api.NewMarketView(m))
}

// PlacePosition stakes on one side.
// POST /api/markets/positions
func (h *MarketHandler) PlacePosition(w http.ResponseWriter, r *http.Request) {
	env, ok := decodeEnvelope[domain.PlacePositionRequest](w, r)
	if !ok {
		return
	}
	p, err := h.eng.PlacePosition(r.Context(), env.Credentials, env.Request)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, api.PositionView{
		Market: p.Key.Market,
		User:   p.Key.User,
		Side:   p.Side.String(),
		Stake:  p.Stake,
	})
}

// Lock closes a market to stakes.
// POST /api/markets/lock
func (h *MarketHandler) Lock(w http.ResponseWriter, r *http.Request) {
	env, ok := decodeEnvelope[domain.LockMarketRequest](w, r)
	if !ok {
		return
	}
	m, err := h.eng.LockMarket(r.Context(), env.Credentials, env.Request)
	h.market(w, m, err)
}

// Resolve fixes a locked market's outcome.
// POST /api/markets/resolve
func (h *MarketHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	env, ok := decodeEnvelope[domain.ResolveMarketRequest](w, r)
	if !ok {
		return
	}
	m, err := h.eng.ResolveMarket(r.Context(), env.Credentials, env.Request)
	h.market(w, m, err)
}

// Void cancels an unresolved market.
// POST /api/markets/void
func (h *MarketHandler) Void(w http.ResponseWriter, r *http.Request) {
	env, ok := decodeEnvelope[domain.VoidMarketRequest](w, r)
	if !ok {
		return
	}
	m, err := h.eng.VoidMarket(r.Context(), env.Credentials, env.Request)
	h.market(w, m, err)
}

// Claim pays the caller's winning position.
// POST /api/markets/claim
func (h *MarketHandler) Claim(w http.ResponseWriter, r *http.Request) {
	env, ok := decodeEnvelope[domain.ClaimRequest](w, r)
	if !ok {
		return
	}
	paid, err := h.eng.Claim(r.Context(), env.Credentials, env.Request)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ClaimResult{
		Market: env.Request.Market,
		User:   env.Caller,
		Payout: paid,
		SOL:    domain.FormatSOL(paid),
	})
}

// Get returns a market.
// GET /api/markets/{game}/{kind}
func (h *MarketHandler) Get(w http.ResponseWriter, r *http.Request) {
	key, err := marketKeyParam(r)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	m, err := h.eng.Market(r.Context(), key)
	h.market(w, m, err)
}

// GetPosition returns a user's position and its current claimable payout.
// GET /api/markets/{game}/{kind}/positions/{owner}
func (h *MarketHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	key, err := marketKeyParam(r)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	owner, err := domain.ParseIdentity(r.PathValue("owner"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	m, err := h.eng.Market(r.Context(), key)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	p, err := h.eng.Position(r.Context(), domain.PositionKey{Market: key, User: owner})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, api.NewPositionView(m, p))
}

func (h *MarketHandler) market(w http.ResponseWriter, m domain.Market, err error) {
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, api.NewMarketView(m))
}
