package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/band4band/internal/api"
	"github.com/alanyoungcy/band4band/internal/domain"
)

// AccountHandler serves ledger balances and the development faucet.
type AccountHandler struct {
	eng       Settlement
	ledger    domain.Ledger
	faucetMax uint64
	logger    *slog.Logger
}

// NewAccountHandler creates the handler. A zero faucetMax or nil ledger
// disables the faucet.
func NewAccountHandler(eng Settlement, ledger domain.Ledger, faucetMax uint64, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{eng: eng, ledger: ledger, faucetMax: faucetMax, logger: logHandler(logger, "account")}
}

// Balance returns an account's ledger balance.
// GET /api/accounts/{account}/balance
func (h *AccountHandler) Balance(w http.ResponseWriter, r *http.Request) {
	account, err := domain.ParseIdentity(r.PathValue("account"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	h.writeBalance(w, r, account)
}

// Faucet credits a development account.
// POST /api/accounts/faucet
func (h *AccountHandler) Faucet(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil || h.faucetMax == 0 {
		writeError(w, http.StatusForbidden, "faucet is disabled")
		return
	}
	var req api.FaucetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SOL != "" {
		if req.Amount != 0 {
			writeDomainError(w, h.logger, fmt.Errorf("%w: give amount or sol, not both", domain.ErrInvalidInput))
			return
		}
		sol, err := decimal.NewFromString(req.SOL)
		if err != nil {
			writeDomainError(w, h.logger, fmt.Errorf("%w: sol: %v", domain.ErrInvalidInput, err))
			return
		}
		if req.Amount, err = domain.SOLToLamports(sol); err != nil {
			writeDomainError(w, h.logger, err)
			return
		}
	}
	if req.Amount == 0 || req.Amount > h.faucetMax {
		writeDomainError(w, h.logger, fmt.Errorf("%w: faucet amount must be between 1 and %d lamports",
			domain.ErrInvalidInput, h.faucetMax))
		return
	}
	if err := h.ledger.Deposit(r.Context(), req.Account, req.Amount); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	h.logger.InfoContext(r.Context(), "faucet deposit",
		slog.String("account", req.Account.Hex()),
		slog.Uint64("amount", req.Amount),
	)
	h.writeBalance(w, r, req.Account)
}

func (h *AccountHandler) writeBalance(w http.ResponseWriter, r *http.Request, account domain.Identity) {
	bal, err := h.eng.Balance(r.Context(), account)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, api.NewBalanceView(account, bal))
}
