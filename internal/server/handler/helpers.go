package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/band4band/internal/api"
	"github.com/alanyoungcy/band4band/internal/domain"
)

// maxBodySize bounds request bodies.
const maxBodySize = 1 << 20

// writeJSON marshals v and writes it with status. A marshal failure becomes a
// plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, api.ErrorBody{Error: msg})
}

// writeDomainError maps err to a status code and error body. Internal errors
// are logged and their text is withheld.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", slog.String("error", err.Error()))
		writeJSON(w, status, api.ErrorBody{Error: "internal server error", Code: "Internal", Kind: "internal"})
		return
	}
	if status == http.StatusServiceUnavailable {
		writeJSON(w, status, api.ErrorBody{Error: err.Error(), Code: "Unavailable"})
		return
	}
	writeJSON(w, status, api.ErrorBody{
		Error: err.Error(),
		Code:  domain.CodeOf(err),
		Kind:  domain.KindOf(err).String(),
	})
}

// statusFor picks the HTTP status for an engine error.
func statusFor(err error) int {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	switch domain.KindOf(err) {
	case domain.KindAuthorization:
		if errors.Is(err, domain.ErrBadSignature) ||
			errors.Is(err, domain.ErrReplayedNonce) ||
			errors.Is(err, domain.ErrRequestExpired) {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindInput:
		return http.StatusBadRequest
	case domain.KindTiming, domain.KindStateMachine, domain.KindAccounting, domain.KindConfiguration:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a size-limited JSON body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorBody{
			Error: fmt.Sprintf("invalid request body: %v", err),
			Code:  domain.ErrInvalidInput.Code,
			Kind:  domain.KindInput.String(),
		})
		return false
	}
	return true
}

// decodeEnvelope reads a signed request body.
func decodeEnvelope[T domain.Request](w http.ResponseWriter, r *http.Request) (api.Envelope[T], bool) {
	var env api.Envelope[T]
	return env, decodeJSON(w, r, &env)
}

// parseListOpts reads limit (default 50, max 500) and offset.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, 500)
	}
	offset := 0
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		offset = n
	}
	return domain.ListOpts{Limit: limit, Offset: offset}
}

func feedKeyParam(r *http.Request) (domain.FeedKey, error) {
	return domain.NewFeedKey(r.PathValue("league"), r.PathValue("game"))
}

func marketKeyParam(r *http.Request) (domain.MarketKey, error) {
	game, err := domain.NewGameID(r.PathValue("game"))
	if err != nil {
		return domain.MarketKey{}, err
	}
	kind, err := strconv.ParseUint(r.PathValue("kind"), 10, 8)
	if err != nil {
		return domain.MarketKey{}, fmt.Errorf("%w: market kind %q", domain.ErrInvalidInput, r.PathValue("kind"))
	}
	return domain.MarketKey{GameID: game, Kind: uint8(kind)}, nil
}

func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
