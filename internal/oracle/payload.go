// Package oracle holds the publisher-side helpers: the game result payload
// schema, its canonical hash and content identifier, and an HTTP client for
// submitting feed updates to a settlement node.
package oracle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/alanyoungcy/band4band/internal/domain"
)

// GamePayload is the off-ledger result document whose hash a feed records.
// Field order is the canonical encoding order.
type GamePayload struct {
	League            string       `json:"league" validate:"required,max=8"`
	GameID            string       `json:"gameId" validate:"required,max=32"`
	Timestamp         int64        `json:"timestamp" validate:"gt=0"`
	Score             Score        `json:"score"`
	Final             bool         `json:"final"`
	Players           []PlayerStat `json:"players,omitempty" validate:"omitempty,dive"`
	Source            []string     `json:"source" validate:"required,min=1,dive,required"`
	NormalizerVersion string       `json:"normalizerVersion" validate:"required"`
}

// Score is the scoreboard at Timestamp.
type Score struct {
	Home    int64  `json:"home" validate:"gte=0"`
	Away    int64  `json:"away" validate:"gte=0"`
	Quarter int64  `json:"quarter" validate:"gte=0"`
	Clock   string `json:"clock"`
}

// PlayerStat carries optional per-player box score lines.
type PlayerStat struct {
	ID         string `json:"id" validate:"required"`
	PassingYds *int64 `json:"passingYds,omitempty"`
	PassTD     *int64 `json:"passTD,omitempty" validate:"omitempty,gte=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParsePayload decodes raw JSON and validates it. Unknown keys are ignored.
func ParsePayload(raw []byte) (GamePayload, error) {
	var p GamePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return GamePayload{}, fmt.Errorf("%w: payload: %v", domain.ErrInvalidInput, err)
	}
	if err := p.Validate(); err != nil {
		return GamePayload{}, err
	}
	return p, nil
}

// Validate checks the payload schema and that league and game id fit the
// feed key widths.
func (p GamePayload) Validate() error {
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: payload: %s", domain.ErrInvalidInput, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: payload: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

// FeedKey is the feed this payload settles.
func (p GamePayload) FeedKey() (domain.FeedKey, error) {
	return domain.NewFeedKey(p.League, p.GameID)
}

// Canonical is the compact JSON encoding that gets hashed and pinned.
func (p GamePayload) Canonical() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("oracle: encode payload: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
