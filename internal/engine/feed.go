package engine

import (
	"context"
	"errors"
	"strconv"

	"github.com/alanyoungcy/band4band/internal/domain"
)

// InitFeed creates a zeroed feed. Anyone may call it; the key must be new.
func (e *Engine) InitFeed(ctx context.Context, cred domain.Credentials, req domain.InitFeedRequest) (domain.OracleFeed, error) {
	var out domain.OracleFeed
	err := e.execute(ctx, cred, req, static(req.Feed.RecordKey()), func(caller domain.Identity) body {
		return func(ctx context.Context, tx domain.Tx, now int64) ([]domain.Event, error) {
			if _, err := tx.Feed(ctx, req.Feed); err == nil {
				return nil, domain.ErrAlreadyExists
			} else if !errors.Is(err, domain.ErrNotFound) {
				return nil, err
			}
			f := domain.NewOracleFeed(req.Feed)
			if err := tx.InsertFeed(ctx, f); err != nil {
				return nil, err
			}
			out = f
			return []domain.Event{e.event(domain.EventFeedInitialized, caller, now, feedAttrs(req.Feed))}, nil
		}
	})
	return out, err
}

// SubmitUpdate applies a publisher's result update to a feed, validated
// against the registry's publisher list and freshness window at now.
func (e *Engine) SubmitUpdate(ctx context.Context, cred domain.Credentials, req domain.SubmitUpdateRequest) (domain.OracleFeed, error) {
	var out domain.OracleFeed
	keys := static(domain.RegistryRecordKey, req.Feed.RecordKey())
	err := e.execute(ctx, cred, req, keys, func(caller domain.Identity) body {
		return func(ctx context.Context, tx domain.Tx, now int64) ([]domain.Event, error) {
			reg, err := tx.Registry(ctx)
			if err != nil {
				return nil, err
			}
			f, err := tx.Feed(ctx, req.Feed)
			if err != nil {
				return nil, err
			}
			if err := f.ApplyUpdate(reg, caller, req.Update, now); err != nil {
				return nil, err
			}
			if err := tx.UpdateFeed(ctx, f); err != nil {
				return nil, err
			}
			out = f
			attrs := feedAttrs(req.Feed)
			attrs["payload_hash"] = req.Update.PayloadHash.String()
			attrs["ipfs_cid"] = req.Update.CID.String()
			attrs["ts"] = strconv.FormatInt(req.Update.Timestamp, 10)
			attrs["update_count"] = strconv.FormatUint(f.UpdateCount, 10)
			return []domain.Event{e.event(domain.EventFeedUpdated, caller, now, attrs)}, nil
		}
	})
	return out, err
}

func feedAttrs(k domain.FeedKey) map[string]string {
	return map[string]string{"league": k.League.String(), "game_id": k.GameID.String()}
}
