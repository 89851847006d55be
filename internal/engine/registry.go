package engine

import (
	"context"
	"errors"
	"strconv"

	"github.com/alanyoungcy/band4band/internal/domain"
)

// InitRegistry creates the deployment's registry with the caller as
// authority and the configured default freshness window.
func (e *Engine) InitRegistry(ctx context.Context, cred domain.Credentials, req domain.InitRegistryRequest) (domain.Registry, error) {
	var out domain.Registry
	err := e.execute(ctx, cred, req, static(domain.RegistryRecordKey), func(caller domain.Identity) body {
		return func(ctx context.Context, tx domain.Tx, now int64) ([]domain.Event, error) {
			if _, err := tx.Registry(ctx); err == nil {
				return nil, domain.ErrAlreadyExists
			} else if !errors.Is(err, domain.ErrNotFound) {
				return nil, err
			}
			reg := domain.NewRegistry(caller, req.Treasury, e.cfg.FreshnessWindow)
			if err := tx.InsertRegistry(ctx, reg); err != nil {
				return nil, err
			}
			out = reg
			return []domain.Event{e.event(domain.EventRegistryInitialized, caller, now, map[string]string{
				"authority":        caller.Hex(),
				"treasury":         req.Treasury.Hex(),
				"freshness_window": strconv.FormatInt(reg.FreshnessWindow, 10),
			})}, nil
		}
	})
	return out, err
}

// AddPublisher authorizes a publisher. Only the authority may call it.
func (e *Engine) AddPublisher(ctx context.Context, cred domain.Credentials, req domain.AddPublisherRequest) error {
	return e.mutateRegistry(ctx, cred, req, func(caller domain.Identity, reg *domain.Registry) error {
		return reg.AddPublisher(caller, req.Publisher)
	}, domain.EventPublisherAdded, map[string]string{"publisher": req.Publisher.Hex()})
}

// RemovePublisher revokes a publisher. Only the authority may call it.
func (e *Engine) RemovePublisher(ctx context.Context, cred domain.Credentials, req domain.RemovePublisherRequest) error {
	return e.mutateRegistry(ctx, cred, req, func(caller domain.Identity, reg *domain.Registry) error {
		return reg.RemovePublisher(caller, req.Publisher)
	}, domain.EventPublisherRemoved, map[string]string{"publisher": req.Publisher.Hex()})
}

// SetFreshnessWindow replaces the submission freshness window. Only the
// authority may call it.
func (e *Engine) SetFreshnessWindow(ctx context.Context, cred domain.Credentials, req domain.SetFreshnessWindowRequest) error {
	return e.mutateRegistry(ctx, cred, req, func(caller domain.Identity, reg *domain.Registry) error {
		return reg.SetFreshnessWindow(caller, req.Seconds)
	}, domain.EventFreshnessWindowSet, map[string]string{"seconds": strconv.FormatInt(req.Seconds, 10)})
}

func (e *Engine) mutateRegistry(
	ctx context.Context,
	cred domain.Credentials,
	req domain.Request,
	mutate func(caller domain.Identity, reg *domain.Registry) error,
	evType domain.EventType,
	attrs map[string]string,
) error {
	return e.execute(ctx, cred, req, static(domain.RegistryRecordKey), func(caller domain.Identity) body {
		return func(ctx context.Context, tx domain.Tx, now int64) ([]domain.Event, error) {
			reg, err := tx.Registry(ctx)
			if err != nil {
				return nil, err
			}
			if err := mutate(caller, &reg); err != nil {
				return nil, err
			}
			if err := tx.UpdateRegistry(ctx, reg); err != nil {
				return nil, err
			}
			return []domain.Event{e.event(evType, caller, now, attrs)}, nil
		}
	})
}
