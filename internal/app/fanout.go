package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/band4band/internal/domain"
	"github.com/alanyoungcy/band4band/internal/notify"
	"github.com/alanyoungcy/band4band/internal/server/ws"
)

// EventStream is the durable stream every committed event is appended to.
const EventStream = "events:log"

const notifyTimeout = 10 * time.Second

// EventFanout delivers committed engine events to the bus, the audit log and
// the notifier. Delivery failures are logged; the operation has already
// committed.
type EventFanout struct {
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier *notify.Notifier
	logger   *slog.Logger

	wg sync.WaitGroup
}

var _ domain.EventSink = (*EventFanout)(nil)

// NewEventFanout creates a fan-out. notifier may be nil.
func NewEventFanout(bus domain.SignalBus, audit domain.AuditStore, notifier *notify.Notifier, logger *slog.Logger) *EventFanout {
	return &EventFanout{
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "event_fanout")),
	}
}

// Emit implements domain.EventSink.
func (f *EventFanout) Emit(ctx context.Context, ev domain.Event) {
	log := f.logger.With(slog.String("event", string(ev.Type)), slog.String("event_id", ev.ID))

	raw, err := json.Marshal(ev)
	if err != nil {
		log.ErrorContext(ctx, "marshal event", slog.String("error", err.Error()))
		return
	}
	if err := f.bus.Publish(ctx, ws.EventsChannel, raw); err != nil {
		log.WarnContext(ctx, "publish event", slog.String("error", err.Error()))
	}
	if err := f.bus.StreamAppend(ctx, EventStream, raw); err != nil {
		log.WarnContext(ctx, "append event stream", slog.String("error", err.Error()))
	}
	if err := f.audit.Log(ctx, string(ev.Type), auditDetail(ev)); err != nil {
		log.ErrorContext(ctx, "audit event", slog.String("error", err.Error()))
	}

	if f.notifier == nil || !f.notifier.Enabled() || !f.notifier.Wants(ev.Type) {
		return
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := f.notifier.Notify(nctx, ev); err != nil {
			log.WarnContext(nctx, "notify event", slog.String("error", err.Error()))
		}
	}()
}

// Wait blocks until in-flight notifications finish.
func (f *EventFanout) Wait() { f.wg.Wait() }

func auditDetail(ev domain.Event) map[string]any {
	detail := map[string]any{
		"event_id": ev.ID,
		"caller":   ev.Caller.Hex(),
		"at":       ev.At.UTC().Format(time.RFC3339),
	}
	for k, v := range ev.Attrs {
		detail[k] = v
	}
	return detail
}
