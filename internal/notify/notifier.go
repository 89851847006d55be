// Package notify forwards selected engine events to operator chat channels
// (Telegram, Discord).
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/alanyoungcy/band4band/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches events to every sender. Only event types in the allow
// list pass Notify; an empty list allows every type.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		allowed[domain.EventType(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Wants reports whether events of type t are forwarded.
func (n *Notifier) Wants(t domain.EventType) bool {
	return len(n.events) == 0 || n.events[t]
}

// Notify sends ev to every sender if its type is allowed.
func (n *Notifier) Notify(ctx context.Context, ev domain.Event) error {
	if !n.Wants(ev.Type) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", string(ev.Type)))
		return nil
	}
	title, msg := Format(ev)
	return n.dispatch(ctx, title, msg)
}

// NotifyAll sends a free-form message regardless of the filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch delivers to every sender; one failing sender does not stop the
// others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// Format renders ev as a title and a body of sorted key: value lines.
func Format(ev domain.Event) (title, message string) {
	title = strings.ReplaceAll(string(ev.Type), "_", " ")
	if game, ok := ev.Attrs["game_id"]; ok {
		title += " " + game
	}

	var b strings.Builder
	fmt.Fprintf(&b, "caller: %s\nat: %s", ev.Caller.Hex(), ev.At.Format("2006-01-02 15:04:05Z07:00"))
	for _, k := range slices.Sorted(maps.Keys(ev.Attrs)) {
		fmt.Fprintf(&b, "\n%s: %s", k, ev.Attrs[k])
	}
	return title, b.String()
}
