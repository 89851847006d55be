package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names a committed state change.
type EventType string

const (
	EventRegistryInitialized EventType = "registry_initialized"
	EventPublisherAdded      EventType = "publisher_added"
	EventPublisherRemoved    EventType = "publisher_removed"
	EventFreshnessWindowSet  EventType = "freshness_window_set"
	EventFeedInitialized     EventType = "feed_initialized"
	EventFeedUpdated         EventType = "feed_updated"
	EventMarketInitialized   EventType = "market_initialized"
	EventPositionPlaced      EventType = "position_placed"
	EventMarketLocked        EventType = "market_locked"
	EventMarketResolved      EventType = "market_resolved"
	EventMarketVoided        EventType = "market_voided"
	EventClaimPaid           EventType = "claim_paid"
)

var eventTypes = map[EventType]bool{
	EventRegistryInitialized: true,
	EventPublisherAdded:      true,
	EventPublisherRemoved:    true,
	EventFreshnessWindowSet:  true,
	EventFeedInitialized:     true,
	EventFeedUpdated:         true,
	EventMarketInitialized:   true,
	EventPositionPlaced:      true,
	EventMarketLocked:        true,
	EventMarketResolved:      true,
	EventMarketVoided:        true,
	EventClaimPaid:           true,
}

// Valid reports whether t is one of the event types the engine emits.
func (t EventType) Valid() bool { return eventTypes[t] }

// Event describes one committed operation.
type Event struct {
	ID     string            `json:"id"`
	Type   EventType         `json:"type"`
	At     time.Time         `json:"at"`
	Caller Identity          `json:"caller"`
	Attrs  map[string]string `json:"attrs,omitempty"`
}

// NewEvent stamps a fresh event of type t.
func NewEvent(t EventType, caller Identity, at time.Time, attrs map[string]string) Event {
	return Event{
		ID:     uuid.NewString(),
		Type:   t,
		At:     at.UTC(),
		Caller: caller,
		Attrs:  attrs,
	}
}

// EventSink receives events after their operation commits.
type EventSink interface {
	Emit(ctx context.Context, ev Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, ev Event)

func (f EventSinkFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }
