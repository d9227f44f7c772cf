package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventBatchSent EventType = "batch_sent"
	EventLookup    EventType = "lookup"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Namespace string    `json:"namespace"`
}

// BatchEvent describes one batch handed to the transport.
type BatchEvent struct {
	EventBase
	Kind     string        `json:"kind"`  // "refresh" or "remove"
	Index    int           `json:"index"` // zero based position in the call
	Total    int           `json:"total"`
	Size     int           `json:"size"`
	Bytes    int           `json:"bytes"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// LookupEvent describes a point lookup of one record.
type LookupEvent struct {
	EventBase
	SessionID string        `json:"session_id"`
	Found     bool          `json:"found"`
	Duration  time.Duration `json:"duration"`
	Err       error         `json:"-"`
}

// LifecycleHooks defines callbacks for collection observability.
type LifecycleHooks struct {
	OnBatchSent func(context.Context, *BatchEvent)
	OnLookup    func(context.Context, *LookupEvent)
}

// Merge returns hooks that call h first and then other.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnBatchSent: chain(h.OnBatchSent, other.OnBatchSent),
		OnLookup:    chain(h.OnLookup, other.OnLookup),
	}
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
