package session

import (
	"sync"
	"sync/atomic"

	"github.com/qorvex/qorvex-host/pkg/log"
)

const subscriberCapacity = 100

// EventKind tags a broadcast Event's payload shape.
type EventKind string

const (
	EventActionLogged      EventKind = "action_logged"
	EventScreenshotUpdated EventKind = "screenshot_updated"
	EventStarted           EventKind = "started"
	EventEnded             EventKind = "ended"
)

// Event is one message published on a session's broadcast bus.
type Event struct {
	Kind       EventKind      `json:"kind"`
	SessionID  string         `json:"session_id"`
	Action     *LogEntryEvent `json:"action,omitempty"`
	Screenshot []byte         `json:"screenshot,omitempty"`
}

// LogEntryEvent carries the JSON-serializable projection of an
// action.LogEntry for ActionLogged events; kept distinct from
// action.LogEntry so the broadcast payload never accidentally leaks the
// in-memory screenshot reference to a wire encoder.
type LogEntryEvent struct {
	ID         uint64  `json:"id"`
	Success    bool    `json:"success"`
	Message    string  `json:"message,omitempty"`
	DurationMs int64   `json:"duration_ms"`
	WaitMs     *int64  `json:"wait_ms,omitempty"`
	TapMs      *int64  `json:"tap_ms,omitempty"`
	Tag        *string `json:"tag,omitempty"`
}

// Subscriber receives events published to a Broadcaster. If the
// subscriber falls behind — its channel fills up — further events are
// dropped and Lagged is set; the caller must notice (via TryLagged) and
// resync with GetState/GetLog.
type Subscriber struct {
	ch     chan Event
	lagged atomic.Bool
}

// Events returns the channel of delivered events.
func (s *Subscriber) Events() <-chan Event { return s.ch }

// TryLagged reports and clears whether this subscriber has missed
// events since the last call.
func (s *Subscriber) TryLagged() bool {
	return s.lagged.Swap(false)
}

// Broadcaster fans session events out to many subscribers, each with an
// independent bounded queue. A slow subscriber never blocks others or
// the publisher.
type Broadcaster struct {
	logger log.Logger

	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
	laggedTotal atomic.Uint64
}

// NewBroadcaster returns an empty broadcaster.
func NewBroadcaster(logger log.Logger) *Broadcaster {
	return &Broadcaster{logger: logger, subscribers: make(map[*Subscriber]struct{})}
}

// Subscribe registers a new subscriber with a fresh, empty queue.
func (b *Broadcaster) Subscribe() *Subscriber {
	sub := &Subscriber{ch: make(chan Event, subscriberCapacity)}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes sub; further Publish calls no longer reach it.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, sub)
	b.mu.Unlock()
}

// Publish delivers event to every current subscriber. A subscriber
// whose queue is full is skipped and marked lagged rather than blocking
// the publisher or other subscribers.
func (b *Broadcaster) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub.ch <- event:
		default:
			sub.lagged.Store(true)
			b.laggedTotal.Add(1)
			b.logger.Warn().Msg("broadcast subscriber lagged, event dropped")
		}
	}
}

// SubscriberCount returns the number of currently registered subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// LaggedTotal returns the cumulative number of dropped-for-lag events
// across all subscribers since the broadcaster was created.
func (b *Broadcaster) LaggedTotal() uint64 {
	return b.laggedTotal.Load()
}
