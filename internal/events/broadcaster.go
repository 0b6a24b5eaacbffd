// Package events fans sync events out to event stream subscribers.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/MichelGerding/remote-iracing-setups/internal/metrics"
	"github.com/MichelGerding/remote-iracing-setups/internal/protocol"
)

const (
	EventCredentialRefreshed = "credential_refreshed"
	EventCredentialFailed    = "credential_refresh_failed"
	EventCatalogRefreshed    = "catalog_refreshed"
	EventCatalogFailed       = "catalog_refresh_failed"
	EventArtifactDownloaded  = "artifact_downloaded"
	EventArtifactFailed      = "artifact_failed"
	EventReconcileComplete   = "reconcile_complete"
	EventReconcileFailed     = "reconcile_failed"
)

// Event is a sync event as sent to subscribers.
type Event = protocol.SyncEvent

// Broadcaster manages subscribers and publishes events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe adds a new subscriber and returns its event channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetSSESubscribers(n)
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetSSESubscribers(n)
}

// Publish sends an event to all subscribers. It never blocks: events for
// slow consumers are dropped.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// MarshalEvent serializes an event to JSON.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}
