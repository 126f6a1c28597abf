package notify

import (
	"sync"
	"time"
)

// Event is a registry state transition surfaced to observability
// subscribers (the /events endpoint). It's a read-only view, never
// itself authoritative state.
type Event struct {
	Kind    string
	AgentID string
	TaskID  string
	At      time.Time
	Detail  string
}

// Broadcaster fans Publish calls out to every subscribed channel,
// directly following the subscriptions map in the teacher's
// harpoon-scheduler/registry.go (broadcastRegistryState / notify / stop),
// generalized from a single registryState type to a named Event.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan<- Event]struct{}
}

// NewBroadcaster constructs an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: map[chan<- Event]struct{}{}}
}

// Subscribe registers c to receive every future Publish. c must be
// buffered or actively drained by the caller: Publish sends
// non-blockingly and drops the event for any subscriber whose channel is
// full, rather than let one slow observer stall the others.
func (b *Broadcaster) Subscribe(c chan<- Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[c] = struct{}{}
}

// Unsubscribe removes c. Safe to call more than once.
func (b *Broadcaster) Unsubscribe(c chan<- Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, c)
}

// Publish delivers e to every current subscriber.
func (b *Broadcaster) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.subs {
		select {
		case c <- e:
		default:
		}
	}
}

// Subscribers reports the current subscriber count, for tests.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
