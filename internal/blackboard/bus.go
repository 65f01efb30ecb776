package blackboard

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentcoord/runtime/internal/logging"
	"github.com/agentcoord/runtime/internal/store"
)

// Broadcast is the live-delivery shape of a store.Broadcast, published to
// Bus subscribers at Post time. It carries the same fields as
// store.Broadcast; kept as a distinct type so the bus does not force a
// round trip through the database to notify a live listener.
type Broadcast struct {
	ID            string
	SwarmID       string
	SenderAgent   string
	BroadcastType string
	Payload       map[string]interface{}
	CreatedAt     time.Time
}

// subscription is one listener's buffered channel plus an optional type
// filter.
type subscription struct {
	ch    chan Broadcast
	types map[string]bool // nil/empty means all types
}

// Backpressure tuning, carried over unchanged from the teacher's
// internal/events.Bus: a slow subscriber gets a few short retries before
// its broadcast is dropped rather than blocking the publisher.
const (
	maxBackpressureRetries = 3
	backpressureRetryDelay = 10 * time.Millisecond
)

// Bus is an optional in-process fan-out layer in front of the durable
// Blackboard store: a swarm member can Subscribe to get broadcasts as
// they are posted instead of polling Read. It is purely a notification
// convenience — the store remains the source of truth, so a dropped
// live notification never loses data.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string][]*subscription // swarm_id -> subscriptions
	dropped uint64
	log     *logging.Logger
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string][]*subscription),
		log:  logging.New("BLACKBOARD-BUS"),
	}
}

// AllSwarms is the reserved Subscribe key for a listener that wants
// every swarm's broadcasts — the tail feed behind the introspection
// surface's WS /live endpoint.
const AllSwarms = "*"

// Subscribe returns a channel that receives broadcasts posted to swarmID,
// optionally filtered to a set of broadcast types (nil/empty means all
// types). The channel is buffered; call Unsubscribe to release it.
// Pass AllSwarms to receive every swarm's broadcasts on one channel.
func (b *Bus) Subscribe(swarmID string, types []string) <-chan Broadcast {
	b.mu.Lock()
	defer b.mu.Unlock()

	var typeSet map[string]bool
	if len(types) > 0 {
		typeSet = make(map[string]bool, len(types))
		for _, t := range types {
			typeSet[t] = true
		}
	}

	sub := &subscription{ch: make(chan Broadcast, 100), types: typeSet}
	b.subs[swarmID] = append(b.subs[swarmID], sub)
	return sub.ch
}

// Unsubscribe removes and closes a subscription previously returned by
// Subscribe.
func (b *Bus) Unsubscribe(swarmID string, ch <-chan Broadcast) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subs[swarmID]
	if !ok {
		return
	}
	for i, sub := range subs {
		if sub.ch == ch {
			close(sub.ch)
			b.subs[swarmID] = append(subs[:i], subs[i+1:]...)
			if len(b.subs[swarmID]) == 0 {
				delete(b.subs, swarmID)
			}
			return
		}
	}
}

// Publish fans a broadcast out to every matching subscriber of its swarm.
// Already durable in the store by the time this is called; Publish only
// wakes up live listeners.
func (b *Bus) Publish(evt Broadcast) {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.subs[evt.SwarmID]...)
	if evt.SwarmID != AllSwarms {
		subs = append(subs, b.subs[AllSwarms]...)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if matchesType(evt.BroadcastType, sub.types) {
			b.sendWithBackpressure(sub, evt)
		}
	}
}

func matchesType(t string, types map[string]bool) bool {
	if len(types) == 0 {
		return true
	}
	return types[t]
}

func (b *Bus) sendWithBackpressure(sub *subscription, evt Broadcast) {
	select {
	case sub.ch <- evt:
		return
	default:
	}

	for retry := 1; retry <= maxBackpressureRetries; retry++ {
		time.Sleep(backpressureRetryDelay)
		select {
		case sub.ch <- evt:
			return
		default:
		}
	}

	dropped := atomic.AddUint64(&b.dropped, 1)
	b.log.Printf("dropped broadcast after %d retries: swarm=%s type=%s id=%s (total dropped: %d)",
		maxBackpressureRetries, evt.SwarmID, evt.BroadcastType, evt.ID, dropped)
}

// DroppedCount returns the total number of broadcasts dropped due to a
// full subscriber channel.
func (b *Bus) DroppedCount() uint64 {
	return atomic.LoadUint64(&b.dropped)
}

// FromStore converts a store.Broadcast into the live Bus shape.
func FromStore(b store.Broadcast) Broadcast {
	return Broadcast{
		ID: b.ID, SwarmID: b.SwarmID, SenderAgent: b.SenderAgent,
		BroadcastType: b.BroadcastType, Payload: b.Payload, CreatedAt: b.CreatedAt,
	}
}
