// Package blackboard implements the at-least-once broadcast channel keyed
// by swarm/group id (spec component C4). It is grounded directly on the
// teacher's internal/events package: Broadcast is internal/events.Event
// re-scoped to swarm semantics, and the optional live-notification Bus
// below is the teacher's events.Bus with the same fan-out-with-
// backpressure-then-drop delivery policy.
package blackboard

import (
	"context"
	"time"

	"github.com/agentcoord/runtime/internal/idvalidate"
	"github.com/agentcoord/runtime/internal/logging"
	"github.com/agentcoord/runtime/internal/store"
)

// DefaultReadLimit is the spec.md §4.4 default number of broadcasts
// returned by Read when the caller does not specify a limit.
const DefaultReadLimit = 10

// NATSPublisher is the optional live-notification path onto a NATS
// subject (spec.md §4.4's "a long-lived supervisor process can react
// without polling the Store"). Implemented by internal/natsbridge.Bridge;
// kept as an interface here so the blackboard package never imports a
// NATS client directly.
type NATSPublisher interface {
	PublishBroadcast(swarmID string, evt Broadcast) error
}

// Blackboard is the durable broadcast log plus optional live fan-out
// notifiers.
type Blackboard struct {
	db   *store.DB
	bus  *Bus          // optional; nil means no in-process notification path
	nats NATSPublisher // optional; nil means no NATS notification path
	log  *logging.Logger
}

// New constructs a Blackboard backed by db. Call WithBus and/or WithNATS
// to attach the optional notification paths.
func New(db *store.DB) *Blackboard {
	return &Blackboard{db: db, log: logging.New("BLACKBOARD")}
}

// WithBus attaches a live-notification Bus; broadcasts posted afterward
// are also fanned out to Bus subscribers.
func (b *Blackboard) WithBus(bus *Bus) *Blackboard {
	b.bus = bus
	return b
}

// WithNATS attaches a NATSPublisher; broadcasts posted afterward are
// also published to that swarm's NATS subject.
func (b *Blackboard) WithNATS(pub NATSPublisher) *Blackboard {
	b.nats = pub
	return b
}

// Post appends a broadcast and returns its id. Delivery is at-least-once:
// consumers must be idempotent on (sender, type) when that matters
// (spec.md §4.4).
func (b *Blackboard) Post(ctx context.Context, swarmID, sender, broadcastType string, payload map[string]interface{}) (string, error) {
	swarmID = idvalidate.OrUnknown(swarmID)
	sender = idvalidate.OrUnknown(sender)

	now := time.Now()
	id, err := b.db.AppendBroadcast(ctx, swarmID, sender, broadcastType, payload, now)
	if err != nil {
		return "", err
	}

	if b.bus != nil || b.nats != nil {
		evt := Broadcast{
			ID: id, SwarmID: swarmID, SenderAgent: sender,
			BroadcastType: broadcastType, Payload: payload, CreatedAt: now,
		}
		if b.bus != nil {
			b.bus.Publish(evt)
		}
		if b.nats != nil {
			if err := b.nats.PublishBroadcast(swarmID, evt); err != nil {
				b.log.Printf("NATS publish failed for swarm %s (continuing, Store is authoritative): %v", swarmID, err)
			}
		}
	}

	return id, nil
}

// Read returns the most recent broadcasts for a swarm, ordered by
// (created_at desc, id desc), optionally excluding a sender, limited to
// DefaultReadLimit unless limit is positive.
func (b *Blackboard) Read(ctx context.Context, swarmID, excludeSender string, limit int) ([]store.Broadcast, error) {
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	return b.db.ReadBroadcasts(ctx, swarmID, excludeSender, limit)
}

// ReadOfType returns all broadcasts of a single type for a swarm, most
// recent first.
func (b *Blackboard) ReadOfType(ctx context.Context, swarmID, broadcastType string) ([]store.Broadcast, error) {
	return b.db.ReadBroadcastsOfType(ctx, swarmID, broadcastType)
}

// CountDistinctSenders returns the de-duplicated sender count for a
// broadcast type within a swarm (spec.md §4.4).
func (b *Blackboard) CountDistinctSenders(ctx context.Context, swarmID, broadcastType string) (int, error) {
	return b.db.CountDistinctSenders(ctx, swarmID, broadcastType)
}

// CountAny returns the total distinct-sender count for a swarm.
func (b *Blackboard) CountAny(ctx context.Context, swarmID string) (int, error) {
	return b.db.CountAny(ctx, swarmID)
}

// MissingDoneSenders returns the senders who have posted any broadcast
// but not yet a 'done' broadcast — the "how many are still missing"
// computation behind the swarm Stop-hook block message (spec.md §4.5.a,
// scenario 1).
func (b *Blackboard) MissingDoneSenders(ctx context.Context, swarmID string) ([]string, error) {
	any, err := b.db.DistinctAnySenders(ctx, swarmID)
	if err != nil {
		return nil, err
	}
	done, err := b.db.DistinctDoneSenders(ctx, swarmID)
	if err != nil {
		return nil, err
	}

	var missing []string
	for sender := range any {
		if !done[sender] {
			missing = append(missing, sender)
		}
	}
	return missing, nil
}

// SwarmComplete reports whether every sender that has broadcast anything
// in the swarm has also posted a 'done' — spec.md §4.5.a's completion
// rule.
func (b *Blackboard) SwarmComplete(ctx context.Context, swarmID string) (bool, error) {
	doneCount, err := b.CountDistinctSenders(ctx, swarmID, store.BroadcastDone)
	if err != nil {
		return false, err
	}
	anyCount, err := b.CountAny(ctx, swarmID)
	if err != nil {
		return false, err
	}
	if anyCount == 0 {
		return false, nil
	}
	return doneCount >= anyCount, nil
}
