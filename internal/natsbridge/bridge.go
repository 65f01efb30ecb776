package natsbridge

import (
	"fmt"

	"github.com/agentcoord/runtime/internal/blackboard"
	"github.com/agentcoord/runtime/internal/logging"
)

// SubjectPrefix namespaces every subject this runtime publishes under,
// so a NATS deployment shared with other systems stays collision-free.
const SubjectPrefix = "coordination.broadcast."

// Bridge adapts a Client to blackboard.NATSPublisher: every broadcast
// the Blackboard posts is also published, best-effort, to
// SubjectPrefix+swarm_id.
type Bridge struct {
	client *Client
	log    *logging.Logger
}

// NewBridge wraps an already-connected Client.
func NewBridge(client *Client) *Bridge {
	return &Bridge{client: client, log: logging.New("NATS")}
}

// Subject returns the subject a swarm's broadcasts are published under.
func Subject(swarmID string) string {
	return SubjectPrefix + swarmID
}

// PublishBroadcast implements blackboard.NATSPublisher. A publish
// failure is logged and returned as an error; the Blackboard logs it and
// carries on. The Store is the durable source of truth, so a lost NATS
// notification never loses a broadcast, only the live-reaction path's
// punctuality.
func (b *Bridge) PublishBroadcast(swarmID string, evt blackboard.Broadcast) error {
	if err := b.client.PublishJSON(Subject(swarmID), evt); err != nil {
		b.log.Printf("publish failed for swarm %s (degrading silently): %v", swarmID, err)
		return fmt.Errorf("publish broadcast: %w", err)
	}
	return nil
}
