package natsbridge

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/agentcoord/runtime/internal/blackboard"
)

func startTestServer(t *testing.T, port int) *EmbeddedServer {
	t.Helper()
	srv, err := NewEmbeddedServer(EmbeddedServerConfig{Port: port})
	if err != nil {
		t.Fatalf("construct embedded server: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestBridgePublishesBroadcastToSwarmSubject(t *testing.T) {
	srv := startTestServer(t, 14322)

	publisher, err := NewClient(srv.URL())
	if err != nil {
		t.Fatalf("new publisher client: %v", err)
	}
	defer publisher.Close()

	subscriber, err := NewClient(srv.URL())
	if err != nil {
		t.Fatalf("new subscriber client: %v", err)
	}
	defer subscriber.Close()

	var mu sync.Mutex
	var received []blackboard.Broadcast

	sub, err := subscriber.Subscribe(Subject("swarm-1"), func(msg *Message) {
		var evt blackboard.Broadcast
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			t.Errorf("unmarshal broadcast: %v", err)
			return
		}
		mu.Lock()
		received = append(received, evt)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	bridge := NewBridge(publisher)
	evt := blackboard.Broadcast{
		ID: "b1", SwarmID: "swarm-1", SenderAgent: "agent-1",
		BroadcastType: "status_update", Payload: map[string]interface{}{"progress": "50%"},
		CreatedAt: time.Now(),
	}
	if err := bridge.PublishBroadcast("swarm-1", evt); err != nil {
		t.Fatalf("publish broadcast: %v", err)
	}
	_ = publisher.Flush()

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected exactly one received broadcast, got %d", len(received))
	}
	if received[0].ID != "b1" || received[0].SenderAgent != "agent-1" {
		t.Fatalf("unexpected broadcast content: %+v", received[0])
	}
}

func TestBridgeIgnoresOtherSwarmSubjects(t *testing.T) {
	srv := startTestServer(t, 14323)

	publisher, err := NewClient(srv.URL())
	if err != nil {
		t.Fatalf("new publisher client: %v", err)
	}
	defer publisher.Close()

	subscriber, err := NewClient(srv.URL())
	if err != nil {
		t.Fatalf("new subscriber client: %v", err)
	}
	defer subscriber.Close()

	var mu sync.Mutex
	var count int
	sub, err := subscriber.Subscribe(Subject("swarm-a"), func(*Message) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	bridge := NewBridge(publisher)
	_ = bridge.PublishBroadcast("swarm-b", blackboard.Broadcast{ID: "b2", SwarmID: "swarm-b"})
	_ = publisher.Flush()
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Fatalf("expected no messages delivered to swarm-a subject, got %d", count)
	}
}
