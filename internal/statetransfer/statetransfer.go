// Package statetransfer implements State Transfer (spec component C7):
// serializing an agent's working state, publishing it to a target agent
// over the Blackboard, and restoring it with integrity verification on
// the target's next SubagentStart. The checksum-then-restore shape is
// grounded on the teacher's internal/memory.hashString content-hashing
// idiom, generalized from a dedup fingerprint into a corruption check.
package statetransfer

import (
	"context"
	"encoding/json"
	"errors"
	"hash/crc32"

	"github.com/agentcoord/runtime/internal/blackboard"
	"github.com/agentcoord/runtime/internal/idvalidate"
	"github.com/agentcoord/runtime/internal/store"
)

// MaxStateSize is the spec.md §4.7 default cap on a serialized state
// payload.
const MaxStateSize = 1 << 20 // 1 MiB

// ErrStateTooLarge is returned by Serialize when the encoded payload
// exceeds MaxStateSize.
var ErrStateTooLarge = errors.New("statetransfer: state exceeds maximum size")

// State is an agent's working state as handed off between agents
// (spec.md §4.7).
type State struct {
	Context      map[string]interface{} `json:"context"`
	Memory       map[string]interface{} `json:"memory"`
	Progress     int                    `json:"progress"`
	PendingTasks []string               `json:"pendingTasks"`
}

// envelope is the wire shape stored in a state_transfer broadcast's
// payload: the serialized state plus its checksum, so Restore can
// re-verify without re-deriving it from the broadcast's other fields.
type envelope struct {
	Payload  string `json:"payload"`
	Checksum uint32 `json:"checksum"`
}

// Serialize encodes s to its wire form and computes its checksum. Fails
// with ErrStateTooLarge if the encoded payload exceeds MaxStateSize.
func Serialize(s State) (payload string, checksum uint32, err error) {
	if s.Progress < 0 {
		s.Progress = 0
	} else if s.Progress > 100 {
		s.Progress = 100
	}

	raw, err := json.Marshal(s)
	if err != nil {
		return "", 0, err
	}
	if len(raw) > MaxStateSize {
		return "", 0, ErrStateTooLarge
	}

	return string(raw), crc32.ChecksumIEEE(raw), nil
}

// Deserialize decodes payload back into a State. Checksum verification
// is the caller's responsibility (done by Transfer.Restore against the
// envelope stored alongside payload).
func Deserialize(payload string) (State, error) {
	var s State
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return State{}, err
	}
	return s, nil
}

// Transfer coordinates publishing and restoring state handoffs over a
// Blackboard.
type Transfer struct {
	bb *blackboard.Blackboard
}

// New constructs a Transfer backed by bb.
func New(bb *blackboard.Blackboard) *Transfer {
	return &Transfer{bb: bb}
}

// Publish serializes s and posts it as a state_transfer broadcast in
// swarmID, tagged with the destination agent id in the payload so
// Restore can find it (spec.md §4.5.a, §4.7).
func (t *Transfer) Publish(ctx context.Context, swarmID, src, dst string, s State) error {
	payload, checksum, err := Serialize(s)
	if err != nil {
		return err
	}

	env := envelope{Payload: payload, Checksum: checksum}
	envJSON, err := json.Marshal(env)
	if err != nil {
		return err
	}

	_, err = t.bb.Post(ctx, swarmID, src, store.BroadcastStateTransfer, map[string]interface{}{
		"dst":      idvalidate.OrUnknown(dst),
		"envelope": string(envJSON),
	})
	return err
}

// Restore looks for the most recent state_transfer broadcast addressed
// to dst in swarmID, verifies its checksum, and returns the restored
// state. ok is false when there is nothing addressed to dst, or when the
// checksum does not match — per spec.md §4.7 a mismatch means a silent
// discard, never an error surfaced to the caller as a hard failure.
func (t *Transfer) Restore(ctx context.Context, swarmID, dst string) (state State, ok bool, err error) {
	broadcasts, err := t.bb.ReadOfType(ctx, swarmID, store.BroadcastStateTransfer)
	if err != nil {
		return State{}, false, err
	}

	for _, b := range broadcasts {
		target, _ := b.Payload["dst"].(string)
		if target != dst {
			continue
		}

		envJSON, _ := b.Payload["envelope"].(string)
		var env envelope
		if err := json.Unmarshal([]byte(envJSON), &env); err != nil {
			return State{}, false, nil
		}

		if crc32.ChecksumIEEE([]byte(env.Payload)) != env.Checksum {
			return State{}, false, nil
		}

		s, err := Deserialize(env.Payload)
		if err != nil {
			return State{}, false, nil
		}
		return s, true, nil
	}

	return State{}, false, nil
}
