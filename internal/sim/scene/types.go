package scene

import "strider.run/internal/protocol"

// JoinRequest enters through the join channel and is applied at the next tick
// boundary. Resp and Out are nil for replayed joins.
type JoinRequest struct {
	Name  string
	RigID string
	Out   chan []byte
	Resp  chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
	ErrCode string
	ErrMsg  string
}

// IntentEnvelope pairs a decoded INTENT with the session's walker identity.
type IntentEnvelope struct {
	WalkerID string
	Intent   protocol.IntentMsg
}

// ObserverJoinRequest registers a POSE stream subscriber.
type ObserverJoinRequest struct {
	ID  string
	Out chan []byte
}

type snapshotReq struct {
	resp chan snapshotResult
}

type snapshotResult struct {
	Tick uint64
	Err  error
}

// RecordedJoin is what the tick log keeps about a join, enough to replay it.
type RecordedJoin struct {
	WalkerID string `json:"walker_id"`
	Name     string `json:"name"`
	RigID    string `json:"rig_id"`
}

// RecordedIntent preserves inbox arrival order; latest-wins is re-derived on
// replay by applying them in order.
type RecordedIntent struct {
	WalkerID string             `json:"walker_id"`
	Intent   protocol.IntentMsg `json:"intent"`
}

// TickLogEntry is one line of the replay log: every input applied during the
// tick plus the post-tick state digest.
type TickLogEntry struct {
	Tick      uint64                   `json:"tick"`
	Joins     []RecordedJoin           `json:"joins,omitempty"`
	Leaves    []string                 `json:"leaves,omitempty"`
	Intents   []RecordedIntent         `json:"intents,omitempty"`
	Footsteps []protocol.FootstepEvent `json:"footsteps,omitempty"`
	Digest    string                   `json:"digest"`
}
