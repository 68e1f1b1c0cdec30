package scene

import (
	"encoding/json"

	"strider.run/internal/protocol"
)

func (s *Scene) handleObserverJoin(req ObserverJoinRequest) {
	if req.ID == "" || req.Out == nil {
		return
	}
	s.observers[req.ID] = req.Out
}

// stepObservers fans one POSE frame out to every subscriber. The frame is
// marshalled once; slow subscribers lose frames, never block the tick.
func (s *Scene) stepObservers(tick uint64, footsteps []protocol.FootstepEvent) {
	if len(s.observers) == 0 {
		return
	}

	msg := protocol.PoseMsg{
		Type:            protocol.TypePose,
		ProtocolVersion: protocol.Version,
		Tick:            tick,
		Walkers:         make([]protocol.WalkerPose, 0, len(s.order)),
		Footsteps:       footsteps,
	}
	for _, id := range s.order {
		msg.Walkers = append(msg.Walkers, s.walkers[id].walkerPose())
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	for _, out := range s.observers {
		sendLatest(out, b)
	}
}
