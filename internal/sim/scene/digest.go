package scene

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// The digest covers every field that evolves tick to tick: body transform,
// movement state and the full leg state machines, in join order. Two scenes
// fed the same seed and input script must produce identical digests.

type digestLeg struct {
	ID        string     `json:"id"`
	Planted   [3]float64 `json:"planted"`
	StepStart [3]float64 `json:"step_start"`
	StepEnd   [3]float64 `json:"step_end"`
	Target    [3]float64 `json:"target"`
	Progress  float64    `json:"progress"`
	Stepping  bool       `json:"stepping"`
}

type digestWalker struct {
	ID   string      `json:"id"`
	Rig  string      `json:"rig"`
	Yaw  float64     `json:"yaw"`
	Pos  [3]float64  `json:"pos"`
	Rot  [4]float64  `json:"rot"`
	Vel  [3]float64  `json:"vel"`
	Legs []digestLeg `json:"legs"`
}

type digestState struct {
	Tick    uint64         `json:"tick"`
	Seed    int64          `json:"seed"`
	Walkers []digestWalker `json:"walkers"`
}

func (s *Scene) stateDigest(nowTick uint64) string {
	st := digestState{
		Tick:    nowTick,
		Seed:    s.cfg.Seed,
		Walkers: make([]digestWalker, 0, len(s.order)),
	}
	for _, id := range s.order {
		w := s.walkers[id]
		dw := digestWalker{
			ID:  w.ID,
			Rig: w.Rig.ID,
			Yaw: w.yaw,
			Pos: vec3(w.body.Pos),
			Rot: quat4(w.body.Rot),
			Vel: vec3(w.body.Velocity),
		}
		for _, leg := range w.legs {
			dw.Legs = append(dw.Legs, digestLeg{
				ID:        leg.ID,
				Planted:   vec3(leg.Planted),
				StepStart: vec3(leg.StepStart),
				StepEnd:   vec3(leg.StepEnd),
				Target:    vec3(leg.Target),
				Progress:  leg.Progress,
				Stepping:  leg.Stepping,
			})
		}
		st.Walkers = append(st.Walkers, dw)
	}

	b, _ := json.Marshal(st)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
