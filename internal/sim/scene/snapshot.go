package scene

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"strider.run/internal/protocol"
)

// SceneV1 is the persisted form of a scene. Restoring it into a fresh scene
// with the same rigs, tuning and terrain seed resumes the simulation exactly;
// the tick log digests keep lining up.
type SceneV1 struct {
	Version      int    `json:"version"`
	SceneID      string `json:"scene_id"`
	Tick         uint64 `json:"tick"`
	Seed         int64  `json:"seed"`
	TickRateHz   int    `json:"tick_rate_hz"`
	TuningDigest string `json:"tuning_digest"`

	NextWalkerNum uint64     `json:"next_walker_num"`
	Walkers       []WalkerV1 `json:"walkers"`
}

type WalkerV1 struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	RigID  string     `json:"rig_id"`
	Yaw    float64    `json:"yaw"`
	Pos    [3]float64 `json:"pos"`
	Rot    [4]float64 `json:"rot"`
	Vel    [3]float64 `json:"vel"`
	Intent protocol.IntentMsg `json:"intent"`

	Legs []LegV1 `json:"legs"`
}

type LegV1 struct {
	ID        string     `json:"id"`
	Planted   [3]float64 `json:"planted"`
	StepStart [3]float64 `json:"step_start"`
	StepEnd   [3]float64 `json:"step_end"`
	Target    [3]float64 `json:"target"`
	Progress  float64    `json:"progress"`
	Stepping  bool       `json:"stepping"`
	Normal    [3]float64 `json:"normal"`

	PoleOffset   [3]float64 `json:"pole_offset"`
	PoleAnchored bool       `json:"pole_anchored"`
}

func toVec3(v [3]float64) mgl64.Vec3 { return mgl64.Vec3{v[0], v[1], v[2]} }
func toQuat(q [4]float64) mgl64.Quat {
	return mgl64.Quat{W: q[0], V: mgl64.Vec3{q[1], q[2], q[3]}}
}

func (s *Scene) ExportSnapshot(nowTick uint64) SceneV1 {
	snap := SceneV1{
		Version:      1,
		SceneID:      s.cfg.ID,
		Tick:         nowTick,
		Seed:         s.cfg.Seed,
		TickRateHz:   s.cfg.TickRateHz,
		TuningDigest: s.tune.Digest(),

		NextWalkerNum: s.nextWalkerNum.Load(),
	}
	for _, id := range s.order {
		w := s.walkers[id]
		wv := WalkerV1{
			ID:     w.ID,
			Name:   w.Name,
			RigID:  w.Rig.ID,
			Yaw:    w.yaw,
			Pos:    vec3(w.body.Pos),
			Rot:    quat4(w.body.Rot),
			Vel:    vec3(w.body.Velocity),
			Intent: w.intent,
		}
		for _, leg := range w.legs {
			lv := LegV1{
				ID:        leg.ID,
				Planted:   vec3(leg.Planted),
				StepStart: vec3(leg.StepStart),
				StepEnd:   vec3(leg.StepEnd),
				Target:    vec3(leg.Target),
				Progress:  leg.Progress,
				Stepping:  leg.Stepping,
				Normal:    vec3(leg.GroundNormal),
			}
			if leg.Pole != nil {
				lv.PoleOffset = vec3(leg.Pole.Offset())
				lv.PoleAnchored = leg.Pole.Anchored()
			}
			wv.Legs = append(wv.Legs, lv)
		}
		snap.Walkers = append(snap.Walkers, wv)
	}
	return snap
}

// ImportSnapshot replaces the scene's dynamic state. Call before Run; the
// scene must have been built with the same rigs and tuning the snapshot was
// taken under.
func (s *Scene) ImportSnapshot(snap SceneV1) error {
	if snap.Version != 1 {
		return fmt.Errorf("snapshot: unsupported version %d", snap.Version)
	}
	if d := s.tune.Digest(); snap.TuningDigest != "" && snap.TuningDigest != d {
		return fmt.Errorf("snapshot: tuning digest mismatch (snapshot %s, scene %s)", snap.TuningDigest, d)
	}

	s.walkers = map[string]*Walker{}
	s.order = s.order[:0]

	for _, wv := range snap.Walkers {
		def, ok := s.rigs.ByID[wv.RigID]
		if !ok {
			return fmt.Errorf("snapshot: walker %s: unknown rig %q", wv.ID, wv.RigID)
		}
		w, err := newWalker(wv.ID, wv.Name, def, s.tune, s.ground, s.reporterFor(wv.ID), toVec3(wv.Pos), wv.Yaw)
		if err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
		if len(w.legs) != len(wv.Legs) {
			return fmt.Errorf("snapshot: walker %s: leg count mismatch (snapshot %d, rig %d)", wv.ID, len(wv.Legs), len(w.legs))
		}

		w.yaw = wv.Yaw
		w.body.Pos = toVec3(wv.Pos)
		w.body.Rot = toQuat(wv.Rot).Normalize()
		w.body.Velocity = toVec3(wv.Vel)
		w.body.LinearSpeed = w.body.Velocity.Len()
		w.intent = wv.Intent
		w.pose.RootPos = w.body.Pos
		w.pose.RootRot = w.body.Rot

		for i, lv := range wv.Legs {
			leg := w.legs[i]
			if leg.ID != lv.ID {
				return fmt.Errorf("snapshot: walker %s: leg order mismatch (%s vs %s)", wv.ID, leg.ID, lv.ID)
			}
			leg.Planted = toVec3(lv.Planted)
			leg.StepStart = toVec3(lv.StepStart)
			leg.StepEnd = toVec3(lv.StepEnd)
			leg.Target = toVec3(lv.Target)
			leg.Progress = lv.Progress
			leg.Stepping = lv.Stepping
			leg.GroundNormal = toVec3(lv.Normal)
			if leg.Pole != nil {
				leg.Pole.Restore(toVec3(lv.PoleOffset), lv.PoleAnchored)
			}
		}

		s.walkers[wv.ID] = w
		s.order = append(s.order, wv.ID)
	}

	s.nextWalkerNum.Store(snap.NextWalkerNum)
	// The snapshot holds post-tick state; the next tick to run is Tick+1.
	s.tick.Store(snap.Tick + 1)
	return nil
}
