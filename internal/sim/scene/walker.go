package scene

import (
	"fmt"
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"strider.run/internal/diag"
	"strider.run/internal/gait"
	"strider.run/internal/ik"
	"strider.run/internal/mathx"
	"strider.run/internal/protocol"
	"strider.run/internal/rig"
	"strider.run/internal/sim/tuning"
)

// Walker is one simulated character: a posed skeleton, its leg chains, the
// gait controller driving them and the movement state fed by INTENT messages.
// All fields are owned by the scene goroutine.
type Walker struct {
	ID   string
	Name string
	Rig  *rig.Def

	skel   *rig.Skeleton
	pose   *rig.Pose
	chains []*rig.Chain
	legs   []*gait.Leg
	ctrl   *gait.Controller
	solver *ik.Solver

	body        gait.BodyState
	yaw         float64
	standHeight float64
	intent      protocol.IntentMsg

	move     tuning.Movement
	parallel bool

	out chan []byte // nil for scripted/replayed walkers
}

func newWalker(id, name string, def *rig.Def, tune tuning.Tuning, ground gait.Raycaster, rep diag.Reporter, spawn mgl64.Vec3, yaw float64) (*Walker, error) {
	skel, err := rig.NewSkeleton(def)
	if err != nil {
		return nil, fmt.Errorf("walker %s: %w", id, err)
	}

	w := &Walker{
		ID:   id,
		Name: name,
		Rig:  def,

		skel:        skel,
		pose:        rig.NewPose(skel),
		solver:      ik.NewSolver(tune.Solver.MaxIterations, tune.Solver.Tolerance, rep),
		standHeight: def.Body.StandHeight,
		move:        tune.Movement,
		parallel:    tune.Solver.Parallel,
	}

	facing := mathx.YawQuat(yaw)
	w.yaw = yaw
	w.body.Pos = spawn
	w.body.Rot = facing
	w.pose.RootPos = w.body.Pos
	w.pose.RootRot = w.body.Rot

	bindPos, bindRot := skel.BindWorld()
	for _, legDef := range def.Legs {
		chain, err := rig.BuildChain(skel, legDef)
		if err != nil {
			return nil, fmt.Errorf("walker %s: %w", id, err)
		}
		w.chains = append(w.chains, chain)

		foot := chain.Bones[len(chain.Bones)-1]
		offset := bindPos[foot]
		leg := &gait.Leg{
			ID:           legDef.ID,
			Group:        legDef.Group,
			Offset:       offset,
			Planted:      spawn.Add(facing.Rotate(offset)),
			GroundNormal: mgl64.Vec3{0, 1, 0},
		}
		leg.Target = leg.Planted

		if len(chain.Bones) >= 3 {
			joints := chain.BindPositions(skel)
			for i := range joints {
				joints[i] = spawn.Add(facing.Rotate(joints[i]))
			}
			footWorld := joints[len(joints)-1]
			pole := mgl64.Vec3{}
			if chain.HasPole {
				pole = spawn.Add(facing.Rotate(chain.Pole))
			} else {
				forward := facing.Rotate(bindRot[chain.Bones[0]].Rotate(mgl64.Vec3{0, 0, 1}))
				pole = ik.DerivePole(joints, forward, chain.Total)
			}
			leg.Pole = &ik.PoleTracker{}
			leg.Pole.Anchor(pole, footWorld)
		}
		w.legs = append(w.legs, leg)
	}

	gcfg := gaitConfig(tune.Gait)
	w.ctrl = gait.NewController(gcfg, w.legs, ground, rep)
	return w, nil
}

func gaitConfig(g tuning.Gait) gait.Config {
	return gait.Config{
		Policy:              g.Policy,
		StepTriggerDistance: g.StepTriggerDistance,
		AngleTriggerDeg:     g.AngleTriggerDeg,
		BaseStrideSpeed:     g.BaseStrideSpeed,
		MaxStrideSpeed:      g.MaxStrideSpeed,
		StepHeight:          g.StepHeight,
		SpeedStrideMult:     g.SpeedStrideMult,
		AngularStrideMult:   g.AngularStrideMult,
		StepOvershoot:       g.StepOvershoot,
		BodyAdaptRate:       g.BodyAdaptRate,
		RayOriginOffset:     g.RayOriginOffset,
		RayMaxDistance:      g.RayMaxDistance,
	}
}

func clampAxis(v float64) float64 { return mgl64.Clamp(v, -1, 1) }

// applyIntent stores the latest movement intent; axes are clamped so clients
// cannot ask for more than unit input.
func (w *Walker) applyIntent(in protocol.IntentMsg) {
	in.MoveX = clampAxis(in.MoveX)
	in.MoveZ = clampAxis(in.MoveZ)
	in.Turn = clampAxis(in.Turn)
	w.intent = in
}

// update advances one walker by dt: movement integration first, then the gait
// controller, then body-ground adaptation, then IK for every leg against the
// targets the controller just wrote.
func (w *Walker) update(dt float64) []gait.Footstep {
	mx, mz := w.intent.MoveX, w.intent.MoveZ
	if l := math.Hypot(mx, mz); l > 1 {
		mx /= l
		mz /= l
	}
	speed := w.move.WalkSpeed
	if w.intent.Run {
		speed = w.move.RunSpeed
	}

	yawRate := w.intent.Turn * w.move.TurnRateDeg * math.Pi / 180
	w.yaw += yawRate * dt

	vel := w.body.Rot.Rotate(mgl64.Vec3{mx, 0, mz}).Mul(speed)
	w.body.Velocity = vel
	w.body.LinearSpeed = vel.Len()
	w.body.AngularSpeed = math.Abs(yawRate)
	w.body.MoveIntent = math.Hypot(mx, mz) > 1e-3 || math.Abs(w.intent.Turn) > 1e-3

	w.body.Pos = w.body.Pos.Add(vel.Mul(dt))
	if yawRate != 0 {
		up := w.body.Rot.Rotate(mgl64.Vec3{0, 1, 0})
		w.body.Rot = mgl64.QuatRotate(yawRate*dt, up).Mul(w.body.Rot).Normalize()
	}

	tgt, steps := w.ctrl.Update(dt, w.body)
	w.ctrl.AdaptBody(&w.body, tgt, w.standHeight, dt)

	w.pose.RootPos = w.body.Pos
	w.pose.RootRot = w.body.Rot
	w.solveLegs()
	return steps
}

// solveLegs runs IK for every chain. Chains write disjoint bone rotations, so
// the fan-out is safe when parallel solving is enabled.
func (w *Walker) solveLegs() {
	solve := func(i int) {
		leg, chain := w.legs[i], w.chains[i]
		var pole mgl64.Vec3
		hasPole := false
		if leg.Pole != nil {
			pole = leg.Pole.Track(leg.Target)
			hasPole = true
		}
		w.solver.Solve(chain, w.pose, leg.Target, pole, hasPole)
	}

	if w.parallel && len(w.legs) > 1 {
		var wg sync.WaitGroup
		for i := range w.legs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				solve(i)
			}(i)
		}
		wg.Wait()
		return
	}
	for i := range w.legs {
		solve(i)
	}
}

func vec3(v mgl64.Vec3) [3]float64  { return [3]float64{v.X(), v.Y(), v.Z()} }
func quat4(q mgl64.Quat) [4]float64 { return [4]float64{q.W, q.V.X(), q.V.Y(), q.V.Z()} }

func (w *Walker) bodyPose() protocol.BodyPose {
	return protocol.BodyPose{
		Pos:          vec3(w.body.Pos),
		Rot:          quat4(w.body.Rot),
		Yaw:          w.yaw,
		LinearSpeed:  w.body.LinearSpeed,
		AngularSpeed: w.body.AngularSpeed,
	}
}

func (w *Walker) legPhases() []protocol.LegPhase {
	out := make([]protocol.LegPhase, len(w.legs))
	for i, leg := range w.legs {
		out[i] = protocol.LegPhase{
			ID:       leg.ID,
			Group:    leg.Group,
			Planted:  vec3(leg.Planted),
			Target:   vec3(leg.Target),
			Progress: leg.Progress,
			Stepping: leg.Stepping,
		}
	}
	return out
}

func (w *Walker) obs(tick uint64) protocol.ObsMsg {
	return protocol.ObsMsg{
		Type:            protocol.TypeObs,
		ProtocolVersion: protocol.Version,
		Tick:            tick,
		WalkerID:        w.ID,
		Body:            w.bodyPose(),
		Legs:            w.legPhases(),
	}
}

func (w *Walker) walkerPose() protocol.WalkerPose {
	bones := make([]protocol.BoneRot, w.skel.NumBones())
	for i := range bones {
		bones[i] = protocol.BoneRot{Name: w.skel.Names[i], Rot: quat4(w.pose.Local[i])}
	}
	return protocol.WalkerPose{
		ID:    w.ID,
		RigID: w.Rig.ID,
		Body:  w.bodyPose(),
		Bones: bones,
		Legs:  w.legPhases(),
	}
}
