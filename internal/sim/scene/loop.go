package scene

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"strider.run/internal/protocol"
)

// Run drives the tick loop until ctx is cancelled or Stop is called. Inputs
// accumulate between ticks and are applied at the next tick boundary, so a
// burst of messages inside one tick interval still lands on one tick.
func (s *Scene) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(s.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingJoins []JoinRequest
	var pendingLeaves []string
	var pendingIntents []IntentEnvelope
	var pendingSnaps []snapshotReq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case req := <-s.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-s.leave:
			pendingLeaves = append(pendingLeaves, id)
		case env := <-s.inbox:
			pendingIntents = append(pendingIntents, env)
		case req := <-s.obsJoin:
			s.handleObserverJoin(req)
		case id := <-s.obsLeave:
			delete(s.observers, id)
		case req := <-s.snapReq:
			pendingSnaps = append(pendingSnaps, req)
		case <-ticker.C:
			s.stepInternal(pendingJoins, pendingLeaves, pendingIntents)
			s.handleSnapshotRequests(pendingSnaps)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingIntents = pendingIntents[:0]
			pendingSnaps = pendingSnaps[:0]
		}
	}
}

func (s *Scene) Stop() { close(s.stop) }

// StepOnce advances the scene by a single tick with the same ordering
// semantics as the server loop. Used by deterministic replays and tests.
func (s *Scene) StepOnce(joins []JoinRequest, leaves []string, intents []IntentEnvelope) (tick uint64, digest string) {
	tick = s.tick.Load()
	s.stepInternal(joins, leaves, intents)
	return tick, s.stateDigest(tick)
}

func (s *Scene) stepInternal(joins []JoinRequest, leaves []string, intents []IntentEnvelope) {
	stepStart := time.Now()
	nowTick := s.tick.Load()

	// Leaves then joins, deterministically at the tick boundary.
	recordedLeaves := make([]string, 0, len(leaves))
	for _, id := range leaves {
		if _, ok := s.walkers[id]; ok {
			s.removeWalker(id)
			recordedLeaves = append(recordedLeaves, id)
		}
	}
	recordedJoins := make([]RecordedJoin, 0, len(joins))
	for _, req := range joins {
		resp := s.joinWalker(req.Name, req.RigID, req.Out)
		if req.Resp != nil {
			req.Resp <- resp
		}
		if resp.ErrCode == "" {
			recordedJoins = append(recordedJoins, RecordedJoin{
				WalkerID: resp.Welcome.WalkerID,
				Name:     req.Name,
				RigID:    req.RigID,
			})
		}
	}

	// Intents in inbox order; later messages for the same walker win.
	recordedIntents := make([]RecordedIntent, 0, len(intents))
	for _, env := range intents {
		w := s.walkers[env.WalkerID]
		if w == nil {
			continue
		}
		w.applyIntent(env.Intent)
		recordedIntents = append(recordedIntents, RecordedIntent{WalkerID: env.WalkerID, Intent: env.Intent})
	}

	// Advance every walker in join order.
	dt := 1 / float64(s.cfg.TickRateHz)
	var footsteps []protocol.FootstepEvent
	for _, id := range s.order {
		w := s.walkers[id]
		for _, fs := range w.update(dt) {
			footsteps = append(footsteps, protocol.FootstepEvent{
				WalkerID:     id,
				Leg:          fs.Leg,
				Pos:          fs.Position,
				StrideLength: fs.StrideLength,
				Ticks:        fs.Ticks,
			})
		}
	}

	// OBS for every connected driver.
	for _, id := range s.order {
		w := s.walkers[id]
		if w.out == nil {
			continue
		}
		b, err := json.Marshal(w.obs(nowTick))
		if err != nil {
			continue
		}
		sendLatest(w.out, b)
	}

	s.stepObservers(nowTick, footsteps)

	digest := s.stateDigest(nowTick)
	if s.tickLog != nil {
		_ = s.tickLog.WriteTick(TickLogEntry{
			Tick:      nowTick,
			Joins:     recordedJoins,
			Leaves:    recordedLeaves,
			Intents:   recordedIntents,
			Footsteps: footsteps,
			Digest:    digest,
		})
	}

	s.drainDiagnostics(footsteps)

	if s.snapSink != nil && nowTick != 0 && s.cfg.SnapshotEveryTicks > 0 {
		if nowTick%uint64(s.cfg.SnapshotEveryTicks) == 0 {
			snap := s.ExportSnapshot(nowTick)
			select {
			case s.snapSink <- snap:
			default:
				// Drop when the writer is backed up.
			}
		}
	}

	s.stepMS = float64(time.Since(stepStart).Microseconds()) / 1000.0
	s.tick.Add(1)
}

// drainDiagnostics moves buffered per-tick diagnostics into telemetry and the
// server log, and footsteps into telemetry.
func (s *Scene) drainDiagnostics(footsteps []protocol.FootstepEvent) {
	nowTick := s.tick.Load()
	if s.tel != nil {
		for _, fs := range footsteps {
			s.tel.RecordFootstep(nowTick, fs)
		}
	}
	for _, ev := range s.diagBuf.Drain(64) {
		if s.tel != nil {
			s.tel.RecordDiagnostic(ev)
		}
		if s.log != nil {
			s.log.Printf("diag tick=%d walker=%s leg=%s code=%s msg=%s", ev.Tick, ev.Walker, ev.Leg, ev.Code, ev.Message)
		}
	}
}

func (s *Scene) joinWalker(name, rigID string, out chan []byte) JoinResponse {
	def, ok := s.rigs.ByID[rigID]
	if !ok {
		return JoinResponse{ErrCode: protocol.ErrUnknownRig, ErrMsg: fmt.Sprintf("unknown rig %q", rigID)}
	}
	if len(s.walkers) >= s.cfg.MaxWalkers {
		return JoinResponse{ErrCode: protocol.ErrWorldFull, ErrMsg: "walker limit reached"}
	}

	n := s.nextWalkerNum.Add(1)
	id := fmt.Sprintf("W%06d", n)
	spawn, yaw := s.spawnPos(n, def.Body.StandHeight)

	w, err := newWalker(id, name, def, s.tune, s.ground, s.reporterFor(id), spawn, yaw)
	if err != nil {
		s.nextWalkerNum.Add(^uint64(0))
		if s.log != nil {
			s.log.Printf("join rejected: %v", err)
		}
		return JoinResponse{ErrCode: protocol.ErrInternal, ErrMsg: "walker construction failed"}
	}
	w.out = out
	s.walkers[id] = w
	s.order = append(s.order, id)

	return JoinResponse{Welcome: protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		WalkerID:        id,
		WorldParams:     protocol.WorldParams{TickRateHz: s.cfg.TickRateHz, Seed: s.cfg.Seed},
		Rig:             protocol.RigRef{ID: def.ID, Digest: def.Digest, Bones: len(def.Bones), Legs: len(def.Legs)},
		TuningDigest:    s.tune.Digest(),
	}}
}

// spawnPos places the n-th walker on a deterministic outward spiral, facing
// away from the spiral's center, and drops it onto the ground with a ray from
// above.
func (s *Scene) spawnPos(n uint64, standHeight float64) (mgl64.Vec3, float64) {
	const golden = 2.39996322972865332
	angle := golden * float64(n)
	radius := 2.0 + 0.7*float64(n%11)
	x := radius * math.Cos(angle)
	z := radius * math.Sin(angle)

	y := standHeight
	origin := mgl64.Vec3{x, 50, z}
	if hit, ok := s.ground.Raycast(origin, mgl64.Vec3{0, -1, 0}, 100); ok {
		y = hit.Point.Y() + standHeight
	}
	// Yaw that turns body-local +Z onto the outward radial (cos angle, 0,
	// sin angle).
	return mgl64.Vec3{x, y, z}, math.Pi/2 - angle
}

func (s *Scene) removeWalker(id string) {
	delete(s.walkers, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// RequestSnapshot asks the loop to export a snapshot at the next tick
// boundary and push it to the snapshot sink.
func (s *Scene) RequestSnapshot(ctx context.Context) (uint64, error) {
	req := snapshotReq{resp: make(chan snapshotResult, 1)}
	select {
	case s.snapReq <- req:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case res := <-req.resp:
		return res.Tick, res.Err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (s *Scene) handleSnapshotRequests(reqs []snapshotReq) {
	if len(reqs) == 0 {
		return
	}
	nowTick := s.tick.Load()
	var res snapshotResult
	res.Tick = nowTick
	if s.snapSink == nil {
		res.Err = fmt.Errorf("no snapshot sink configured")
	} else {
		snap := s.ExportSnapshot(nowTick)
		select {
		case s.snapSink <- snap:
		default:
			res.Err = fmt.Errorf("snapshot sink full")
		}
	}
	for _, req := range reqs {
		req.resp <- res
	}
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
