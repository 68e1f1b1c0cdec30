package ik

import (
	"math"
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"strider.run/internal/diag"
	"strider.run/internal/rig"
)

func straightChain(segs []float64) []mgl64.Vec3 {
	pos := make([]mgl64.Vec3, len(segs)+1)
	at := 0.0
	for i, l := range segs {
		at += l
		pos[i+1] = mgl64.Vec3{0, 0, at}
	}
	return pos
}

func segmentLengthsOK(t *testing.T, pos []mgl64.Vec3, segs []float64, tol float64) {
	t.Helper()
	for i := 0; i < len(segs); i++ {
		got := pos[i+1].Sub(pos[i]).Len()
		if math.Abs(got-segs[i]) > tol {
			t.Fatalf("segment %d length: got %v want %v", i, got, segs[i])
		}
	}
}

func TestFABRIK_ReachableTarget(t *testing.T) {
	segs := []float64{1, 1, 1}
	pos := straightChain(segs)
	target := mgl64.Vec3{0, 0, 2.5}

	FABRIK(pos, segs, target, 10, 0.01)

	if d := pos[3].Sub(target).Len(); d > 0.01 {
		t.Fatalf("effector distance to target: %v", d)
	}
	segmentLengthsOK(t, pos, segs, 1e-4)
}

func TestFABRIK_UnreachableStretches(t *testing.T) {
	segs := []float64{1, 1, 1}
	pos := straightChain(segs)
	target := mgl64.Vec3{0, 0, 5}

	FABRIK(pos, segs, target, 10, 0.01)

	want := []mgl64.Vec3{{0, 0, 0}, {0, 0, 1}, {0, 0, 2}, {0, 0, 3}}
	for i := range want {
		if pos[i].Sub(want[i]).Len() > 1e-9 {
			t.Fatalf("joint %d: got %v want %v", i, pos[i], want[i])
		}
	}
}

// Random reachable targets over random chains: the effector converges and no
// segment ever stretches or compresses.
func TestFABRIK_ReachabilityProperty(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		n := 2 + r.Intn(5) // 2..6 bones
		segs := make([]float64, n-1)
		total, maxSeg := 0.0, 0.0
		for i := range segs {
			segs[i] = 0.5 + r.Float64()
			total += segs[i]
			maxSeg = math.Max(maxSeg, segs[i])
		}
		pos := make([]mgl64.Vec3, n)
		at := mgl64.Vec3{}
		for i := 1; i < n; i++ {
			dir := mgl64.Vec3{r.NormFloat64(), r.NormFloat64(), r.NormFloat64()}.Normalize()
			at = at.Add(dir.Mul(segs[i-1]))
			pos[i] = at
		}

		// A single segment reaches only the sphere at exactly its own length;
		// longer chains cover the annulus between the fold limit and full
		// reach. Stay inside both bounds.
		dist := segs[0]
		if len(segs) > 1 {
			minReach := math.Max(0, 2*maxSeg-total)
			dist = minReach + 0.05 + r.Float64()*(total-minReach-0.1)
		}
		dir := mgl64.Vec3{r.NormFloat64(), r.NormFloat64(), r.NormFloat64()}.Normalize()
		target := dir.Mul(dist)

		FABRIK(pos, segs, target, 50, 1e-3)

		if d := pos[n-1].Sub(target).Len(); d > 1e-3 {
			t.Fatalf("trial %d: effector distance %v (n=%d dist=%v total=%v)", trial, d, n, dist, total)
		}
		segmentLengthsOK(t, pos, segs, 1e-6)
	}
}

// A chain starting exactly on the root-target line must still bend to reach a
// target short of full extension, in any direction along that line.
func TestFABRIK_CollinearChainBends(t *testing.T) {
	cases := []struct {
		name   string
		segs   []float64
		target mgl64.Vec3
	}{
		{"short of reach", []float64{1, 1}, mgl64.Vec3{0, 0, 1.2}},
		{"behind root", []float64{1, 1, 1}, mgl64.Vec3{0, 0, -1.5}},
		{"uneven segments", []float64{0.6, 1.4, 0.8}, mgl64.Vec3{0, 0, 2.0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pos := straightChain(tc.segs)
			FABRIK(pos, tc.segs, tc.target, 30, 1e-3)
			if d := pos[len(pos)-1].Sub(tc.target).Len(); d > 1e-3 {
				t.Fatalf("effector distance to target: %v", d)
			}
			segmentLengthsOK(t, pos, tc.segs, 1e-6)
		})
	}
}

func TestFABRIK_Idempotent(t *testing.T) {
	segs := []float64{1, 0.8, 1.2}
	pos := straightChain(segs)
	target := mgl64.Vec3{0.5, -1, 1.5}

	FABRIK(pos, segs, target, 30, 1e-4)
	first := make([]mgl64.Vec3, len(pos))
	copy(first, pos)

	FABRIK(pos, segs, target, 30, 1e-4)
	for i := range pos {
		if pos[i].Sub(first[i]).Len() > 1e-4 {
			t.Fatalf("joint %d moved on second solve: %v -> %v", i, first[i], pos[i])
		}
	}
}

func TestPoleCorrect_BendsTowardPole(t *testing.T) {
	segs := []float64{1, 1}
	pos := []mgl64.Vec3{{0, 0, 0}, {0.6, 0, 0.8}, {0, 0, 1.6}}
	pole := mgl64.Vec3{-2, 0, 0.8}

	PoleCorrect(pos, pole)

	if pos[1].X() >= 0 {
		t.Fatalf("knee did not flip toward pole: %v", pos[1])
	}
	segmentLengthsOK(t, pos, segs, 1e-9)
	// Endpoints stay put.
	if pos[0].Len() > 1e-12 || pos[2].Sub(mgl64.Vec3{0, 0, 1.6}).Len() > 1e-9 {
		t.Fatalf("endpoints moved: %v %v", pos[0], pos[2])
	}
}

func testRig(t *testing.T) (*rig.Skeleton, *rig.Chain) {
	t.Helper()
	def := &rig.Def{
		ID: "solver_test",
		Bones: []rig.BoneDef{
			{Name: "root", Position: [3]float64{0, 0, 0}},
			{Name: "hip", Parent: "root", Position: [3]float64{0.5, 0, 0}},
			{Name: "knee", Parent: "hip", Position: [3]float64{0, -1, 0}},
			{Name: "foot", Parent: "knee", Position: [3]float64{0, -1, 0}},
		},
		Legs: []rig.LegDef{{ID: "L", Bones: []string{"hip", "knee", "foot"}}},
		Body: rig.BodyDef{StandHeight: 2},
	}
	s, err := rig.NewSkeleton(def)
	if err != nil {
		t.Fatalf("NewSkeleton: %v", err)
	}
	c, err := rig.BuildChain(s, def.Legs[0])
	if err != nil {
		t.Fatalf("BuildChain: %v", err)
	}
	return s, c
}

func TestSolve_PoseReachesTarget(t *testing.T) {
	s, c := testRig(t)
	pose := rig.NewPose(s)
	solver := NewSolver(20, 1e-3, diag.Nop())

	target := mgl64.Vec3{0.5, -1.2, 0.8}
	pole := mgl64.Vec3{0.5, -1, 3}
	got := solver.Solve(c, pose, target, pole, true)

	if d := got.Sub(target).Len(); d > 1e-3 {
		t.Fatalf("returned effector distance: %v", d)
	}

	// The pose must agree with the solver's answer: rotations were extracted
	// from the solved joint positions.
	foot, _ := s.BoneIndex("foot")
	if d := pose.WorldPosition(foot).Sub(target).Len(); d > 1e-3 {
		t.Fatalf("pose effector distance: %v", d)
	}

	// Length preservation through the rotation path.
	hip, _ := s.BoneIndex("hip")
	knee, _ := s.BoneIndex("knee")
	if d := pose.WorldPosition(knee).Sub(pose.WorldPosition(hip)).Len(); math.Abs(d-1) > 1e-9 {
		t.Fatalf("hip-knee length: %v", d)
	}
	if d := pose.WorldPosition(foot).Sub(pose.WorldPosition(knee)).Len(); math.Abs(d-1) > 1e-9 {
		t.Fatalf("knee-foot length: %v", d)
	}
}

func TestSolve_DegenerateBindDirSkipsBone(t *testing.T) {
	s, c := testRig(t)
	pose := rig.NewPose(s)
	c.BindLocalDir[1] = mgl64.Vec3{} // simulate a broken bind direction

	var events []diag.Event
	solver := NewSolver(20, 1e-3, diag.ReporterFunc(func(ev diag.Event) { events = append(events, ev) }))

	knee, _ := s.BoneIndex("knee")
	before := pose.Local[knee]
	solver.Solve(c, pose, mgl64.Vec3{0.5, -1.2, 0.8}, mgl64.Vec3{}, false)

	if len(events) != 1 || events[0].Code != diag.CodeDegenerateBone {
		t.Fatalf("expected one degenerate-bone report, got %v", events)
	}
	if pose.Local[knee] != before {
		t.Fatalf("degenerate bone rotation changed")
	}
}

func TestPoleTracker_OffsetFollowsTarget(t *testing.T) {
	var tr PoleTracker
	tr.Anchor(mgl64.Vec3{1, 2, 3}, mgl64.Vec3{1, 0, 3})
	if !tr.Anchored() {
		t.Fatalf("not anchored")
	}
	// Second anchor is ignored.
	tr.Anchor(mgl64.Vec3{9, 9, 9}, mgl64.Vec3{})

	got := tr.Track(mgl64.Vec3{4, 0, -1})
	want := mgl64.Vec3{4, 2, -1}
	if got.Sub(want).Len() > 1e-12 {
		t.Fatalf("tracked pole: got %v want %v", got, want)
	}
}

func TestDerivePole_BentChain(t *testing.T) {
	pos := []mgl64.Vec3{{0, 0, 0}, {0.5, 0.5, 0}, {0, 1, 0}}
	pole := DerivePole(pos, mgl64.Vec3{0, 0, 1}, 2)

	// The knee leans +X off the root-effector line, so the pole must too.
	if pole.X() <= pos[1].X() {
		t.Fatalf("pole not offset along bend: %v", pole)
	}
	if d := pole.Sub(pos[1]).Len(); math.Abs(d-1) > 1e-9 {
		t.Fatalf("pole distance from mid joint: got %v want 1", d)
	}
}

func TestDerivePole_StraightChainFallsBack(t *testing.T) {
	pos := []mgl64.Vec3{{0, 0, 0}, {0, -1, 0}, {0, -2, 0}}
	pole := DerivePole(pos, mgl64.Vec3{0, 0, 1}, 2)
	want := mgl64.Vec3{0, -1, 1}
	if pole.Sub(want).Len() > 1e-9 {
		t.Fatalf("fallback pole: got %v want %v", pole, want)
	}
}
