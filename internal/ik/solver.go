// Package ik bends a bone chain to reach a moving target. The position work
// is a FABRIK pass over the chain's joints; the result is written back into
// the pose as per-bone local rotations so downstream consumers only ever see
// a rotation-driven skeleton.
package ik

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"strider.run/internal/diag"
	"strider.run/internal/mathx"
	"strider.run/internal/rig"
)

type Solver struct {
	MaxIterations int
	Tolerance     float64

	rep diag.Reporter
}

func NewSolver(maxIterations int, tolerance float64, rep diag.Reporter) *Solver {
	if maxIterations < 1 {
		maxIterations = 1
	}
	if tolerance <= 0 {
		tolerance = 1e-3
	}
	if rep == nil {
		rep = diag.Nop()
	}
	return &Solver{MaxIterations: maxIterations, Tolerance: tolerance, rep: rep}
}

// Solve runs FABRIK for one chain against target, applies the pole correction
// for chains of three or more bones, and converts the joint positions back
// into local rotations on pose. It returns the resolved effector position.
//
// Solve reads chain and target, and writes only the chain's non-effector
// local rotations; concurrent calls for disjoint chains of the same pose are
// safe.
func (s *Solver) Solve(chain *rig.Chain, pose *rig.Pose, target mgl64.Vec3, pole mgl64.Vec3, hasPole bool) mgl64.Vec3 {
	n := len(chain.Bones)
	pos := make([]mgl64.Vec3, n)
	for i, b := range chain.Bones {
		pos[i] = pose.WorldPosition(b)
	}

	FABRIK(pos, chain.SegLen, target, s.MaxIterations, s.Tolerance)
	if n >= 3 && hasPole {
		PoleCorrect(pos, pole)
	}

	s.applyRotations(chain, pose, pos)
	return pos[n-1]
}

// FABRIK adjusts pos in place so consecutive joints stay exactly seg apart
// while the last joint chases target. pos[0] is the fixed root. Targets
// beyond the chain's reach produce a full stretch along the target direction;
// the effector then stops short of the target by design.
func FABRIK(pos []mgl64.Vec3, seg []float64, target mgl64.Vec3, maxIterations int, tolerance float64) {
	last := len(pos) - 1
	root := pos[0]

	total := 0.0
	for _, l := range seg {
		total += l
	}
	if root.Sub(target).Len() > total {
		dir, ok := mathx.SafeNormalize(target.Sub(root))
		if !ok {
			return
		}
		at := root
		for i := 1; i <= last; i++ {
			at = at.Add(dir.Mul(seg[i-1]))
			pos[i] = at
		}
		return
	}

	if pos[last].Sub(target).Len() < tolerance {
		return
	}

	// A chain lying exactly on the root-target line is a FABRIK singularity:
	// the backward pass compresses along the line and the forward pass
	// re-straightens to full reach, so the effector never settles on a target
	// short of full extension. Nudging the interior joints off the line breaks
	// the symmetry; the passes then grow the bend until the target is met.
	if last >= 2 {
		if axis, ok := mathx.SafeNormalize(target.Sub(root)); ok && collinear(pos, root, axis, total) {
			side := mathx.Perpendicular(axis).Mul(total * 1e-3)
			for i := 1; i < last; i++ {
				pos[i] = pos[i].Add(side)
			}
		}
	}

	for it := 0; it < maxIterations; it++ {
		if pos[last].Sub(target).Len() < tolerance {
			return
		}

		// Backward: drag the effector onto the target, pull joints after it.
		pos[last] = target
		for i := last - 1; i >= 0; i-- {
			pos[i] = pos[i+1].Add(stepDir(pos[i], pos[i+1]).Mul(seg[i]))
		}

		// Forward: pin the root back, push joints out again.
		pos[0] = root
		for i := 1; i <= last; i++ {
			pos[i] = pos[i-1].Add(stepDir(pos[i], pos[i-1]).Mul(seg[i-1]))
		}
	}
}

// collinear reports whether every joint sits on the line through root along
// the unit axis, within a tolerance scaled by the chain length.
func collinear(pos []mgl64.Vec3, root, axis mgl64.Vec3, scale float64) bool {
	for _, p := range pos[1:] {
		if mathx.ProjectOnPlane(p.Sub(root), axis).Len() > scale*1e-6 {
			return false
		}
	}
	return true
}

// stepDir is the unit direction from anchor toward joint, with a fixed
// fallback when the two coincide so the pass cannot stall on a zero vector.
func stepDir(joint, anchor mgl64.Vec3) mgl64.Vec3 {
	if d, ok := mathx.SafeNormalize(joint.Sub(anchor)); ok {
		return d
	}
	return mgl64.Vec3{0, 1, 0}
}

// PoleCorrect rotates each interior joint about its parent-child hinge axis
// so the chain bends toward pole. Runs after FABRIK has converged; it changes
// bend direction only, never segment lengths.
func PoleCorrect(pos []mgl64.Vec3, pole mgl64.Vec3) {
	for i := 1; i < len(pos)-1; i++ {
		axis, ok := mathx.SafeNormalize(pos[i+1].Sub(pos[i-1]))
		if !ok {
			continue
		}
		toPole := mathx.ProjectOnPlane(pole.Sub(pos[i-1]), axis)
		toJoint := mathx.ProjectOnPlane(pos[i].Sub(pos[i-1]), axis)
		if toPole.Len() < mathx.Eps || toJoint.Len() < mathx.Eps {
			continue
		}
		angle := mathx.SignedAngle(toJoint, toPole, axis)
		offset := pos[i].Sub(pos[i-1])
		pos[i] = pos[i-1].Add(mgl64.QuatRotate(angle, axis).Rotate(offset))
	}
}

// applyRotations converts resolved joint positions into local rotations,
// root to effector so each bone sees its parent's updated world rotation.
// The delta is composed onto the bind local rotation, preserving any twist
// baked into the bind pose.
func (s *Solver) applyRotations(chain *rig.Chain, pose *rig.Pose, pos []mgl64.Vec3) {
	for i := 0; i < len(chain.Bones)-1; i++ {
		b := chain.Bones[i]
		bindDir := chain.BindLocalDir[i]
		if bindDir.Len() < mathx.Eps {
			s.rep.Report(diag.Event{
				Leg:     chain.Leg,
				Code:    diag.CodeDegenerateBone,
				Message: fmt.Sprintf("bone %s: zero bind direction, rotation kept", pose.Skel.Names[b]),
			})
			continue
		}
		parentRot := pose.ParentWorldRotation(b)
		localDir, ok := mathx.SafeNormalize(parentRot.Inverse().Rotate(pos[i+1].Sub(pos[i])))
		if !ok {
			s.rep.Report(diag.Event{
				Leg:     chain.Leg,
				Code:    diag.CodeDegenerateBone,
				Message: fmt.Sprintf("bone %s: degenerate solve direction, rotation kept", pose.Skel.Names[b]),
			})
			continue
		}
		delta := mgl64.QuatBetweenVectors(bindDir, localDir)
		pose.Local[b] = delta.Mul(chain.BindLocalRot[i]).Normalize()
	}
}
