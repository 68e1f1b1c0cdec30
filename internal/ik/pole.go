package ik

import (
	"github.com/go-gl/mathgl/mgl64"

	"strider.run/internal/mathx"
)

// PoleTracker keeps a bend hint rigidly attached to a leg's moving foot
// target. The world offset is captured once against the resting target; from
// then on the pole rides along with whatever target the gait layer writes,
// which keeps knee direction stable through a step.
type PoleTracker struct {
	offset   mgl64.Vec3
	anchored bool
}

// Anchor captures the pole-to-target offset. Subsequent calls are ignored;
// the offset is fixed for the tracker's lifetime.
func (t *PoleTracker) Anchor(pole, restingTarget mgl64.Vec3) {
	if t.anchored {
		return
	}
	t.offset = pole.Sub(restingTarget)
	t.anchored = true
}

func (t *PoleTracker) Anchored() bool { return t.anchored }

// Offset is the captured pole-to-target offset.
func (t *PoleTracker) Offset() mgl64.Vec3 { return t.offset }

// Restore overwrites the tracker from persisted state.
func (t *PoleTracker) Restore(offset mgl64.Vec3, anchored bool) {
	t.offset = offset
	t.anchored = anchored
}

// Track returns the pole position for the current target.
func (t *PoleTracker) Track(target mgl64.Vec3) mgl64.Vec3 {
	return target.Add(t.offset)
}

// DerivePole invents a bend hint for a chain that was configured without
// one: offset from the middle joint's perpendicular remainder against the
// root-effector line, at half the chain's total length. A perfectly straight
// chain has no remainder, so fall back to the given direction (the root
// bone's local forward in practice).
func DerivePole(positions []mgl64.Vec3, fallback mgl64.Vec3, totalLen float64) mgl64.Vec3 {
	root := positions[0]
	end := positions[len(positions)-1]
	mid := positions[len(positions)/2]

	dir := fallback
	axis, ok := mathx.SafeNormalize(end.Sub(root))
	if ok {
		if perp, ok := mathx.SafeNormalize(mathx.ProjectOnPlane(mid.Sub(root), axis)); ok {
			dir = perp
		}
	}
	if d, ok := mathx.SafeNormalize(dir); ok {
		dir = d
	} else {
		dir = mathx.Perpendicular(axisOrUp(axis, ok))
	}
	return mid.Add(dir.Mul(totalLen / 2))
}

func axisOrUp(axis mgl64.Vec3, ok bool) mgl64.Vec3 {
	if ok {
		return axis
	}
	return mgl64.Vec3{0, 1, 0}
}
