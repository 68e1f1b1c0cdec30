package mathx

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func TestSafeNormalize_ZeroVector(t *testing.T) {
	if _, ok := SafeNormalize(mgl64.Vec3{}); ok {
		t.Fatalf("zero vector should not normalize")
	}
	v, ok := SafeNormalize(mgl64.Vec3{0, 0, 3})
	if !ok {
		t.Fatalf("expected ok")
	}
	if !v.ApproxEqual(mgl64.Vec3{0, 0, 1}) {
		t.Fatalf("normalize: got %v want (0,0,1)", v)
	}
}

func TestSignedAngle_Quadrants(t *testing.T) {
	up := mgl64.Vec3{0, 1, 0}
	a := mgl64.Vec3{1, 0, 0}
	b := mgl64.Vec3{0, 0, -1} // +90 deg about +Y from +X
	if got := SignedAngle(a, b, up); math.Abs(got-math.Pi/2) > 1e-12 {
		t.Fatalf("signed angle: got %v want %v", got, math.Pi/2)
	}
	if got := SignedAngle(b, a, up); math.Abs(got+math.Pi/2) > 1e-12 {
		t.Fatalf("reverse angle: got %v want %v", got, -math.Pi/2)
	}
}

func TestProjectOnPlane_RemovesNormalComponent(t *testing.T) {
	n := mgl64.Vec3{0, 1, 0}
	v := mgl64.Vec3{2, 5, -3}
	p := ProjectOnPlane(v, n)
	if math.Abs(p.Dot(n)) > 1e-12 {
		t.Fatalf("projection keeps normal component: %v", p.Dot(n))
	}
	if !p.ApproxEqual(mgl64.Vec3{2, 0, -3}) {
		t.Fatalf("projection: got %v", p)
	}
}

func TestArcLift_Endpoints(t *testing.T) {
	if got := ArcLift(0); math.Abs(got) > 1e-12 {
		t.Fatalf("lift at 0: got %v", got)
	}
	if got := ArcLift(1); math.Abs(got) > 1e-12 {
		t.Fatalf("lift at 1: got %v", got)
	}
	if got := ArcLift(0.5); math.Abs(got-1) > 1e-12 {
		t.Fatalf("lift at 0.5: got %v want 1", got)
	}
}

func TestSmoothFactor_Composition(t *testing.T) {
	// Two half-steps must land where one full step does.
	const rate, dt = 4.0, 0.1
	full := SmoothTo(0, 1, rate, dt)
	half := SmoothTo(SmoothTo(0, 1, rate, dt/2), 1, rate, dt/2)
	if math.Abs(full-half) > 1e-12 {
		t.Fatalf("smoothing not frame-rate independent: full=%v half=%v", full, half)
	}
}

func TestPerpendicular_Orthogonal(t *testing.T) {
	for _, v := range []mgl64.Vec3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}, {0.577, 0.577, 0.577}} {
		u := v.Normalize()
		p := Perpendicular(u)
		if math.Abs(p.Dot(u)) > 1e-9 {
			t.Fatalf("not orthogonal to %v: dot=%v", v, p.Dot(u))
		}
		if math.Abs(p.Len()-1) > 1e-9 {
			t.Fatalf("not unit: %v", p.Len())
		}
	}
}

func TestAlignUp_RotatesUpAxis(t *testing.T) {
	rot := mgl64.QuatIdent()
	target := mgl64.Vec3{0, 1, 1}.Normalize()
	aligned := AlignUp(rot, mgl64.Vec3{0, 1, 0}, target)
	got := aligned.Rotate(mgl64.Vec3{0, 1, 0})
	if !got.ApproxEqualThreshold(target, 1e-9) {
		t.Fatalf("aligned up: got %v want %v", got, target)
	}
}

func TestYawQuat_ForwardSweep(t *testing.T) {
	// +90 deg yaw turns +Z into +X.
	got := YawQuat(math.Pi / 2).Rotate(mgl64.Vec3{0, 0, 1})
	if got.Sub(mgl64.Vec3{1, 0, 0}).Len() > 1e-9 {
		t.Fatalf("yaw rotate: got %v want (1,0,0)", got)
	}
}
