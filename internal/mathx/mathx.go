package mathx

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Eps is the zero-length guard used across the geometry code.
const Eps = 1e-9

// SafeNormalize returns the unit vector of v, or (zero, false) when v is too
// short to carry a direction.
func SafeNormalize(v mgl64.Vec3) (mgl64.Vec3, bool) {
	l := v.Len()
	if l < Eps {
		return mgl64.Vec3{}, false
	}
	return v.Mul(1 / l), true
}

// Lerp interpolates component-wise. t is not clamped.
func Lerp(a, b mgl64.Vec3, t float64) mgl64.Vec3 {
	return a.Add(b.Sub(a).Mul(t))
}

// ProjectOnPlane removes the component of v along the unit normal n.
func ProjectOnPlane(v, n mgl64.Vec3) mgl64.Vec3 {
	return v.Sub(n.Mul(v.Dot(n)))
}

// SignedAngle returns the angle in radians that rotates a onto b around the
// unit axis, in (-pi, pi]. a and b need not be unit length.
func SignedAngle(a, b, axis mgl64.Vec3) float64 {
	cross := a.Cross(b)
	return math.Atan2(cross.Dot(axis), a.Dot(b))
}

// Perpendicular picks an arbitrary unit vector orthogonal to the unit vector v.
func Perpendicular(v mgl64.Vec3) mgl64.Vec3 {
	ref := mgl64.Vec3{1, 0, 0}
	if math.Abs(v.Dot(ref)) > 0.9 {
		ref = mgl64.Vec3{0, 1, 0}
	}
	return v.Cross(ref).Normalize()
}

// ArcLift is the vertical profile of a step: zero at both endpoints, maximal
// at the midpoint.
func ArcLift(progress float64) float64 {
	return math.Sin(progress * math.Pi)
}

// SmoothFactor converts a per-second exponential rate into a blend factor for
// a step of dt seconds. Frame-rate independent: applying it twice with dt/2
// lands where applying it once with dt does.
func SmoothFactor(rate, dt float64) float64 {
	if rate <= 0 || dt <= 0 {
		return 0
	}
	return 1 - math.Exp(-rate*dt)
}

// SmoothTo moves cur toward target by the exponential factor for rate and dt.
func SmoothTo(cur, target, rate, dt float64) float64 {
	return cur + (target-cur)*SmoothFactor(rate, dt)
}

// AlignUp returns rot pre-rotated so that its up axis matches targetUp.
// curUp and targetUp must be unit length.
func AlignUp(rot mgl64.Quat, curUp, targetUp mgl64.Vec3) mgl64.Quat {
	delta := mgl64.QuatBetweenVectors(curUp, targetUp)
	return delta.Mul(rot).Normalize()
}

// YawQuat is the rotation of yaw radians about +Y.
func YawQuat(yaw float64) mgl64.Quat {
	return mgl64.QuatRotate(yaw, mgl64.Vec3{0, 1, 0})
}
