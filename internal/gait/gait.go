// Package gait decides when and where each leg of a walker steps. Every leg
// runs a planted/stepping state machine; a grouping policy coordinates which
// legs may be mid-step at once, and per-tick ground rays adapt footprints and
// the body pose target to the terrain.
package gait

import (
	"github.com/go-gl/mathgl/mgl64"

	"strider.run/internal/ik"
)

// Config carries the gait tuning knobs. Distances are model units, speeds
// are progress per second, rates are per-second exponential rates.
type Config struct {
	Policy string // "alternate", "tripod" or "greedy"

	StepTriggerDistance float64
	AngleTriggerDeg     float64 // 0 disables the angular trigger
	BaseStrideSpeed     float64
	MaxStrideSpeed      float64
	StepHeight          float64
	SpeedStrideMult     float64 // k1: linear speed -> stride speed
	AngularStrideMult   float64 // k2: angular speed -> stride speed
	StepOvershoot       float64

	BodyAdaptRate   float64
	RayOriginOffset float64
	RayMaxDistance  float64
}

// Hit is one ground contact returned by a Raycaster.
type Hit struct {
	Point  mgl64.Vec3
	Normal mgl64.Vec3
}

// Raycaster is the ground-query collaborator. Casts are synchronous and
// read-only; a miss is a normal answer, not an error.
type Raycaster interface {
	Raycast(origin, dir mgl64.Vec3, maxDist float64) (Hit, bool)
}

// BodyState is the per-tick snapshot of the body the controller reads:
// transform plus the movement collaborator's outputs.
type BodyState struct {
	Pos mgl64.Vec3
	Rot mgl64.Quat

	Velocity     mgl64.Vec3
	LinearSpeed  float64
	AngularSpeed float64
	MoveIntent   bool
}

// Leg is the mutable per-limb record. The controller writes Target every
// tick; the IK layer reads it and nothing else here.
type Leg struct {
	ID     string
	Group  int
	Offset mgl64.Vec3 // body-local ideal footprint offset, fixed at bind

	Planted   mgl64.Vec3
	StepStart mgl64.Vec3
	StepEnd   mgl64.Vec3
	Progress  float64
	Stepping  bool

	GroundNormal mgl64.Vec3
	Target       mgl64.Vec3

	Pole *ik.PoleTracker // nil for 2-bone chains

	// Per-tick ground adaptation scratch.
	ideal     mgl64.Vec3
	hasNormal bool
	deviation float64
	stepTicks int
}

// Ideal is this tick's ground-adapted ideal footprint.
func (l *Leg) Ideal() mgl64.Vec3 { return l.ideal }

// Footstep is emitted when a leg lands.
type Footstep struct {
	Leg          string     `json:"leg"`
	Position     [3]float64 `json:"pos"`
	StrideLength float64    `json:"stride_len"`
	Ticks        int        `json:"ticks"`
}

// BodyTarget is what the body should smooth toward given current contacts.
type BodyTarget struct {
	Normal     mgl64.Vec3 // unit surface normal
	FootHeight float64    // mean height of the ideal footprints
}
