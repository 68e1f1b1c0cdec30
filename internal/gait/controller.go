package gait

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"strider.run/internal/diag"
	"strider.run/internal/mathx"
)

// Controller runs the state machines of one walker's legs. A configuration
// problem at construction time reports once and leaves the controller inert:
// Update keeps returning a valid (unchanged) pose target instead of crashing
// the tick.
type Controller struct {
	cfg    Config
	legs   []*Leg
	ground Raycaster
	rep    diag.Reporter

	pick      starterFunc
	lastGroup int
	inert     bool
}

func NewController(cfg Config, legs []*Leg, ground Raycaster, rep diag.Reporter) *Controller {
	if rep == nil {
		rep = diag.Nop()
	}
	c := &Controller{cfg: cfg, legs: legs, ground: ground, rep: rep, lastGroup: -1}

	switch {
	case len(legs) == 0:
		c.disable("no legs configured")
	case ground == nil:
		c.disable("no ground raycaster")
	default:
		pick, ok := starterFor(cfg.Policy)
		if !ok {
			c.disable(fmt.Sprintf("unknown gait policy %q", cfg.Policy))
			break
		}
		c.pick = pick
	}
	return c
}

func (c *Controller) disable(msg string) {
	c.inert = true
	c.rep.Report(diag.Event{Code: diag.CodeConfig, Message: msg})
}

func (c *Controller) Inert() bool  { return c.inert }
func (c *Controller) Legs() []*Leg { return c.legs }

// Update advances every leg by dt. Ordering per tick: ground adaptation for
// all legs, then in-flight step advancement, then new step starts. All leg
// targets are final when Update returns, so IK may run for any leg afterward.
func (c *Controller) Update(dt float64, body BodyState) (BodyTarget, []Footstep) {
	up := body.Rot.Rotate(mgl64.Vec3{0, 1, 0})
	if c.inert {
		return BodyTarget{Normal: up}, nil
	}

	tgt := c.adaptGround(body, up)

	var steps []Footstep
	for _, leg := range c.legs {
		if !leg.Stepping {
			leg.Target = leg.Planted
			continue
		}
		leg.stepTicks++
		leg.Progress += c.strideSpeed(body) * dt
		if leg.Progress >= 1 {
			leg.Planted = leg.StepEnd
			leg.Target = leg.StepEnd
			leg.Stepping = false
			leg.Progress = 0
			steps = append(steps, Footstep{
				Leg:          leg.ID,
				Position:     [3]float64{leg.StepEnd.X(), leg.StepEnd.Y(), leg.StepEnd.Z()},
				StrideLength: leg.StepEnd.Sub(leg.StepStart).Len(),
				Ticks:        leg.stepTicks,
			})
			continue
		}
		lift := up.Mul(mathx.ArcLift(leg.Progress) * c.cfg.StepHeight)
		leg.Target = mathx.Lerp(leg.StepStart, leg.StepEnd, leg.Progress).Add(lift)
	}

	if body.MoveIntent {
		for _, i := range c.pick(c, c.eligible(body)) {
			c.startStep(c.legs[i], body)
		}
	}
	return tgt, steps
}

// adaptGround casts one downward ray per leg from above its rigid body-local
// footprint. Hits snap the footprint and contribute a surface normal; misses
// extrapolate to the ray's end and contribute nothing.
func (c *Controller) adaptGround(body BodyState, up mgl64.Vec3) BodyTarget {
	down := up.Mul(-1)
	var normalSum mgl64.Vec3
	var heightSum float64
	contrib := 0

	for _, leg := range c.legs {
		anchor := body.Pos.Add(body.Rot.Rotate(leg.Offset))
		origin := anchor.Add(up.Mul(c.cfg.RayOriginOffset))
		if hit, ok := c.ground.Raycast(origin, down, c.cfg.RayMaxDistance); ok {
			leg.ideal = hit.Point
			leg.GroundNormal = hit.Normal
			leg.hasNormal = true
			normalSum = normalSum.Add(hit.Normal)
			contrib++
		} else {
			leg.ideal = origin.Add(down.Mul(c.cfg.RayMaxDistance))
			leg.hasNormal = false
		}
		heightSum += leg.ideal.Y()
	}

	tgt := BodyTarget{Normal: up, FootHeight: heightSum / float64(len(c.legs))}
	if contrib > 0 {
		if n, ok := mathx.SafeNormalize(normalSum); ok {
			tgt.Normal = n
		}
	}
	return tgt
}

// eligible lists planted legs whose deviation from their ideal footprint
// exceeds the distance trigger, or the angular trigger when configured.
func (c *Controller) eligible(body BodyState) []int {
	var out []int
	for i, leg := range c.legs {
		if leg.Stepping {
			continue
		}
		leg.deviation = leg.Planted.Sub(leg.ideal).Len()
		trigger := leg.deviation > c.cfg.StepTriggerDistance
		if !trigger && c.cfg.AngleTriggerDeg > 0 {
			a := footSwingDeg(body.Pos, leg.Planted, leg.ideal)
			trigger = a > c.cfg.AngleTriggerDeg
		}
		if trigger {
			out = append(out, i)
		}
	}
	return out
}

func footSwingDeg(bodyPos, planted, ideal mgl64.Vec3) float64 {
	a, okA := mathx.SafeNormalize(planted.Sub(bodyPos))
	b, okB := mathx.SafeNormalize(ideal.Sub(bodyPos))
	if !okA || !okB {
		return 0
	}
	d := mgl64.Clamp(a.Dot(b), -1, 1)
	return math.Acos(d) * 180 / math.Pi
}

func (c *Controller) startStep(leg *Leg, body BodyState) {
	leg.Stepping = true
	leg.Progress = 0
	leg.stepTicks = 0
	leg.StepStart = leg.Planted
	leg.StepEnd = leg.ideal
	if dir, ok := mathx.SafeNormalize(body.Velocity); ok {
		leg.StepEnd = leg.StepEnd.Add(dir.Mul(c.cfg.StepOvershoot))
	}
	leg.Target = leg.Planted
	c.lastGroup = leg.Group
}

// strideSpeed scales step progress with body motion: faster bodies step
// faster, never slower than the configured baseline.
func (c *Controller) strideSpeed(body BodyState) float64 {
	s := c.cfg.BaseStrideSpeed +
		body.LinearSpeed*c.cfg.SpeedStrideMult +
		body.AngularSpeed*c.cfg.AngularStrideMult
	return mgl64.Clamp(s, c.cfg.BaseStrideSpeed, c.cfg.MaxStrideSpeed)
}

// AdaptBody smooths the body toward the current ground: height toward the
// mean foot height plus standHeight, orientation toward up-alignment with
// the contact normal. Exponential smoothing keeps it frame-rate independent.
func (c *Controller) AdaptBody(body *BodyState, tgt BodyTarget, standHeight, dt float64) {
	if c.inert {
		return
	}
	y := mathx.SmoothTo(body.Pos.Y(), tgt.FootHeight+standHeight, c.cfg.BodyAdaptRate, dt)
	body.Pos = mgl64.Vec3{body.Pos.X(), y, body.Pos.Z()}

	up := body.Rot.Rotate(mgl64.Vec3{0, 1, 0})
	aligned := mathx.AlignUp(body.Rot, up, tgt.Normal)
	body.Rot = mgl64.QuatSlerp(body.Rot, aligned, mathx.SmoothFactor(c.cfg.BodyAdaptRate, dt))
}
