// Package terrain provides the ground-query collaborator: a deterministic
// analytic heightfield derived from a seed. There is no collision mesh; the
// gait layer only ever asks "where is the ground under this point", so an
// analytic surface with a ray marcher is enough and replays bit-identically.
package terrain

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"strider.run/internal/gait"
)

type Heightfield struct {
	seed int64
	base float64
	amp  float64
	freq float64
}

func New(seed int64, amplitude, frequency float64) *Heightfield {
	return &Heightfield{seed: seed, amp: amplitude, freq: frequency}
}

// Flat is a constant-height field, mostly for tests and scripted scenes.
func Flat(height float64) *Heightfield {
	return &Heightfield{base: height}
}

// HeightAt sums three seeded sine octaves. Smooth everywhere, so normals are
// well defined and feet never land on a discontinuity.
func (h *Heightfield) HeightAt(x, z float64) float64 {
	if h.amp == 0 {
		return h.base
	}
	y := h.base
	amp := h.amp
	freq := h.freq
	for oct := 0; oct < 3; oct++ {
		px := phase(h.seed, oct*2)
		pz := phase(h.seed, oct*2+1)
		y += amp * math.Sin(x*freq+px) * math.Cos(z*freq+pz)
		amp *= 0.5
		freq *= 2.1
	}
	return y
}

func phase(seed int64, k int) float64 {
	v := uint64(seed) + uint64(k)*0x9e3779b97f4a7c15
	v ^= v >> 33
	v *= 0xff51afd7ed558ccd
	v ^= v >> 33
	return float64(v%100000) / 100000 * 2 * math.Pi
}

// NormalAt is the surface normal from central differences.
func (h *Heightfield) NormalAt(x, z float64) mgl64.Vec3 {
	const step = 0.05
	dx := (h.HeightAt(x+step, z) - h.HeightAt(x-step, z)) / (2 * step)
	dz := (h.HeightAt(x, z+step) - h.HeightAt(x, z-step)) / (2 * step)
	return mgl64.Vec3{-dx, 1, -dz}.Normalize()
}

// Raycast marches the ray against the height function and bisects the first
// crossing. Misses (ray stays above ground for its whole length, or starts
// below) report ok=false; the caller extrapolates.
func (h *Heightfield) Raycast(origin, dir mgl64.Vec3, maxDist float64) (gait.Hit, bool) {
	const steps = 64
	if maxDist <= 0 {
		return gait.Hit{}, false
	}

	above := func(t float64) float64 {
		p := origin.Add(dir.Mul(t))
		return p.Y() - h.HeightAt(p.X(), p.Z())
	}

	lo := 0.0
	if above(lo) <= 0 {
		return gait.Hit{}, false
	}
	dt := maxDist / steps
	hi := -1.0
	for i := 1; i <= steps; i++ {
		t := dt * float64(i)
		if above(t) <= 0 {
			hi = t
			lo = t - dt
			break
		}
	}
	if hi < 0 {
		return gait.Hit{}, false
	}

	for i := 0; i < 24; i++ {
		mid := (lo + hi) / 2
		if above(mid) > 0 {
			lo = mid
		} else {
			hi = mid
		}
	}

	p := origin.Add(dir.Mul((lo + hi) / 2))
	point := mgl64.Vec3{p.X(), h.HeightAt(p.X(), p.Z()), p.Z()}
	return gait.Hit{Point: point, Normal: h.NormalAt(p.X(), p.Z())}, true
}
