package rig

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"strider.run/internal/mathx"
)

// Chain is the immutable bind geometry of one limb: bone indices hip to foot,
// fixed segment lengths, and the bind local rotation and direction-to-child
// of every non-effector bone. Built once per leg, never mutated.
type Chain struct {
	Leg   string
	Group int
	Bones []int // skeleton indices, root of the chain first

	SegLen       []float64    // len(Bones)-1, fixed for the chain's lifetime
	BindLocalRot []mgl64.Quat // per non-effector bone
	BindLocalDir []mgl64.Vec3 // unit direction to child in parent-local space
	Total        float64

	Pole    mgl64.Vec3 // model-space bend hint, valid when HasPole
	HasPole bool
}

func BuildChain(s *Skeleton, leg LegDef) (*Chain, error) {
	if len(leg.Bones) < 2 {
		return nil, fmt.Errorf("chain %s: needs at least 2 bones, have %d", leg.ID, len(leg.Bones))
	}

	c := &Chain{
		Leg:   leg.ID,
		Group: leg.Group,
		Bones: make([]int, len(leg.Bones)),
	}
	for i, name := range leg.Bones {
		bi, ok := s.BoneIndex(name)
		if !ok {
			return nil, fmt.Errorf("chain %s: unknown bone %q", leg.ID, name)
		}
		if i > 0 && s.Parent[bi] != c.Bones[i-1] {
			return nil, fmt.Errorf("chain %s: bone %q is not a child of %q", leg.ID, name, leg.Bones[i-1])
		}
		c.Bones[i] = bi
	}

	wpos, wrot := s.BindWorld()
	n := len(c.Bones)
	c.SegLen = make([]float64, n-1)
	c.BindLocalRot = make([]mgl64.Quat, n-1)
	c.BindLocalDir = make([]mgl64.Vec3, n-1)
	for i := 0; i < n-1; i++ {
		b, child := c.Bones[i], c.Bones[i+1]
		seg := wpos[child].Sub(wpos[b])
		length := seg.Len()
		if length < mathx.Eps {
			return nil, fmt.Errorf("chain %s: zero-length segment %q -> %q", leg.ID, s.Names[b], s.Names[child])
		}
		c.SegLen[i] = length
		c.Total += length
		c.BindLocalRot[i] = s.BindLocalRot[b]

		parentRot := mgl64.QuatIdent()
		if p := s.Parent[b]; p >= 0 {
			parentRot = wrot[p]
		}
		if dir, ok := mathx.SafeNormalize(parentRot.Inverse().Rotate(seg)); ok {
			c.BindLocalDir[i] = dir
		}
		// A zero BindLocalDir is left as-is; the solver skips that bone's
		// rotation update and reports it.
	}

	if leg.Pole != nil {
		p := *leg.Pole
		c.Pole = mgl64.Vec3{p[0], p[1], p[2]}
		c.HasPole = true
	}
	return c, nil
}

// BindPositions returns the chain's joint positions in bind pose with the
// root transform at identity.
func (c *Chain) BindPositions(s *Skeleton) []mgl64.Vec3 {
	wpos, _ := s.BindWorld()
	out := make([]mgl64.Vec3, len(c.Bones))
	for i, b := range c.Bones {
		out[i] = wpos[b]
	}
	return out
}
