package rig

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// Skeleton is the immutable bind-pose structure of a rig: a tree flattened
// into parent-index arrays, children always after their parent. One Skeleton
// is shared by every walker using the same rig.
type Skeleton struct {
	Names        []string
	Parent       []int // -1 for the root bone
	BindLocalPos []mgl64.Vec3
	BindLocalRot []mgl64.Quat

	index map[string]int
}

func NewSkeleton(def *Def) (*Skeleton, error) {
	n := len(def.Bones)
	if n == 0 {
		return nil, fmt.Errorf("skeleton: no bones")
	}
	s := &Skeleton{
		Names:        make([]string, n),
		Parent:       make([]int, n),
		BindLocalPos: make([]mgl64.Vec3, n),
		BindLocalRot: make([]mgl64.Quat, n),
		index:        make(map[string]int, n),
	}
	for i, b := range def.Bones {
		s.Names[i] = b.Name
		s.index[b.Name] = i
		s.Parent[i] = -1
		if b.Parent != "" {
			pi, ok := s.index[b.Parent]
			if !ok {
				return nil, fmt.Errorf("skeleton: bone %q: unknown parent %q", b.Name, b.Parent)
			}
			s.Parent[i] = pi
		}
		s.BindLocalPos[i] = mgl64.Vec3{b.Position[0], b.Position[1], b.Position[2]}
		if b.Rotation != nil {
			r := *b.Rotation
			s.BindLocalRot[i] = mgl64.Quat{W: r[0], V: mgl64.Vec3{r[1], r[2], r[3]}}.Normalize()
		} else {
			s.BindLocalRot[i] = mgl64.QuatIdent()
		}
	}
	return s, nil
}

func (s *Skeleton) BoneIndex(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

func (s *Skeleton) NumBones() int { return len(s.Names) }

// BindWorld computes bind-pose world transforms with the root transform at
// identity. Used when building chains and deriving footprint offsets.
func (s *Skeleton) BindWorld() (pos []mgl64.Vec3, rot []mgl64.Quat) {
	n := len(s.Names)
	pos = make([]mgl64.Vec3, n)
	rot = make([]mgl64.Quat, n)
	for i := 0; i < n; i++ {
		p := s.Parent[i]
		if p < 0 {
			pos[i] = s.BindLocalPos[i]
			rot[i] = s.BindLocalRot[i]
			continue
		}
		pos[i] = pos[p].Add(rot[p].Rotate(s.BindLocalPos[i]))
		rot[i] = rot[p].Mul(s.BindLocalRot[i]).Normalize()
	}
	return pos, rot
}

// Pose is the mutable per-walker state layered over a shared Skeleton: the
// character root transform plus one local rotation per bone. Bones never
// translate relative to their parent; segment lengths are fixed at bind time.
type Pose struct {
	Skel    *Skeleton
	RootPos mgl64.Vec3
	RootRot mgl64.Quat
	Local   []mgl64.Quat
}

func NewPose(s *Skeleton) *Pose {
	p := &Pose{
		Skel:    s,
		RootRot: mgl64.QuatIdent(),
		Local:   make([]mgl64.Quat, len(s.Names)),
	}
	copy(p.Local, s.BindLocalRot)
	return p
}

// WorldRotation walks up the parent chain; i == -1 yields the root transform.
func (p *Pose) WorldRotation(i int) mgl64.Quat {
	if i < 0 {
		return p.RootRot
	}
	return p.WorldRotation(p.Skel.Parent[i]).Mul(p.Local[i]).Normalize()
}

func (p *Pose) WorldPosition(i int) mgl64.Vec3 {
	if i < 0 {
		return p.RootPos
	}
	parent := p.Skel.Parent[i]
	return p.WorldPosition(parent).Add(p.WorldRotation(parent).Rotate(p.Skel.BindLocalPos[i]))
}


// ParentWorldRotation is the space a bone's local rotation lives in.
func (p *Pose) ParentWorldRotation(i int) mgl64.Quat {
	return p.WorldRotation(p.Skel.Parent[i])
}
