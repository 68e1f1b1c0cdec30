package rig

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func testDef() *Def {
	return &Def{
		ID: "biped_test",
		Bones: []BoneDef{
			{Name: "root", Position: [3]float64{0, 0, 0}},
			{Name: "hip_l", Parent: "root", Position: [3]float64{0.5, 0, 0}},
			{Name: "knee_l", Parent: "hip_l", Position: [3]float64{0, -1, 0}},
			{Name: "foot_l", Parent: "knee_l", Position: [3]float64{0, -1, 0}},
			{Name: "hip_r", Parent: "root", Position: [3]float64{-0.5, 0, 0}},
			{Name: "knee_r", Parent: "hip_r", Position: [3]float64{0, -1, 0}},
			{Name: "foot_r", Parent: "knee_r", Position: [3]float64{0, -1, 0}},
		},
		Legs: []LegDef{
			{ID: "L", Bones: []string{"hip_l", "knee_l", "foot_l"}, Group: 0},
			{ID: "R", Bones: []string{"hip_r", "knee_r", "foot_r"}, Group: 1},
		},
		Body: BodyDef{StandHeight: 1.8},
	}
}

func TestSkeleton_BindWorldPositions(t *testing.T) {
	s, err := NewSkeleton(testDef())
	if err != nil {
		t.Fatalf("NewSkeleton: %v", err)
	}
	wpos, _ := s.BindWorld()

	foot, _ := s.BoneIndex("foot_l")
	want := mgl64.Vec3{0.5, -2, 0}
	if wpos[foot].Sub(want).Len() > 1e-12 {
		t.Fatalf("foot_l bind world: got %v want %v", wpos[foot], want)
	}
}

func TestPose_WorldFollowsRootTransform(t *testing.T) {
	s, err := NewSkeleton(testDef())
	if err != nil {
		t.Fatalf("NewSkeleton: %v", err)
	}
	p := NewPose(s)
	p.RootPos = mgl64.Vec3{10, 5, -3}
	p.RootRot = mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{0, 1, 0})

	hip, _ := s.BoneIndex("hip_l")
	got := p.WorldPosition(hip)
	// +X local offset rotated 90deg about +Y lands on -Z.
	want := mgl64.Vec3{10, 5, -3.5}
	if got.Sub(want).Len() > 1e-9 {
		t.Fatalf("hip_l world: got %v want %v", got, want)
	}
}

func TestPose_LocalRotationPropagates(t *testing.T) {
	s, err := NewSkeleton(testDef())
	if err != nil {
		t.Fatalf("NewSkeleton: %v", err)
	}
	p := NewPose(s)

	// Swing the left hip 90deg about +Z: the knee's -Y offset becomes +X.
	hip, _ := s.BoneIndex("hip_l")
	knee, _ := s.BoneIndex("knee_l")
	p.Local[hip] = mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{0, 0, 1})

	got := p.WorldPosition(knee)
	want := mgl64.Vec3{1.5, 0, 0}
	if got.Sub(want).Len() > 1e-9 {
		t.Fatalf("knee_l world after hip swing: got %v want %v", got, want)
	}
}

func TestBuildChain_SegmentLengths(t *testing.T) {
	def := testDef()
	s, err := NewSkeleton(def)
	if err != nil {
		t.Fatalf("NewSkeleton: %v", err)
	}
	c, err := BuildChain(s, def.Legs[0])
	if err != nil {
		t.Fatalf("BuildChain: %v", err)
	}
	if len(c.SegLen) != 2 {
		t.Fatalf("segments: got %d want 2", len(c.SegLen))
	}
	for i, l := range c.SegLen {
		if math.Abs(l-1) > 1e-12 {
			t.Fatalf("segment %d: got %v want 1", i, l)
		}
	}
	if math.Abs(c.Total-2) > 1e-12 {
		t.Fatalf("total: got %v want 2", c.Total)
	}
	for i, d := range c.BindLocalDir {
		if math.Abs(d.Len()-1) > 1e-12 {
			t.Fatalf("bind dir %d not unit: %v", i, d)
		}
	}
}

func TestBuildChain_TooShort(t *testing.T) {
	def := testDef()
	s, _ := NewSkeleton(def)
	if _, err := BuildChain(s, LegDef{ID: "bad", Bones: []string{"hip_l"}}); err == nil {
		t.Fatalf("expected error for 1-bone chain")
	}
}

func TestBuildChain_ZeroSegment(t *testing.T) {
	def := testDef()
	def.Bones[2].Position = [3]float64{0, 0, 0} // knee_l on top of hip_l
	s, _ := NewSkeleton(def)
	if _, err := BuildChain(s, def.Legs[0]); err == nil {
		t.Fatalf("expected error for zero-length segment")
	}
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	body := `{
	  "id": "quad_test",
	  "bones": [
	    {"name":"root","position":[0,0,0]},
	    {"name":"hip_fl","parent":"root","position":[0.4,0,0.6]},
	    {"name":"knee_fl","parent":"hip_fl","position":[0,-0.5,0]},
	    {"name":"foot_fl","parent":"knee_fl","position":[0,-0.5,0]},
	    {"name":"hip_fr","parent":"root","position":[-0.4,0,0.6]},
	    {"name":"knee_fr","parent":"hip_fr","position":[0,-0.5,0]},
	    {"name":"foot_fr","parent":"knee_fr","position":[0,-0.5,0]}
	  ],
	  "legs": [
	    {"id":"FL","bones":["hip_fl","knee_fl","foot_fl"],"group":0},
	    {"id":"FR","bones":["hip_fr","knee_fr","foot_fr"],"group":1}
	  ],
	  "body": {"stand_height": 0.9}
	}`
	if err := os.WriteFile(filepath.Join(dir, "quad_test.json"), []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cat, err := LoadCatalog(dir)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	d, ok := cat.ByID["quad_test"]
	if !ok {
		t.Fatalf("quad_test not loaded")
	}
	if d.Digest == "" || cat.Digest == "" {
		t.Fatalf("missing digests")
	}
	if len(cat.IDs) != 1 || cat.IDs[0] != "quad_test" {
		t.Fatalf("ids: %v", cat.IDs)
	}
}

func TestLoadCatalog_RejectsBrokenLeg(t *testing.T) {
	dir := t.TempDir()
	body := `{
	  "id": "bad",
	  "bones": [
	    {"name":"root","position":[0,0,0]},
	    {"name":"a","parent":"root","position":[1,0,0]},
	    {"name":"b","parent":"root","position":[2,0,0]}
	  ],
	  "legs": [{"id":"X","bones":["a","b"],"group":0}],
	  "body": {"stand_height": 1}
	}`
	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadCatalog(dir); err == nil {
		t.Fatalf("expected error: leg bones are not a parent chain")
	}
}
