package snapshot

import (
	"path/filepath"
	"testing"

	"strider.run/internal/sim/scene"
)

func TestSnapshotRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := PathFor(dir, 4242)

	want := scene.SceneV1{
		Version:      1,
		SceneID:      "test",
		Tick:         4242,
		Seed:         1337,
		TickRateHz:   30,
		TuningDigest: "abc",

		NextWalkerNum: 2,
		Walkers: []scene.WalkerV1{
			{
				ID:    "W000001",
				Name:  "alpha",
				RigID: "quadruped",
				Yaw:   0.5,
				Pos:   [3]float64{1, 0.9, 2},
				Rot:   [4]float64{1, 0, 0, 0},
				Legs: []scene.LegV1{
					{
						ID:           "FL",
						Planted:      [3]float64{0.6, 0, 2.5},
						Target:       [3]float64{0.6, 0, 2.5},
						Progress:     0.3,
						Stepping:     true,
						Normal:       [3]float64{0, 1, 0},
						PoleOffset:   [3]float64{0, 0.45, 0.6},
						PoleAnchored: true,
					},
				},
			},
		},
	}

	if err := WriteSnapshot(path, want); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}

	if got.Tick != want.Tick || got.Seed != want.Seed || got.SceneID != want.SceneID {
		t.Fatalf("header mismatch: %+v", got)
	}
	if len(got.Walkers) != 1 {
		t.Fatalf("walkers = %d", len(got.Walkers))
	}
	w := got.Walkers[0]
	if w.ID != "W000001" || w.Yaw != 0.5 || w.Pos != [3]float64{1, 0.9, 2} {
		t.Fatalf("walker mismatch: %+v", w)
	}
	leg := w.Legs[0]
	if !leg.Stepping || leg.Progress != 0.3 || !leg.PoleAnchored {
		t.Fatalf("leg mismatch: %+v", leg)
	}
}

func TestLatestPath(t *testing.T) {
	dir := t.TempDir()
	if _, ok := LatestPath(dir); ok {
		t.Fatalf("expected no snapshot yet")
	}
	for _, tick := range []uint64{100, 9000, 450} {
		if err := WriteSnapshot(PathFor(dir, tick), scene.SceneV1{Version: 1, Tick: tick}); err != nil {
			t.Fatalf("WriteSnapshot(%d): %v", tick, err)
		}
	}
	p, ok := LatestPath(dir)
	if !ok {
		t.Fatalf("no latest snapshot found")
	}
	if filepath.Base(p) != "snap-000000009000.zst" {
		t.Fatalf("latest = %s", filepath.Base(p))
	}
}
