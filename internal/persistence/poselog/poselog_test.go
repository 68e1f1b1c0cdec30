package poselog

import (
	"testing"

	"strider.run/internal/protocol"
	"strider.run/internal/sim/scene"
)

func TestTickLogRoundtrip(t *testing.T) {
	dir := t.TempDir()

	l := NewTickLogger(dir)
	want := []scene.TickLogEntry{
		{
			Tick:   0,
			Joins:  []scene.RecordedJoin{{WalkerID: "W000001", Name: "a", RigID: "quadruped"}},
			Digest: "d0",
		},
		{
			Tick: 1,
			Intents: []scene.RecordedIntent{
				{WalkerID: "W000001", Intent: protocol.IntentMsg{MoveZ: 1, Run: true}},
			},
			Digest: "d1",
		},
		{
			Tick: 2,
			Footsteps: []protocol.FootstepEvent{
				{WalkerID: "W000001", Leg: "FL", Pos: [3]float64{1, 0, 2}, StrideLength: 0.4, Ticks: 8},
			},
			Digest: "d2",
		},
	}
	for _, e := range want {
		if err := l.WriteTick(e); err != nil {
			t.Fatalf("WriteTick: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var got []scene.TickLogEntry
	if err := ForEachTick(dir, func(e scene.TickLogEntry) error {
		got = append(got, e)
		return nil
	}); err != nil {
		t.Fatalf("ForEachTick: %v", err)
	}

	if len(got) != len(want) {
		t.Fatalf("entries = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Tick != want[i].Tick || got[i].Digest != want[i].Digest {
			t.Fatalf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if got[1].Intents[0].Intent.MoveZ != 1 || !got[1].Intents[0].Intent.Run {
		t.Fatalf("intent lost: %+v", got[1].Intents[0])
	}
	if got[2].Footsteps[0].Leg != "FL" || got[2].Footsteps[0].StrideLength != 0.4 {
		t.Fatalf("footstep lost: %+v", got[2].Footsteps[0])
	}
}
