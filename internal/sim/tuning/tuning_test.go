package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_PartialOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tuning.yaml")
	body := "tick_rate_hz: 60\ngait:\n  policy: tripod\n  step_height: 0.5\n"
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	tn, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tn.TickRateHz != 60 {
		t.Fatalf("tick_rate_hz: got %d want 60", tn.TickRateHz)
	}
	if tn.Gait.Policy != "tripod" || tn.Gait.StepHeight != 0.5 {
		t.Fatalf("gait overrides: %+v", tn.Gait)
	}
	// Untouched keys keep their defaults.
	def := Defaults()
	if tn.Gait.StepTriggerDistance != def.Gait.StepTriggerDistance {
		t.Fatalf("step_trigger_distance lost default: %v", tn.Gait.StepTriggerDistance)
	}
	if tn.Solver.MaxIterations != def.Solver.MaxIterations {
		t.Fatalf("solver defaults lost: %+v", tn.Solver)
	}
}

func TestDigest_StableAndSensitive(t *testing.T) {
	a := Defaults()
	b := Defaults()
	if a.Digest() != b.Digest() {
		t.Fatalf("digest not stable across identical tunings")
	}
	b.Gait.StepHeight = 0.99
	if a.Digest() == b.Digest() {
		t.Fatalf("digest blind to tuning change")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
