package telemetry

import (
	"database/sql"
	"path/filepath"
	"testing"

	"strider.run/internal/diag"
	"strider.run/internal/protocol"
	"strider.run/internal/rig"
	"strider.run/internal/sim/tuning"
)

func openTest(t *testing.T) (*SQLiteTelemetry, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "telemetry.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, path
}

func queryInt(t *testing.T, path, q string) int {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(q).Scan(&n); err != nil {
		t.Fatalf("query %q: %v", q, err)
	}
	return n
}

func TestFootstepsAndStrideStats(t *testing.T) {
	s, path := openTest(t)

	strides := []float64{0.3, 0.4, 0.5, 0.4}
	for i, sl := range strides {
		s.RecordFootstep(uint64(10+i), protocol.FootstepEvent{
			WalkerID:     "W000001",
			Leg:          "FL",
			Pos:          [3]float64{float64(i), 0, 0},
			StrideLength: sl,
			Ticks:        8,
		})
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if n := queryInt(t, path, `SELECT COUNT(*) FROM footsteps`); n != len(strides) {
		t.Fatalf("footsteps = %d, want %d", n, len(strides))
	}
	if n := queryInt(t, path, `SELECT steps FROM stride_stats WHERE walker_id='W000001'`); n != len(strides) {
		t.Fatalf("stride_stats.steps = %d, want %d", n, len(strides))
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	var mean, sd float64
	if err := db.QueryRow(`SELECT mean_stride, stddev_stride FROM stride_stats WHERE walker_id='W000001'`).Scan(&mean, &sd); err != nil {
		t.Fatalf("query stats: %v", err)
	}
	if mean < 0.39 || mean > 0.41 {
		t.Fatalf("mean_stride = %v", mean)
	}
	if sd <= 0 {
		t.Fatalf("stddev_stride = %v", sd)
	}
}

func TestDiagnosticsRecorded(t *testing.T) {
	s, path := openTest(t)

	s.RecordDiagnostic(diag.Event{Tick: 5, Walker: "W000001", Leg: "FL", Code: diag.CodeDegenerateBone, Message: "zero bind direction"})
	s.RecordDiagnostic(diag.Event{Tick: 5, Walker: "W000002", Code: diag.CodeConfig, Message: "unknown gait policy"})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if n := queryInt(t, path, `SELECT COUNT(*) FROM diagnostics`); n != 2 {
		t.Fatalf("diagnostics = %d, want 2", n)
	}
	if n := queryInt(t, path, `SELECT COUNT(*) FROM diagnostics WHERE code='E_CONFIG'`); n != 1 {
		t.Fatalf("config diagnostics = %d, want 1", n)
	}
}

func TestUpsertCatalog(t *testing.T) {
	s, path := openTest(t)

	cat := &rig.Catalog{
		ByID: map[string]*rig.Def{"quadruped": {ID: "quadruped", Digest: "abc"}},
		IDs:  []string{"quadruped"},
	}
	if err := s.UpsertCatalog(cat, tuning.Defaults()); err != nil {
		t.Fatalf("UpsertCatalog: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if n := queryInt(t, path, `SELECT COUNT(*) FROM catalogs`); n != 2 {
		t.Fatalf("catalogs = %d, want 2 (rig + tuning)", n)
	}
}
