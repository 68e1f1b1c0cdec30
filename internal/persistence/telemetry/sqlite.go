// Package telemetry is the queryable side channel of the sim: footsteps,
// diagnostics and per-walker stride statistics in sqlite. Writes go through a
// buffered channel to a single writer goroutine; when the writer falls behind,
// events are dropped rather than stalling the tick. The tick log remains the
// source of truth.
package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/stat"
	_ "modernc.org/sqlite"

	"strider.run/internal/diag"
	"strider.run/internal/protocol"
	"strider.run/internal/rig"
	"strider.run/internal/sim/scene"
	"strider.run/internal/sim/tuning"
)

// strideWindow bounds the per-walker sample set the statistics are computed
// over, so long runs don't grow memory without bound.
const strideWindow = 512

type SQLiteTelemetry struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

type reqKind int

const (
	reqFootstep reqKind = iota + 1
	reqDiag
	reqSnapshot
)

type req struct {
	kind reqKind

	tick     uint64
	footstep protocol.FootstepEvent
	diag     diag.Event
	snapshot snapshotRow
}

type snapshotRow struct {
	Tick    uint64
	Path    string
	Seed    int64
	Walkers int
}

func Open(path string) (*SQLiteTelemetry, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteTelemetry{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads; NORMAL is a fair
	// durability/perf tradeoff for a secondary store.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS footsteps (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			walker_id TEXT NOT NULL,
			leg TEXT NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL,
			stride_len REAL NOT NULL,
			ticks INTEGER NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_footsteps_walker_tick ON footsteps(walker_id, tick);`,
		`CREATE TABLE IF NOT EXISTS diagnostics (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			walker_id TEXT NOT NULL,
			leg TEXT,
			code TEXT NOT NULL,
			message TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_diagnostics_code_tick ON diagnostics(code, tick);`,
		`CREATE TABLE IF NOT EXISTS stride_stats (
			walker_id TEXT PRIMARY KEY,
			steps INTEGER NOT NULL,
			mean_stride REAL NOT NULL,
			stddev_stride REAL NOT NULL,
			mean_ticks REAL NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			seed INTEGER NOT NULL,
			walkers INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteTelemetry) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Dropped counts events lost to a full write queue.
func (s *SQLiteTelemetry) Dropped() uint64 { return s.dropped.Load() }

func (s *SQLiteTelemetry) RecordFootstep(tick uint64, ev protocol.FootstepEvent) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqFootstep, tick: tick, footstep: ev}:
	default:
		s.dropped.Add(1)
	}
}

func (s *SQLiteTelemetry) RecordDiagnostic(ev diag.Event) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqDiag, tick: ev.Tick, diag: ev}:
	default:
		s.dropped.Add(1)
	}
}

func (s *SQLiteTelemetry) RecordSnapshot(path string, snap scene.SceneV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Tick:    snap.Tick,
		Path:    path,
		Seed:    snap.Seed,
		Walkers: len(snap.Walkers),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropped.Add(1)
	}
}

// UpsertCatalog records the rigs and effective tuning this run started with,
// keyed by digest so drift between runs is visible in queries.
func (s *SQLiteTelemetry) UpsertCatalog(rigs *rig.Catalog, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range rigs.IDs {
		d := rigs.ByID[id]
		b, _ := json.Marshal(d)
		if _, err := stmt.Exec("rig:"+id, d.Digest, string(b), now); err != nil {
			return err
		}
	}
	tb, _ := json.Marshal(tune)
	if _, err := stmt.Exec("tuning", tune.Digest(), string(tb), now); err != nil {
		return err
	}
	return tx.Commit()
}

type strideAgg struct {
	strides []float64
	ticks   []float64
	steps   int
}

func (a *strideAgg) add(stride float64, ticks int) {
	a.steps++
	a.strides = append(a.strides, stride)
	a.ticks = append(a.ticks, float64(ticks))
	if len(a.strides) > strideWindow {
		a.strides = a.strides[len(a.strides)-strideWindow:]
		a.ticks = a.ticks[len(a.ticks)-strideWindow:]
	}
}

func (s *SQLiteTelemetry) loop() {
	ctx := context.Background()

	insertFootstep, _ := s.db.Prepare(`INSERT OR REPLACE INTO footsteps(tick,seq,walker_id,leg,x,y,z,stride_len,ticks) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertDiag, _ := s.db.Prepare(`INSERT OR REPLACE INTO diagnostics(tick,seq,walker_id,leg,code,message) VALUES(?,?,?,?,?,?)`)
	upsertStats, _ := s.db.Prepare(`INSERT OR REPLACE INTO stride_stats(walker_id,steps,mean_stride,stddev_stride,mean_ticks,updated_at) VALUES(?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,seed,walkers) VALUES(?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertFootstep, insertDiag, upsertStats, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second

		lastFootTick uint64
		footSeq      int
		lastDiagTick uint64
		diagSeq      int

		stats        = map[string]*strideAgg{}
		statsTouched = map[string]struct{}{}
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	flushStats := func() {
		if tx == nil || upsertStats == nil {
			return
		}
		now := time.Now().UTC().Format(time.RFC3339Nano)
		for id := range statsTouched {
			a := stats[id]
			if a == nil || len(a.strides) == 0 {
				continue
			}
			mean := stat.Mean(a.strides, nil)
			sd := 0.0
			if len(a.strides) > 1 {
				sd = stat.StdDev(a.strides, nil)
			}
			meanTicks := stat.Mean(a.ticks, nil)
			if _, err := tx.Stmt(upsertStats).Exec(id, a.steps, mean, sd, meanTicks, now); err != nil {
				return
			}
		}
		statsTouched = map[string]struct{}{}
	}
	commit := func() {
		if tx == nil {
			return
		}
		flushStats()
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqFootstep:
			if r.tick != lastFootTick {
				lastFootTick = r.tick
				footSeq = 0
			}
			seq := footSeq
			footSeq++
			fs := r.footstep
			if insertFootstep != nil {
				if _, err := tx.Stmt(insertFootstep).Exec(
					int64(r.tick), seq,
					fs.WalkerID, fs.Leg,
					fs.Pos[0], fs.Pos[1], fs.Pos[2],
					fs.StrideLength, fs.Ticks,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
			a := stats[fs.WalkerID]
			if a == nil {
				a = &strideAgg{}
				stats[fs.WalkerID] = a
			}
			a.add(fs.StrideLength, fs.Ticks)
			statsTouched[fs.WalkerID] = struct{}{}

		case reqDiag:
			if r.tick != lastDiagTick {
				lastDiagTick = r.tick
				diagSeq = 0
			}
			seq := diagSeq
			diagSeq++
			ev := r.diag
			if insertDiag != nil {
				if _, err := tx.Stmt(insertDiag).Exec(
					int64(ev.Tick), seq,
					ev.Walker, ev.Leg, ev.Code, ev.Message,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(
					int64(sn.Tick), sn.Path, sn.Seed, sn.Walkers,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	commit()
}
