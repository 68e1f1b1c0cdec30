// Package scene owns the simulation: walkers, the tick loop, intent routing,
// state digests and observer fan-out. One goroutine runs a Scene; everything
// outside talks to it through channels.
package scene

import (
	"fmt"
	"log"
	"sync/atomic"

	"strider.run/internal/diag"
	"strider.run/internal/gait"
	"strider.run/internal/protocol"
	"strider.run/internal/rig"
	"strider.run/internal/sim/tuning"
)

type Config struct {
	ID                 string
	Seed               int64
	TickRateHz         int
	MaxWalkers         int
	SnapshotEveryTicks int
}

// TickLogger receives one entry per tick for the replay log.
type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

// Telemetry receives footsteps and drained diagnostics. Implementations must
// not block; the scene calls them from the tick goroutine.
type Telemetry interface {
	RecordFootstep(tick uint64, ev protocol.FootstepEvent)
	RecordDiagnostic(ev diag.Event)
}

type Scene struct {
	cfg  Config
	tune tuning.Tuning
	rigs *rig.Catalog

	ground gait.Raycaster
	log    *log.Logger

	walkers map[string]*Walker
	order   []string // join order, the deterministic iteration order

	tick          atomic.Uint64
	nextWalkerNum atomic.Uint64
	stepMS        float64

	inbox    chan IntentEnvelope
	join     chan JoinRequest
	leave    chan string
	obsJoin  chan ObserverJoinRequest
	obsLeave chan string
	snapReq  chan snapshotReq
	stop     chan struct{}

	observers map[string]chan []byte

	diagBuf  *diag.Buffer
	cfgOnce  *diag.Once
	tickLog  TickLogger
	tel      Telemetry
	snapSink chan<- SceneV1
}

func New(cfg Config, tune tuning.Tuning, rigs *rig.Catalog, ground gait.Raycaster, logger *log.Logger) (*Scene, error) {
	if cfg.TickRateHz <= 0 {
		return nil, fmt.Errorf("scene: tick rate must be positive")
	}
	if rigs == nil || len(rigs.ByID) == 0 {
		return nil, fmt.Errorf("scene: no rigs")
	}
	if ground == nil {
		return nil, fmt.Errorf("scene: no ground raycaster")
	}
	if cfg.MaxWalkers <= 0 {
		cfg.MaxWalkers = 64
	}
	s := &Scene{
		cfg:  cfg,
		tune: tune,
		rigs: rigs,

		ground: ground,
		log:    logger,

		walkers:   map[string]*Walker{},
		inbox:     make(chan IntentEnvelope, 1024),
		join:      make(chan JoinRequest, 16),
		leave:     make(chan string, 16),
		obsJoin:   make(chan ObserverJoinRequest, 8),
		obsLeave:  make(chan string, 8),
		snapReq:   make(chan snapshotReq, 2),
		stop:      make(chan struct{}),
		observers: map[string]chan []byte{},

		diagBuf: diag.NewBuffer(1024),
	}
	s.cfgOnce = diag.NewOnce(s.diagBuf)
	return s, nil
}

func (s *Scene) Inbox() chan<- IntentEnvelope             { return s.inbox }
func (s *Scene) Join() chan<- JoinRequest                 { return s.join }
func (s *Scene) Leave() chan<- string                     { return s.leave }
func (s *Scene) ObserverJoin() chan<- ObserverJoinRequest { return s.obsJoin }
func (s *Scene) ObserverLeave() chan<- string             { return s.obsLeave }

func (s *Scene) CurrentTick() uint64 { return s.tick.Load() }
func (s *Scene) ID() string          { return s.cfg.ID }
func (s *Scene) Seed() int64         { return s.cfg.Seed }
func (s *Scene) TickRateHz() int     { return s.cfg.TickRateHz }

func (s *Scene) SetTickLogger(l TickLogger)        { s.tickLog = l }
func (s *Scene) SetTelemetry(t Telemetry)          { s.tel = t }
func (s *Scene) SetSnapshotSink(ch chan<- SceneV1) { s.snapSink = ch }

// TuningDigest identifies the effective tuning, for WELCOME and snapshots.
func (s *Scene) TuningDigest() string { return s.tune.Digest() }

// RigRefs summarizes the loaded rigs for bootstrap responses.
func (s *Scene) RigRefs() []protocol.RigRef {
	out := make([]protocol.RigRef, 0, len(s.rigs.IDs))
	for _, id := range s.rigs.IDs {
		d := s.rigs.ByID[id]
		out = append(out, protocol.RigRef{ID: d.ID, Digest: d.Digest, Bones: len(d.Bones), Legs: len(d.Legs)})
	}
	return out
}

// reporterFor stamps walker identity and tick onto diagnostics. E_CONFIG is
// deduplicated; everything else flows straight into the bounded buffer.
func (s *Scene) reporterFor(walkerID string) diag.Reporter {
	return diag.ReporterFunc(func(ev diag.Event) {
		ev.Walker = walkerID
		ev.Tick = s.tick.Load()
		if ev.Code == diag.CodeConfig {
			s.cfgOnce.Report(ev)
			return
		}
		s.diagBuf.Report(ev)
	})
}

type SceneMetrics struct {
	Tick      uint64  `json:"tick"`
	Walkers   int     `json:"walkers"`
	Observers int     `json:"observers"`
	StepMS    float64 `json:"step_ms"`

	QueueDepths struct {
		Inbox int `json:"inbox"`
		Join  int `json:"join"`
		Leave int `json:"leave"`
	} `json:"queue_depths"`

	DiagDropped uint64 `json:"diag_dropped"`
}

// Metrics is safe to call from outside the scene goroutine; values are
// point-in-time and may be one tick stale.
func (s *Scene) Metrics() SceneMetrics {
	var m SceneMetrics
	m.Tick = s.tick.Load()
	m.Walkers = len(s.walkers)
	m.Observers = len(s.observers)
	m.StepMS = s.stepMS
	m.QueueDepths.Inbox = len(s.inbox)
	m.QueueDepths.Join = len(s.join)
	m.QueueDepths.Leave = len(s.leave)
	m.DiagDropped = s.diagBuf.Dropped()
	return m
}
