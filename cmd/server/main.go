package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"strider.run/internal/persistence/poselog"
	"strider.run/internal/persistence/snapshot"
	"strider.run/internal/persistence/telemetry"
	"strider.run/internal/rig"
	"strider.run/internal/sim/scene"
	"strider.run/internal/sim/tuning"
	"strider.run/internal/terrain"
	"strider.run/internal/transport/observer"
	"strider.run/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		sceneID    = flag.String("scene", "scene_1", "scene id")
		seed       = flag.Int64("seed", 1337, "terrain seed (used only when starting fresh)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the telemetry database")

		terrainAmp  = flag.Float64("terrain_amplitude", 0.6, "terrain height amplitude (0 for flat ground)")
		terrainFreq = flag.Float64("terrain_frequency", 0.15, "terrain base frequency")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	rigs, err := rig.LoadCatalog(filepath.Join(*configDir, "rigs"))
	if err != nil {
		logger.Fatalf("load rigs: %v", err)
	}

	sceneDir := filepath.Join(*dataDir, "scenes", *sceneID)
	_ = os.MkdirAll(sceneDir, 0o755)

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		if p, ok := snapshot.LatestPath(sceneDir); ok {
			snapshotToLoad = p
		}
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, tuneErr := tuning.Load(tp)
	if tuneErr != nil {
		if os.IsNotExist(tuneErr) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", tuneErr)
		}
	}

	var tel *telemetry.SQLiteTelemetry
	if !*disableDB {
		tel, err = telemetry.Open(filepath.Join(sceneDir, "telemetry.db"))
		if err != nil {
			logger.Fatalf("open telemetry db: %v", err)
		}
		defer tel.Close()
		if err := tel.UpsertCatalog(rigs, tune); err != nil {
			logger.Printf("telemetry: upsert catalog: %v", err)
		}
	}

	sceneSeed := *seed
	tickRate := tune.TickRateHz
	var resumeSnap *scene.SceneV1
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.SceneID != "" && snap.SceneID != *sceneID {
			logger.Fatalf("snapshot scene id mismatch: flag=%s snap=%s", *sceneID, snap.SceneID)
		}
		sceneSeed = snap.Seed
		tickRate = snap.TickRateHz
		resumeSnap = &snap
	}

	ground := terrain.New(sceneSeed, *terrainAmp, *terrainFreq)

	sc, err := scene.New(scene.Config{
		ID:                 *sceneID,
		Seed:               sceneSeed,
		TickRateHz:         tickRate,
		MaxWalkers:         tune.MaxWalkers,
		SnapshotEveryTicks: tune.SnapshotEveryTicks,
	}, tune, rigs, ground, logger)
	if err != nil {
		logger.Fatalf("scene: %v", err)
	}
	if resumeSnap != nil {
		if err := sc.ImportSnapshot(*resumeSnap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapshotToLoad), sc.CurrentTick())
	}

	ctx, cancel := signalContext()
	defer cancel()

	tickLog := poselog.NewTickLogger(sceneDir)
	defer tickLog.Close()
	sc.SetTickLogger(tickLog)
	if tel != nil {
		sc.SetTelemetry(tel)
	}

	// Snapshot writer.
	snapCh := make(chan scene.SceneV1, 2)
	sc.SetSnapshotSink(snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				path := snapshot.PathFor(sceneDir, snap.Tick)
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					logger.Printf("snapshot write: %v", err)
					continue
				}
				if tel != nil {
					tel.RecordSnapshot(path, snap)
				}
				logger.Printf("snapshot written tick=%d", snap.Tick)
			}
		}
	}()

	go func() {
		if err := sc.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("scene stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		m := sc.Metrics()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP strider_scene_tick Current scene tick.\n")
		fmt.Fprintf(rw, "# TYPE strider_scene_tick gauge\n")
		fmt.Fprintf(rw, "strider_scene_tick{scene=%q} %d\n", *sceneID, m.Tick)

		fmt.Fprintf(rw, "# HELP strider_scene_walkers Current number of walkers.\n")
		fmt.Fprintf(rw, "# TYPE strider_scene_walkers gauge\n")
		fmt.Fprintf(rw, "strider_scene_walkers{scene=%q} %d\n", *sceneID, m.Walkers)

		fmt.Fprintf(rw, "# HELP strider_scene_observers Current number of pose stream subscribers.\n")
		fmt.Fprintf(rw, "# TYPE strider_scene_observers gauge\n")
		fmt.Fprintf(rw, "strider_scene_observers{scene=%q} %d\n", *sceneID, m.Observers)

		fmt.Fprintf(rw, "# HELP strider_scene_queue_depth Channel backlog depth.\n")
		fmt.Fprintf(rw, "# TYPE strider_scene_queue_depth gauge\n")
		fmt.Fprintf(rw, "strider_scene_queue_depth{scene=%q,queue=%q} %d\n", *sceneID, "inbox", m.QueueDepths.Inbox)
		fmt.Fprintf(rw, "strider_scene_queue_depth{scene=%q,queue=%q} %d\n", *sceneID, "join", m.QueueDepths.Join)
		fmt.Fprintf(rw, "strider_scene_queue_depth{scene=%q,queue=%q} %d\n", *sceneID, "leave", m.QueueDepths.Leave)

		fmt.Fprintf(rw, "# HELP strider_scene_step_ms Last tick step duration in milliseconds.\n")
		fmt.Fprintf(rw, "# TYPE strider_scene_step_ms gauge\n")
		fmt.Fprintf(rw, "strider_scene_step_ms{scene=%q} %.3f\n", *sceneID, m.StepMS)

		fmt.Fprintf(rw, "# HELP strider_diag_dropped_total Diagnostics dropped by the bounded buffer.\n")
		fmt.Fprintf(rw, "# TYPE strider_diag_dropped_total counter\n")
		fmt.Fprintf(rw, "strider_diag_dropped_total{scene=%q} %d\n", *sceneID, m.DiagDropped)

		if tel != nil {
			fmt.Fprintf(rw, "# HELP strider_telemetry_dropped_total Telemetry events dropped by the write queue.\n")
			fmt.Fprintf(rw, "# TYPE strider_telemetry_dropped_total counter\n")
			fmt.Fprintf(rw, "strider_telemetry_dropped_total{scene=%q} %d\n", *sceneID, tel.Dropped())
		}
	})

	// Local-only admin endpoints (do not affect simulation determinism).
	mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		resp := struct {
			SceneID string             `json:"scene_id"`
			Tick    uint64             `json:"tick"`
			Metrics scene.SceneMetrics `json:"metrics"`
		}{
			SceneID: *sceneID,
			Tick:    sc.CurrentTick(),
			Metrics: sc.Metrics(),
		}
		_ = json.NewEncoder(rw).Encode(resp)
	})
	mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel2()
		tick, err := sc.RequestSnapshot(ctx2)
		rw.Header().Set("Content-Type", "application/json")
		if err != nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "tick": tick, "error": err.Error()})
			return
		}
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "tick": tick})
	})

	obsSrv := observer.NewServer(sc, logger)
	mux.HandleFunc("/admin/v1/bootstrap", obsSrv.BootstrapHandler())
	mux.HandleFunc("/v1/observer", obsSrv.WSHandler())
	mux.HandleFunc("/v1/ws", ws.NewServer(sc, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
