package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/sync/errgroup"

	"silkroad.gg/internal/bounty"
	"silkroad.gg/internal/cargo"
	"silkroad.gg/internal/contracts"
	"silkroad.gg/internal/economy"
	"silkroad.gg/internal/persistence/indexdb"
	persistlog "silkroad.gg/internal/persistence/log"
	"silkroad.gg/internal/persistence/snapshot"
	"silkroad.gg/internal/transport/ws"
	"silkroad.gg/internal/transporters"
	"silkroad.gg/internal/tuning"
)

// envOverrides are applied on top of flag values, so deployments can
// configure the server without touching the unit file.
type envOverrides struct {
	Addr        string `env:"SILKROAD_ADDR"`
	DataDir     string `env:"SILKROAD_DATA_DIR"`
	TuningPath  string `env:"SILKROAD_TUNING"`
	DisableDB   bool   `env:"SILKROAD_DISABLE_DB"`
	EnablePprof bool   `env:"SILKROAD_ENABLE_PPROF"`
}

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite event/completion index")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		logger.Fatalf("parse env: %v", err)
	}
	if ov.Addr != "" {
		*addr = ov.Addr
	}
	if ov.DataDir != "" {
		*dataDir = ov.DataDir
	}
	if ov.TuningPath != "" {
		*tuningPath = ov.TuningPath
	}
	if ov.DisableDB {
		*disableDB = true
	}

	_ = os.MkdirAll(*dataDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.Open(filepath.Join(*dataDir, "index.db"))
		if err != nil {
			logger.Fatalf("open index db: %v", err)
		}
		defer idx.Close()
	} else {
		logger.Printf("sqlite index disabled")
	}

	eventLog := persistlog.NewJSONLZstdWriter(filepath.Join(*dataDir, "logs"), "events")
	defer eventLog.Close()

	hub := ws.NewServer(logger)

	ledger := economy.NewLedger()
	shops := economy.NewShops(ledger)
	treasury := economy.NewTreasury()
	tokens := cargo.NewTokens()

	prog := transporters.NewManager(
		tune.Progression,
		transporters.NewFileStore(filepath.Join(*dataDir, "transporters"), logger),
		hub,
		logger,
	)
	if idx != nil {
		prog.SetCompletionSink(idx)
	}
	insurance := transporters.NewInsuranceManager(tune.Insurance, ledger, treasury, prog, hub, logger)

	calc := bounty.NewCalculator(bounty.ConfigFromTuning(tune))
	registry := contracts.NewRegistry()

	audit := auditFanout{&eventLogSink{w: eventLog}, hub}
	if idx != nil {
		audit = append(audit, idx)
	}

	manager := contracts.NewManager(contracts.Deps{
		Registry:    registry,
		Pricer:      calc,
		Ledger:      ledger,
		Shop:        shops,
		Progression: prog,
		Insurance:   insurance,
		Cargo:       tokens,
		Notifier:    hub,
		Audit:       audit,
		Log:         logger,
		GraceDelay:  time.Duration(tune.Lifecycle.GraceDelaySec) * time.Second,
	})

	snapDir := filepath.Join(*dataDir, "snapshots")
	toLoad := strings.TrimSpace(*snapPath)
	if toLoad == "" && *loadLatest {
		toLoad = latestSnapshot(snapDir)
	}
	if toLoad != "" {
		n, skipped, err := restoreSnapshot(registry, toLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		logger.Printf("resumed %d contracts from %s (%d skipped)", n, filepath.Base(toLoad), skipped)
	}

	decay := bounty.NewDecayManager(registry, manager, hub, bounty.DecayConfig{
		TickInterval: time.Duration(tune.Bounty.TickIntervalSec) * time.Second,
		Thresholds:   warningThresholds(tune.Warnings),
		LowBounty:    tune.Warnings.LowBounty,
	}, logger)

	ctx, cancel := signalContext()
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return decay.Run(gctx) })
	g.Go(func() error {
		return autosave(gctx, registry, snapDir, time.Duration(tune.Lifecycle.SaveIntervalSec)*time.Second, logger)
	})

	api := &apiServer{
		registry: registry,
		manager:  manager,
		decay:    decay,
		prog:     prog,
		ledger:   ledger,
		shops:    shops,
		idx:      idx,
		log:      logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP silkroad_contracts Registered contracts by state.\n")
		fmt.Fprintf(rw, "# TYPE silkroad_contracts gauge\n")
		for _, s := range []contracts.State{
			contracts.StatePosted, contracts.StateAccepted, contracts.StateInTransit,
			contracts.StateDelivered, contracts.StateCompleted,
		} {
			fmt.Fprintf(rw, "silkroad_contracts{state=%q} %d\n", string(s), len(registry.ByState(s)))
		}

		fmt.Fprintf(rw, "# HELP silkroad_clients Connected websocket clients.\n")
		fmt.Fprintf(rw, "# TYPE silkroad_clients gauge\n")
		fmt.Fprintf(rw, "silkroad_clients %d\n", hub.Clients())

		if idx != nil {
			fmt.Fprintf(rw, "# HELP silkroad_index_dropped Index writes dropped on overflow.\n")
			fmt.Fprintf(rw, "# TYPE silkroad_index_dropped counter\n")
			fmt.Fprintf(rw, "silkroad_index_dropped %d\n", idx.Dropped())
		}
	})
	if ov.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	api.routes(mux)
	mux.HandleFunc("/v1/ws", hub.Handler())

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

	cancel()
	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Printf("background stopped: %v", err)
	}

	// Final save so a clean shutdown never loses in-flight contracts.
	if err := saveSnapshot(registry, snapDir); err != nil {
		logger.Printf("final snapshot: %v", err)
	}
}

// auditFanout broadcasts one lifecycle event to every sink.
type auditFanout []contracts.AuditSink

func (f auditFanout) RecordContractEvent(ev contracts.Event) {
	for _, s := range f {
		s.RecordContractEvent(ev)
	}
}

type eventLogSink struct {
	w *persistlog.JSONLZstdWriter
}

func (s *eventLogSink) RecordContractEvent(ev contracts.Event) {
	_ = s.w.Write(ev)
}

func warningThresholds(w tuning.Warnings) []time.Duration {
	out := make([]time.Duration, 0, len(w.ThresholdsSec))
	for _, s := range w.ThresholdsSec {
		out = append(out, time.Duration(s)*time.Second)
	}
	return out
}

func restoreSnapshot(reg *contracts.Registry, path string) (loaded, skipped int, err error) {
	snap, err := snapshot.Read(path)
	if err != nil {
		return 0, 0, err
	}
	for _, v := range snap.Contracts {
		c, err := v.ToContract()
		if err != nil {
			skipped++
			continue
		}
		reg.Register(c)
		loaded++
	}
	return loaded, skipped, nil
}

func saveSnapshot(reg *contracts.Registry, dir string) error {
	cs := reg.All()
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: 1,
			SavedAt: time.Now().UTC(),
			Count:   len(cs),
		},
	}
	snap.Contracts = make([]snapshot.ContractV1, 0, len(cs))
	for _, c := range cs {
		snap.Contracts = append(snap.Contracts, snapshot.FromContract(c))
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.snap.zst", snap.Header.SavedAt.UnixMilli()))
	return snapshot.Write(path, snap)
}

func autosave(ctx context.Context, reg *contracts.Registry, dir string, every time.Duration, logger *log.Logger) error {
	if every <= 0 {
		every = 5 * time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := saveSnapshot(reg, dir); err != nil {
				logger.Printf("snapshot write: %v", err)
			}
		}
	}
}

func latestSnapshot(dir string) string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTS uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		base := strings.TrimSuffix(name, ".snap.zst")
		ts, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		if best == "" || ts > bestTS {
			bestTS = ts
			best = filepath.Join(dir, name)
		}
	}
	return best
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
