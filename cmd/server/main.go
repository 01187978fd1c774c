package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"citypulse.live/internal/auditlog"
	"citypulse.live/internal/claims"
	"citypulse.live/internal/config"
	"citypulse.live/internal/metrics"
	"citypulse.live/internal/proximity"
	"citypulse.live/internal/registry"
	"citypulse.live/internal/scheduler"
	"citypulse.live/internal/store"
	"citypulse.live/internal/store/memstore"
	"citypulse.live/internal/store/sqlitestore"
	"citypulse.live/internal/transport/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[server] config: %v", err)
	}

	var (
		addr      = flag.String("addr", cfg.Addr, "http listen address")
		dbPath    = flag.String("db", cfg.DBPath, "sqlite db path (empty: in-memory store, single process only)")
		dataDir   = flag.String("data", cfg.DataDir, "runtime data directory")
		dropsPath = flag.String("drops", cfg.DropsPath, "path to drops.yaml (default: configs/drops.yaml if present)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	met := metrics.New(prometheus.DefaultRegisterer)

	var st store.Store
	if *dbPath == "" {
		logger.Printf("no db path; using in-memory store (state is not durable)")
		st = memstore.New()
	} else {
		sq, err := sqlitestore.Open(*dbPath)
		if err != nil {
			logger.Fatalf("open store: %v", err)
		}
		defer sq.Close()
		st = sq
	}

	audit := auditlog.NewWriter(*dataDir)
	defer audit.Close()

	tune := scheduler.DefaultTuning()
	tp := *dropsPath
	if tp == "" {
		tp = filepath.Join("configs", "drops.yaml")
	}
	if t, err := scheduler.LoadTuning(tp); err == nil {
		tune = t
	} else if !os.IsNotExist(err) {
		logger.Fatalf("load drop tuning: %v", err)
	} else {
		logger.Printf("drop tuning not found (%s); using defaults", tp)
	}

	reg := registry.New(log.New(os.Stdout, "[registry] ", log.LstdFlags|log.Lmicroseconds), met)
	matcher := proximity.NewMatcher(st)
	resolver := claims.NewResolver(st, log.New(os.Stdout, "[claims] ", log.LstdFlags|log.Lmicroseconds), audit, met)

	ctx, cancel := signalContext()
	defer cancel()

	sched := scheduler.New(st, reg, log.New(os.Stdout, "[scheduler] ", log.LstdFlags|log.Lmicroseconds),
		audit, met, tune,
		time.Duration(cfg.DropIntervalSec)*time.Second,
		time.Duration(cfg.SweepIntervalSec)*time.Second)
	go sched.Run(ctx)

	wsSrv := ws.NewServer(reg, st, matcher, resolver, met,
		log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lmicroseconds),
		ws.Config{ProximityRadiusM: cfg.ProximityRadiusM, MaxNearby: cfg.MaxNearby})

	api := &apiServer{st: st, reg: reg, resolver: resolver, log: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", api.health)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/locations", api.locations)
	mux.HandleFunc("POST /api/events", api.createEvent)
	mux.HandleFunc("POST /api/events/{id}/end", api.endEvent)
	mux.HandleFunc("GET /api/users/{id}/collectibles", api.inventory)
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

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
