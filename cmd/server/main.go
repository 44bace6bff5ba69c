package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"epicore/internal/config"
	"epicore/internal/record"
	"epicore/internal/sim"
)

type server struct {
	simulation *sim.Simulation
	hub        *controlHub
}

func (s *server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/snapshot", s.getSnapshot)
		r.Get("/policies", s.getPolicies)
		r.Put("/control", s.putControl)
		r.Get("/events/counts", s.getEventCounts)
	})
	r.Get("/ws/control", s.hub.handler(s.simulation))
	return r
}

func (s *server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, s.simulation.Snapshot())
}

type policyView struct {
	Kind  string `json:"kind"`
	Class string `json:"class"`
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

func (s *server) getPolicies(w http.ResponseWriter, r *http.Request) {
	var out []policyView
	for _, p := range s.simulation.Policies() {
		v := policyView{Kind: p.Kind, Class: string(p.Class)}
		if !p.Start.IsZero() {
			v.Start = p.Start.Format(time.DateOnly)
		}
		if !p.End.IsZero() {
			v.End = p.End.Format(time.DateOnly)
		}
		out = append(out, v)
	}
	respond(w, http.StatusOK, out)
}

// putControl applies a partial control update; omitted fields keep their
// current value.
func (s *server) putControl(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransmissionModifier *float64 `json:"transmission_modifier"`
		LockdownEnabled      *bool    `json:"lockdown_enabled"`
		HospitalCapacity     *int     `json:"hospital_capacity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	settings := currentSettings(s.simulation)
	if req.TransmissionModifier != nil {
		settings.TransmissionModifier = *req.TransmissionModifier
	}
	if req.LockdownEnabled != nil {
		settings.LockdownEnabled = *req.LockdownEnabled
	}
	if req.HospitalCapacity != nil {
		settings.HospitalCapacity = *req.HospitalCapacity
	}
	snap := s.simulation.ApplyControlSettings(settings)
	s.hub.broadcast(snap)
	respond(w, http.StatusOK, snap)
}

func (s *server) getEventCounts(w http.ResponseWriter, r *http.Request) {
	switch rec := s.simulation.Recorder().(type) {
	case *record.Memory:
		respond(w, http.StatusOK, rec.Counts())
	case *record.SQLiteSink:
		counts, err := rec.Counts(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respond(w, http.StatusOK, counts)
	default:
		respondError(w, http.StatusNotImplemented, "event counts are not available for this recorder")
	}
}

func respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respond(w, status, map[string]string{"error": message})
}

func loadConfig(path string) *config.Config {
	if path == "" {
		return config.LoadFromEnv()
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("failed to load config from %s: %v", path, err)
	}
	return cfg
}

func main() {
	configPath := flag.String("config", os.Getenv("EPICORE_CONFIG"), "run configuration file")
	addr := flag.String("addr", "", "server listen address (overrides config)")
	seed := flag.Uint64("seed", 0, "random seed (overrides config when non-zero)")
	interval := flag.Duration("interval", 0, "wall-clock time between steps (overrides config)")
	flag.Parse()

	cfg := loadConfig(*configPath)
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *seed != 0 {
		cfg.Simulation.Seed = *seed
	}
	if *interval > 0 {
		cfg.Server.Interval = *interval
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	simulation, err := sim.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to build simulation: %v", err)
	}
	defer func() {
		if err := simulation.Close(); err != nil {
			log.Printf("failed to close recorder: %v", err)
		}
	}()

	hub := newControlHub()
	go func() {
		err := simulation.Run(ctx, cfg.Server.Interval, hub.broadcast)
		if err != nil {
			log.Printf("simulation halted: %v", err)
			return
		}
		log.Printf("simulation finished: %+v", simulation.Snapshot())
	}()

	srv := &server{simulation: simulation, hub: hub}
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("serving on http://localhost%v", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
}
