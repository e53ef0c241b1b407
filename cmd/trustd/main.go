package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"

	"github.com/trustmesh/trustd/internal/api"
	"github.com/trustmesh/trustd/internal/config"
	"github.com/trustmesh/trustd/internal/crypto"
	"github.com/trustmesh/trustd/internal/database"
	"github.com/trustmesh/trustd/internal/governance"
	"github.com/trustmesh/trustd/internal/metrics"
	"github.com/trustmesh/trustd/internal/penalty"
	"github.com/trustmesh/trustd/internal/profile"
	"github.com/trustmesh/trustd/internal/registry"
	"github.com/trustmesh/trustd/internal/router"
	"github.com/trustmesh/trustd/internal/scheduler"
	"github.com/trustmesh/trustd/internal/trust"
)

func main() {
	log.Println("trustd starting...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	verifier := crypto.Ed25519Verifier{}
	hasher := crypto.SHA256Hasher{}

	// Select the profile store: Postgres when a database URL is set,
	// in-memory otherwise.
	ctx := context.Background()
	var store profile.Store
	if cfg.DatabaseURL != "" {
		db, err := database.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		if err := db.Health(ctx); err != nil {
			log.Fatalf("Database health check failed: %v", err)
		}
		if err := db.EnsureSchema(ctx); err != nil {
			log.Fatalf("Failed to ensure schema: %v", err)
		}

		store = database.NewProfileStore(db, verifier, hasher, cfg.InitialStake)
		log.Println("Database connected")
	} else {
		store = profile.NewMemoryStore(verifier, hasher, cfg.InitialStake)
		log.Println("Using in-memory profile store")
	}

	// Select the metrics source: external service when configured, the
	// in-process collector otherwise.
	var provider trust.MetricsProvider
	var collector *metrics.Collector
	if cfg.MetricsURL != "" {
		provider = metrics.NewHTTPProvider(cfg.MetricsURL, cfg.MetricsTimeout)
		log.Printf("Metrics service: %s", cfg.MetricsURL)
	} else {
		collector = metrics.NewCollector()
		provider = collector
		log.Println("Using in-process activity collector")
	}

	// Initialize scoring engine
	engine, err := trust.NewEngine(provider, store, hasher, trust.EngineConfig{
		Weights: trust.Weights{
			Technical:    cfg.WeightTechnical,
			Alignment:    cfg.WeightAlignment,
			Behavior:     cfg.WeightBehavior,
			Contribution: cfg.WeightContribution,
		},
		MetricsTimeout:        cfg.MetricsTimeout,
		MetricsRetries:        cfg.MetricsRetries,
		AllowStaleFallback:    cfg.AllowStaleFallback,
		SignificanceThreshold: cfg.SignificanceThreshold,
		DecayRate:             cfg.DecayRate,
	})
	if err != nil {
		log.Fatalf("Failed to initialize scoring engine: %v", err)
	}

	// Initialize registry and consumers
	reg, err := registry.New(store, cfg.ScoreCacheSize, cfg.MaxStaleness)
	if err != nil {
		log.Fatalf("Failed to initialize registry: %v", err)
	}
	rt := router.New(reg)
	pen := penalty.New(store, reg, cfg.AppealWindow)
	gov := governance.New(reg)

	// Initialize scheduler
	sched := scheduler.New(
		engine,
		reg,
		store,
		cfg.RecomputeWorkers,
		cfg.RecomputeInterval,
		cfg.ScorePeriod,
		cfg.DecayInterval,
		cfg.IdleThreshold,
	)

	// Start scheduler in background
	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()

	go func() {
		if err := sched.Start(schedCtx); err != nil {
			log.Printf("Scheduler error: %v", err)
		}
	}()

	// Initialize API
	apiHandler := api.New(store, engine, reg, rt, pen, gov, collector)

	// Setup router
	r := chi.NewRouter()
	r.Mount("/api/v1", apiHandler.Router())

	// Create HTTP server
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("Shutdown signal received, stopping...")
		schedCancel()
		server.Shutdown(context.Background())
	}()

	// Start server
	log.Printf("trustd listening on %s", cfg.HTTPAddr)
	log.Printf("Recompute: %d workers, interval %s, period %s",
		cfg.RecomputeWorkers, cfg.RecomputeInterval, cfg.ScorePeriod)
	log.Printf("Decay: interval %s, rate %.3f/day, idle threshold %s",
		cfg.DecayInterval, cfg.DecayRate, cfg.IdleThreshold)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("trustd stopped")
}
