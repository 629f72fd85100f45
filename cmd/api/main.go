package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"mailprobe/internal/behavior"
	"mailprobe/internal/bounce"
	"mailprobe/internal/cache"
	"mailprobe/internal/config"
	"mailprobe/internal/limiter"
	"mailprobe/internal/lookup"
	"mailprobe/internal/validator"
)

// app bundles everything the handlers need.
type app struct {
	cfg          config.Config
	gate         *limiter.Gate
	engine       *validator.Engine
	bounces      bounce.Store
	bounceWindow *limiter.Window
	verifier     AgentVerifier
}

func main() {
	// Best-effort: a missing .env just means the environment is already set.
	godotenv.Load()
	cfg := config.Load()

	// 1. Daily counters: Redis when configured, otherwise in-process.
	var counter limiter.DailyCounter
	var memCounter *limiter.MemoryCounter
	if cfg.RedisAddr != "" {
		fmt.Printf("🔌 Connecting to Redis at %s...\n", cfg.RedisAddr)
		rc, err := limiter.NewRedisCounter(cfg.RedisAddr)
		if err != nil {
			log.Fatalf("❌ Failed to connect to Redis: %v", err)
		}
		counter = rc
		fmt.Println("✅ Daily counters backed by Redis")
	} else {
		memCounter = limiter.NewMemoryCounter()
		counter = memCounter
		fmt.Println("✅ Daily counters in-process (set REDIS_ADDR to externalize)")
	}

	// 2. Bounce reports: Postgres when configured, otherwise in-process.
	var bounces bounce.Store
	if cfg.DBURL != "" {
		fmt.Println("🔌 Connecting to Database...")
		pg, err := bounce.NewPostgresStore(cfg.DBURL)
		if err != nil {
			log.Fatalf("❌ Failed to connect to DB: %v", err)
		}
		defer pg.Close()
		bounces = pg
		fmt.Println("✅ Bounce reports backed by PostgreSQL")
	} else {
		bounces = bounce.NewMemoryStore()
		fmt.Println("✅ Bounce reports in-process (set DB_URL to persist)")
	}

	// 3. Pipeline components.
	store := cache.New()
	stats := behavior.New()
	resolver := lookup.NewResolver(store, cfg.DNSCacheTTL, cfg.DNSTimeout)
	prober := lookup.NewSmtpProber(cfg.SMTPHeloDomain, cfg.SMTPMailFrom, cfg.SMTPTimeout, stats)
	probes := lookup.NewProviderProbes(cfg.HIBPAPIKey)
	if cfg.HIBPAPIKey == "" {
		fmt.Println("⚠️  HIBP_API_KEY not set; breach probe disabled")
	}

	gate := limiter.NewGate(
		limiter.Limits{RPM: cfg.IPRPM, DailyLimit: cfg.IPDailyLimit, MaxConcurrent: cfg.IPMaxConcurrent},
		limiter.Limits{RPM: cfg.AgentRPM, DailyLimit: cfg.AgentDailyLimit, MaxConcurrent: cfg.AgentMaxConcurrent},
		cfg.GlobalDailyLimit,
		counter,
	)
	engine := validator.NewEngine(cfg, resolver, prober, probes, bounces, store)

	a := &app{
		cfg:          cfg,
		gate:         gate,
		engine:       engine,
		bounces:      bounces,
		bounceWindow: limiter.NewWindow(),
		verifier:     loadAgentVerifier(),
	}

	// 4. Background sweepers, all tied to one root context.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store.StartCleanup(ctx, 5*time.Minute)
	stats.StartSweep(ctx, 1*time.Hour)
	prober.StartSweep(ctx, 1*time.Hour)
	gate.StartSweep(ctx, 1*time.Hour)
	bounce.StartPrune(ctx, bounces, 12*time.Hour)
	if memCounter != nil {
		go func() {
			ticker := time.NewTicker(1 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					memCounter.Sweep()
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	fmt.Println("✅ Background sweepers started")

	// 5. Router.
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", agentUIDHeader, agentSignatureHeader},
	}))
	r.Post("/api/verify", a.handleVerify)
	r.Post("/api/bounce", a.handleBounce)
	r.Get("/api/agent/usage", a.handleAgentUsage)
	r.Get("/api/health", handleHealth)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // large batches hold the connection
		IdleTimeout:  120 * time.Second,
	}

	// 6. Graceful shutdown on SIGTERM / SIGINT.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		fmt.Printf("🚀 Mailprobe Engine running on :%s\n", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server error: %v", err)
		}
	}()

	<-quit
	fmt.Println("⏳ Shutdown signal received, draining in-flight requests...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("❌ Graceful shutdown failed: %v", err)
	}
	fmt.Println("✅ Server shut down cleanly.")
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"service": "Mailprobe Engine",
		"version": "1.0.0",
		"capabilities": []string{
			"Deep SMTP (STARTTLS, Greylist Retry, Catch-All Disambiguation)",
			"Identity Probes (Microsoft, Google, Apple)",
			"Social Footprint (Gravatar, GitHub, PGP, HIBP)",
			"Infrastructure (SPF, DMARC, DKIM, MTA-STS, BIMI, RDAP, DNSBL)",
			"Pattern Analysis & Bulk Anomaly Detection",
		},
	}
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[ERROR] encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
