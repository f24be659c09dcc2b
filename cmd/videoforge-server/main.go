// Command videoforge-server is the HTTP front door: it registers every
// provider with an API key present in the environment, loads a
// RouterConfig (or falls back to the documented defaults), and serves
// POST /v1/generate, POST /v1/pipeline, GET /healthz, and GET /metrics.
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
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	videoforge "github.com/ferro-labs/videoforge"
	"github.com/ferro-labs/videoforge/adapter"
	"github.com/ferro-labs/videoforge/contract"
	"github.com/ferro-labs/videoforge/internal/cache"
	"github.com/ferro-labs/videoforge/internal/logging"
	"github.com/ferro-labs/videoforge/internal/version"
	"github.com/ferro-labs/videoforge/pipeline"
)

func main() {
	var cfg videoforge.RouterConfig
	if cfgPath := os.Getenv("VIDEOFORGE_CONFIG"); cfgPath != "" {
		loaded, err := videoforge.LoadConfig(cfgPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		if err := videoforge.ValidateConfig(*loaded); err != nil {
			log.Fatalf("Invalid config: %v", err)
		}
		cfg = *loaded
		log.Printf("Config loaded: strategy=%s", cfg.Strategy)
	} else {
		cfg = videoforge.DefaultRouterConfig()
		log.Printf("No VIDEOFORGE_CONFIG set; using default strategy=%s", cfg.Strategy)
	}

	router := videoforge.NewRouter(cfg)
	registered := registerProviders(router)
	if registered == 0 {
		log.Fatal("No providers configured. Set at least one provider API key (e.g., SORA_API_KEY, RUNWAY_API_KEY) or VEO_CLIENT_ID")
	}

	if cfg.Cache.L2Enabled {
		l2, err := newL2Store(cfg.Cache)
		if err != nil {
			log.Fatalf("Failed to open cache.l2_driver %q: %v", cfg.Cache.L2Driver, err)
		}
		router.WithL2(l2)
		log.Printf("L2 cache attached: driver=%s", cfg.Cache.L2Driver)
	}

	router.AddHook(func(ctx context.Context, subject string, data map[string]any) {
		logging.FromContext(ctx).Debug("event", "subject", subject, "data", data)
	})

	discoveryCtx, stopDiscovery := context.WithCancel(context.Background())
	defer stopDiscovery()
	if err := router.StartDiscovery(discoveryCtx, 30*time.Minute); err != nil {
		log.Printf("Discovery not started: %v", err)
	}

	pl := pipeline.New(router, noopAnalyzer{}, passthroughCompiler{}, nil, nil)

	srv := &http.Server{
		Addr:         listenAddr(),
		Handler:      newHTTPRouter(router, pl),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Println("Shutting down gracefully…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	log.Printf("videoforge %s listening on %s (%d provider(s))", version.Short(), srv.Addr, registered)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stop()
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server stopped.")
}

// newL2Store constructs the shared warm cache tier named by cfg.L2Driver.
func newL2Store(cfg videoforge.CacheConfig) (cache.L2, error) {
	switch cfg.L2Driver {
	case "sqlite":
		return cache.NewSQLiteStore(cfg.L2DSN)
	case "postgres":
		return cache.NewPostgresStore(cfg.L2DSN)
	default:
		return nil, fmt.Errorf("unknown l2_driver %q", cfg.L2Driver)
	}
}

func listenAddr() string {
	if p := os.Getenv("PORT"); p != "" {
		return ":" + p
	}
	return ":8080"
}

// registerProviders auto-registers every adapter whose API key env var is
// set, with weight 1, enabled. Priorities follow the list order: the first
// entry (sora) gets len(entries), the last (flux) gets 1, and veo, keyed on
// VEO_CLIENT_ID, gets len(entries)+1. Returns the number registered.
func registerProviders(router *videoforge.Router) int {
	type entry struct {
		envKey string
		build  func(key string) adapter.Adapter
	}
	entries := []entry{
		{"SORA_API_KEY", func(k string) adapter.Adapter { return adapter.NewSoraAdapter(k, os.Getenv("SORA_BASE_URL")) }},
		{"RUNWAY_API_KEY", func(k string) adapter.Adapter { return adapter.NewRunwayAdapter(k, os.Getenv("RUNWAY_BASE_URL")) }},
		{"KLING_API_KEY", func(k string) adapter.Adapter { return adapter.NewKlingAdapter(k, os.Getenv("KLING_BASE_URL")) }},
		{"LUMA_API_KEY", func(k string) adapter.Adapter { return adapter.NewLumaAdapter(k, os.Getenv("LUMA_BASE_URL")) }},
		{"PIKA_API_KEY", func(k string) adapter.Adapter { return adapter.NewPikaAdapter(k, os.Getenv("PIKA_BASE_URL")) }},
		{"FLUX_API_KEY", func(k string) adapter.Adapter { return adapter.NewFluxAdapter(k, os.Getenv("FLUX_BASE_URL")) }},
	}

	count := 0
	for i, e := range entries {
		if key := os.Getenv(e.envKey); key != "" {
			a := e.build(key)
			router.Register(a, len(entries)-i, 1, true)
			log.Printf("Provider registered: %s", a.Name())
			count++
		}
	}

	if clientID := os.Getenv("VEO_CLIENT_ID"); clientID != "" {
		a := adapter.NewVeoAdapter(clientID, os.Getenv("VEO_CLIENT_SECRET"), os.Getenv("VEO_TOKEN_URL"), os.Getenv("VEO_BASE_URL"))
		router.Register(a, len(entries)+1, 1, true)
		log.Printf("Provider registered: %s", a.Name())
		count++
	}
	return count
}

func newHTTPRouter(router *videoforge.Router, pl *pipeline.Pipeline) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/v1/generate", generateHandler(router))
	r.Post("/v1/pipeline", pipelineHandler(pl))

	return r
}

func generateHandler(router *videoforge.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req contract.UnifiedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		resp, err := router.Execute(r.Context(), req)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func pipelineHandler(pl *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req contract.IntentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		result, err := pl.Execute(r.Context(), req)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// noopAnalyzer and passthroughCompiler are the server's stock collaborator
// implementations until a real CV/prompt-compilation service is wired in
// — they satisfy pipeline.Analyzer/PromptCompiler without inventing
// analysis this core explicitly doesn't own.
type noopAnalyzer struct{}

func (noopAnalyzer) Analyze(_ context.Context, imageRef string) (pipeline.AnalysisFeatures, error) {
	return pipeline.AnalysisFeatures{"image_ref": imageRef}, nil
}

type passthroughCompiler struct{}

func (passthroughCompiler) Compile(_ context.Context, intentText string, _ pipeline.AnalysisFeatures, _, _ string) (pipeline.CompiledPrompt, error) {
	return pipeline.CompiledPrompt{Text: intentText}, nil
}
