package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/crisis-engine/internal/config"
	"github.com/jwebster45206/crisis-engine/internal/discovery"
	"github.com/jwebster45206/crisis-engine/internal/engine"
	"github.com/jwebster45206/crisis-engine/internal/handlers"
	"github.com/jwebster45206/crisis-engine/internal/logger"
	"github.com/jwebster45206/crisis-engine/internal/metrics"
	"github.com/jwebster45206/crisis-engine/internal/middleware"
	"github.com/jwebster45206/crisis-engine/internal/services"
	"github.com/jwebster45206/crisis-engine/internal/services/events"
	"github.com/jwebster45206/crisis-engine/internal/session"
	internalstorage "github.com/jwebster45206/crisis-engine/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)
	slog.SetDefault(log)

	providerCfg := services.ProviderConfig{
		Provider:         cfg.LLMProvider,
		Model:            cfg.ModelName,
		OpenAIAPIKey:     cfg.OpenAIAPIKey,
		OpenAIBaseURL:    cfg.OpenAIBaseURL,
		VeniceAPIKey:     cfg.VeniceAPIKey,
		OpenRouterAPIKey: cfg.OpenRouterAPIKey,
		AnthropicAPIKey:  cfg.AnthropicAPIKey,
		OllamaURL:        cfg.OllamaURL,
		GeminiAPIKey:     cfg.GeminiAPIKey,
	}

	log.Info("Starting Crisis Engine API",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"llm_provider", cfg.LLMProvider,
		"model_name", providerCfg.ModelName(),
		"storage_backend", cfg.StorageBackend)

	startCtx, startCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer startCancel()

	llmService, err := services.NewLLMService(startCtx, providerCfg, log)
	if err != nil {
		log.Error("Failed to create LLM service", "error", err)
		os.Exit(1)
	}
	if err := llmService.InitModel(startCtx, providerCfg.ModelName()); err != nil {
		log.Error("Failed to initialize LLM model", "error", err, "model", providerCfg.ModelName())
		os.Exit(1)
	}

	// Search queries and validation run on the cheaper backend model when one
	// is configured.
	backendLLM := llmService
	if cfg.BackendModelName != "" {
		backendCfg := providerCfg
		backendCfg.Model = cfg.BackendModelName
		backendLLM, err = services.NewLLMService(startCtx, backendCfg, log)
		if err != nil {
			log.Error("Failed to create backend LLM service", "error", err)
			os.Exit(1)
		}
	}

	redisClient := redis.NewClient(services.RedisOptions(cfg.RedisURL))
	cache := services.NewRedisServiceWithClient(redisClient, log)
	if err := cache.WaitForConnection(startCtx); err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	log.Info("Redis connection established successfully")

	store, err := internalstorage.Open(startCtx, cfg, redisClient, log)
	if err != nil {
		log.Error("Failed to open session storage", "error", err, "backend", cfg.StorageBackend)
		os.Exit(1)
	}
	log.Info("Session storage ready", "backend", cfg.StorageBackend)

	eng := engine.New(llmService, log)
	var validator *engine.Validator
	if cfg.ValidationEnabled {
		validator = engine.NewValidator(backendLLM, log)
	}
	pipeline := discovery.NewPipeline(backendLLM, discovery.Config{
		ReaderBaseURL: cfg.ReaderBaseURL,
		TavilyAPIKey:  cfg.TavilyAPIKey,
		FetchTimeout:  cfg.FetchTimeout,
	}, log)

	broadcaster := events.NewBroadcaster(redisClient, log)
	registry := session.NewRegistry(store, cache, broadcaster, session.Options{
		Debounce:   cfg.AutosaveDebounce,
		ErrorClear: cfg.SyncErrorClear,
	}, log)
	controller := session.NewController(eng, broadcaster, log)

	auth := middleware.NewAuth(cfg.JWTSecret, log)
	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET is not set; saved sessions are unavailable")
	}

	mux := http.NewServeMux()

	// The cache shares the Redis server with redis storage, so it is only
	// checked separately for postgres.
	var cachePinger handlers.Pinger
	if cfg.StorageBackend != config.StorageRedis {
		cachePinger = cache
	}
	mux.Handle("/health", handlers.NewHealthHandler(store, cachePinger, llmService, log))
	mux.Handle("/metrics", metrics.Handler())

	scenarioHandler := handlers.NewScenarioHandler(log, store, pipeline)
	mux.Handle("/v1/scenarios", scenarioHandler)
	mux.Handle("/v1/scenarios/", scenarioHandler)

	simulateHandler := handlers.NewSimulateHandler(eng, log)
	mux.Handle("/v1/simulate", simulateHandler)
	mux.Handle("/v1/simulate/", simulateHandler)
	mux.Handle("/v1/validate-action", handlers.NewValidateHandler(validator, log))

	sessionHandler := auth.Require(handlers.NewSessionHandler(store, log))
	mux.Handle("/v1/sessions", sessionHandler)
	mux.Handle("/v1/sessions/", sessionHandler)
	mux.Handle("/v1/shared/", handlers.NewSharedHandler(store, log))

	gameHandler := auth.Optional(handlers.NewGameHandler(registry, controller, store, log))
	mux.Handle("/v1/games", gameHandler)
	mux.Handle("/v1/games/", gameHandler)
	mux.Handle("/v1/events/games/", auth.Optional(handlers.NewEventsHandler(redisClient, registry, log)))

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     middleware.LoggerWith(log, mux),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: SSE responses stay open for the length of a turn or subscription.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Server is shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	// Flush unsaved games before the connections go away.
	registry.Close(shutdownCtx)

	if err := store.Close(); err != nil {
		log.Error("Error closing storage connection", "error", err)
	}
	if cfg.StorageBackend != config.StorageRedis {
		if err := cache.Close(); err != nil {
			log.Error("Error closing Redis connection", "error", err)
		}
	}

	log.Info("Server exited")
}
