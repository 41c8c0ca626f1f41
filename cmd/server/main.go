package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/quizforge/backend/internal/cache"
	"github.com/quizforge/backend/internal/config"
	"github.com/quizforge/backend/internal/database"
	"github.com/quizforge/backend/internal/dedup"
	"github.com/quizforge/backend/internal/generator"
	"github.com/quizforge/backend/internal/legacy"
	"github.com/quizforge/backend/internal/lifecycle"
	"github.com/quizforge/backend/internal/llm"
	"github.com/quizforge/backend/internal/logger"
	"github.com/quizforge/backend/internal/middleware"
	"github.com/quizforge/backend/internal/questions"
	"github.com/quizforge/backend/internal/translation"
	"github.com/quizforge/backend/internal/usage"
	"github.com/quizforge/backend/internal/validation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Primary store
	db, err := database.Connect(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		log.Fatal("failed to connect to database", "error", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatal("failed to run migrations", "error", err)
	}

	// Legacy store
	mongoClient, err := legacy.Connect(ctx, cfg.Legacy.URI, cfg.Legacy.ConnectTimeout, cfg.Legacy.MaxPoolSize, log)
	if err != nil {
		log.Fatal("failed to connect to legacy store", "error", err)
	}
	defer mongoClient.Disconnect(context.Background())

	legacyStore := legacy.NewStore(mongoClient, cfg.Legacy.Database, cfg.Legacy.Collection)
	if err := legacyStore.EnsureIndexes(ctx); err != nil {
		log.Fatal("failed to create legacy indexes", "error", err)
	}

	// Ephemeral store
	var kv cache.KV
	if cfg.Redis.Addr != "" {
		redisKV, err := cache.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal("failed to connect to redis", "error", err)
		}
		defer redisKV.Close()
		kv = redisKV
	} else {
		log.Warn("REDIS_ADDR not set, continuations are kept in process memory")
		kv = cache.NewMemory()
	}

	client := newLLMClient(cfg, kv, log)
	log.Info("completion backend selected", "provider", client.Name(), "model", cfg.LLM.Model)

	// Pipeline
	questionStore := questions.NewStore(db)
	usageStore := usage.NewStore(db)
	meter := usage.NewMeter(usageStore, log)
	continuations := cache.NewContinuations(kv, cfg.Continuation.TTL, cfg.Continuation.TokenCeiling)

	gen := generator.NewGenerator(client, questionStore, continuations, meter, generator.Config{
		Model:             cfg.LLM.Model,
		DefaultDifficulty: cfg.Pipeline.DefaultDifficulty,
		MaxCount:          cfg.Pipeline.MaxGenerateCount,
	}, log)
	detector := dedup.NewDetector(client, questionStore, meter, cfg.Pipeline.CanonicalLanguage, cfg.LLM.Model, log)
	agent := validation.NewAgent(client, questionStore, meter, cfg.LLM.Model, cfg.Pipeline.ValidationConcurrency, log)

	deepl := translation.NewDeepLClient(cfg.DeepL.AuthKey, cfg.DeepL.BaseURL, cfg.DeepL.Timeout, cfg.LLM.MaxRetries, log)
	translator := translation.NewOrchestrator(deepl, questionStore, meter, cfg.Pipeline.ValidationConcurrency, log)

	coordinator := lifecycle.NewCoordinator(questionStore, legacyStore, translator, lifecycle.Config{
		RequiredLocales: cfg.Pipeline.RequiredLocales,
		Rules: lifecycle.LocaleRules{
			Renames: cfg.Pipeline.LegacyLocaleRenames,
			Dropped: cfg.Pipeline.LegacyDroppedLocales,
		},
		Concurrency: cfg.Pipeline.ValidationConcurrency,
	}, log)

	service := questions.NewService(questions.Deps{
		Reader:          questionStore,
		Generator:       gen,
		Detector:        detector,
		Validator:       agent,
		Translator:      translator,
		Lifecycle:       coordinator,
		Usage:           usageStore,
		RequiredLocales: cfg.Pipeline.RequiredLocales,
	}, log)
	questionHandler := questions.NewHandler(service, log)

	// Setup router
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Auth([]byte(cfg.Auth.JWTSecret), cfg.Auth.JWTIssuer, log))
	questionHandler.Routes(api)

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      c.Handler(r),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", "error", err)
		}
	}
}

// newLLMClient builds the configured completion backend. The Anthropic
// backend keeps conversation transcripts in kv.
func newLLMClient(cfg *config.Config, kv cache.KV, log *logger.Logger) llm.Client {
	opts := llm.Options{
		Model:         cfg.LLM.Model,
		Timeout:       cfg.LLM.Timeout,
		MaxTokens:     cfg.LLM.MaxTokens,
		MaxRetries:    cfg.LLM.MaxRetries,
		WebSearchUses: cfg.LLM.WebSearchUses,
	}
	switch cfg.LLM.Provider {
	case "openai":
		return llm.NewOpenAIClient(cfg.LLM.OpenAIAPIKey, cfg.LLM.OpenAIURL, opts, log)
	case "cli":
		return llm.NewCLIClient(cfg.LLM.CLIPath, opts)
	case "mock":
		return llm.NewMockClient()
	default:
		return llm.NewAnthropicClient(cfg.LLM.AnthropicAPIKey, cfg.LLM.AnthropicURL, opts, kv, cfg.Continuation.TTL, log)
	}
}
