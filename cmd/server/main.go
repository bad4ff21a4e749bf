package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"

	"gwi.com/research-chat/internal/api"
	"gwi.com/research-chat/internal/auth"
	"gwi.com/research-chat/internal/backend"
	"gwi.com/research-chat/internal/config"
	"gwi.com/research-chat/internal/core"
	"gwi.com/research-chat/internal/metrics"
	"gwi.com/research-chat/internal/store"
)

const geminiDefaultModel = "gemini-1.5-flash-latest"

func main() {
	// Load configuration
	config.LoadConfig()

	// Setup logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if config.AppConfig.Debug() {
		log.Println("Service starting in DEBUG mode")
	}

	// Sign-in happens in the frontend; this flag mints tokens for local development.
	issueTokenFor := flag.String("issue-token", "", "Print an access/refresh token pair for the given email and exit")
	flag.Parse()

	issuer := auth.NewIssuer(config.AppConfig.JWTSecret, config.AppConfig.JWTRefreshSecret)

	if *issueTokenFor != "" {
		pair, err := issuer.CreateTokens(strings.ToLower(*issueTokenFor))
		if err != nil {
			log.Fatalf("Failed to issue tokens: %v", err)
		}
		if err := json.NewEncoder(os.Stdout).Encode(pair); err != nil {
			log.Fatalf("Failed to print tokens: %v", err)
		}
		os.Exit(0)
	}

	// Initialize chat store
	var dbStore store.Store
	switch config.AppConfig.StoreDriver {
	case "memory":
		dbStore = store.NewMemoryStore()
		log.Println("Using in-memory chat store; chats are lost on restart")
	case "sqlite":
		sqliteStore, err := store.NewSQLiteStore(config.AppConfig.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		dbStore = sqliteStore
	default:
		log.Fatalf("Unsupported STORE_DRIVER %q (expected sqlite or memory)", config.AppConfig.StoreDriver)
	}
	defer dbStore.Close()

	exporter := metrics.NewExporter()
	exporter.Registry().MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Initialize LLM provider
	var llm core.Completer
	model := config.AppConfig.OpenRouterModel
	switch config.AppConfig.LLMProvider {
	case "gemini":
		gemini, err := core.NewGeminiCompleter(context.Background(), config.AppConfig.GeminiAPIKey, geminiDefaultModel)
		if err != nil {
			log.Fatalf("Failed to initialize Gemini: %v", err)
		}
		defer gemini.Close()
		llm = gemini
		model = geminiDefaultModel
	default:
		llm = core.NewOpenRouterCompleter(core.OpenRouterConfig{
			APIKey:            config.AppConfig.OpenRouterAPIKey,
			BaseURL:           config.AppConfig.OpenRouterBaseURL,
			DefaultModel:      model,
			Referer:           config.AppConfig.AppURL,
			RequestsPerSecond: config.AppConfig.OpenRouterRPS,
		})
	}

	backendClient := backend.NewClient(backend.Config{
		LightURL:    config.AppConfig.LightServerURL,
		HeavyURL:    config.AppConfig.HeavyServerURL,
		DatabaseURL: config.AppConfig.DatabaseServerURL,
		Timeout:     time.Duration(config.AppConfig.BackendTimeout) * time.Second,
	})

	aggCfg := core.DefaultAggregatorConfig(model)
	aggCfg.Verbose = config.AppConfig.Debug()
	aggregator := core.NewAggregator(llm, aggCfg, exporter)
	enhancer := core.NewQueryEnhancer(aggregator, model)
	generator := core.NewCandidateGenerator(backendClient, aggregator, core.GeneratorConfig{
		Model:          model,
		RetrievalModel: config.AppConfig.RetrievalModel,
		MaxParallel:    config.AppConfig.MaxParallelLLMCalls,
	}, exporter)
	recorder := core.NewEvaluationRecorder(backendClient, time.Duration(config.AppConfig.EvaluationTimeout)*time.Second, exporter)

	// Initialize Chat service
	chatService := core.NewChatService(dbStore, enhancer, generator, recorder, core.ChatServiceConfig{
		Collections: config.AppConfig.Collections,
		ExchangeTTL: time.Duration(config.AppConfig.ExchangeTTL) * time.Minute,
	}, exporter)

	// Initialize API Handler and Router
	secureCookies := strings.HasPrefix(config.AppConfig.AppURL, "https://")
	apiHandler := api.NewAPIHandler(chatService, aggregator, backendClient, issuer, secureCookies)
	router := api.NewRouter(apiHandler, exporter.Handler(), config.AppConfig.CORSAllowedOrigins)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", config.AppConfig.HTTPPort)

	srv := &http.Server{
		Addr:        serverAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Sending a message waits on retrieval plus parallel LLM calls.
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Printf("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", serverAddr, err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Let queued evaluation records finish before the process exits.
	recorder.Wait()

	log.Println("Server exiting gracefully")
}
