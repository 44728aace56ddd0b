// Copyright (C) 2026 Exponentia AI (oss@exponentia.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/exponentia-ai/comet/services/llm"
	"github.com/exponentia-ai/comet/services/orchestrator/conversation"
	"github.com/exponentia-ai/comet/services/orchestrator/observability"
	"github.com/exponentia-ai/comet/services/orchestrator/pacing"
	"github.com/exponentia-ai/comet/services/orchestrator/routes"
	"github.com/exponentia-ai/comet/services/orchestrator/services"
	"github.com/exponentia-ai/comet/services/search"
	storage "github.com/exponentia-ai/comet/services/storage/badger"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "comet-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("comet-orchestrator")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// envDuration reads a millisecond duration from the environment,
// falling back when unset or unparsable.
func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms < 0 {
		slog.Warn("Invalid duration value, using default", "key", key, "value", raw)
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func main() {
	// Load .env if present; real deployments set the environment directly.
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded configuration from .env file")
	}

	port := os.Getenv("COMET_PORT")
	if port == "" {
		port = "12310"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	observability.InitMetrics()

	// --- Session storage ---
	dbPath := os.Getenv("COMET_DB_PATH")
	if dbPath == "" {
		dbPath = "./data/comet"
	}
	dbConfig := storage.DefaultConfig()
	dbConfig.Path = dbPath
	db, err := storage.OpenDB(dbConfig)
	if err != nil {
		log.Fatalf("Failed to open session database: %v", err)
	}
	defer db.Close()
	store := storage.NewSessionStore(db)

	// Optional retention: drop sessions older than COMET_SESSION_TTL_HOURS.
	if ttlHours, err := strconv.Atoi(os.Getenv("COMET_SESSION_TTL_HOURS")); err == nil && ttlHours > 0 {
		sweeper, err := storage.NewRetentionSweeper(store,
			time.Duration(ttlHours)*time.Hour, time.Hour)
		if err != nil {
			log.Fatalf("Failed to initialize retention sweeper: %v", err)
		}
		sweeper.Start()
		defer sweeper.Stop()
		slog.Info("Session retention enabled", "ttl_hours", ttlHours)
	}

	// --- LLM backends ---
	ctx := context.Background()
	clients := map[string]llm.Client{}

	geminiClient, err := llm.NewGeminiClient(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize Gemini client: %v", err)
	}
	clients[services.BackendGemini] = geminiClient

	if os.Getenv("OPENAI_API_KEY") != "" {
		openaiClient, err := llm.NewOpenAIClient()
		if err != nil {
			slog.Warn("Failed to initialize OpenAI client, tiers on that backend will be skipped", "error", err)
		} else {
			clients[services.BackendOpenAI] = openaiClient
			slog.Info("OpenAI backend available for fallback tiers")
		}
	}

	chain := services.ModelChainFromEnv()
	synthesizer, err := services.NewSynthesizer(clients, chain, envDuration("LLM_TIMEOUT_MS", 120*time.Second))
	if err != nil {
		log.Fatalf("Failed to initialize synthesizer: %v", err)
	}

	// The contextualizer rewrites with a cheap model, not the answer
	// chain's top tier.
	rewriteModel := services.RewriteModelFromEnv()
	contextualizer := conversation.NewContextualizer(
		func(ctx context.Context, prompt string) (string, error) {
			return geminiClient.Generate(ctx, rewriteModel, prompt)
		},
		conversation.DefaultContextualizerConfig(),
	)

	searcher := search.NewClient(search.ConfigFromEnv())

	pacer := pacing.NewGuard(envDuration("MIN_REQUEST_INTERVAL_MS", 15*time.Second))

	pipeline, err := services.NewChatPipeline(store, searcher, contextualizer, synthesizer, pacer)
	if err != nil {
		log.Fatalf("Failed to initialize chat pipeline: %v", err)
	}

	router := gin.Default()
	router.Use(otelgin.Middleware("comet-orchestrator"))

	routes.SetupRoutes(router, store, pipeline)

	log.Println("Starting the orchestrator server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
