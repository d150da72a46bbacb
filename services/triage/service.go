// Copyright (C) 2025 Verdant Ops (engineering@verdantops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package triage assembles the support ticket pipeline into a runnable HTTP
// service: reasoner backend selection, KB retriever selection, tracing,
// metrics, and route registration.
package triage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"gopkg.in/yaml.v3"

	"github.com/verdantops/supportpilot/services/llm"
	"github.com/verdantops/supportpilot/services/triage/kb"
	"github.com/verdantops/supportpilot/services/triage/monitoring"
	"github.com/verdantops/supportpilot/services/triage/observability"
	"github.com/verdantops/supportpilot/services/triage/pipeline"
	"github.com/verdantops/supportpilot/services/triage/routes"
)

const serviceName = "supportpilot-triage"

// Reasoner backend selectors.
const (
	BackendAuto   = "auto"
	BackendOpenAI = "openai"
	BackendMock   = "mock"
)

// Config collects everything the service needs at startup. Zero values pick
// up defaults in applyConfigDefaults.
type Config struct {
	Port        string
	LLMBackend  string
	WeaviateURL string

	SimilarityThreshold    float64
	FreshnessWindow        time.Duration
	ReasonerTimeout        time.Duration
	LowConfidenceThreshold float64
	EventInterval          time.Duration

	// TracingEnabled gates the OTLP exporter; handlers and the pipeline
	// still create spans either way, they just stay unexported.
	TracingEnabled bool
}

func applyConfigDefaults(cfg *Config) {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = BackendAuto
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = kb.DefaultSimilarityThreshold
	}
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = kb.DefaultFreshnessWindow
	}
	if cfg.ReasonerTimeout <= 0 {
		cfg.ReasonerTimeout = pipeline.DefaultReasonerTimeout
	}
	if cfg.LowConfidenceThreshold <= 0 {
		cfg.LowConfidenceThreshold = pipeline.DefaultLowConfidenceThreshold
	}
	if cfg.EventInterval <= 0 {
		cfg.EventInterval = monitoring.DefaultEventInterval
	}
}

// fileOverrides is the optional yaml override file named by
// SUPPORTPILOT_CONFIG. Only set fields are applied.
type fileOverrides struct {
	Port                   string  `yaml:"port"`
	SimilarityThreshold    float64 `yaml:"similarity_threshold"`
	FreshnessHours         int     `yaml:"freshness_hours"`
	ReasonerTimeoutSeconds int     `yaml:"reasoner_timeout_seconds"`
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold"`
	EventIntervalSeconds   int     `yaml:"event_interval_seconds"`
}

// LoadConfigOverrides merges the yaml file at path into cfg.
func LoadConfigOverrides(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var f fileOverrides
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if f.Port != "" {
		cfg.Port = f.Port
	}
	if f.SimilarityThreshold > 0 {
		cfg.SimilarityThreshold = f.SimilarityThreshold
	}
	if f.FreshnessHours > 0 {
		cfg.FreshnessWindow = time.Duration(f.FreshnessHours) * time.Hour
	}
	if f.ReasonerTimeoutSeconds > 0 {
		cfg.ReasonerTimeout = time.Duration(f.ReasonerTimeoutSeconds) * time.Second
	}
	if f.LowConfidenceThreshold > 0 {
		cfg.LowConfidenceThreshold = f.LowConfidenceThreshold
	}
	if f.EventIntervalSeconds > 0 {
		cfg.EventInterval = time.Duration(f.EventIntervalSeconds) * time.Second
	}
	return nil
}

// Service is the assembled triage application.
type Service struct {
	cfg          Config
	router       *gin.Engine
	orchestrator *pipeline.Orchestrator
	monitor      *monitoring.Monitor
}

// New assembles the service from configuration.
//
// # Description
//
//	Backend selection follows the mock-first contract: "auto" uses OpenAI
//	only when OPENAI_API_KEY is present and falls back to the deterministic
//	mock otherwise. The retriever uses Weaviate when a valid URL is
//	configured, else the bundled static corpus (lightweight mode).
func New(cfg Config) (*Service, error) {
	applyConfigDefaults(&cfg)

	if observability.DefaultMetrics == nil {
		observability.InitMetrics()
	}

	client, embedder, err := buildReasoner(cfg.LLMBackend)
	if err != nil {
		return nil, err
	}
	retriever := buildRetriever(cfg.WeaviateURL)

	history := kb.NewTicketHistory(embedder, cfg.SimilarityThreshold, cfg.FreshnessWindow)
	conversations := kb.NewConversationStore()
	orch := pipeline.NewOrchestrator(client, retriever, history, conversations, pipeline.Config{
		ReasonerTimeout:        cfg.ReasonerTimeout,
		LowConfidenceThreshold: cfg.LowConfidenceThreshold,
	})
	monitor := monitoring.NewMonitor(client, orch, cfg.EventInterval)

	router := gin.Default()
	router.Use(otelgin.Middleware(serviceName))
	routes.SetupRoutes(router, orch, retriever, monitor)

	slog.Info("Triage service assembled",
		"mode", client.Mode(),
		"port", cfg.Port,
		"weaviate", cfg.WeaviateURL != "")

	return &Service{
		cfg:          cfg,
		router:       router,
		orchestrator: orch,
		monitor:      monitor,
	}, nil
}

// Router exposes the gin engine. Test hook.
func (s *Service) Router() *gin.Engine {
	return s.router
}

// Run starts tracing and serves until the listener fails.
func (s *Service) Run() error {
	if s.cfg.TracingEnabled {
		cleanup, err := initTracer()
		if err != nil {
			return fmt.Errorf("setup OTLP tracer: %w", err)
		}
		defer cleanup(context.Background())
	}

	slog.Info("Starting triage server", "port", s.cfg.Port)
	if err := s.router.Run(":" + s.cfg.Port); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}

func buildReasoner(backend string) (llm.LLMClient, llm.Embedder, error) {
	switch backend {
	case BackendOpenAI:
		client, err := llm.NewOpenAIClient()
		if err != nil {
			return nil, nil, fmt.Errorf("initialize OpenAI backend: %w", err)
		}
		slog.Info("Using OpenAI reasoner backend")
		return client, llm.NewOpenAIEmbedder(os.Getenv("OPENAI_API_KEY"), os.Getenv("OPENAI_BASE_URL")), nil
	case BackendMock:
		slog.Info("Using deterministic mock reasoner backend")
		return llm.NewMockClient(), llm.NewHashEmbedder(0), nil
	default:
		if os.Getenv("OPENAI_API_KEY") != "" {
			return buildReasoner(BackendOpenAI)
		}
		slog.Warn("OPENAI_API_KEY not set, falling back to mock reasoner backend")
		return buildReasoner(BackendMock)
	}
}

func buildRetriever(rawURL string) kb.Retriever {
	rawURL = strings.Trim(rawURL, "\"' ")
	if rawURL == "" || !strings.Contains(rawURL, "http") {
		slog.Info("WEAVIATE_URL not set. Running in lightweight mode with the bundled KB.")
		return kb.NewStaticRetriever()
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		slog.Warn("WEAVIATE_URL is invalid. Running in lightweight mode.", "url", rawURL, "error", err)
		return kb.NewStaticRetriever()
	}

	retriever, err := kb.NewWeaviateRetriever(rawURL)
	if err != nil {
		slog.Error("Failed to create Weaviate retriever, using bundled KB", "error", err)
		return kb.NewStaticRetriever()
	}
	slog.Info("Using Weaviate KB retriever", "host", parsed.Host)
	return retriever
}

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "localhost:4317"
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
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}
