// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator provides the core orchestrator service for InsightX.
//
// This package contains the main service type that coordinates all
// components: HTTP routing, the query pipeline, LLM clients with failover,
// the in-memory warehouse, session tracking, SQLite history persistence,
// and observability infrastructure.
//
// # Usage
//
//	cfg := orchestrator.Config{Port: 12310, CSVPath: "data/transactions.csv"}
//	svc, err := orchestrator.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc.Run()
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
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

	"github.com/AleutianAI/insightx/services/llm"
	"github.com/AleutianAI/insightx/services/orchestrator/observability"
	"github.com/AleutianAI/insightx/services/orchestrator/routes"
	"github.com/AleutianAI/insightx/services/persistence"
	"github.com/AleutianAI/insightx/services/pipeline"
	"github.com/AleutianAI/insightx/services/session"
	"github.com/AleutianAI/insightx/services/warehouse"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the orchestrator service.
//
// # Description
//
// Service abstracts the orchestrator lifecycle, enabling testing and
// alternative implementations. Only essential lifecycle methods are exposed.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds orchestrator configuration options.
//
// # Description
//
// Config centralizes all configuration for the orchestrator service.
// Values can be populated from environment variables, config files,
// or programmatically for testing.
//
// # Required Fields
//
// CSVPath must point at the transactions dataset. Everything else has a
// sensible default applied by New().
type Config struct {
	// Port is the HTTP server port. Default: 12310
	Port int

	// PrimaryModel is the model name used for the first generation attempt.
	// Default: "gpt-4"
	PrimaryModel string

	// FallbackModel is used when the primary model errors out.
	// Default: "gpt-3.5-turbo"
	FallbackModel string

	// CSVPath is the transactions dataset loaded into the warehouse.
	CSVPath string

	// DBPath is the SQLite chat-history database path.
	// Default: "./data/insightx.db"
	DBPath string

	// MaxRows caps result sets for queries without an explicit LIMIT.
	// Default: 500
	MaxRows int

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "insightx-otel-collector:4317"
	OTelEndpoint string

	// EnableMetrics enables the Prometheus /metrics endpoint.
	EnableMetrics bool

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	GinMode string

	// LLMCallTimeout bounds each individual generation call.
	// Default: 60s
	LLMCallTimeout time.Duration
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config        Config
	router        *gin.Engine
	llmClient     llm.LLMClient
	wh            *warehouse.Warehouse
	tracker       *session.Tracker
	store         *persistence.Store
	pipe          *pipeline.Pipeline
	tracerCleanup func(context.Context)
}

// New creates a new orchestrator Service with the given configuration.
//
// # Description
//
// New initializes all orchestrator components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing
//  3. Initializes Prometheus metrics
//  4. Loads the transactions dataset into the in-memory warehouse
//  5. Opens the SQLite chat-history store
//  6. Creates the failover LLM client
//  7. Wires the query pipeline and HTTP routes
//
// # Outputs
//
//   - Service: Ready-to-run orchestrator service
//   - error: Non-nil if initialization fails
func New(cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	var metrics *observability.PipelineMetrics
	if s.config.EnableMetrics {
		metrics = observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for pipeline")
	}

	s.wh, err = warehouse.New(s.config.CSVPath, s.config.MaxRows)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize warehouse: %w", err)
	}

	s.store, err = persistence.NewStore(s.config.DBPath)
	if err != nil {
		// Chat still works from the in-memory tracker alone.
		slog.Warn("History store initialization failed, running without persistence", "error", err)
		s.store = nil
	}

	if err := s.initLLMClient(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	s.tracker = session.NewTracker()
	s.pipe = pipeline.New(s.llmClient, s.wh, s.tracker, metrics)

	s.initRouter()

	return s, nil
}

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting orchestrator server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.PrimaryModel == "" {
		cfg.PrimaryModel = "gpt-4"
	}
	if cfg.FallbackModel == "" {
		cfg.FallbackModel = "gpt-3.5-turbo"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./data/insightx.db"
	}
	if cfg.MaxRows == 0 {
		cfg.MaxRows = warehouse.DefaultRowCap
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "insightx-otel-collector:4317"
	}
	if cfg.LLMCallTimeout == 0 {
		cfg.LLMCallTimeout = llm.DefaultCallTimeout
	}
	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Limitations
//
//   - Uses insecure gRPC connection (appropriate for internal networks)
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("insightx-orchestrator")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initLLMClient builds the primary/fallback generation client pair.
func (s *service) initLLMClient() error {
	primary, err := llm.NewOpenAIClient(s.config.PrimaryModel)
	if err != nil {
		return err
	}
	fallback, err := llm.NewOpenAIClient(s.config.FallbackModel)
	if err != nil {
		return err
	}
	s.llmClient = llm.NewFailoverClient(primary, fallback, s.config.LLMCallTimeout)
	slog.Info("Using OpenAI LLM backend with failover",
		"primary", s.config.PrimaryModel, "fallback", s.config.FallbackModel)
	return nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("insightx-orchestrator"))

	routes.SetupRoutes(s.router, s.pipe, s.tracker, s.store, s.wh)
}

// cleanup releases all held resources. Safe to call with partially
// initialized state.
func (s *service) cleanup() {
	if s.store != nil {
		s.store.Close()
	}
	if s.wh != nil {
		s.wh.Close()
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}
