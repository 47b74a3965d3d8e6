// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command insightx starts the InsightX analytics chat HTTP server.
//
// This is the main entry point for the containerized service. It reads
// configuration from environment variables (optionally a .env file) and
// starts the server.
//
// # Environment Variables
//
//   - INSIGHTX_PORT: HTTP server port (default: 12310)
//   - MODEL_PRIMARY: primary generation model (default: gpt-4)
//   - MODEL_FALLBACK: fallback generation model (default: gpt-3.5-turbo)
//   - OPENAI_API_KEY: OpenAI API key (required)
//   - CSV_PATH: transactions dataset path (default: data/transactions.csv)
//   - DB_PATH: chat-history SQLite path (default: ./data/insightx.db)
//   - MAX_ROWS_RETURNED: row cap for unbounded queries (default: 500)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: insightx-otel-collector:4317)
//   - GIN_MODE: gin framework mode (debug, release, test)
//
// # Usage
//
//	# Build
//	go build -o insightx ./cmd/insightx
//
//	# Run
//	./insightx
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/AleutianAI/insightx/services/orchestrator"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// A missing .env file is fine; real deployments set env vars directly.
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded configuration from .env file")
	}

	cfg := orchestrator.Config{
		Port:          getEnvInt("INSIGHTX_PORT", 12310),
		PrimaryModel:  getEnvString("MODEL_PRIMARY", "gpt-4"),
		FallbackModel: getEnvString("MODEL_FALLBACK", "gpt-3.5-turbo"),
		CSVPath:       getEnvString("CSV_PATH", "data/transactions.csv"),
		DBPath:        getEnvString("DB_PATH", "./data/insightx.db"),
		MaxRows:       getEnvInt("MAX_ROWS_RETURNED", 500),
		OTelEndpoint:  getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "insightx-otel-collector:4317"),
		EnableMetrics: true,
		GinMode:       os.Getenv("GIN_MODE"),
	}

	slog.Info("Starting InsightX",
		"port", cfg.Port,
		"primary_model", cfg.PrimaryModel,
		"fallback_model", cfg.FallbackModel,
		"csv_path", cfg.CSVPath,
	)

	svc, err := orchestrator.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Orchestrator error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
