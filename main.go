// Copyright (C) 2025 Verdant Ops (engineering@verdantops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/verdantops/supportpilot/services/triage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := triage.Config{
		Port:           os.Getenv("SUPPORTPILOT_PORT"),
		LLMBackend:     os.Getenv("LLM_BACKEND_TYPE"),
		WeaviateURL:    os.Getenv("WEAVIATE_URL"),
		TracingEnabled: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "",
	}
	if raw := os.Getenv("SIMILARITY_THRESHOLD"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 || v > 1 {
			log.Fatalf("SIMILARITY_THRESHOLD must be in (0, 1], got %q", raw)
		}
		cfg.SimilarityThreshold = v
	}
	if raw := os.Getenv("FRESHNESS_HOURS"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			log.Fatalf("FRESHNESS_HOURS must be a positive integer, got %q", raw)
		}
		cfg.FreshnessWindow = time.Duration(v) * time.Hour
	}

	if path := os.Getenv("SUPPORTPILOT_CONFIG"); path != "" {
		if err := triage.LoadConfigOverrides(&cfg, path); err != nil {
			log.Fatalf("failed to load config overrides: %v", err)
		}
		slog.Info("Loaded config overrides", "path", path)
	}

	svc, err := triage.New(cfg)
	if err != nil {
		log.Fatalf("failed to assemble triage service: %v", err)
	}
	if err := svc.Run(); err != nil {
		log.Fatalf("triage service exited: %v", err)
	}
}
