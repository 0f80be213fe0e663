// Copyright (C) 2025 Cairn Health (oss@cairnhealth.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrator wires the conversational health-data service: LLM
// backend, tool registry, observation store, session store, and the HTTP
// surface.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/cairnhealth/cairn/services/llm"
	"github.com/cairnhealth/cairn/services/orchestrator/observability"
	"github.com/cairnhealth/cairn/services/orchestrator/query"
	"github.com/cairnhealth/cairn/services/orchestrator/routes"
	"github.com/cairnhealth/cairn/services/orchestrator/session"
	"github.com/cairnhealth/cairn/services/orchestrator/tools"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds the orchestrator's runtime settings.
type Config struct {
	Port          string        `yaml:"port"`
	LLMBackend    string        `yaml:"llm_backend"`
	DatabasePath  string        `yaml:"database_path"`
	MaxIterations int           `yaml:"max_iterations"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	APIToken      string        `yaml:"api_token"`
	RateRPS       float64       `yaml:"rate_rps"`
	RateBurst     int           `yaml:"rate_burst"`
}

// ConfigFromEnv builds a Config from environment variables, falling back to
// defaults suitable for local use.
func ConfigFromEnv() Config {
	cfg := Config{
		Port:          envOr("CAIRN_PORT", "12310"),
		LLMBackend:    envOr("LLM_BACKEND_TYPE", "ollama"),
		DatabasePath:  os.Getenv("CAIRN_DB_PATH"),
		MaxIterations: envIntOr("CAIRN_MAX_ITERATIONS", session.DefaultMaxIterations),
		SessionTTL:    envDurationOr("CAIRN_SESSION_TTL", 30*time.Minute),
		APIToken:      os.Getenv("CAIRN_API_TOKEN"),
		RateRPS:       envFloatOr("CAIRN_RATE_RPS", 0),
		RateBurst:     envIntOr("CAIRN_RATE_BURST", 10),
	}
	return cfg
}

// LoadConfigFile overlays settings from a YAML file onto cfg. Fields absent
// from the file keep their current values.
func LoadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler with overlay semantics: fields
// absent from the document keep their current values, and session_ttl is a
// Go duration string ("30m", "1h").
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Port          *string  `yaml:"port"`
		LLMBackend    *string  `yaml:"llm_backend"`
		DatabasePath  *string  `yaml:"database_path"`
		MaxIterations *int     `yaml:"max_iterations"`
		SessionTTL    *string  `yaml:"session_ttl"`
		APIToken      *string  `yaml:"api_token"`
		RateRPS       *float64 `yaml:"rate_rps"`
		RateBurst     *int     `yaml:"rate_burst"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.Port != nil {
		c.Port = *raw.Port
	}
	if raw.LLMBackend != nil {
		c.LLMBackend = *raw.LLMBackend
	}
	if raw.DatabasePath != nil {
		c.DatabasePath = *raw.DatabasePath
	}
	if raw.MaxIterations != nil {
		c.MaxIterations = *raw.MaxIterations
	}
	if raw.SessionTTL != nil {
		d, err := time.ParseDuration(*raw.SessionTTL)
		if err != nil {
			return fmt.Errorf("invalid session_ttl: %w", err)
		}
		c.SessionTTL = d
	}
	if raw.APIToken != nil {
		c.APIToken = *raw.APIToken
	}
	if raw.RateRPS != nil {
		c.RateRPS = *raw.RateRPS
	}
	if raw.RateBurst != nil {
		c.RateBurst = *raw.RateBurst
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		slog.Warn("Ignoring non-integer environment value", "key", key, "value", v)
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		slog.Warn("Ignoring non-numeric environment value", "key", key, "value", v)
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		slog.Warn("Ignoring invalid duration environment value", "key", key, "value", v)
	}
	return fallback
}

// =============================================================================
// Service
// =============================================================================

// Service is the assembled orchestrator, ready to run.
type Service struct {
	cfg      Config
	router   *gin.Engine
	store    *session.Store
	executor query.Executor
}

// New wires the orchestrator from its configuration.
func New(cfg Config) (*Service, error) {
	var llmClient llm.Client
	var err error
	switch cfg.LLMBackend {
	case "openai":
		llmClient, err = llm.NewOpenAIClient()
		slog.Info("Using OpenAI LLM backend")
	case "ollama":
		llmClient, err = llm.NewOllamaClient()
		slog.Info("Using Ollama LLM backend")
	default:
		return nil, fmt.Errorf("unknown LLM backend %q", cfg.LLMBackend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	var executor query.Executor
	if cfg.DatabasePath != "" {
		executor, err = query.NewSQLiteExecutor(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
	} else {
		slog.Warn("CAIRN_DB_PATH not set; queries will fail until configured")
		executor = query.Unconfigured{}
	}

	registry := tools.NewRegistry()
	registry.Register(tools.NewQueryTool(executor, query.GuardValidator{}))
	registry.Register(tools.NewPlotTool())
	registry.Register(tools.NewTableTool())

	store := session.NewStore()
	runner := session.NewRunner(llmClient, registry, cfg.MaxIterations)

	observability.Init(prometheus.DefaultRegisterer)

	router := gin.Default()
	router.Use(otelgin.Middleware("cairn-orchestrator"))
	routes.SetupRoutes(router, store, runner, routes.Options{
		APIToken:  cfg.APIToken,
		RateRPS:   cfg.RateRPS,
		RateBurst: cfg.RateBurst,
	})

	return &Service{
		cfg:      cfg,
		router:   router,
		store:    store,
		executor: executor,
	}, nil
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (svc *Service) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    ":" + svc.cfg.Port,
		Handler: svc.router,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Starting the orchestrator server", "port", svc.cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		svc.sweepSessions(ctx)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown failed", "error", err)
		}
		if closer, ok := svc.executor.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				slog.Warn("Failed to close observation store", "error", err)
			}
		}
		return nil
	})

	return g.Wait()
}

// sweepSessions prunes idle sessions until ctx is canceled.
func (svc *Service) sweepSessions(ctx context.Context) {
	if svc.cfg.SessionTTL <= 0 {
		return
	}
	ticker := time.NewTicker(svc.cfg.SessionTTL / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			svc.store.PruneIdle(svc.cfg.SessionTTL)
			if m := observability.DefaultMetrics; m != nil {
				m.ActiveSessions.Set(float64(svc.store.Len()))
			}
		case <-ctx.Done():
			return
		}
	}
}
