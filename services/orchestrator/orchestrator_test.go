// Copyright (C) 2025 Cairn Health (oss@cairnhealth.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{"CAIRN_PORT", "LLM_BACKEND_TYPE", "CAIRN_DB_PATH",
		"CAIRN_MAX_ITERATIONS", "CAIRN_SESSION_TTL", "CAIRN_API_TOKEN", "CAIRN_RATE_RPS"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg := ConfigFromEnv()
	assert.Equal(t, "12310", cfg.Port)
	assert.Equal(t, "ollama", cfg.LLMBackend)
	assert.Equal(t, 8, cfg.MaxIterations)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
	assert.Zero(t, cfg.RateRPS)
}

func TestConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("CAIRN_PORT", "9999")
	t.Setenv("LLM_BACKEND_TYPE", "openai")
	t.Setenv("CAIRN_MAX_ITERATIONS", "12")
	t.Setenv("CAIRN_SESSION_TTL", "5m")
	t.Setenv("CAIRN_RATE_RPS", "2.5")

	cfg := ConfigFromEnv()
	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, "openai", cfg.LLMBackend)
	assert.Equal(t, 12, cfg.MaxIterations)
	assert.Equal(t, 5*time.Minute, cfg.SessionTTL)
	assert.InDelta(t, 2.5, cfg.RateRPS, 1e-9)
}

func TestConfigFromEnv_IgnoresMalformedValues(t *testing.T) {
	t.Setenv("CAIRN_MAX_ITERATIONS", "lots")
	t.Setenv("CAIRN_SESSION_TTL", "soon")

	cfg := ConfigFromEnv()
	assert.Equal(t, 8, cfg.MaxIterations)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
}

func TestLoadConfigFile_Overlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"port: \"8080\"\nmax_iterations: 3\nsession_ttl: 10m\n"), 0600))

	cfg := Config{Port: "12310", LLMBackend: "ollama", MaxIterations: 8}
	require.NoError(t, LoadConfigFile(path, &cfg))

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 3, cfg.MaxIterations)
	assert.Equal(t, 10*time.Minute, cfg.SessionTTL)
	assert.Equal(t, "ollama", cfg.LLMBackend, "fields absent from the file keep their values")
}

func TestLoadConfigFile_Missing(t *testing.T) {
	cfg := Config{}
	assert.Error(t, LoadConfigFile(filepath.Join(t.TempDir(), "absent.yaml"), &cfg))
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(Config{LLMBackend: "telepathy"})
	assert.ErrorContains(t, err, "unknown LLM backend")
}
