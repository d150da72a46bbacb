// Copyright (C) 2025 Verdant Ops (engineering@verdantops.io)
// Tests for service assembly and configuration.

package triage

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantops/supportpilot/services/triage/kb"
	"github.com/verdantops/supportpilot/services/triage/monitoring"
	"github.com/verdantops/supportpilot/services/triage/pipeline"
)

func TestApplyConfigDefaults(t *testing.T) {
	var cfg Config
	applyConfigDefaults(&cfg)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, BackendAuto, cfg.LLMBackend)
	assert.Equal(t, kb.DefaultSimilarityThreshold, cfg.SimilarityThreshold)
	assert.Equal(t, kb.DefaultFreshnessWindow, cfg.FreshnessWindow)
	assert.Equal(t, pipeline.DefaultReasonerTimeout, cfg.ReasonerTimeout)
	assert.Equal(t, monitoring.DefaultEventInterval, cfg.EventInterval)
}

func TestApplyConfigDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := Config{Port: "9100", SimilarityThreshold: 0.9}
	applyConfigDefaults(&cfg)

	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, 0.9, cfg.SimilarityThreshold)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"port: \"9200\"\nsimilarity_threshold: 0.85\nfreshness_hours: 48\nevent_interval_seconds: 5\n"), 0o644))

	cfg := Config{}
	require.NoError(t, LoadConfigOverrides(&cfg, path))

	assert.Equal(t, "9200", cfg.Port)
	assert.Equal(t, 0.85, cfg.SimilarityThreshold)
	assert.Equal(t, 48*time.Hour, cfg.FreshnessWindow)
	assert.Equal(t, 5*time.Second, cfg.EventInterval)
}

func TestLoadConfigOverrides_MissingFile(t *testing.T) {
	cfg := Config{}
	assert.Error(t, LoadConfigOverrides(&cfg, "/nonexistent/overrides.yaml"))
}

func TestBuildRetrieverFallsBackToStatic(t *testing.T) {
	for _, rawURL := range []string{"", "   ", "not-a-url", "\"\""} {
		retriever := buildRetriever(rawURL)
		_, ok := retriever.(*kb.StaticRetriever)
		assert.True(t, ok, "url %q must fall back to the static retriever", rawURL)
	}
}

func TestNewMockServiceServes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, err := New(Config{LLMBackend: BackendMock})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	svc.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/v1/mode", nil)
	svc.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mock")
}
