package main

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stakeledger/tracker/internal/config"
	"github.com/stakeledger/tracker/internal/events"
	"github.com/stakeledger/tracker/internal/ledger"
	ratelimit "github.com/stakeledger/tracker/internal/middleware"
	"github.com/stakeledger/tracker/internal/store"
)

func testConfig() config.Config {
	return config.Config{
		Store:         config.StoreMemory,
		StepThreshold: 5,
		Ledger:        config.LedgerConfig{CompletionSteps: 3},
	}
}

func TestRouter_HealthAndAPI(t *testing.T) {
	svc, err := newService(testConfig(), store.NewMemoryStore(), events.NopPublisher{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	router := newRouter(svc, ratelimit.NewRateLimiter(0, 1))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("health: %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/challenges", nil))
	if w.Code != http.StatusCreated {
		t.Errorf("create challenge: %d %s", w.Code, w.Body.String())
	}
}

func TestNewService_RejectsInvalidPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.Ledger.CompletionSteps = -1
	_, err := newService(cfg, store.NewMemoryStore(), events.NopPublisher{})
	if !errors.Is(err, ledger.ErrInvalidPolicy) {
		t.Errorf("expected ErrInvalidPolicy, got %v", err)
	}
}

func TestWriteOutput_YAML(t *testing.T) {
	var buf bytes.Buffer
	v := map[string]any{"total_challenges": 2, "date": "2025-03-14"}
	if err := writeOutput(&buf, "yaml", v); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "total_challenges: 2") || !strings.Contains(out, "2025-03-14") {
		t.Errorf("unexpected yaml:\n%s", out)
	}
}

func TestWriteOutput_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := writeOutput(&buf, "json", map[string]int{"n": 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(buf.String(), `"n": 1`) {
		t.Errorf("unexpected json: %s", buf.String())
	}
}
