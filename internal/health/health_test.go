package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
)

type stubChecker struct{ err error }

func (s stubChecker) HealthCheck(ctx context.Context) error { return s.err }

func TestHandler_AllHealthy(t *testing.T) {
	h := Handler(nil, map[string]Checker{
		"database": stubChecker{},
		"cache":    stubChecker{},
	})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal error = %v", err)
	}
	if resp.Status != "healthy" || resp.Dependencies["database"] != "ok" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHandler_DegradedOnFailure(t *testing.T) {
	h := Handler(nil, map[string]Checker{
		"cache": stubChecker{err: errors.New("connection refused")},
	})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", "/health", nil))

	// Fallbacks keep the service usable, so a down dependency degrades
	// rather than fails the check.
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal error = %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
}

func TestHandler_NoCheckers(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler(nil, nil)(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != 200 {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
