package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/storeops/tenant-backup/internal/storage"
)

func TestChecker(t *testing.T) {
	checker := NewChecker()

	checker.RegisterCheck("test-healthy", func(ctx context.Context) Check {
		return Check{
			Status:    StatusHealthy,
			Timestamp: time.Now(),
			Details:   map[string]any{"test": "value"},
		}
	})
	checker.RegisterCheck("test-unhealthy", func(ctx context.Context) Check {
		return Check{
			Status:    StatusUnhealthy,
			Timestamp: time.Now(),
			Details:   map[string]any{"error": "test error"},
		}
	})

	results := checker.CheckHealth(context.Background())

	if len(results) != 2 {
		t.Errorf("Expected 2 results, got %d", len(results))
	}
	if results["test-healthy"].Status != StatusHealthy {
		t.Errorf("Expected test-healthy to be healthy")
	}
	if results["test-unhealthy"].Status != StatusUnhealthy {
		t.Errorf("Expected test-unhealthy to be unhealthy")
	}
}

func TestHealthHandler(t *testing.T) {
	checker := NewChecker()
	checker.RegisterCheck("healthy", func(ctx context.Context) Check {
		return Check{Status: StatusHealthy, Timestamp: time.Now()}
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	checker.Handler()(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body struct {
		Status Status           `json:"status"`
		Checks map[string]Check `json:"checks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Status != StatusHealthy {
		t.Errorf("overall status = %s", body.Status)
	}
	if len(body.Checks) != 1 {
		t.Errorf("expected 1 check, got %d", len(body.Checks))
	}
}

func TestHealthHandlerUnhealthy(t *testing.T) {
	checker := NewChecker()
	checker.RegisterCheck("bad", func(ctx context.Context) Check {
		return Check{Status: StatusUnhealthy, Timestamp: time.Now()}
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	checker.Handler()(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestRemoteStoreCheck(t *testing.T) {
	store := storage.NewMemoryStore()
	if err := store.Put(context.Background(), "a/backup.zip", []byte("x"), nil); err != nil {
		t.Fatal(err)
	}

	check := RemoteStoreCheck(store)(context.Background())
	if check.Status != StatusHealthy {
		t.Errorf("status = %s", check.Status)
	}
	if check.Details["objects"] != 1 {
		t.Errorf("objects = %v", check.Details["objects"])
	}
}

type fakeAuth struct{ err error }

func (f fakeAuth) Authenticate(context.Context) error { return f.err }

func TestDataSourceCheck(t *testing.T) {
	if check := DataSourceCheck(fakeAuth{})(context.Background()); check.Status != StatusHealthy {
		t.Errorf("status = %s, want healthy", check.Status)
	}

	check := DataSourceCheck(fakeAuth{err: errors.New("rejected")})(context.Background())
	if check.Status != StatusUnhealthy {
		t.Errorf("status = %s, want unhealthy", check.Status)
	}
	if check.Details["error"] != "rejected" {
		t.Errorf("details = %v", check.Details)
	}
}
