package adminapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/arung-agamani/denpa-player/internal/bus"
)

func newTestRouter(t *testing.T, authToken string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := NewService(bus.New(1))
	h := NewHandlers(svc)

	router := gin.New()
	router.GET("/health", h.Health)
	authed := router.Group("/api")
	authed.Use(TokenRequired(authToken))
	authed.GET("/status", h.Status)
	return router
}

func TestHealthReturnsOKWithoutAuth(t *testing.T) {
	router := newTestRouter(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestStatusRequiresBearerTokenWhenConfigured(t *testing.T) {
	router := newTestRouter(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without a token", rec.Code)
	}
}

func TestStatusSucceedsWithCorrectBearerToken(t *testing.T) {
	router := newTestRouter(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with a correct token", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := body["server_time"]; !ok {
		t.Error("expected server_time in the status response")
	}
}

func TestStatusRejectsWrongToken(t *testing.T) {
	router := newTestRouter(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 with a wrong token", rec.Code)
	}
}

func TestStatusOpenWhenNoTokenConfigured(t *testing.T) {
	router := newTestRouter(t, "")
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 when no auth token is configured", rec.Code)
	}
}
