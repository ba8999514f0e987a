package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/msgvis/msgvis/pkg/config"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestHealthHandler_Health(t *testing.T) {
	tests := []struct {
		name       string
		db         Pinger
		wantStatus int
		want       HealthResponse
	}{
		{"no database", nil, http.StatusOK, HealthResponse{Status: "ok"}},
		{"database up", stubPinger{}, http.StatusOK, HealthResponse{Status: "ok", Database: "ok"}},
		{"database down", stubPinger{err: errors.New("dial tcp: connection refused")}, http.StatusServiceUnavailable,
			HealthResponse{Status: "degraded", Database: "unavailable"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHealthHandler(&config.Config{Version: "test"}, tt.db, zap.NewNop())

			rec := httptest.NewRecorder()
			handler.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			var got HealthResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHealthHandler_Ping(t *testing.T) {
	cfg := &config.Config{Version: "1.2.3", Env: "test"}
	handler := NewHealthHandler(cfg, nil, zap.NewNop())

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got PingResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "ok", got.Status)
	assert.Equal(t, "1.2.3", got.Version)
	assert.Equal(t, "msgvis", got.Service)
	assert.Equal(t, "test", got.Environment)
	assert.NotEmpty(t, got.GoVersion)
}
