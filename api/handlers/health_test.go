package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func okCheck(name string) HealthCheck {
	return NewPingCheck(name, func(context.Context) error { return nil })
}

func failingCheck(name, msg string) HealthCheck {
	return NewPingCheck(name, func(context.Context) error { return errors.New(msg) })
}

func readiness(t *testing.T, h *HealthHandler) (int, ServiceHealthResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	var resp ServiceHealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return w.Code, resp
}

func TestHealthHandler_HandleLive(t *testing.T) {
	h := NewHealthHandler(zap.NewNop()).WithVersion("1.2.3")
	h.RegisterCheck(failingCheck("database", "down"))

	for _, path := range []string{"/health", "/healthz"} {
		w := httptest.NewRecorder()
		h.HandleLive(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, w.Code, "liveness ignores checks")

		var resp ServiceHealthResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, "healthy", resp.Status)
		assert.Equal(t, "1.2.3", resp.Version)
		assert.False(t, resp.Timestamp.IsZero())
		assert.Empty(t, resp.Checks)
	}
}

func TestHealthHandler_HandleReady(t *testing.T) {
	tests := []struct {
		name       string
		required   []HealthCheck
		optional   []HealthCheck
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checks",
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
			wantChecks: map[string]string{},
		},
		{
			name:       "all pass",
			required:   []HealthCheck{okCheck("corpus"), okCheck("database")},
			optional:   []HealthCheck{okCheck("redis")},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
			wantChecks: map[string]string{"corpus": "pass", "database": "pass", "redis": "pass"},
		},
		{
			name:       "optional failure degrades",
			required:   []HealthCheck{okCheck("corpus")},
			optional:   []HealthCheck{failingCheck("redis", "connection refused")},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
			wantChecks: map[string]string{"corpus": "pass", "redis": "warn"},
		},
		{
			name:       "required failure wins over degraded",
			required:   []HealthCheck{failingCheck("database", "timeout")},
			optional:   []HealthCheck{failingCheck("redis", "connection refused")},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
			wantChecks: map[string]string{"database": "fail", "redis": "warn"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(nil)
			for _, c := range tt.required {
				h.RegisterCheck(c)
			}
			for _, c := range tt.optional {
				h.RegisterOptionalCheck(c)
			}

			code, resp := readiness(t, h)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStatus, resp.Status)

			got := make(map[string]string, len(resp.Checks))
			for name, r := range resp.Checks {
				got[name] = r.Status
				if r.Status != "pass" {
					assert.NotEmpty(t, r.Message)
				}
			}
			assert.Equal(t, tt.wantChecks, got)
		})
	}
}

func TestHealthHandler_ChecksRunConcurrently(t *testing.T) {
	h := NewHealthHandler(nil)
	var running, peak atomic.Int32
	for _, name := range []string{"a", "b", "c", "d"} {
		h.RegisterCheck(NewPingCheck(name, func(context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			running.Add(-1)
			return nil
		}))
	}

	start := time.Now()
	code, _ := readiness(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Greater(t, peak.Load(), int32(1))
	assert.Less(t, time.Since(start), 180*time.Millisecond)
}

func TestHealthHandler_CheckSeesDeadline(t *testing.T) {
	h := NewHealthHandler(nil)
	h.RegisterCheck(NewPingCheck("database", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		if !ok {
			return errors.New("no deadline")
		}
		return nil
	}))

	code, _ := readiness(t, h)
	assert.Equal(t, http.StatusOK, code)
}

func TestHealthHandler_HandleVersion(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleVersion("1.0.0", "2026-01-01T00:00:00Z", "abc123")(w, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1.0.0", data["version"])
	assert.Equal(t, "2026-01-01T00:00:00Z", data["build_time"])
	assert.Equal(t, "abc123", data["git_commit"])
}

func TestCorpusHealthCheck(t *testing.T) {
	size := 0
	h := NewHealthHandler(nil)
	h.RegisterCheck(NewCorpusHealthCheck(func() int { return size }))

	code, resp := readiness(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, errCorpusEmpty.Error(), resp.Checks["corpus"].Message)

	size = 3
	code, _ = readiness(t, h)
	assert.Equal(t, http.StatusOK, code)
}
