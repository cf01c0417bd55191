package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/meter/pkg/identity"
	"github.com/dmitrymomot/meter/pkg/logger"
	redisstore "github.com/dmitrymomot/meter/pkg/store/redis"
)

func memorySettings() settings {
	return settings{
		App: appConfig{DataBackend: backendMemory, AuthMode: authStatic},
		Static: identity.StaticKeyConfig{
			SigningKey: "test-signing-key-0123456789abcdef",
			Issuer:     "meter",
			Leeway:     time.Minute,
		},
	}
}

func bearer(t *testing.T, s settings, userID string) string {
	t.Helper()
	issuer, err := identity.NewStaticKey(s.Static)
	require.NoError(t, err)
	token, err := issuer.Issue(userID, "", time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func call(t *testing.T, h http.Handler, method, path, auth string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAppConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     appConfig
		wantErr bool
	}{
		{"memory defaults", appConfig{DataBackend: "memory", AuthMode: "static"}, false},
		{"postgres with redis counters", appConfig{DataBackend: "postgres", CounterBackend: "redis", AuthMode: "oidc"}, false},
		{"unknown data backend", appConfig{DataBackend: "mongo", AuthMode: "static"}, true},
		{"redis cannot hold profiles", appConfig{DataBackend: "redis", AuthMode: "static"}, true},
		{"unknown counter backend", appConfig{DataBackend: "memory", CounterBackend: "etcd", AuthMode: "static"}, true},
		{"unknown auth mode", appConfig{DataBackend: "memory", AuthMode: "basic"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSetting)
				return
			}
			assert.NoError(t, err)
		})
	}

	assert.Equal(t, backendMemory, appConfig{DataBackend: backendMemory}.counterBackend())
	assert.True(t, appConfig{DataBackend: backendMemory, CounterBackend: backendPostgres}.needsPostgres())
	assert.False(t, appConfig{DataBackend: backendMemory, CounterBackend: backendRedis}.needsPostgres())
}

func TestNewApp(t *testing.T) {
	t.Parallel()

	t.Run("memory backend", func(t *testing.T) {
		t.Parallel()
		s := memorySettings()
		a, err := newApp(context.Background(), s, logger.Nop())
		require.NoError(t, err)
		t.Cleanup(a.close)

		assert.Equal(t, http.StatusOK, call(t, a.handler, http.MethodGet, "/healthz", "").Code)
		assert.Equal(t, http.StatusOK, call(t, a.handler, http.MethodGet, "/readyz", "").Code)
		assert.Equal(t, http.StatusUnauthorized, call(t, a.handler, http.MethodGet, "/v1/usage/search", "").Code)

		auth := bearer(t, s, "user-1")
		rec := call(t, a.handler, http.MethodPost, "/v1/usage/search/increment", auth)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = call(t, a.handler, http.MethodGet, "/v1/usage/search", auth)
		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Data struct {
				Count int64 `json:"count"`
				Limit int64 `json:"limit"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, int64(1), body.Data.Count)
		assert.Equal(t, int64(20), body.Data.Limit)

		rec = call(t, a.handler, http.MethodGet, "/metrics", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "meter_quota_decisions_total")

		// Feature backends are not configured.
		assert.Equal(t, http.StatusNotFound, call(t, a.handler, http.MethodPost, "/v1/features/search", auth).Code)
		assert.Equal(t, http.StatusNotFound, call(t, a.handler, http.MethodPost, "/webhooks/paddle", "").Code)
	})

	t.Run("redis counters", func(t *testing.T) {
		t.Parallel()
		mr := miniredis.RunT(t)
		s := memorySettings()
		s.App.CounterBackend = backendRedis
		s.Redis = redisstore.Config{
			ConnectionURL:  "redis://" + mr.Addr(),
			RetryAttempts:  1,
			RetryInterval:  10 * time.Millisecond,
			ConnectTimeout: time.Second,
			KeyPrefix:      "test:",
			Retention:      time.Hour,
		}

		a, err := newApp(context.Background(), s, logger.Nop())
		require.NoError(t, err)
		t.Cleanup(a.close)

		rec := call(t, a.handler, http.MethodPost, "/v1/usage/analysis/increment", bearer(t, s, "user-2"))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, mr.Keys(), 1)

		assert.Equal(t, http.StatusOK, call(t, a.handler, http.MethodGet, "/readyz", "").Code)
		mr.Close()
		assert.Equal(t, http.StatusServiceUnavailable, call(t, a.handler, http.MethodGet, "/readyz", "").Code)
	})

	t.Run("static auth without key", func(t *testing.T) {
		t.Parallel()
		s := memorySettings()
		s.Static.SigningKey = ""
		_, err := newApp(context.Background(), s, logger.Nop())
		assert.ErrorIs(t, err, identity.ErrMissingSigningKey)
	})

	t.Run("static auth with short key", func(t *testing.T) {
		t.Parallel()
		s := memorySettings()
		s.Static.SigningKey = "test-signing-key"
		_, err := newApp(context.Background(), s, logger.Nop())
		assert.ErrorIs(t, err, identity.ErrWeakSigningKey)
	})

	t.Run("missing catalog file", func(t *testing.T) {
		t.Parallel()
		s := memorySettings()
		s.App.CatalogFile = "testdata/does-not-exist.yaml"
		_, err := newApp(context.Background(), s, logger.Nop())
		assert.Error(t, err)
	})
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "meter version")
}
