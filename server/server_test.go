package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laneboard/laneboard/internal/profile"
)

func testProfile(t *testing.T) *profile.Profile {
	t.Helper()
	prof := &profile.Profile{
		Mode:    "dev",
		Port:    8230,
		Data:    t.TempDir(),
		Version: "test",
	}
	require.NoError(t, prof.Validate())
	return prof
}

func TestNewServerServesHealth(t *testing.T) {
	srv, err := NewServer(context.Background(), testProfile(t), slog.Default())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

func TestWarmCachesSkippedWithoutUpstream(t *testing.T) {
	srv, err := NewServer(context.Background(), testProfile(t), slog.Default())
	require.NoError(t, err)

	// No API key or user id configured: warmup must return without
	// touching the network.
	done := make(chan struct{})
	go func() {
		srv.WarmCaches(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("warmup did not return")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

func TestNewServerRejectsBadLLMConfig(t *testing.T) {
	prof := testProfile(t)
	prof.LLMAPIKey = "k"
	prof.LLMProvider = "compatible" // missing base URL and model

	_, err := NewServer(context.Background(), prof, slog.Default())
	require.Error(t, err)
}
