package profile

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileDefaults(t *testing.T) {
	clearEnv(t)

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, time.Hour, p.CacheDefaultTTL)
	assert.True(t, p.CacheStaleFallback)
	assert.True(t, p.CacheBackgroundRefresh)
	assert.Equal(t, "https://api.rocketlane.com/api/1.0", p.UpstreamBaseURL)
	assert.Equal(t, "openai", p.LLMProvider)
	assert.Equal(t, "gpt-4o-mini", p.LLMModel)
	assert.False(t, p.IsUpstreamConfigured())
	assert.False(t, p.IsLLMEnabled())
}

func TestProfileFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("LANEBOARD_UPSTREAM_API_KEY", "key-123")
	t.Setenv("LANEBOARD_UPSTREAM_USER_ID", "7")
	t.Setenv("LANEBOARD_CACHE_DEFAULT_TTL", "900")
	t.Setenv("LANEBOARD_CACHE_STALE_FALLBACK", "false")

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "key-123", p.UpstreamAPIKey)
	assert.Equal(t, "7", p.UpstreamUserID)
	assert.Equal(t, 15*time.Minute, p.CacheDefaultTTL)
	assert.False(t, p.CacheStaleFallback)
	assert.True(t, p.IsUpstreamConfigured())
}

func TestProfileValidate(t *testing.T) {
	dir := t.TempDir()

	p := &Profile{Mode: "prod", Port: 8080, Data: dir}
	require.NoError(t, p.Validate())

	assert.Equal(t, filepath.Join(dir, "cache"), p.CacheDir)
	assert.DirExists(t, p.CacheDir)

	t.Run("InvalidPort", func(t *testing.T) {
		p := &Profile{Mode: "dev", Port: -1, Data: t.TempDir()}
		assert.Error(t, p.Validate())
	})

	t.Run("UnknownModeFallsBackToDev", func(t *testing.T) {
		p := &Profile{Mode: "staging", Port: 8080, Data: t.TempDir()}
		require.NoError(t, p.Validate())
		assert.True(t, p.IsDev())
	})
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LANEBOARD_CACHE_DIR",
		"LANEBOARD_CACHE_DEFAULT_TTL",
		"LANEBOARD_CACHE_STALE_FALLBACK",
		"LANEBOARD_CACHE_BACKGROUND_REFRESH",
		"LANEBOARD_UPSTREAM_BASE_URL",
		"LANEBOARD_UPSTREAM_API_KEY",
		"LANEBOARD_UPSTREAM_USER_ID",
		"LANEBOARD_LLM_PROVIDER",
		"LANEBOARD_LLM_API_KEY",
		"LANEBOARD_LLM_BASE_URL",
		"LANEBOARD_LLM_MODEL",
	} {
		t.Setenv(key, "")
	}
}
