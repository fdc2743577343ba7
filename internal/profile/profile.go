package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the main server.
type Profile struct {
	// Mode can be "prod" or "dev"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// Version is the current version of server
	Version string

	// CacheDir is the root directory for cache files. Defaults to <Data>/cache.
	CacheDir string
	// CacheDefaultTTL is the default TTL for cache entries.
	CacheDefaultTTL time.Duration // LANEBOARD_CACHE_DEFAULT_TTL (seconds, default: 3600)
	// CacheStaleFallback serves the last good snapshot when a fetch fails.
	CacheStaleFallback bool // LANEBOARD_CACHE_STALE_FALLBACK (default: true)
	// CacheBackgroundRefresh refreshes stale entries without blocking readers.
	CacheBackgroundRefresh bool // LANEBOARD_CACHE_BACKGROUND_REFRESH (default: true)

	// Upstream project-management API configuration
	UpstreamBaseURL string // LANEBOARD_UPSTREAM_BASE_URL (default: https://api.rocketlane.com/api/1.0)
	UpstreamAPIKey  string // LANEBOARD_UPSTREAM_API_KEY
	UpstreamUserID  string // LANEBOARD_UPSTREAM_USER_ID

	// LLM configuration
	LLMProvider string // LANEBOARD_LLM_PROVIDER (default: openai)
	LLMAPIKey   string // LANEBOARD_LLM_API_KEY
	LLMBaseURL  string // LANEBOARD_LLM_BASE_URL (default: https://api.openai.com/v1)
	LLMModel    string // LANEBOARD_LLM_MODEL (default: gpt-4o-mini)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsUpstreamConfigured returns true if the upstream API key and user are set.
// Cache services refuse to fetch without both.
func (p *Profile) IsUpstreamConfigured() bool {
	return p.UpstreamAPIKey != "" && p.UpstreamUserID != ""
}

// IsLLMEnabled returns true if an LLM provider is usable.
func (p *Profile) IsLLMEnabled() bool {
	return p.LLMAPIKey != ""
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnvOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1"
}

func getSecondsEnvOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds <= 0 {
		return defaultValue
	}
	return time.Duration(seconds) * time.Second
}

// FromEnv loads configuration from LANEBOARD_* environment variables.
func (p *Profile) FromEnv() {
	p.CacheDir = getEnvOrDefault("LANEBOARD_CACHE_DIR", p.CacheDir)
	p.CacheDefaultTTL = getSecondsEnvOrDefault("LANEBOARD_CACHE_DEFAULT_TTL", time.Hour)
	p.CacheStaleFallback = getBoolEnvOrDefault("LANEBOARD_CACHE_STALE_FALLBACK", true)
	p.CacheBackgroundRefresh = getBoolEnvOrDefault("LANEBOARD_CACHE_BACKGROUND_REFRESH", true)

	p.UpstreamBaseURL = getEnvOrDefault("LANEBOARD_UPSTREAM_BASE_URL", "https://api.rocketlane.com/api/1.0")
	p.UpstreamAPIKey = getEnvOrDefault("LANEBOARD_UPSTREAM_API_KEY", p.UpstreamAPIKey)
	p.UpstreamUserID = getEnvOrDefault("LANEBOARD_UPSTREAM_USER_ID", p.UpstreamUserID)

	p.LLMProvider = getEnvOrDefault("LANEBOARD_LLM_PROVIDER", "openai")
	p.LLMAPIKey = getEnvOrDefault("LANEBOARD_LLM_API_KEY", p.LLMAPIKey)
	p.LLMBaseURL = getEnvOrDefault("LANEBOARD_LLM_BASE_URL", "https://api.openai.com/v1")
	p.LLMModel = getEnvOrDefault("LANEBOARD_LLM_MODEL", "gpt-4o-mini")
}

// Validate normalizes the profile and ensures the data and cache
// directories exist.
func (p *Profile) Validate() error {
	if p.Mode != "prod" && p.Mode != "dev" {
		p.Mode = "dev"
	}

	if p.Data == "" {
		p.Data = "./data"
	}
	absData, err := filepath.Abs(p.Data)
	if err != nil {
		return errors.Wrapf(err, "unable to resolve data directory %q", p.Data)
	}
	p.Data = absData
	if err := os.MkdirAll(p.Data, 0o750); err != nil {
		return errors.Wrapf(err, "unable to create data directory %q", p.Data)
	}

	if p.CacheDir == "" {
		p.CacheDir = filepath.Join(p.Data, "cache")
	}
	if err := os.MkdirAll(p.CacheDir, 0o750); err != nil {
		return errors.Wrapf(err, "unable to create cache directory %q", p.CacheDir)
	}

	if p.Port <= 0 || p.Port > 65535 {
		return errors.Errorf("invalid port %d", p.Port)
	}
	return nil
}

func (p *Profile) String() string {
	return fmt.Sprintf("mode=%s addr=%s:%d data=%s cache=%s", p.Mode, p.Addr, p.Port, p.Data, p.CacheDir)
}
