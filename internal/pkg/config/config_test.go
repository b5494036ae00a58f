package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Fetch.MaxRetries)
	assert.Equal(t, time.Second, cfg.Fetch.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Fetch.MaxDelay)
	assert.Equal(t, 1500*time.Millisecond, cfg.Fetch.MinRequestInterval)
	assert.Equal(t, 5, cfg.Fetch.Workers)
	assert.Equal(t, BackendFile, cfg.Cache.Backend)
	assert.Equal(t, 8098, cfg.Server.Port)
	assert.Equal(t, 150*time.Millisecond, cfg.Naver.PageInterval)

	start, err := cfg.Cache.Start()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2005, 1, 1, 0, 0, 0, 0, time.UTC), start)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "FETCH_WORKERS=8\nFETCH_BASE_DELAY=250ms\nCACHE_BACKEND=sqlite\nTIINGO_API_KEY=abc\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	// godotenv never overrides variables that are already set
	for _, key := range []string{"FETCH_WORKERS", "FETCH_BASE_DELAY", "CACHE_BACKEND", "TIINGO_API_KEY"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Fetch.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Fetch.BaseDelay)
	assert.Equal(t, BackendSQLite, cfg.Cache.Backend)
	assert.Equal(t, "abc", cfg.Tiingo.APIKey)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Cache:  CacheConfig{Backend: BackendFile, StartDate: "2005-01-01"},
			Fetch:  FetchConfig{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Workers: 5},
			Server: ServerConfig{Port: 8098},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Fetch.Workers = 0 }},
		{"negative retries", func(c *Config) { c.Fetch.MaxRetries = -1 }},
		{"base above max", func(c *Config) { c.Fetch.BaseDelay = time.Minute }},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "parquet" }},
		{"bad start date", func(c *Config) { c.Cache.StartDate = "01/01/2005" }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("TEST_ORIGINS", " http://a.example , ,http://b.example")
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, getEnvList("TEST_ORIGINS", nil))

	t.Setenv("TEST_ORIGINS", "")
	assert.Equal(t, []string{"x"}, getEnvList("TEST_ORIGINS", []string{"x"}))
}
