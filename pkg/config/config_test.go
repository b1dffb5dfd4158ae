package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2, cfg.Publish.MaxRetry)
	assert.Equal(t, 10*time.Second, cfg.Login.ValidateTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Login.InteractiveTimeout)
	assert.True(t, cfg.Login.AssumeAuthenticatedOnTimeout)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rednote.yaml")
	content := `
browser:
  headless: false
  max_leases: 2
store:
  backend: redis
  redis:
    addr: 127.0.0.1:6390
login:
  validate_timeout: 3s
publish:
  max_retry: 3
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 2, cfg.Browser.MaxLeases)
	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.Equal(t, "127.0.0.1:6390", cfg.Store.Redis.Addr)
	assert.Equal(t, 3*time.Second, cfg.Login.ValidateTimeout)
	assert.Equal(t, 3, cfg.Publish.MaxRetry)
	assert.Equal(t, "debug", cfg.Log.Level)

	// untouched keys keep their defaults
	assert.Equal(t, 200*time.Millisecond, cfg.Login.StatusPollInterval)
	assert.Equal(t, 1280, cfg.Browser.ViewportWidth)
}

func TestLoadEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rednote.yaml")
	require.NoError(t, os.WriteFile(path, []byte("crawl:\n  max_items: 5\n"), 0600))
	t.Setenv("REDNOTE_CRAWL_MAX_ITEMS", "12")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Crawl.MaxItems)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "unknown backend", mutate: func(c *Config) { c.Store.Backend = "s3" }, wantErr: "invalid store backend"},
		{name: "file backend without dir", mutate: func(c *Config) { c.Store.Dir = "" }, wantErr: "store.dir"},
		{name: "redis backend without addr", mutate: func(c *Config) {
			c.Store.Backend = BackendRedis
			c.Store.Redis.Addr = ""
		}, wantErr: "store.redis.addr"},
		{name: "zero retry", mutate: func(c *Config) { c.Publish.MaxRetry = 0 }, wantErr: "max_retry"},
		{name: "zero leases", mutate: func(c *Config) { c.Browser.MaxLeases = 0 }, wantErr: "max_leases"},
		{name: "negative max items", mutate: func(c *Config) { c.Crawl.MaxItems = -1 }, wantErr: "max_items"},
		{name: "zero timeout", mutate: func(c *Config) { c.Login.StatusTimeout = 0 }, wantErr: "login.status_timeout"},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "trace" }, wantErr: "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
