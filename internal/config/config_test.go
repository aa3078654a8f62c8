package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("GIN_MODE", "test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, HashingBcrypt, cfg.HashingMethod)
	assert.Equal(t, 30*24*time.Hour, cfg.CookieExpire)
	assert.Equal(t, time.Hour, cfg.SessionExpire)
	assert.Equal(t, 10, cfg.LoginsPerMinute)
	assert.Contains(t, cfg.ReservedNames, "guest")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
session:
  cookie_name: forum
  session_expire: 30m
  https: true
auth:
  logins_per_minute: 0
registration:
  reserved_names: [Admin, Root]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("GIN_MODE", "test")
	t.Setenv("COOKIE_NAME", "fromenv")
	t.Setenv("COOKIE_EXPIRE", "3600")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "fromenv", cfg.CookieName)
	assert.Equal(t, 30*time.Minute, cfg.SessionExpire)
	assert.Equal(t, time.Hour, cfg.CookieExpire)
	assert.True(t, cfg.HTTPS)
	assert.Equal(t, 0, cfg.LoginsPerMinute)
	assert.Equal(t, []string{"admin", "root"}, cfg.ReservedNames)
}

func TestLoadRejectsBadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("session:\n  cookie_expire: soon\n"), 0o600))

	t.Setenv("CONFIG_FILE", path)
	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"unknown hashing", func(c *Config) { c.HashingMethod = "sha1" }, true},
		{"sql flood without postgres", func(c *Config) { c.FloodBackend = DriverSQL }, true},
		{"postgres without url", func(c *Config) { c.StoreDriver = DriverPostgres }, true},
		{"release without secret", func(c *Config) {
			c.GinMode = "release"
			c.StoreDriver = DriverPostgres
			c.DatabaseURL = "postgres://localhost/forum"
		}, true},
		{"release ok", func(c *Config) {
			c.GinMode = "release"
			c.SessionSecret = "secret"
			c.StoreDriver = DriverPostgres
			c.DatabaseURL = "postgres://localhost/forum"
		}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
