package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := load(mapLookup(map[string]string{"CONFIG_FILE": ""}))
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "data.sqlite", cfg.Database.URL)
	assert.Equal(t, "dev-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "dev-admin-secret", cfg.Auth.AdminSecret)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 100, cfg.RateLimit.Requests)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.False(t, cfg.RateLimit.TrustProxy)
	assert.True(t, cfg.Features.SeedDemo)
	assert.False(t, cfg.Features.DevRoutes)
	assert.False(t, cfg.Features.EnforceOwnership)
	assert.False(t, cfg.UseMinIO())
	assert.Equal(t, ":3000", cfg.Addr())
}

func TestYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8081
database:
  driver: postgres
  url: postgres://localhost/parcels
rate_limit:
  requests: 5
  window: 10s
features:
  dev_routes: true
`), 0o600))

	cfg, err := load(mapLookup(map[string]string{
		"CONFIG_FILE":       path,
		"PORT":              "9090",
		"RATE_LIMIT_WINDOW": "1500",
		"ENFORCE_OWNERSHIP": "true",
		"TRUST_PROXY":       "true",
		"MINIO_ENDPOINT":    "localhost:9000",
	}))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/parcels", cfg.Database.URL)
	assert.Equal(t, 5, cfg.RateLimit.Requests)
	assert.Equal(t, 1500*time.Millisecond, cfg.RateLimit.Window)
	assert.True(t, cfg.RateLimit.TrustProxy)
	assert.True(t, cfg.Features.DevRoutes)
	assert.True(t, cfg.Features.EnforceOwnership)
	assert.True(t, cfg.UseMinIO())
	assert.Equal(t, "avatars", cfg.Avatars.MinIO.Bucket)
}

func TestMissingExplicitFileFails(t *testing.T) {
	_, err := load(mapLookup(map[string]string{"CONFIG_FILE": filepath.Join(t.TempDir(), "nope.yaml")}))
	require.Error(t, err)
}

func TestMissingEnvFileIsOptional(t *testing.T) {
	cfg, err := load(mapLookup(map[string]string{"APP_ENV": "does-not-exist"}))
	require.NoError(t, err)
	assert.Equal(t, "does-not-exist", cfg.Env)
}

func TestInvalidValues(t *testing.T) {
	_, err := load(mapLookup(map[string]string{"CONFIG_FILE": "", "PORT": "abc"}))
	require.Error(t, err)

	_, err = load(mapLookup(map[string]string{"CONFIG_FILE": "", "RATE_LIMIT_REQUESTS": "0"}))
	require.ErrorContains(t, err, "rate limit requests")

	_, err = load(mapLookup(map[string]string{"CONFIG_FILE": "", "SEED_DEMO": "maybe"}))
	require.ErrorContains(t, err, "SEED_DEMO")
}
