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
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/v0", cfg.Server.BasePath)
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, 4, cfg.Scheduler.Concurrency)
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
database:
  driver: postgres
  dsn: postgres://aurora@localhost/aurora
scheduler:
  enabled: true
  interval: 30s
webhooks:
  - url: https://hooks.example.org/aurora
    events: [inscription_phase.status]
`))
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, "/v0", cfg.Server.BasePath, "unset keys keep defaults")
	require.Len(t, cfg.Webhooks, 1)
	assert.Equal(t, []string{"inscription_phase.status"}, cfg.Webhooks[0].Events)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"driver":        "database:\n  driver: mysql\n",
		"postgres dsn":  "database:\n  driver: postgres\n",
		"base path":     "server:\n  base_path: v0\n",
		"interval":      "scheduler:\n  enabled: true\n  interval: 10ms\n",
		"webhook url":   "webhooks:\n  - url: not a url\n",
		"log level":     "log:\n  level: loud\n",
		"log format":    "log:\n  format: xml\n",
		"empty filters": "webhooks:\n  - url: http://x.test\n    events: ['']\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)

	_, err = Load(dir)
	assert.ErrorContains(t, err, "aurora config init")

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("log:\n  level: debug\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestJWTSecretFromEnv(t *testing.T) {
	cfg := Default()
	cfg.Auth.JWTSecretEnv = "AURORA_TEST_SECRET"
	t.Setenv("AURORA_TEST_SECRET", "s3cret")
	assert.Equal(t, "s3cret", cfg.JWTSecret())
}
