package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pnpbots/pnptv-app-sub006/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "8081", cfg.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 8*time.Second, cfg.Epayco.QueryTimeout)
	assert.Equal(t, 6*time.Minute, cfg.ThreeDS.UnauthenticatedWindow)
	assert.Equal(t, 3*time.Minute, cfg.ThreeDS.AuthenticatedWindow)
	assert.Equal(t, 10*time.Minute, cfg.Scan.MinAge)
	assert.Equal(t, 24*time.Hour, cfg.Scan.MaxAge)
	assert.Equal(t, 100, cfg.Scan.BatchSize)
	assert.Equal(t, 30*time.Minute, cfg.Scan.LockTTL)
	assert.Equal(t, 24*time.Hour, cfg.Sweep.Ceiling)
	assert.Equal(t, 30, cfg.Entitlement.DefaultDays)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reconciler.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9090"
scan:
  min_age: 15m
  batch_size: 25
epayco:
  customer_id: "12345"
`), 0o600))

	t.Setenv("SCAN_BATCH_SIZE", "40")
	t.Setenv("THREEDS_AUTHENTICATED_WINDOW", "90s")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 15*time.Minute, cfg.Scan.MinAge)
	assert.Equal(t, 40, cfg.Scan.BatchSize, "env wins over the file")
	assert.Equal(t, 90*time.Second, cfg.ThreeDS.AuthenticatedWindow)
	assert.Equal(t, "12345", cfg.Epayco.CustomerID)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTELEndpoint)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
