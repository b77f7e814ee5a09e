package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
	assert.Equal(t, 4, cfg.Signing.BulkConcurrency)
	assert.Equal(t, "keychain", cfg.Attestation.Backend)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, filepath.Join(Dir(), "diplomasecure.db"), cfg.Database.Path)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
  cors_origins: ["https://verify.example.cm"]
  shutdown_timeout: 3s
database:
  path: /var/lib/diplomasecure/data.db
policy:
  file: /etc/diplomasecure/policy.yaml
attestation:
  backend: aws
  aws_secret_id: diplomasecure/attestation
  aws_region: eu-west-3
signing:
  bulk_concurrency: 8
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, []string{"https://verify.example.cm"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 20, cfg.Server.PublicBurst, "unset keys keep defaults")
	assert.Equal(t, "/var/lib/diplomasecure/data.db", cfg.Database.Path)
	assert.Equal(t, "aws", cfg.Attestation.Backend)
	assert.Equal(t, 8, cfg.Signing.BulkConcurrency)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  addr: \":9090\"\n")
	t.Setenv("DIPLOMASECURE_ADDR", ":7000")
	t.Setenv("DIPLOMASECURE_BULK_CONCURRENCY", "2")
	t.Setenv("DIPLOMASECURE_PUBLIC_RATE", "0.5")
	t.Setenv("DIPLOMASECURE_LOG_JSON", "true")
	t.Setenv("DIPLOMASECURE_CORS_ORIGINS", "https://a.cm, https://b.cm,")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, 2, cfg.Signing.BulkConcurrency)
	assert.Equal(t, 0.5, cfg.Server.PublicRate)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, []string{"https://a.cm", "https://b.cm"}, cfg.Server.CORSOrigins)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err, "explicit path must exist")

	_, err = Load(writeConfig(t, "server: [\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "attestation:\n  backend: aws\n"))
	assert.ErrorContains(t, err, "aws_secret_id")

	_, err = Load(writeConfig(t, "signing:\n  bulk_concurrency: 0\n"))
	assert.ErrorContains(t, err, "bulk_concurrency")

	t.Setenv("DIPLOMASECURE_PUBLIC_BURST", "lots")
	_, err = Load(writeConfig(t, ""))
	assert.ErrorContains(t, err, "DIPLOMASECURE_PUBLIC_BURST")
}
