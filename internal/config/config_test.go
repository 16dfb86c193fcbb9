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
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8080\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "streamgate", cfg.Database.DBName)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "0.01", cfg.Metering.DefaultPricePerSegment)
	assert.Equal(t, "usdc", cfg.Metering.Asset)
	assert.Equal(t, 4*time.Hour, cfg.Metering.LegacyTokenTTL)
	assert.Equal(t, 10*time.Minute, cfg.Metering.IdleTimeout)
	assert.Equal(t, 6, cfg.Encoder.SegmentTime)
	assert.Equal(t, "streamgate", cfg.Storage.BucketName)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9999
  publicBaseURL: https://stream.example.com
metering:
  defaultPricePerSegment: "0.05"
  idleTimeout: 30m
settlement:
  endpoint: https://settle.example.com/distribute
  secret: topsecret
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "https://stream.example.com", cfg.Server.PublicBaseURL)
	assert.Equal(t, "0.05", cfg.Metering.DefaultPricePerSegment)
	assert.Equal(t, 30*time.Minute, cfg.Metering.IdleTimeout)
	assert.Equal(t, "https://settle.example.com/distribute", cfg.Settlement.Endpoint)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestKEK(t *testing.T) {
	good := KeysConfig{KEKHex: "000102030405060708090a0b0c0d0e0f000102030405060708090a0b0c0d0e0f"}
	kek, err := good.KEK()
	require.NoError(t, err)
	assert.Len(t, kek, 32)

	_, err = KeysConfig{KEKHex: "not-hex"}.KEK()
	assert.Error(t, err)

	_, err = KeysConfig{KEKHex: "abcd"}.KEK()
	assert.Error(t, err)
}
