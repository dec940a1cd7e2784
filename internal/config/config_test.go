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
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8085", cfg.GetServerAddr())
	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Equal(t, 1, cfg.Serial.StopBits)
	assert.Equal(t, "none", cfg.Serial.Parity)
	assert.Equal(t, 100*time.Millisecond, cfg.Serial.ReadTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.Bridge.PollInterval)
	assert.Equal(t, "HiNori!", cfg.Bridge.CheckPhrase)
	assert.False(t, cfg.Database.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.True(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsDebugEnabled())
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
serial:
  port: /dev/ttyACM0
  baud_rate: 57600
bridge:
  poll_interval: 20ms
app:
  environment: production
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))
	t.Setenv("NORI_BRIDGE_SERVER_PORT", "9090")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, 57600, cfg.Serial.BaudRate)
	assert.Equal(t, 20*time.Millisecond, cfg.Bridge.PollInterval)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDebugEnabled())
}

func TestLoad_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("serial: [unclosed"), 0o600))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load(t.TempDir())
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Server.Port = "" }},
		{"unknown environment", func(c *Config) { c.App.Environment = "qa" }},
		{"unknown level", func(c *Config) { c.Logging.Level = "trace" }},
		{"zero baud", func(c *Config) { c.Serial.BaudRate = 0 }},
		{"bad parity", func(c *Config) { c.Serial.Parity = "weird" }},
		{"bad stop bits", func(c *Config) { c.Serial.StopBits = 3 }},
		{"zero poll interval", func(c *Config) { c.Bridge.PollInterval = 0 }},
		{"no check phrase", func(c *Config) { c.Bridge.CheckPhrase = "" }},
		{"database without host", func(c *Config) { c.Database.Enabled = true; c.Database.Host = "" }},
		{"zero rate", func(c *Config) { c.Security.RateLimitRate = 0 }},
	}

	require.NoError(t, validate(valid()))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, validate(cfg))
		})
	}
}

func TestDatabaseConfigDSN(t *testing.T) {
	cfg := &DatabaseConfig{
		Host: "db", Port: 5432, User: "u", Password: "p", DBName: "n", SSLMode: "disable",
	}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", cfg.DSN())
}
