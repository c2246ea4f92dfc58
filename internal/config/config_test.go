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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 10*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.Database.Enabled())
	assert.Equal(t, 5, cfg.Outbox.MaxRetries)
	assert.True(t, cfg.Tracing.Insecure)
	assert.True(t, cfg.IsDev())
	assert.NoError(t, cfg.Validate())
}

func TestLoadFileWithGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rxchain.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
env: production
auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
database:
  url: postgres://rx:rx@db:5432/rx
genesis:
  admin: "0x00000000000000000000000000000000000000aa"
  doctors: ["0x00000000000000000000000000000000000000d1"]
  medications:
    - id: 1
      name: Amoxicillin
      price: 10
      rate: 1
  accounts:
    - address: "0x00000000000000000000000000000000000000c1"
      balance: 5000
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Database.Enabled())
	assert.Equal(t, []string{"0x00000000000000000000000000000000000000d1"}, cfg.Genesis.Doctors)
	require.Len(t, cfg.Genesis.Medications, 1)
	assert.Equal(t, "Amoxicillin", cfg.Genesis.Medications[0].Name)
	require.Len(t, cfg.Genesis.Accounts, 1)
	assert.Equal(t, uint64(5000), cfg.Genesis.Accounts[0].Balance)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("RXCHAIN_HTTP_ADDR", ":9999")
	t.Setenv("RXCHAIN_KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("RXCHAIN_OUTBOX_POLL_INTERVAL", "1s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, time.Second, cfg.Outbox.PollInterval)
}

func TestValidateRejectsWeakSecretInProduction(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Env = "production"
	cfg.Auth.JWTSecret = "short"
	cfg.Tracing.SampleRate = 2

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
	assert.Contains(t, err.Error(), "sample_rate")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
