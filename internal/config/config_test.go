package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  url: postgres://localhost/mailrouter
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 30, cfg.Provider.TimeoutSeconds)
	assert.Equal(t, 5, cfg.License.TimeoutSeconds)
	assert.Equal(t, 5, cfg.WhatsApp.MaxReconnectAttempts)
	assert.Equal(t, "http://localhost:9090", cfg.Tracking.BaseURL)
}

func TestValidateFailsClosedWithoutKey(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/mailrouter
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	err = cfg.Validate()
	assert.ErrorContains(t, err, "encryption_key")
}

func TestValidateDevOptIn(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/mailrouter
vault:
  allow_dev_key: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, cfg.Validate())
	assert.NotEmpty(t, cfg.Vault.EncryptionKey)
	assert.NotEmpty(t, cfg.Tracking.SigningSecret)
}

func TestValidateRequiresDatabase(t *testing.T) {
	path := writeConfig(t, `
vault:
  encryption_key: abc
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "database.url")
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/mailrouter
`)

	t.Setenv("VAULT_ENCRYPTION_KEY", "from-env")
	t.Setenv("TRACKING_BASE_URL", "https://track.example.com")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Vault.EncryptionKey)
	assert.Equal(t, "https://track.example.com", cfg.Tracking.BaseURL)
}
