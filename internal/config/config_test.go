package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Registry.OwnerID = "owner.phoenix"
	cfg.Token.BaseURL = "https://token.example.dev/v1"
	return cfg
}

func TestValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	t.Run("missing owner", func(t *testing.T) {
		c := validConfig()
		c.Registry.OwnerID = ""
		require.ErrorContains(t, c.Validate(), "owner_id")
	})

	t.Run("token creds must pair", func(t *testing.T) {
		c := validConfig()
		c.Token.ApiKey = "key-only"
		require.ErrorContains(t, c.Validate(), "api_secret")
	})

	t.Run("api mode requires server", func(t *testing.T) {
		c := validConfig()
		c.Mode = "api"
		c.Server.Enabled = false
		require.ErrorContains(t, c.Validate(), "api mode")
	})

	t.Run("archive needs s3", func(t *testing.T) {
		c := validConfig()
		c.Archive.Enabled = true
		c.S3.Bucket = ""
		require.ErrorContains(t, c.Validate(), "bucket")
	})
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "full"

[registry]
owner_id = "owner.phoenix"
call_timeout = "10s"

[token]
base_url = "https://token.example.dev/v1"
`), 0o600))

	t.Setenv("BOND_REGISTRY_OWNER_ID", "override.phoenix")
	t.Setenv("BOND_REGISTRY_CALL_TIMEOUT", "45s")
	t.Setenv("BOND_SERVER_RATE_LIMIT", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "override.phoenix", cfg.Registry.OwnerID)
	assert.Equal(t, 45*time.Second, cfg.Registry.CallTimeout.Duration)
	assert.Equal(t, 3, cfg.Server.RateLimit)
	// TOML values not overridden by env stay intact.
	assert.Equal(t, "https://token.example.dev/v1", cfg.Token.BaseURL)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Token.ApiSecret = "super-secret"
	cfg.Postgres.Password = "pgpass"
	cfg.Server.APIKey = "apikey"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Token.ApiSecret)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Server.APIKey)
	// Original untouched.
	assert.Equal(t, "super-secret", cfg.Token.ApiSecret)
}
