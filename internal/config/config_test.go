package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	require.Equal(t, "api", cfg.Mode)
	require.Equal(t, "0.0.0.0:8080", cfg.Listen)
	require.Equal(t, 4, cfg.Dispatcher.Workers)
	require.True(t, cfg.Encryption.AutoGenerate)
}

func TestLoadOverridesDefaultsFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
mode: worker
listen: 127.0.0.1:9000
db: postgres://u:p@db/lnvpsd
company_country: CH
redis:
  url: redis://cache:6379/1
  ttl: 10m
hosts:
  proxmox:
    - host_id: 1
      base_url: https://pve.example.com
      node: pve1
      token_id: root@pam!lnvpsd
      token_secret: secret
pricing:
  taxes:
    - user_country: CH
      company_country: CH
      rate: 0.081
dispatcher:
  workers: 8
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "worker", cfg.Mode)
	require.Equal(t, "127.0.0.1:9000", cfg.Listen)
	require.Equal(t, "CH", cfg.CompanyCountry)
	require.Equal(t, "redis://cache:6379/1", cfg.Redis.URL)
	require.Equal(t, 8, cfg.Dispatcher.Workers)
	require.Len(t, cfg.Hosts.Proxmox, 1)
	require.Equal(t, "pve1", cfg.Hosts.Proxmox[0].Node)
	require.Len(t, cfg.Pricing.Taxes, 1)
	// Defaults survive for fields the file didn't set.
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db: postgres://file/db\n"), 0o600))

	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("REDIS_URL", "redis://env:6379/2")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "postgres://env/db", cfg.DB)
	require.Equal(t, "redis://env:6379/2", cfg.Redis.URL)
}

func TestConfigPathDefaultsWhenUnset(t *testing.T) {
	require.Equal(t, "config.yaml", ConfigPath())
}

func TestConfigPathFromEnv(t *testing.T) {
	t.Setenv("LNVPSD_CONFIG", "/etc/lnvpsd/config.yaml")
	require.Equal(t, "/etc/lnvpsd/config.yaml", ConfigPath())
}
