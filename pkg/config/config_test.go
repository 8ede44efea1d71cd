package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sgerrors "github.com/exploopio/streamguard/pkg/errors"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Runner.MaxConcurrentHosts)
	assert.Equal(t, time.Hour, cfg.Runner.HostTimeout)
	assert.Equal(t, "ComplianceAsCode", cfg.Content.Owner)
	assert.Equal(t, 10*time.Minute, cfg.Content.CacheTTL)
	assert.Equal(t, 3, cfg.Content.DownloadAttempts)
	assert.Equal(t, "oscap-ssh", cfg.Oscap.SSHBinary)
}

func TestLoad_FileEnvAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streamguard.yaml")
	yaml := `
runner:
  max_concurrent_hosts: 4
  host_timeout: 15m
content:
  cache_dir: /var/cache/streamguard
  offline: true
  download_attempts: 5
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	t.Setenv("STREAMGUARD_SSH_USER", "auditor")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("server.listen", ":8000", "")
	require.NoError(t, flags.Parse([]string{"--server.listen=127.0.0.1:9000"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Runner.MaxConcurrentHosts)
	assert.Equal(t, 15*time.Minute, cfg.Runner.HostTimeout)
	assert.Equal(t, "/var/cache/streamguard", cfg.Content.CacheDir)
	assert.True(t, cfg.Content.Offline)
	assert.Equal(t, 5, cfg.Content.DownloadAttempts)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "auditor", cfg.SSH.User)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Listen)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero concurrency", func(c *Config) { c.Runner.MaxConcurrentHosts = 0 }, false},
		{"no host timeout", func(c *Config) { c.Runner.HostTimeout = 0 }, false},
		{"no cache dir", func(c *Config) { c.Content.CacheDir = "" }, false},
		{"no download attempts", func(c *Config) { c.Content.DownloadAttempts = 0 }, false},
		{"bad ssh port", func(c *Config) { c.SSH.Port = 70000 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, sgerrors.KindInvalidInput, sgerrors.GetKind(err))
		})
	}
}

func TestModeSwitch(t *testing.T) {
	m := NewModeSwitch(false)
	assert.Equal(t, "online", m.Mode())

	prev := m.Set(true)
	assert.False(t, prev)
	assert.True(t, m.Offline())
	assert.Equal(t, "offline", m.Mode())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Set(i%2 == 0)
			_ = m.Offline()
		}(i)
	}
	wg.Wait()
}
