package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/exploopio/streamguard/pkg/config"
)

func TestContentConfig_CopiesFileSettings(t *testing.T) {
	c := config.Default().Content
	c.CacheDir = "/var/cache/streamguard"
	c.ReleaseVersion = "0.1.74"
	c.DownloadTimeout = 90 * time.Second
	c.DownloadAttempts = 7
	c.CacheTTL = time.Minute
	c.Burst = 4

	cc := contentConfig(c)
	assert.Equal(t, "/var/cache/streamguard", cc.CacheDir)
	assert.Equal(t, "0.1.74", cc.ReleaseVersion)
	assert.Equal(t, 90*time.Second, cc.DownloadTimeout)
	assert.Equal(t, 7, cc.DownloadAttempts)
	assert.Equal(t, time.Minute, cc.CacheTTL)
	assert.Equal(t, 4, cc.Burst)
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	assert.Equal(t, filepath.Join(home, ".ssh", "id_ed25519"), expandHome("~/.ssh/id_ed25519"))
	assert.Equal(t, "/etc/keys/id_rsa", expandHome("/etc/keys/id_rsa"))
	assert.Equal(t, "", expandHome(""))
	assert.Equal(t, "~user/key", expandHome("~user/key"))
}
