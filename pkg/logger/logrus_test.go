package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogrusLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	base := logrus.New()
	base.SetOutput(&buf)
	base.SetLevel(logrus.InfoLevel)
	base.SetFormatter(&logrus.JSONFormatter{})

	log := NewLogrusFrom(base).WithComponent("runner")
	log.Debug("hidden %d", 1)
	log.Info("job %s started", "abc")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "job abc started", entry["msg"])
	assert.Equal(t, "runner", entry["component"])
	assert.Equal(t, "info", entry["level"])
}

func TestNewLogrus_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "streamguard.log")
	cfg := DefaultConfig()
	cfg.File = path
	cfg.Format = "json"

	log, err := NewLogrus(cfg)
	require.NoError(t, err)
	log.Warn("cache dir %s is nearly full", "/var/cache")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "cache dir /var/cache is nearly full")
}

func TestNewLogrus_BadLevelFallsBackToInfo(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level = "chatty"
	log, err := NewLogrus(cfg)
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, log.entry.Logger.GetLevel())
}

func TestOrNop(t *testing.T) {
	assert.IsType(t, &NopLogger{}, OrNop(nil))
	l := &NopLogger{}
	assert.Same(t, l, OrNop(l))
}
