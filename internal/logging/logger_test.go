package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "json", mutate: func(c *Config) { c.Encoding = "json" }},
		{name: "bad level", mutate: func(c *Config) { c.Level = "loud" }, wantErr: true},
		{name: "bad encoding", mutate: func(c *Config) { c.Encoding = "xml" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestJSONLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Encoding = "json"
	cfg.Level = "warn"

	logger, err := newWithSink(cfg, zapcore.AddSync(&buf))
	require.NoError(t, err)

	logger.Named("dht").Info("hidden")
	logger.Named("dht").Warn("shown", zap.String("peer", "127.0.0.1:8000"))
	require.NoError(t, logger.Sync())

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "dht", entry["logger"])
	assert.Equal(t, "127.0.0.1:8000", entry["peer"])
}

func TestNewWritesToFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.File = filepath.Join(t.TempDir(), "logs", "kadnode.log")

	logger, err := New(cfg)
	require.NoError(t, err)
	logger.Info("to file")
	_ = logger.Sync()

	data, err := os.ReadFile(cfg.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level = "nope"

	_, err := New(cfg)
	assert.Error(t, err)
}
