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

	path := filepath.Join(t.TempDir(), "kadnode.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	for _, path := range []string{"", filepath.Join(t.TempDir(), "missing.yaml")} {
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
		assert.Equal(t, "127.0.0.1:8000", cfg.ListenAddr())
		assert.Equal(t, 5*time.Second, cfg.Transport.RequestTimeout)
		assert.Equal(t, 4096, cfg.Transport.MaxDatagramSize)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
node:
  host: 0.0.0.0
  port: 9100
  bootstrap: 10.0.0.5:9100
transport:
  request_timeout: 750ms
lookup:
  stale_rounds: 3
log:
  level: debug
  encoding: json
metrics:
  addr: 127.0.0.1:9090
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9100", cfg.ListenAddr())
	assert.Equal(t, "10.0.0.5:9100", cfg.Node.Bootstrap)
	assert.Equal(t, 750*time.Millisecond, cfg.Transport.RequestTimeout)
	assert.Equal(t, 4096, cfg.Transport.MaxDatagramSize, "unset fields keep defaults")
	assert.Equal(t, 3, cfg.Lookup.StaleRounds)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Encoding)
	assert.Equal(t, "127.0.0.1:9090", cfg.Metrics.Addr)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed yaml", "node: [unterminated"},
		{"bad bootstrap", "node:\n  bootstrap: nowhere\n"},
		{"zero timeout", "transport:\n  request_timeout: 0s\n"},
		{"tiny datagram", "transport:\n  max_datagram_size: 10\n"},
		{"negative stale rounds", "lookup:\n  stale_rounds: -1\n"},
		{"bad log level", "log:\n  level: shouty\n"},
		{"bad metrics addr", "metrics:\n  addr: 9090\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Node.Bootstrap = "127.0.0.1:8001"

	data, err := cfg.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), "request_timeout: 5s")

	loaded, err := Load(writeConfig(t, string(data)))
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
