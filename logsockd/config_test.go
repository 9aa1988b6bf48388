package logsockd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logsockd.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
rotate_lines = 3
socket_path = "/tmp/test.sock"
max_connections = 5
grace_interval = "250ms"
redact = ['(?<=token=)\S+']
`), 0o644))

	t.Run("file", func(t *testing.T) {
		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 3, cfg.RotateLines)
		assert.Equal(t, "/tmp/test.sock", cfg.SocketPath)
		assert.Equal(t, 5, cfg.MaxConnections)
		assert.Equal(t, 250*time.Millisecond, cfg.GraceInterval.Duration)
		assert.Equal(t, []string{`(?<=token=)\S+`}, cfg.Redact)

		// untouched keys keep their defaults
		assert.Equal(t, 10, cfg.GracePolls)
		assert.Equal(t, "logs/segment-", cfg.SegmentPrefix)
	})

	t.Run("env", func(t *testing.T) {
		cfg := DefaultConfig()
		env := map[string]string{
			"LOGSOCKD_SOCKET":       "/run/logsockd.sock",
			"LOGSOCKD_ROTATE_LINES": "42",
		}
		require.NoError(t, cfg.ApplyEnv(func(k string) (string, bool) {
			v, ok := env[k]
			return v, ok
		}))
		assert.Equal(t, "/run/logsockd.sock", cfg.SocketPath)
		assert.Equal(t, 42, cfg.RotateLines)

		env["LOGSOCKD_MAX_CONNECTIONS"] = "many"
		assert.Error(t, cfg.ApplyEnv(func(k string) (string, bool) {
			v, ok := env[k]
			return v, ok
		}))
	})

	t.Run("invalid", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RotateLines = 0
		cfg.MaxConnections = -1
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rotate_lines")
		assert.Contains(t, err.Error(), "max_connections")
	})

	t.Run("missing-file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
		assert.Error(t, err)
	})
}
