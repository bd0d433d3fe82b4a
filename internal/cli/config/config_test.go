package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Server, cfg.Server)
	assert.Equal(t, 30*time.Second, cfg.Timeout())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: http://file:9000\ndata_dir: /tmp/from-file\ntimeout_seconds: 5\n"), 0o600))
	t.Setenv("CANVASCTL_SERVER", "http://env:8000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://env:8000", cfg.Server)
	assert.Equal(t, "/tmp/from-file", cfg.DataDir)
	assert.Equal(t, 5*time.Second, cfg.Timeout())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unterminated"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
