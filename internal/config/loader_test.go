package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("should return defaults when file is missing", func(t *testing.T) {
		tmpDir := t.TempDir()
		loader := NewLoader(filepath.Join(tmpDir, "ayatori.json"))

		cfg, err := loader.Load()
		require.NoError(t, err)

		assert.Equal(t, "block", cfg.Bus.Policy)
		assert.Equal(t, tmpDir, cfg.DataDir)
		assert.Equal(t, filepath.Join(tmpDir, "ayatori.log"), cfg.Logging.File)
		assert.Equal(t, filepath.Join(tmpDir, "workspace"), cfg.WorkspaceRoot)
	})

	t.Run("should merge file values over defaults", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "ayatori.json")

		content := `{
			"workspace_root": "/srv/ws",
			"bus": {"policy": "drop_oldest", "buffer_size": 8},
			"tools": {"timeout_seconds": 5}
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))

		loader := NewLoader(configPath)
		cfg, err := loader.Load()
		require.NoError(t, err)

		assert.Equal(t, "/srv/ws", cfg.WorkspaceRoot)
		assert.Equal(t, "drop_oldest", cfg.Bus.Policy)
		assert.Equal(t, 8, cfg.Bus.BufferSize)
		assert.Equal(t, 5, cfg.Tools.TimeoutSeconds)
		// Untouched values keep their defaults.
		assert.Equal(t, 65536, cfg.Tools.MaxOutputBytes)
	})

	t.Run("should fail on malformed file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "ayatori.json")
		require.NoError(t, os.WriteFile(configPath, []byte("{not json"), 0600))

		_, err := NewLoader(configPath).Load()
		assert.Error(t, err)
	})
}

func TestSaveRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "ayatori.json")
	loader := NewLoader(configPath)

	cfg := DefaultConfig()
	cfg.WorkspaceRoot = "/srv/ws"
	cfg.Session.SystemPrompt = "Be terse."
	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "/srv/ws", loaded.WorkspaceRoot)
	assert.Equal(t, "Be terse.", loaded.Session.SystemPrompt)
}
