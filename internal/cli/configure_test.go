package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayatori-dev/ayatori/internal/config"
)

func TestConfigureCommand(t *testing.T) {
	t.Run("should write a default config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ayatori.json")

		prevCfg, prevForce := cfgFile, configureForce
		cfgFile, configureForce = path, false
		defer func() { cfgFile, configureForce = prevCfg, prevForce }()

		err := runConfigure(configureCmd, nil)
		require.NoError(t, err)

		loaded, err := config.NewLoader(path).Load()
		require.NoError(t, err)
		assert.Equal(t, "block", loaded.Bus.Policy)
		assert.Equal(t, "force_interrupt", loaded.Session.DeletePolicy)
	})

	t.Run("should refuse to overwrite without force", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ayatori.json")
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))

		prevCfg, prevForce := cfgFile, configureForce
		cfgFile, configureForce = path, false
		defer func() { cfgFile, configureForce = prevCfg, prevForce }()

		err := runConfigure(configureCmd, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already exists")
	})

	t.Run("should overwrite with force", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ayatori.json")
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))

		prevCfg, prevForce := cfgFile, configureForce
		cfgFile, configureForce = path, true
		defer func() { cfgFile, configureForce = prevCfg, prevForce }()

		err := runConfigure(configureCmd, nil)
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "workspace_root")
	})
}
