package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("should create logger with defaults", func(t *testing.T) {
		l, err := New(DefaultConfig())
		require.NoError(t, err)
		defer l.Close()

		assert.NotNil(t, l)
	})

	t.Run("should fall back to info on bad level", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Level = "nonsense"

		l, err := New(cfg)
		require.NoError(t, err)
		defer l.Close()

		assert.Equal(t, "info", l.Zerolog().GetLevel().String())
	})

	t.Run("should create log file and parent directory", func(t *testing.T) {
		tmpDir := t.TempDir()
		cfg := DefaultConfig()
		cfg.Console = false
		cfg.File = filepath.Join(tmpDir, "logs", "ayatori.log")

		l, err := New(cfg)
		require.NoError(t, err)
		defer l.Close()

		l.Info().Str("component", "test").Msg("hello")

		_, err = os.Stat(cfg.File)
		assert.NoError(t, err)
	})

	t.Run("should write redacted output to file", func(t *testing.T) {
		tmpDir := t.TempDir()
		cfg := DefaultConfig()
		cfg.Console = false
		cfg.Redaction = true
		cfg.File = filepath.Join(tmpDir, "ayatori.log")

		l, err := New(cfg)
		require.NoError(t, err)

		l.Info().Msg("key is sk-ant-REDACTED")
		require.NoError(t, l.Close())

		data, err := os.ReadFile(cfg.File)
		require.NoError(t, err)
		assert.Contains(t, string(data), "[REDACTED]")
		assert.NotContains(t, string(data), "sk-ant-api03")
	})
}

func TestSetLevel(t *testing.T) {
	l, err := New(Config{Level: "info", Console: true})
	require.NoError(t, err)
	defer l.Close()

	l.SetLevel("debug")
	assert.Equal(t, "debug", l.Zerolog().GetLevel().String())

	// Unknown levels are ignored.
	l.SetLevel("bogus")
	assert.Equal(t, "debug", l.Zerolog().GetLevel().String())
}
