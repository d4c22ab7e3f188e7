package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"start", "--help"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)

		assert.Contains(t, output.String(), "Start the Ayatori daemon")
	})
}

func TestPIDFile(t *testing.T) {
	t.Run("should report not running when PID file is missing", func(t *testing.T) {
		pidFile := filepath.Join(t.TempDir(), "test.pid")
		assert.False(t, isRunning(pidFile))
	})

	t.Run("should report not running for a stale PID", func(t *testing.T) {
		pidFile := filepath.Join(t.TempDir(), "test.pid")
		// PID 1 is init; sending signal 0 to it fails for unprivileged
		// users, and a nonsense PID fails everywhere.
		require.NoError(t, os.WriteFile(pidFile, []byte("999999999\n"), 0o644))
		assert.False(t, isRunning(pidFile))
	})

	t.Run("should report running for the current process", func(t *testing.T) {
		pidFile := filepath.Join(t.TempDir(), "test.pid")
		pid := strconv.Itoa(os.Getpid())
		require.NoError(t, os.WriteFile(pidFile, []byte(pid+"\n"), 0o644))
		assert.True(t, isRunning(pidFile))
	})

	t.Run("should round-trip through writePIDFile and readPID", func(t *testing.T) {
		pidFile := filepath.Join(t.TempDir(), "nested", "test.pid")
		require.NoError(t, writePIDFile(pidFile))

		pid, err := readPID(pidFile)
		require.NoError(t, err)
		assert.Equal(t, os.Getpid(), pid)
	})

	t.Run("should reject a malformed PID file", func(t *testing.T) {
		pidFile := filepath.Join(t.TempDir(), "test.pid")
		require.NoError(t, os.WriteFile(pidFile, []byte("not a pid"), 0o644))

		_, err := readPID(pidFile)
		assert.Error(t, err)
	})
}

func TestGetPIDFilePath(t *testing.T) {
	path := getPIDFilePath()
	assert.NotEmpty(t, path)
	assert.Contains(t, path, "ayatori.pid")
}
