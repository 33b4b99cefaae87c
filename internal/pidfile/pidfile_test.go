package pidfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "monitor.pid")

	require.NoError(t, Write(path))
	pid, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), pid)
}

func TestIsRunning_CurrentProcess(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "monitor.pid")
	require.NoError(t, Write(path))

	pid, running := IsRunning(path)
	require.True(t, running)
	require.Equal(t, os.Getpid(), pid)
}

func TestIsRunning_MissingFile(t *testing.T) {
	t.Parallel()
	_, running := IsRunning(filepath.Join(t.TempDir(), "absent.pid"))
	require.False(t, running)
}

func TestIsRunning_StalePIDCleansUp(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "monitor.pid")
	// pid max on Linux defaults to 4194304, so this can never be alive
	require.NoError(t, WritePID(path, 1<<30))

	_, running := IsRunning(path)
	require.False(t, running)
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestIsRunning_GarbageFileCleansUp(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "monitor.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o644))

	_, running := IsRunning(path)
	require.False(t, running)
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestRemove_MissingFileIsQuiet(t *testing.T) {
	t.Parallel()
	Remove(filepath.Join(t.TempDir(), "absent.pid"))
}
