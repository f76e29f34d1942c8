package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFile(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "pidfile_test")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())
	tmpfile.Close()

	pidFile, err := New(tmpfile.Name())
	require.NoError(t, err)

	data, err := os.ReadFile(tmpfile.Name())
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	require.NoError(t, pidFile.Write())
	require.NoError(t, pidFile.Remove())
}

func TestNewAndRemove(t *testing.T) {
	pidFilePath := filepath.Join(t.TempDir(), "run", "test.pid")

	pidFile, err := New(pidFilePath)
	require.NoError(t, err, "could not create pid file")

	_, err = New(pidFilePath)
	require.Error(t, err, "pid file creation not blocked")

	require.NoError(t, pidFile.Remove())
}

func TestNewReplacesStalePID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stale.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o644))

	pidFile, err := New(path)
	require.NoError(t, err)
	defer pidFile.Remove()
}

func TestRemoveInvalidPath(t *testing.T) {
	file := PIDFile{path: filepath.Join("foo", "bar")}
	assert.Error(t, file.Remove(), "non-existing file doesn't give an error on delete")
}
