package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Levels(t *testing.T) {
	l, closer, err := New(Options{})
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())

	l, _, err = New(Options{Debug: true})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
}

func TestNew_FileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portsync.log")
	l, closer, err := New(Options{File: path, Format: "json"})
	require.NoError(t, err)
	require.NotNil(t, closer)

	Component(l, "test").WithField("port", 12345).Info("Host listening port updated")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"port":12345`)
	assert.Contains(t, string(data), `"component":"test"`)
}

func TestNew_UnknownFormat(t *testing.T) {
	_, _, err := New(Options{Format: "xml"})
	require.Error(t, err)
}
