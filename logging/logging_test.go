package logging

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/taskloop/taskloop/config"
)

func TestNewConsoleLogger(t *testing.T) {
	l, err := New(config.Logging{Console: true, Level: "debug"})
	require.NoError(t, err)
	require.NotNil(t, l)
	l.Info("hello")
}

func TestNewFileLogger(t *testing.T) {
	dir := t.TempDir()
	l, err := New(config.Logging{File: filepath.Join(dir, "taskloop.log"), Level: "info"})
	require.NoError(t, err)
	require.NotNil(t, l)
	l.Info("hello")
}

func TestNewInvalidLevel(t *testing.T) {
	_, err := New(config.Logging{Console: true, Level: "not-a-level"})
	require.Error(t, err)
}
