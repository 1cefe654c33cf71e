package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskloop.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
tick_budget = 256

[logging]
level = "debug"
file = "/var/log/taskloop.log"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 256, cfg.TickBudget)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, Default().StackSize, cfg.StackSize)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/path/taskloop.toml")
	require.Error(t, err)
}
