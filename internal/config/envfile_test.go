package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvFileLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"QUEUEWATCH_GRACE_WINDOW_SECONDS=600\nQUEUEWATCH_LOG_LEVEL=debug\n"), 0600))
	t.Setenv("QUEUEWATCH_LOG_LEVEL", "warn")

	lookup, err := EnvFileLookup(path)
	require.NoError(t, err)

	v, ok := lookup("QUEUEWATCH_GRACE_WINDOW_SECONDS")
	assert.True(t, ok)
	assert.Equal(t, "600", v)

	v, _ = lookup("QUEUEWATCH_LOG_LEVEL")
	assert.Equal(t, "warn", v, "exported variables win over the file")

	_, ok = lookup("QUEUEWATCH_NOT_SET_ANYWHERE")
	assert.False(t, ok)

	cfg, err := LoadWithEnv(writeConfig(t, "engine:\n  grace_window_seconds: 120\n"), lookup)
	require.NoError(t, err)
	assert.Equal(t, 600, cfg.Engine.GraceWindowSeconds)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestEnvFileLookup_MissingFile(t *testing.T) {
	_, err := EnvFileLookup(filepath.Join(t.TempDir(), "missing.env"))

	var cfgErr ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, ErrorTypeIO, cfgErr.ErrorType)
}

func TestEnvFileLookup_EmptyPath(t *testing.T) {
	t.Setenv("QUEUEWATCH_TIMEZONE", "UTC")
	lookup, err := EnvFileLookup("")
	require.NoError(t, err)

	v, ok := lookup("QUEUEWATCH_TIMEZONE")
	assert.True(t, ok)
	assert.Equal(t, "UTC", v)
}
