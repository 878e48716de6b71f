package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644))
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "server:\n  port: 9100\n")

	v, err := Load(dir, "config")
	require.NoError(t, err)
	assert.Equal(t, 9100, v.GetInt("server.port"))
}

func TestLoadMissingFileFallsBackToEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9200")

	v, err := Load(t.TempDir(), "config")
	require.NoError(t, err)
	assert.Equal(t, 9200, v.GetInt("server.port"))
}

func TestLoadHonorsConfigDirOverride(t *testing.T) {
	override := t.TempDir()
	writeConfig(t, override, "log:\n  level: debug\n")
	t.Setenv(EnvConfigDir, override)

	v, err := Load(t.TempDir(), "config")
	require.NoError(t, err)
	assert.Equal(t, "debug", v.GetString("log.level"))
}
