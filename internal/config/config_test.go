package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o640))
}

func TestLoad_DefaultsOnlyWhenNoFilesPresent(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.RunningAppCheck)
}

func TestLoad_DefaultYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "default.yaml", "server:\n  port: 9090\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host, "unset fields keep their default")
}

func TestLoad_LocalYAMLOverridesDefaultYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "default.yaml", "server:\n  port: 9090\n")
	writeFile(t, dir, "local.yaml", "server:\n  port: 9191\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestLoad_EnvironmentOverridesEverything(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "default.yaml", "server:\n  port: 9090\n")
	writeFile(t, dir, "local.yaml", "server:\n  port: 9191\n")
	t.Setenv("SCOTTY__SERVER__PORT", "7000")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
}

func TestLoad_EnvironmentDecodesDurations(t *testing.T) {
	t.Setenv("SCOTTY__SCHEDULER__TTL_CHECK", "90s")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Scheduler.TTLCheck)
}

func TestLoad_MissingConfigDirIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}
