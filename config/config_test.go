package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Read draws from the global viper instance; reset it before each case so
// tests don't leak config state into one another.
func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
}

func TestDefaults_AreSane(t *testing.T) {
	d := Defaults()
	assert.Equal(t, 14700, d.Port)
	assert.Equal(t, 8, d.TargetLinks)
	assert.Equal(t, 0, d.MaxDynamicPeers)
	assert.False(t, d.IsMaster)
}

func TestRead_MissingFileFallsBackToDefaults(t *testing.T) {
	resetViper(t)
	cfg, err := Read(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().TargetLinks, cfg.TargetLinks)
	assert.Equal(t, Defaults().CycleInterval, cfg.CycleInterval)
}

// Durations are parsed as seconds, not viper's default nanosecond
// GetDuration interpretation of a bare integer.
func TestRead_DurationsAreSeconds(t *testing.T) {
	resetViper(t)
	path := filepath.Join(t.TempDir(), ".nelson.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nelson:\n  cycleInterval: 30\n  epochInterval: 600\n"), 0o644))

	cfg, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.CycleInterval)
	assert.Equal(t, 600*time.Second, cfg.EpochInterval)
}

func TestRead_OverlaysOnlySetKeys(t *testing.T) {
	resetViper(t)
	path := filepath.Join(t.TempDir(), ".nelson.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nelson:\n  port: 9999\n"), 0o644))

	cfg, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, Defaults().TargetLinks, cfg.TargetLinks)
}

func TestWriteTemplate_ProducesReadableConfig(t *testing.T) {
	resetViper(t)
	path := filepath.Join(t.TempDir(), ".nelson.yaml")
	require.NoError(t, WriteTemplate(path))

	cfg, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, Defaults().Port, cfg.Port)
	assert.Equal(t, Defaults().TargetLinks, cfg.TargetLinks)
}
