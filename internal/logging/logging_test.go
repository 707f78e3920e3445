package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restoreDefault(t *testing.T) {
	prev := log.Default()
	t.Cleanup(func() { log.SetDefault(prev) })
}

func TestInitializeToFile(t *testing.T) {
	restoreDefault(t)
	path := filepath.Join(t.TempDir(), "logs", "listenup.log")

	closer, err := Initialize(Options{Debug: true, File: path})
	require.NoError(t, err)

	assert.Equal(t, log.DebugLevel, log.GetLevel())
	New("playback").Info("Opening segment", "index", 2)
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Logging initialized")
	assert.Contains(t, string(data), "playback")
	assert.Contains(t, string(data), "index=2")
}

func TestInitializeLevels(t *testing.T) {
	restoreDefault(t)

	closer, err := Initialize(Options{Quiet: true})
	require.NoError(t, err)
	assert.Equal(t, log.InfoLevel, log.GetLevel())
	assert.NoError(t, closer())
}

func TestInitializeBadPath(t *testing.T) {
	restoreDefault(t)
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	_, err := Initialize(Options{File: filepath.Join(blocker, "sub", "x.log")})
	assert.Error(t, err)
}
