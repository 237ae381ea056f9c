package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// replaceConfig swaps the file in one step so a watcher never sees it
// half written.
func replaceConfig(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0644))
	require.NoError(t, os.Rename(tmp, path))
}

func TestDefaults(t *testing.T) {
	c := New()
	require.NoError(t, c.Load())

	assert.True(t, c.GetBool(KeyQuickInfoEnabled))
	assert.True(t, c.GetBool(KeyCompletionsEnabled))
	assert.True(t, c.GetBool(KeyUseDefaultConfig))
	assert.Equal(t, 500, c.GetInt(KeyQuickInfoDelay))
	assert.Equal(t, 256, c.GetInt(KeyQueueSize))
	assert.Equal(t, "info", c.GetString(KeyLogLevel))
	assert.Empty(t, c.GetStrings(KeyPluginPaths))
}

func TestLoadFileFlattensTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeConfig(t, path, `
useDefaultConfig = false

[quickInfo]
enabled = false
delay = 120

[plugins]
paths = ["/opt/plugins", "~/plugins"]

[log]
level = "debug"
`)

	c := New(WithFile(path))
	require.NoError(t, c.Load())

	assert.False(t, c.GetBool(KeyQuickInfoEnabled))
	assert.Equal(t, 120, c.GetInt(KeyQuickInfoDelay))
	assert.False(t, c.GetBool(KeyUseDefaultConfig))
	assert.Equal(t, []string{"/opt/plugins", "~/plugins"}, c.GetStrings(KeyPluginPaths))
	assert.Equal(t, "debug", c.GetString(KeyLogLevel))

	// untouched keys keep their defaults
	assert.True(t, c.GetBool(KeyCompletionsEnabled))
	assert.Contains(t, c.Keys(), KeyQuickInfoDelay)
}

func TestMissingFileIsNotAnError(t *testing.T) {
	c := New(WithFile(filepath.Join(t.TempDir(), "absent.toml")))
	require.NoError(t, c.Load())
	assert.Equal(t, 500, c.GetInt(KeyQuickInfoDelay))
}

func TestParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeConfig(t, path, "[quickInfo\nenabled = true\n")

	err := New(WithFile(path)).Load()
	require.Error(t, err)

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, path, perr.Path)
	assert.Positive(t, perr.Line)
}

func TestOverridesWin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeConfig(t, path, "[log]\nlevel = \"warn\"\n")

	c := New(WithFile(path))
	require.NoError(t, c.Load())
	assert.Equal(t, "warn", c.GetString(KeyLogLevel))

	c.Set(KeyLogLevel, "trace")
	assert.Equal(t, "trace", c.GetString(KeyLogLevel))
}

func TestTypeMismatchFallsBackToDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeConfig(t, path, "[quickInfo]\nenabled = \"yes\"\ndelay = \"soon\"\n")

	c := New(WithFile(path))
	require.NoError(t, c.Load())

	_, err := c.Bool(KeyQuickInfoEnabled)
	assert.ErrorIs(t, err, ErrTypeMismatch)
	assert.True(t, c.GetBool(KeyQuickInfoEnabled))
	assert.Equal(t, 500, c.GetInt(KeyQuickInfoDelay))
}

func TestStringsAcceptsSingleString(t *testing.T) {
	c := New()
	c.Set(KeyPluginPaths, "/one")
	assert.Equal(t, []string{"/one"}, c.GetStrings(KeyPluginPaths))
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	writeConfig(t, path, "[quickInfo]\ndelay = 100\n")

	c := New(WithFile(path))
	require.NoError(t, c.Load())

	var reloads atomic.Int32
	c.OnReload(func() { reloads.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Watch(ctx))

	replaceConfig(t, path, "[quickInfo]\ndelay = 900\n")
	require.Eventually(t, func() bool {
		return c.GetInt(KeyQuickInfoDelay) == 900
	}, 3*time.Second, 10*time.Millisecond)
	assert.Positive(t, reloads.Load())

	// A broken file keeps the last good values.
	replaceConfig(t, path, "[quickInfo\n")
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 900, c.GetInt(KeyQuickInfoDelay))
}

func TestWatchWithoutFile(t *testing.T) {
	assert.ErrorIs(t, New().Watch(context.Background()), ErrNoFile)
}
