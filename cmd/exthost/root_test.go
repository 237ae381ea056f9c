package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestVersionCommand(t *testing.T) {
	assert.Contains(t, execute(t, "version"), "exthost dev")
}

func TestPluginsList(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "docs")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.json"), []byte(`{
  "name": "docs",
  "version": "0.2.0",
  "commands": [{"id": "docs.open", "title": "Open docs"}]
}`), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0755))

	cfg := filepath.Join(t.TempDir(), "config.toml")
	out := execute(t, "plugins", "list", "--config", cfg, "--plugins", root)

	assert.Contains(t, out, "NAME")
	assert.Regexp(t, `docs\s+0\.2\.0\s+lua\s+1`, out)
	assert.Contains(t, out, filepath.Join(root, "empty"))
}

func TestPluginsListEmpty(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "config.toml")
	out := execute(t, "plugins", "list", "--config", cfg, "--plugins", t.TempDir())
	assert.Contains(t, out, "No plugins found.")
}

func TestRunServesUntilEOF(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "config.toml")
	out := execute(t, "run", "--config", cfg, "--plugins", t.TempDir(), "--log-level", "error")
	assert.Empty(t, out)
}
