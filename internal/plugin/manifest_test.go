package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/dshills/exthost/internal/exthost/capability"
)

func TestLoadManifest(t *testing.T) {
	// Create a temporary manifest file
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "plugin.json")

	content := `{
		"name": "test-plugin",
		"version": "1.0.0",
		"displayName": "Test Plugin",
		"description": "A test plugin",
		"main": "init.lua",
		"capabilities": {
			"subscriptions": ["buffer-update"],
			"languageService": ["quick-info", "goto-definition"],
			"supportedFileTypes": ["typescript"]
		},
		"commands": [
			{"id": "test.command", "title": "Test Command"}
		]
	}`

	if err := os.WriteFile(manifestPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test manifest: %v", err)
	}

	m, err := LoadManifest(manifestPath)
	if err != nil {
		t.Fatalf("LoadManifest() error = %v", err)
	}

	if m.Name != "test-plugin" {
		t.Errorf("Name = %q, want %q", m.Name, "test-plugin")
	}
	if m.Version != "1.0.0" {
		t.Errorf("Version = %q, want %q", m.Version, "1.0.0")
	}
	if m.DisplayName != "Test Plugin" {
		t.Errorf("DisplayName = %q, want %q", m.DisplayName, "Test Plugin")
	}
	if m.Runtime != RuntimeLua {
		t.Errorf("Runtime = %q, want %q", m.Runtime, RuntimeLua)
	}
	want := capability.Set{
		Subscriptions:    []string{"buffer-update"},
		LanguageServices: []string{"quick-info", "goto-definition"},
		Filetypes:        []string{"typescript"},
	}
	if !reflect.DeepEqual(m.Capabilities, want) {
		t.Errorf("Capabilities = %+v, want %+v", m.Capabilities, want)
	}
	if len(m.Commands) != 1 || m.Commands[0].ID != "test.command" {
		t.Errorf("Commands = %v", m.Commands)
	}
	if m.Path() != dir {
		t.Errorf("Path() = %q, want %q", m.Path(), dir)
	}
}

func TestLoadManifestYAML(t *testing.T) {
	dir := t.TempDir()
	content := `
name: yaml-plugin
version: 2.1.0
main: bin/plugin
args: ["--stdio"]
capabilities:
  subscriptions: vim-events
  languageService: [formatting]
commands:
  - id: yaml.run
    title: Run
`
	if err := os.WriteFile(filepath.Join(dir, "plugin.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test manifest: %v", err)
	}

	m, err := LoadManifestFromDir(dir)
	if err != nil {
		t.Fatalf("LoadManifestFromDir() error = %v", err)
	}
	if m.Runtime != RuntimeProcess {
		t.Errorf("Runtime = %q, want %q", m.Runtime, RuntimeProcess)
	}
	if !reflect.DeepEqual(m.Args, []string{"--stdio"}) {
		t.Errorf("Args = %v", m.Args)
	}
	if !m.Capabilities.Subscribes("vim-events") || !m.Capabilities.Provides("formatting") {
		t.Errorf("Capabilities = %+v", m.Capabilities)
	}
	if m.MainPath() != filepath.Join(dir, "bin", "plugin") {
		t.Errorf("MainPath() = %q", m.MainPath())
	}
}

func TestLoadManifestMalformedCapabilities(t *testing.T) {
	m, err := ParseManifest([]byte(`{"name": "odd", "version": "1.0.0", "capabilities": ["quick-info"]}`))
	if err != nil {
		t.Fatalf("ParseManifest() error = %v", err)
	}
	if !m.Capabilities.IsEmpty() {
		t.Errorf("Capabilities = %+v, want empty", m.Capabilities)
	}
}

func TestLoadManifestInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "plugin.json")

	if err := os.WriteFile(manifestPath, []byte("invalid json"), 0644); err != nil {
		t.Fatalf("Failed to write test manifest: %v", err)
	}

	_, err := LoadManifest(manifestPath)
	if err == nil {
		t.Error("LoadManifest() with invalid JSON should return error")
	}
}

func TestLoadManifestNotFound(t *testing.T) {
	_, err := LoadManifest("/nonexistent/path/plugin.json")
	if err == nil {
		t.Error("LoadManifest() with nonexistent file should return error")
	}
}

func TestLoadManifestFromDir(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "plugin.json")

	content := `{
		"name": "test-plugin",
		"version": "1.0.0"
	}`

	if err := os.WriteFile(manifestPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test manifest: %v", err)
	}
	// plugin.json is preferred over plugin.yaml
	if err := os.WriteFile(filepath.Join(dir, "plugin.yaml"), []byte("name: other\n"), 0644); err != nil {
		t.Fatalf("Failed to write test manifest: %v", err)
	}

	m, err := LoadManifestFromDir(dir)
	if err != nil {
		t.Fatalf("LoadManifestFromDir() error = %v", err)
	}

	if m.Name != "test-plugin" {
		t.Errorf("Name = %q, want %q", m.Name, "test-plugin")
	}
}

func TestLoadManifestFromDirInitLua(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bare")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "init.lua"), []byte("-- bare"), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadManifestFromDir(dir)
	if err != nil {
		t.Fatalf("LoadManifestFromDir() error = %v", err)
	}
	if m.Name != "bare" {
		t.Errorf("Name = %q, want %q", m.Name, "bare")
	}
	if m.Path() != dir {
		t.Errorf("Path() = %q, want %q", m.Path(), dir)
	}
}

func TestLoadManifestFromDirNoEntryPoint(t *testing.T) {
	_, err := LoadManifestFromDir(t.TempDir())
	if !errors.Is(err, ErrNoEntryPoint) {
		t.Errorf("LoadManifestFromDir() error = %v, want ErrNoEntryPoint", err)
	}
}

func TestNewManifestMinimal(t *testing.T) {
	m := NewManifestMinimal("my-plugin", "/path/to/plugin")

	if m.Name != "my-plugin" {
		t.Errorf("Name = %q, want %q", m.Name, "my-plugin")
	}
	if m.Version != "0.0.0" {
		t.Errorf("Version = %q, want %q", m.Version, "0.0.0")
	}
	if m.Main != "init.lua" {
		t.Errorf("Main = %q, want %q", m.Main, "init.lua")
	}
	if m.Runtime != RuntimeLua {
		t.Errorf("Runtime = %q, want %q", m.Runtime, RuntimeLua)
	}
	if m.Path() != "/path/to/plugin" {
		t.Errorf("Path() = %q, want %q", m.Path(), "/path/to/plugin")
	}
}

func TestManifestValidate(t *testing.T) {
	tests := []struct {
		name    string
		m       Manifest
		wantErr error
	}{
		{
			name: "valid",
			m:    Manifest{Name: "test-plugin", Version: "1.0.0"},
		},
		{
			name: "valid grpc",
			m:    Manifest{Name: "test-plugin", Version: "1.0.0", Runtime: RuntimeGRPC, Main: "plugin"},
		},
		{
			name:    "missing name",
			m:       Manifest{Version: "1.0.0"},
			wantErr: ErrMissingName,
		},
		{
			name:    "invalid name - uppercase",
			m:       Manifest{Name: "Test-Plugin", Version: "1.0.0"},
			wantErr: ErrInvalidName,
		},
		{
			name:    "invalid name - starts with number",
			m:       Manifest{Name: "1plugin", Version: "1.0.0"},
			wantErr: ErrInvalidName,
		},
		{
			name:    "missing version",
			m:       Manifest{Name: "test-plugin", Version: ""},
			wantErr: ErrMissingVersion,
		},
		{
			name:    "invalid version",
			m:       Manifest{Name: "test-plugin", Version: "invalid"},
			wantErr: ErrInvalidVersion,
		},
		{
			name:    "lua runtime with non-lua main",
			m:       Manifest{Name: "test-plugin", Version: "1.0.0", Runtime: RuntimeLua, Main: "init.js"},
			wantErr: ErrInvalidMain,
		},
		{
			name:    "unknown runtime",
			m:       Manifest{Name: "test-plugin", Version: "1.0.0", Runtime: "wasm"},
			wantErr: ErrInvalidRuntime,
		},
		{
			name:    "command missing id",
			m:       Manifest{Name: "test-plugin", Version: "1.0.0", Commands: []CommandContribution{{Title: "Test"}}},
			wantErr: ErrMissingCommandID,
		},
		{
			name:    "command missing title",
			m:       Manifest{Name: "test-plugin", Version: "1.0.0", Commands: []CommandContribution{{ID: "test.cmd"}}},
			wantErr: ErrMissingCommandName,
		},
		{
			name: "duplicate command",
			m: Manifest{Name: "test-plugin", Version: "1.0.0", Commands: []CommandContribution{
				{ID: "test.cmd", Title: "A"}, {ID: "test.cmd", Title: "B"},
			}},
			wantErr: ErrDuplicateCommand,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestManifestValidNamePatterns(t *testing.T) {
	validNames := []string{
		"a",
		"ab",
		"my-plugin",
		"quick-docs",
		"lsp-client",
		"plugin123",
		"a1b2c3",
	}

	for _, name := range validNames {
		m := Manifest{Name: name, Version: "1.0.0"}
		if err := m.Validate(); err != nil {
			t.Errorf("Name %q should be valid, got error: %v", name, err)
		}
	}
}

func TestManifestInvalidNamePatterns(t *testing.T) {
	invalidNames := []string{
		"",
		"-plugin",   // starts with hyphen
		"plugin-",   // ends with hyphen
		"Plugin",    // uppercase
		"PLUGIN",    // all uppercase
		"my_plugin", // underscore
		"my plugin", // space
		"my.plugin", // dot
		"123plugin", // starts with number
		"a-",        // single char then hyphen
	}

	for _, name := range invalidNames {
		m := Manifest{Name: name, Version: "1.0.0"}
		if err := m.Validate(); err == nil {
			t.Errorf("Name %q should be invalid", name)
		}
	}
}

func TestManifestValidVersionPatterns(t *testing.T) {
	validVersions := []string{
		"0.0.0",
		"1.0.0",
		"1.2.3",
		"10.20.30",
		"1.0.0-alpha",
		"1.0.0-beta.1",
		"1.0.0+build.123",
		"1.0.0-rc.1+build.456",
	}

	for _, version := range validVersions {
		m := Manifest{Name: "test", Version: version}
		if err := m.Validate(); err != nil {
			t.Errorf("Version %q should be valid, got error: %v", version, err)
		}
	}
}

func TestManifestInvalidVersionPatterns(t *testing.T) {
	invalidVersions := []string{
		"",
		"1",
		"1.0",
		"v1.0.0",
		"1.0.0.0",
		"a.b.c",
	}

	for _, version := range invalidVersions {
		m := Manifest{Name: "test", Version: version}
		if err := m.Validate(); err == nil {
			t.Errorf("Version %q should be invalid", version)
		}
	}
}

func TestManifestMainPath(t *testing.T) {
	m := NewManifestMinimal("test", "/path/to/plugin")
	expected := filepath.Join("/path/to/plugin", "init.lua")
	if m.MainPath() != expected {
		t.Errorf("MainPath() = %q, want %q", m.MainPath(), expected)
	}

	m.Main = "/usr/bin/plugin"
	if m.MainPath() != "/usr/bin/plugin" {
		t.Errorf("MainPath() = %q, want absolute main unchanged", m.MainPath())
	}
}

func TestManifestString(t *testing.T) {
	m := &Manifest{Name: "test", Version: "1.0.0", DisplayName: "Test Plugin"}
	expected := "Test Plugin v1.0.0"
	if m.String() != expected {
		t.Errorf("String() = %q, want %q", m.String(), expected)
	}

	// Without display name
	m2 := &Manifest{Name: "test", Version: "1.0.0"}
	expected2 := "test v1.0.0"
	if m2.String() != expected2 {
		t.Errorf("String() = %q, want %q", m2.String(), expected2)
	}
}

func TestManifestApplyDefaults(t *testing.T) {
	m, err := ParseManifest([]byte(`{"name": "test-plugin"}`))
	if err != nil {
		t.Fatalf("ParseManifest() error = %v", err)
	}

	if m.Main != "init.lua" {
		t.Errorf("Main default = %q, want %q", m.Main, "init.lua")
	}
	if m.Version != "0.0.0" {
		t.Errorf("Version default = %q, want %q", m.Version, "0.0.0")
	}
	if m.Runtime != RuntimeLua {
		t.Errorf("Runtime default = %q, want %q", m.Runtime, RuntimeLua)
	}
}
