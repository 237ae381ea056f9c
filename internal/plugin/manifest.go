package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/dshills/exthost/internal/exthost/capability"
)

// Runtime selects how a plugin is run.
type Runtime string

// Plugin runtimes.
const (
	RuntimeLua     Runtime = "lua"     // in-process, gopher-lua
	RuntimeProcess Runtime = "process" // child process, framed stdio
	RuntimeGRPC    Runtime = "grpc"    // child process, go-plugin gRPC
)

// Manifest file names, in lookup order.
var manifestNames = []string{"plugin.json", "plugin.yaml", "plugin.yml"}

// Manifest describes a plugin's metadata, capabilities and commands.
type Manifest struct {
	// Identity
	Name        string `json:"name"`        // Unique identifier (e.g., "quick-docs")
	Version     string `json:"version"`     // Semver (e.g., "1.2.0")
	DisplayName string `json:"displayName"` // Human-readable name
	Description string `json:"description"` // Short description

	// Entry point
	Runtime Runtime  `json:"runtime"` // lua, process or grpc (inferred from main when empty)
	Main    string   `json:"main"`    // Relative path to the script or executable (default: "init.lua")
	Args    []string `json:"args"`    // Extra arguments for process and grpc plugins

	// Capabilities are decoded leniently; see capability.Parse.
	Capabilities capability.Set `json:"-"`

	// Contributions
	Commands []CommandContribution `json:"commands"`

	// Internal: path to the plugin directory
	path string
}

// CommandContribution declares a command the plugin provides.
type CommandContribution struct {
	ID          string `json:"id"`          // Command ID (e.g., "quickdocs.open")
	Title       string `json:"title"`       // Display title
	Description string `json:"description"` // Long description
}

// Validation errors.
var (
	ErrMissingName        = errors.New("manifest: name is required")
	ErrInvalidName        = errors.New("manifest: name must be alphanumeric with hyphens")
	ErrMissingVersion     = errors.New("manifest: version is required")
	ErrInvalidVersion     = errors.New("manifest: version must be valid semver")
	ErrInvalidRuntime     = errors.New("manifest: runtime must be lua, process or grpc")
	ErrInvalidMain        = errors.New("manifest: lua plugins need a .lua main file")
	ErrMissingCommandID   = errors.New("manifest: command id is required")
	ErrMissingCommandName = errors.New("manifest: command title is required")
	ErrDuplicateCommand   = errors.New("manifest: duplicate command id")
)

// namePattern validates plugin names.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*[a-z0-9]$|^[a-z]$`)

// semverPattern validates version strings (simplified semver).
var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// LoadManifest loads and validates a plugin manifest from a JSON or YAML
// file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse manifest: %w", err)
		}
	}

	m, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	m.path = filepath.Dir(path)
	return m, nil
}

// ParseManifest decodes and validates a JSON manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	m.Capabilities = capability.Parse([]byte(gjson.GetBytes(data, "capabilities").Raw))

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// yamlToJSON re-encodes a YAML document as JSON so both formats share one
// decoding path.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}
	return json.Marshal(doc)
}

// LoadManifestFromDir loads a manifest from a plugin directory. It looks
// for plugin.json, then plugin.yaml; a directory with only an init.lua gets
// a minimal manifest named after the directory.
func LoadManifestFromDir(dir string) (*Manifest, error) {
	for _, name := range manifestNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadManifest(path)
		}
	}

	if _, err := os.Stat(filepath.Join(dir, "init.lua")); err == nil {
		m := NewManifestMinimal(filepath.Base(dir), dir)
		if err := m.Validate(); err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoEntryPoint, dir)
}

// NewManifestMinimal creates a minimal manifest for a bare Lua plugin.
func NewManifestMinimal(name, path string) *Manifest {
	return &Manifest{
		Name:    name,
		Version: "0.0.0",
		Runtime: RuntimeLua,
		Main:    "init.lua",
		path:    path,
	}
}

// applyDefaults sets default values for optional fields.
func (m *Manifest) applyDefaults() {
	if m.Main == "" {
		m.Main = "init.lua"
	}
	if m.Version == "" {
		m.Version = "0.0.0"
	}
	if m.Runtime == "" {
		m.Runtime = inferRuntime(m.Main)
	}
}

// inferRuntime picks lua for .lua entry points and process for anything
// else. gRPC plugins must say so.
func inferRuntime(main string) Runtime {
	if main == "" || filepath.Ext(main) == ".lua" {
		return RuntimeLua
	}
	return RuntimeProcess
}

// Validate checks that the manifest is valid.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return ErrMissingName
	}
	if !namePattern.MatchString(m.Name) {
		return fmt.Errorf("%w: %s", ErrInvalidName, m.Name)
	}

	if m.Version == "" {
		return ErrMissingVersion
	}
	if !semverPattern.MatchString(m.Version) {
		return fmt.Errorf("%w: %s", ErrInvalidVersion, m.Version)
	}

	rt := m.Runtime
	if rt == "" {
		rt = inferRuntime(m.Main)
	}
	switch rt {
	case RuntimeLua:
		if m.Main != "" && filepath.Ext(m.Main) != ".lua" {
			return fmt.Errorf("%w: %s", ErrInvalidMain, m.Main)
		}
	case RuntimeProcess, RuntimeGRPC:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRuntime, m.Runtime)
	}

	seen := make(map[string]bool, len(m.Commands))
	for i, cmd := range m.Commands {
		if cmd.ID == "" {
			return fmt.Errorf("%w at index %d", ErrMissingCommandID, i)
		}
		if cmd.Title == "" {
			return fmt.Errorf("%w at index %d (id: %s)", ErrMissingCommandName, i, cmd.ID)
		}
		if seen[cmd.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateCommand, cmd.ID)
		}
		seen[cmd.ID] = true
	}

	return nil
}

// Path returns the path to the plugin directory.
func (m *Manifest) Path() string {
	return m.path
}

// MainPath returns the full path to the entry point.
func (m *Manifest) MainPath() string {
	if filepath.IsAbs(m.Main) {
		return m.Main
	}
	return filepath.Join(m.path, m.Main)
}

// String returns a string representation of the manifest.
func (m *Manifest) String() string {
	display := m.DisplayName
	if display == "" {
		display = m.Name
	}
	return fmt.Sprintf("%s v%s", display, m.Version)
}
