package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/pelletier/go-toml/v2"
)

// Setting keys.
const (
	KeyQuickInfoEnabled   = "quickInfo.enabled"
	KeyQuickInfoDelay     = "quickInfo.delay"
	KeyCompletionsEnabled = "completions.enabled"
	KeyUseDefaultConfig   = "useDefaultConfig"
	KeyPluginPaths        = "plugins.paths"
	KeyQueueSize          = "channel.queueSize"
	KeyLogLevel           = "log.level"
)

// Defaults returns the built-in settings.
func Defaults() map[string]any {
	return map[string]any{
		KeyQuickInfoEnabled:   true,
		KeyQuickInfoDelay:     500,
		KeyCompletionsEnabled: true,
		KeyUseDefaultConfig:   true,
		KeyPluginPaths:        []string{},
		KeyQueueSize:          256,
		KeyLogLevel:           "info",
	}
}

// DefaultPath returns the user config file path.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "exthost", "config.toml")
}

// Config is a layered settings store. It is safe for concurrent use.
type Config struct {
	mu        sync.RWMutex
	defaults  map[string]any
	file      map[string]any
	overrides map[string]any

	path     string
	logger   hclog.Logger
	handlers []func()
}

// Option configures a Config instance.
type Option func(*Config)

// WithFile sets the config file.
func WithFile(path string) Option {
	return func(c *Config) {
		c.path = path
	}
}

// WithLogger sets the logger used for reload diagnostics.
func WithLogger(l hclog.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a config holding the defaults.
func New(opts ...Option) *Config {
	c := &Config{
		defaults:  Defaults(),
		file:      map[string]any{},
		overrides: map[string]any{},
		logger:    hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Path returns the config file path, if any.
func (c *Config) Path() string {
	return c.path
}

// Load reads the config file. A missing file leaves the file layer empty
// and is not an error.
func (c *Config) Load() error {
	if c.path == "" {
		return nil
	}
	values, err := loadFile(c.path)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.file = values
	handlers := append([]func(){}, c.handlers...)
	c.mu.Unlock()

	for _, h := range handlers {
		h()
	}
	return nil
}

// loadFile parses a TOML file into dotted keys.
func loadFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return Parse(path, data)
}

// Parse decodes TOML data into dotted keys.
func Parse(source string, data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		perr := &ParseError{Path: source, Message: err.Error(), Err: err}
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			perr.Line, perr.Column = decodeErr.Position()
		}
		return nil, perr
	}
	return Flatten(doc), nil
}

// Flatten flattens a nested map into a single-level map with dot-separated keys.
func Flatten(data map[string]any) map[string]any {
	result := make(map[string]any)
	flattenRecursive(data, "", result)
	return result
}

func flattenRecursive(data map[string]any, prefix string, result map[string]any) {
	for key, val := range data {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}

		if nested, ok := val.(map[string]any); ok {
			flattenRecursive(nested, fullKey, result)
		} else {
			result[fullKey] = val
		}
	}
}

// OnReload registers fn to run after every successful Load.
func (c *Config) OnReload(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, fn)
}

// Set stores an override. Overrides win over the file and the defaults.
func (c *Config) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides[key] = value
}

// Get returns the value for key from the highest layer that has it.
func (c *Config) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, layer := range []map[string]any{c.overrides, c.file, c.defaults} {
		if v, ok := layer[key]; ok {
			return v, true
		}
	}
	return nil, false
}

// Keys returns every key known to any layer, sorted.
func (c *Config) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := map[string]bool{}
	for _, layer := range []map[string]any{c.overrides, c.file, c.defaults} {
		for k := range layer {
			seen[k] = true
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Bool returns key as a bool.
func (c *Config) Bool(key string) (bool, error) {
	v, ok := c.Get(key)
	if !ok {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s: %w: want bool, got %T", key, ErrTypeMismatch, v)
	}
	return b, nil
}

// Int returns key as an int.
func (c *Config) Int(key string) (int, error) {
	v, ok := c.Get(key)
	if !ok {
		return 0, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("%s: %w: want int, got %T", key, ErrTypeMismatch, v)
	}
}

// String returns key as a string.
func (c *Config) String(key string) (string, error) {
	v, ok := c.Get(key)
	if !ok {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s: %w: want string, got %T", key, ErrTypeMismatch, v)
	}
	return s, nil
}

// Strings returns key as a string slice. A single string is a one-element
// slice.
func (c *Config) Strings(key string) ([]string, error) {
	v, ok := c.Get(key)
	if !ok {
		return nil, nil
	}
	switch s := v.(type) {
	case []string:
		return append([]string(nil), s...), nil
	case string:
		return []string{s}, nil
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s: %w: want string list, got %T element", key, ErrTypeMismatch, item)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s: %w: want string list, got %T", key, ErrTypeMismatch, v)
	}
}

// GetBool returns key as a bool, falling back to the default when the
// configured value has the wrong type.
func (c *Config) GetBool(key string) bool {
	b, err := c.Bool(key)
	if err != nil {
		c.logger.Warn("invalid setting, using default", "key", key, "error", err)
		b, _ = c.defaults[key].(bool)
	}
	return b
}

// GetInt returns key as an int, falling back to the default when the
// configured value has the wrong type.
func (c *Config) GetInt(key string) int {
	n, err := c.Int(key)
	if err != nil {
		c.logger.Warn("invalid setting, using default", "key", key, "error", err)
		n, _ = c.defaults[key].(int)
	}
	return n
}

// GetString returns key as a string, or "" when unset or mistyped.
func (c *Config) GetString(key string) string {
	s, err := c.String(key)
	if err != nil {
		c.logger.Warn("invalid setting, using default", "key", key, "error", err)
		s, _ = c.defaults[key].(string)
	}
	return s
}

// GetStrings returns key as a string slice, or nil when unset or mistyped.
func (c *Config) GetStrings(key string) []string {
	s, err := c.Strings(key)
	if err != nil {
		c.logger.Warn("invalid setting, ignoring", "key", key, "error", err)
		return nil
	}
	return s
}
