package plugin

import "errors"

// Plugin system errors.
var (
	// ErrNoEntryPoint is returned when a plugin directory has neither a
	// manifest nor an init.lua.
	ErrNoEntryPoint = errors.New("plugin has no manifest or init.lua")

	// ErrAlreadyLoaded is returned when two plugins share a name.
	ErrAlreadyLoaded = errors.New("plugin is already loaded")

	// ErrUnknownRuntime is returned when no factory serves a plugin's runtime.
	ErrUnknownRuntime = errors.New("no factory for plugin runtime")
)
