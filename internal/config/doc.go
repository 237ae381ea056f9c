// Package config provides the extension host's settings.
//
// Settings are looked up by dotted key in three layers, higher layers
// overriding lower:
//
//	┌─────────────────────────────┐
//	│  3. Overrides               │  ← command line flags
//	├─────────────────────────────┤
//	│  2. Config file             │  ← ~/.config/exthost/config.toml
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// TOML tables become key prefixes:
//
//	[quickInfo]
//	enabled = true
//	delay = 300
//
// is read as quickInfo.enabled and quickInfo.delay.
//
// Values are never cached by consumers: the dispatcher asks for them at
// the moment it needs them, so a reload picked up by Watch applies to the
// next editor event.
package config
