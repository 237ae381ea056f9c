// Package plugin discovers extension-host plugins, starts them on the
// channel and registers their commands with the host.
//
// # Plugin Structure
//
// Every immediate subdirectory of a plugin root is one plugin:
//
//	~/.config/exthost/plugins/quick-docs/
//	├── plugin.json      # Manifest (plugin.yaml also accepted)
//	└── init.lua         # Entry point
//
// A directory with only an init.lua is a Lua plugin named after the
// directory that declares no capabilities and no commands.
//
// # Manifest
//
//	{
//	  "name": "quick-docs",
//	  "version": "1.0.0",
//	  "displayName": "Quick Docs",
//	  "runtime": "lua",
//	  "main": "init.lua",
//	  "capabilities": {
//	    "subscriptions": ["buffer-update"],
//	    "languageService": ["quick-info"],
//	    "supportedFileTypes": ["typescript", "javascript"]
//	  },
//	  "commands": [
//	    {"id": "quickdocs.open", "title": "Open Docs"}
//	  ]
//	}
//
// # Runtimes
//
//   - lua: the script runs in-process (see plugin/lua)
//   - process: main is executed and spoken to over framed stdio
//     (see exthost/channel/stdio)
//   - grpc: main is a go-plugin binary (see exthost/channel/grpcplugin)
//
// When runtime is omitted it is lua for a .lua main and process otherwise.
//
// # Commands
//
// Each declared command is registered once, when the plugin starts.
// Invoking it sends a "command" message to the owning plugin only,
// carrying the arguments and the editor context of the moment.
package plugin
