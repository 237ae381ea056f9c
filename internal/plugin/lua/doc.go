// Package lua runs extension-host plugins written in Lua, in-process, on
// gopher-lua.
//
// # State
//
// State wraps an LState with a mutex, a per-call execution timeout and only
// the safe standard libraries (base, package, table, string, math). The
// file loaders are removed and package.path is emptied, so require only
// resolves preloaded Go modules.
//
//	state := lua.NewState(lua.WithExecutionTimeout(time.Second))
//	defer state.Close()
//
//	if err := state.DoFile("main.lua"); err != nil {
//	    return err
//	}
//
// # Bridge
//
// Bridge converts JSON-shaped values between Go and Lua. Arrays become
// sequences, objects become tables with string keys.
//
// # Endpoint
//
// Endpoint is a channel.Endpoint. A Lua plugin defines a global
// on_message(msg) receiving {id, type, payload} and answers through the
// exthost module:
//
//	local exthost = require("exthost")
//
//	function on_message(msg)
//	  if msg.type == "request" and msg.payload.name == "quick-info" then
//	    exthost.respond(msg, "show-quick-info", {info = "...", documentation = ""})
//	  end
//	end
//
// respond copies the event context of msg into the response origin, so
// the host can tell whether the answer is still current.
package lua
