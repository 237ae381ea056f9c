// Package channel provides the duplex transport between the extension host
// and its plugins.
//
// The host side is the Channel interface: fire-and-forget Send with a
// per-plugin filter, and a single response handler receiving everything the
// plugins send back. Hub is the implementation; it fans messages out to
// Endpoints, which are the per-plugin halves of a transport. Endpoints exist
// for in-process Go plugins (FuncEndpoint), in-process Lua plugins
// (plugin/lua), framed stdio processes (channel/stdio) and go-plugin gRPC
// processes (channel/grpcplugin). The Dispatcher only ever sees Channel.
//
// Ordering: messages to one endpoint are delivered in Send order. Responses
// arrive in whatever order plugins produce them.
package channel

import (
	"context"

	"github.com/dshills/exthost/internal/exthost/capability"
	"github.com/dshills/exthost/internal/exthost/protocol"
)

// Channel is the host-side view of the transport.
type Channel interface {
	// Send delivers msg to every plugin admitted by filter. It never blocks
	// on plugin work.
	Send(msg protocol.OutboundMessage, filter Filter)

	// OnResponse registers the handler receiving every plugin response.
	// Only one handler may be registered at a time.
	OnResponse(handler ResponseHandler) (Subscription, error)
}

// ResponseHandler receives plugin responses. It may be called from several
// goroutines at once.
type ResponseHandler func(resp protocol.PluginResponse)

// Subscription cancels a response handler registration.
type Subscription interface {
	Unsubscribe()
}

// Emit is handed to an endpoint on start; the endpoint calls it for every
// response its plugin produces.
type Emit func(resp protocol.PluginResponse)

// Endpoint is the per-plugin half of a transport.
type Endpoint interface {
	// Name is the unique plugin name.
	Name() string

	// Capabilities is the plugin's declared capability set.
	Capabilities() capability.Set

	// Start connects the endpoint. Responses are reported through emit until
	// Close is called.
	Start(ctx context.Context, emit Emit) error

	// Deliver hands one message to the plugin. Calls for one endpoint are
	// never concurrent.
	Deliver(ctx context.Context, msg protocol.OutboundMessage) error

	// Close disconnects the endpoint and releases its resources.
	Close() error
}

// Filter selects the recipients of a message.
type Filter struct {
	capability.Requirement

	// Plugin restricts delivery to the named plugin. When set and the
	// requirement is empty, the plugin receives the message unconditionally.
	Plugin string
}

// To returns a filter addressing a single plugin.
func To(plugin string) Filter {
	return Filter{Plugin: plugin}
}

// Admits reports whether an endpoint named name with capabilities set
// passes the filter.
func (f Filter) Admits(name string, set capability.Set) bool {
	if f.Plugin != "" && f.Plugin != name {
		return false
	}
	if f.Requirement.Name == "" {
		return f.Plugin != ""
	}
	return capability.Matches(set, f.Requirement)
}
