package channel

import (
	"context"
	"sync"

	"github.com/dshills/exthost/internal/exthost/capability"
	"github.com/dshills/exthost/internal/exthost/protocol"
)

// HandlerFunc is an in-process plugin. It receives each message together
// with a reply function bound to the plugin's response stream.
type HandlerFunc func(ctx context.Context, msg protocol.OutboundMessage, reply Emit)

// FuncEndpoint runs a Go function as an in-process plugin. It is used for
// embedded core plugins and in tests.
type FuncEndpoint struct {
	name    string
	caps    capability.Set
	handler HandlerFunc

	mu     sync.RWMutex
	emit   Emit
	closed bool
}

// NewFuncEndpoint creates an in-process endpoint.
func NewFuncEndpoint(name string, caps capability.Set, handler HandlerFunc) *FuncEndpoint {
	return &FuncEndpoint{name: name, caps: caps, handler: handler}
}

// Name implements Endpoint.
func (e *FuncEndpoint) Name() string { return e.name }

// Capabilities implements Endpoint.
func (e *FuncEndpoint) Capabilities() capability.Set { return e.caps }

// Start implements Endpoint.
func (e *FuncEndpoint) Start(_ context.Context, emit Emit) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emit = emit
	e.closed = false
	return nil
}

// Deliver implements Endpoint.
func (e *FuncEndpoint) Deliver(ctx context.Context, msg protocol.OutboundMessage) error {
	e.mu.RLock()
	emit, closed := e.emit, e.closed
	e.mu.RUnlock()

	if closed || emit == nil {
		return ErrEndpointClosed
	}
	if e.handler != nil {
		e.handler(ctx, msg, e.reply)
	}
	return nil
}

// reply forwards a response unless the endpoint has been closed since.
func (e *FuncEndpoint) reply(resp protocol.PluginResponse) {
	e.mu.RLock()
	emit, closed := e.emit, e.closed
	e.mu.RUnlock()

	if !closed && emit != nil {
		emit(resp)
	}
}

// Close implements Endpoint.
func (e *FuncEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
