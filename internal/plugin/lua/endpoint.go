package lua

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/exthost/internal/exthost/capability"
	"github.com/dshills/exthost/internal/exthost/channel"
	"github.com/dshills/exthost/internal/exthost/protocol"
)

// HandlerName is the global function every Lua plugin defines. It is
// called with one table per host message: {id, type, payload}.
const HandlerName = "on_message"

// ModuleName is the module Lua plugins require to talk to the host.
const ModuleName = "exthost"

// Config describes a Lua plugin.
type Config struct {
	// Main is the entry script. Source, when set, is run instead.
	Main   string
	Source string

	Timeout time.Duration
}

// Endpoint runs a Lua plugin in-process.
type Endpoint struct {
	name   string
	caps   capability.Set
	cfg    Config
	logger hclog.Logger

	mu    sync.Mutex
	state *State
	emit  channel.Emit

	// callMu keeps Close from tearing the state down mid-call.
	callMu sync.Mutex
}

// NewEndpoint creates a Lua endpoint. The script is loaded on Start.
func NewEndpoint(name string, caps capability.Set, cfg Config, logger hclog.Logger) *Endpoint {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Endpoint{name: name, caps: caps, cfg: cfg, logger: logger.Named(name)}
}

// Name implements channel.Endpoint.
func (e *Endpoint) Name() string { return e.name }

// Capabilities implements channel.Endpoint.
func (e *Endpoint) Capabilities() capability.Set { return e.caps }

// Start implements channel.Endpoint. It loads the script and checks that it
// defines on_message.
func (e *Endpoint) Start(_ context.Context, emit channel.Emit) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != nil {
		return fmt.Errorf("lua plugin %s already started", e.name)
	}

	opts := []StateOption{}
	if e.cfg.Timeout > 0 {
		opts = append(opts, WithExecutionTimeout(e.cfg.Timeout))
	}
	state := NewState(opts...)
	bridge := NewBridge(state.L)
	state.PreloadModule(ModuleName, e.module(bridge))

	var err error
	switch {
	case e.cfg.Source != "":
		err = state.DoString(e.cfg.Source)
	case e.cfg.Main != "":
		err = state.DoFile(e.cfg.Main)
	default:
		err = errors.New("no script")
	}
	if err != nil {
		_ = state.Close()
		return fmt.Errorf("load lua plugin %s: %w", e.name, err)
	}
	if !state.HasFunction(HandlerName) {
		_ = state.Close()
		return fmt.Errorf("lua plugin %s: %w: %s", e.name, ErrNotFunction, HandlerName)
	}

	e.state = state
	e.emit = emit
	return nil
}

// Deliver implements channel.Endpoint.
func (e *Endpoint) Deliver(_ context.Context, msg protocol.OutboundMessage) error {
	e.callMu.Lock()
	defer e.callMu.Unlock()

	e.mu.Lock()
	state := e.state
	e.mu.Unlock()

	if state == nil || state.IsClosed() {
		return channel.ErrEndpointClosed
	}

	bridge := NewBridge(state.L)
	payload, err := bridge.FromJSON(msg.Payload)
	if err != nil {
		return fmt.Errorf("message %s: %w", msg.ID, err)
	}

	t := state.L.NewTable()
	t.RawSetString("id", lua.LString(msg.ID))
	t.RawSetString("type", lua.LString(msg.Type))
	t.RawSetString("payload", payload)

	if _, err := state.Call(HandlerName, t); err != nil {
		return fmt.Errorf("%s: %w", HandlerName, err)
	}
	return nil
}

// Close implements channel.Endpoint.
func (e *Endpoint) Close() error {
	e.callMu.Lock()
	defer e.callMu.Unlock()

	e.mu.Lock()
	state := e.state
	e.emit = nil
	e.mu.Unlock()

	if state == nil {
		return nil
	}
	return state.Close()
}

func (e *Endpoint) send(resp protocol.PluginResponse) {
	e.mu.Lock()
	emit := e.emit
	e.mu.Unlock()
	if emit != nil {
		emit(resp)
	}
}

// module returns the functions of the exthost Lua module:
//
//	exthost.respond(msg, type, payload [, err])
//	exthost.log(level, message)
func (e *Endpoint) module(b *Bridge) map[string]lua.LGFunction {
	return map[string]lua.LGFunction{
		"respond": func(L *lua.LState) int {
			msgTable := L.CheckTable(1)
			typeName := L.CheckString(2)

			msg := protocol.OutboundMessage{}
			if id, ok := b.GetTableString(msgTable, "id"); ok {
				msg.ID = id
			}
			if raw, err := b.ToJSON(msgTable.RawGetString("payload")); err == nil {
				msg.Payload = raw
			}

			typ, ok := protocol.ParseResponseType(typeName)
			if !ok {
				e.logger.Debug("plugin responded with unknown type", "type", typeName)
			}
			resp, err := protocol.Respond(msg, typ, nil)
			if err != nil {
				L.RaiseError("%s", err.Error())
				return 0
			}
			if L.GetTop() >= 3 && L.Get(3) != lua.LNil {
				raw, err := b.ToJSON(L.Get(3))
				if err != nil {
					L.RaiseError("%s", err.Error())
					return 0
				}
				resp.Payload = raw
			}
			if L.GetTop() >= 4 && L.Get(4) != lua.LNil {
				raw, err := b.ToJSON(L.Get(4))
				if err != nil {
					L.RaiseError("%s", err.Error())
					return 0
				}
				resp.Error = raw
			}

			e.send(resp)
			return 0
		},
		"log": func(L *lua.LState) int {
			level := hclog.LevelFromString(strings.ToLower(L.CheckString(1)))
			if level == hclog.NoLevel {
				level = hclog.Info
			}
			e.logger.Log(level, L.CheckString(2))
			return 0
		},
	}
}
