package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/exthost/internal/command"
	"github.com/dshills/exthost/internal/exthost/capability"
	"github.com/dshills/exthost/internal/exthost/channel"
	"github.com/dshills/exthost/internal/exthost/protocol"
)

// echoScript answers every command with an execute-shell-command response
// naming the plugin, the command and the line it was invoked on.
const echoScript = `
local exthost = require("exthost")

function on_message(msg)
  if msg.type == "command" then
    exthost.respond(msg, "execute-shell-command", {
      plugin = PLUGIN,
      command = msg.payload.command,
      line = msg.payload.context.line,
      args = msg.payload.args,
    })
  end
end
`

type fixedContext struct{ ctx protocol.EventContext }

func (f fixedContext) LastEventContext() (protocol.EventContext, bool) { return f.ctx, true }

func writePlugin(t *testing.T, root, name, manifest string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	if manifest != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.json"), []byte(manifest), 0644))
	}
	script := "PLUGIN = \"" + name + "\"\n" + echoScript
	require.NoError(t, os.WriteFile(filepath.Join(dir, "init.lua"), []byte(script), 0644))
	return dir
}

type responses struct {
	mu  sync.Mutex
	got []protocol.PluginResponse
}

func (r *responses) handle(resp protocol.PluginResponse) {
	r.mu.Lock()
	r.got = append(r.got, resp)
	r.mu.Unlock()
}

func (r *responses) all() []protocol.PluginResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.PluginResponse(nil), r.got...)
}

func newTestRegistry(t *testing.T, opts ...RegistryOption) (*Registry, *channel.Hub, *command.Table, *responses) {
	t.Helper()
	hub := channel.NewHub()
	t.Cleanup(func() { _ = hub.Close() })

	resps := &responses{}
	_, err := hub.OnResponse(resps.handle)
	require.NoError(t, err)

	table := command.New()
	opts = append([]RegistryOption{WithLogger(hclog.NewNullLogger())}, opts...)
	return NewRegistry(hub, table, opts...), hub, table, resps
}

func TestRegistryLoadAll(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "alpha", `{
		"name": "alpha",
		"version": "1.0.0",
		"capabilities": {"subscriptions": ["buffer-update"]},
		"commands": [{"id": "alpha.run", "title": "Run Alpha"}]
	}`)
	writePlugin(t, root, "beta", "")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0755))

	reg, hub, table, _ := newTestRegistry(t)
	plugins, err := reg.LoadAll(context.Background(), []string{root, "/nonexistent/root"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoEntryPoint)
	require.Len(t, plugins, 2)
	assert.Equal(t, "alpha", plugins[0].Name())
	assert.Equal(t, "beta", plugins[1].Name())
	for _, p := range plugins {
		assert.Equal(t, StateActive, p.State)
	}

	assert.ElementsMatch(t, []string{"alpha", "beta"}, hub.Endpoints())
	assert.True(t, plugins[0].Endpoint.Capabilities().Subscribes(capability.SubscriptionBufferUpdate))
	assert.Equal(t, []string{root, "/nonexistent/root"}, reg.Roots())

	cmd, ok := table.Get("alpha.run")
	require.True(t, ok)
	assert.Equal(t, "plugin:alpha", cmd.Source)
	assert.Equal(t, 1, table.Count())
}

func TestRegistryCommandTargetsOwningPlugin(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "alpha", `{"name": "alpha", "version": "1.0.0", "commands": [{"id": "alpha.run", "title": "Run"}]}`)
	writePlugin(t, root, "beta", `{"name": "beta", "version": "1.0.0"}`)

	origin := protocol.EventContext{BufferFullPath: "/a.go", Line: 7, Column: 1}
	reg, _, table, resps := newTestRegistry(t, WithContextProvider(fixedContext{origin}))
	_, err := reg.LoadAll(context.Background(), []string{root})
	require.NoError(t, err)

	require.NoError(t, table.Execute(context.Background(), "alpha.run", "x"))

	require.Eventually(t, func() bool { return len(resps.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	// Give a mistargeted delivery time to show up.
	time.Sleep(20 * time.Millisecond)
	got := resps.all()
	require.Len(t, got, 1)

	resp := got[0]
	assert.Equal(t, "alpha", resp.Plugin)
	assert.Equal(t, protocol.ResponseExecuteShellCommand, resp.Type)

	var payload struct {
		Plugin  string `json:"plugin"`
		Command string `json:"command"`
		Line    int    `json:"line"`
		Args    []any  `json:"args"`
	}
	require.NoError(t, json.Unmarshal(resp.Payload, &payload))
	assert.Equal(t, "alpha", payload.Plugin)
	assert.Equal(t, "alpha.run", payload.Command)
	assert.Equal(t, 7, payload.Line)
	assert.Equal(t, []any{"x"}, payload.Args)

	gotOrigin, ok := resp.Origin()
	require.True(t, ok)
	assert.True(t, protocol.SamePosition(origin, gotOrigin))
}

func TestRegistryDuplicateNameFirstWins(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writePlugin(t, first, "dup", `{"name": "dup", "version": "1.0.0"}`)
	writePlugin(t, second, "dup", `{"name": "dup", "version": "2.0.0"}`)

	reg, _, _, _ := newTestRegistry(t)
	plugins, err := reg.LoadAll(context.Background(), []string{first, second})

	assert.ErrorIs(t, err, ErrAlreadyLoaded)
	require.Len(t, plugins, 1)
	assert.Equal(t, "1.0.0", plugins[0].Manifest.Version)
}

func TestRegistryStartFailureKeepsOthers(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "good", `{"name": "good", "version": "1.0.0"}`)
	bad := filepath.Join(root, "bad")
	require.NoError(t, os.MkdirAll(bad, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(bad, "plugin.json"),
		[]byte(`{"name": "bad", "version": "1.0.0", "commands": [{"id": "bad.run", "title": "Bad"}]}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(bad, "init.lua"), []byte("this is not lua"), 0644))

	reg, _, table, _ := newTestRegistry(t)
	plugins, err := reg.LoadAll(context.Background(), []string{root})

	require.Error(t, err)
	require.Len(t, plugins, 1)
	assert.Equal(t, "good", plugins[0].Name())

	_, ok := table.Get("bad.run")
	assert.False(t, ok, "commands of a failed plugin must not be registered")
	assert.Len(t, reg.Plugins(), 1)
}

func TestRegistryFactoryOverride(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "native")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.json"),
		[]byte(`{"name": "native", "version": "1.0.0", "runtime": "grpc", "main": "bin/native"}`), 0644))

	var built []string
	factory := func(m *Manifest, _ hclog.Logger) (channel.Endpoint, error) {
		built = append(built, m.Name)
		return channel.NewFuncEndpoint(m.Name, m.Capabilities, func(context.Context, protocol.OutboundMessage, channel.Emit) {}), nil
	}

	reg, hub, _, _ := newTestRegistry(t, WithFactory(RuntimeGRPC, factory))
	p, err := reg.Instantiate(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, StateActive, p.State)
	assert.Equal(t, []string{"native"}, built)
	assert.Equal(t, []string{"native"}, hub.Endpoints())

	_, err = reg.Instantiate(context.Background(), dir)
	assert.ErrorIs(t, err, ErrAlreadyLoaded)
}

func TestRegistryUnknownRuntimeFactory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "proc")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.json"),
		[]byte(`{"name": "proc", "version": "1.0.0", "main": "bin/proc"}`), 0644))

	hub := channel.NewHub()
	defer hub.Close()
	reg := NewRegistry(hub, nil)
	delete(reg.factories, RuntimeProcess)

	_, err := reg.Instantiate(context.Background(), dir)
	assert.True(t, errors.Is(err, ErrUnknownRuntime), "error = %v", err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "discovered", StateDiscovered.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "error", StateError.String())
	assert.Equal(t, "unknown", State(99).String())
}
