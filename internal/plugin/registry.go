package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/exthost/internal/command"
	"github.com/dshills/exthost/internal/exthost/channel"
	"github.com/dshills/exthost/internal/exthost/channel/grpcplugin"
	"github.com/dshills/exthost/internal/exthost/channel/stdio"
	"github.com/dshills/exthost/internal/exthost/protocol"
	plua "github.com/dshills/exthost/internal/plugin/lua"
)

// Attacher connects endpoints to the channel and sends on it.
type Attacher interface {
	Attach(ctx context.Context, ep channel.Endpoint) error
	Send(msg protocol.OutboundMessage, filter channel.Filter)
}

// CommandRegistrar is the host command system.
type CommandRegistrar interface {
	RegisterCommand(id, title, description, source string, invoke command.Func) error
}

// ContextProvider supplies the editor context attached to plugin commands.
type ContextProvider interface {
	LastEventContext() (protocol.EventContext, bool)
}

// Factory builds the endpoint for a plugin.
type Factory func(m *Manifest, logger hclog.Logger) (channel.Endpoint, error)

// Plugin is one loaded plugin.
type Plugin struct {
	Manifest *Manifest
	Endpoint channel.Endpoint
	State    State

	// Err is the start-up failure when State is StateError.
	Err error
}

// Name returns the plugin name.
func (p *Plugin) Name() string {
	return p.Manifest.Name
}

// Dir returns the plugin root directory.
func (p *Plugin) Dir() string {
	return p.Manifest.Path()
}

// Registry discovers plugins, starts their endpoints and registers their
// commands.
type Registry struct {
	host      Attacher
	commands  CommandRegistrar
	contexts  ContextProvider
	factories map[Runtime]Factory
	logger    hclog.Logger

	mu      sync.RWMutex
	plugins []*Plugin
	names   map[string]bool
	roots   []string
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithFactory sets the endpoint factory for a runtime.
func WithFactory(rt Runtime, f Factory) RegistryOption {
	return func(r *Registry) {
		r.factories[rt] = f
	}
}

// WithContextProvider sets the source of the context attached to plugin
// commands.
func WithContextProvider(p ContextProvider) RegistryOption {
	return func(r *Registry) {
		r.contexts = p
	}
}

// WithLogger sets the registry logger.
func WithLogger(l hclog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates a registry attaching endpoints to host and
// registering commands with commands.
func NewRegistry(host Attacher, commands CommandRegistrar, opts ...RegistryOption) *Registry {
	r := &Registry{
		host:     host,
		commands: commands,
		factories: map[Runtime]Factory{
			RuntimeLua:     luaFactory,
			RuntimeProcess: processFactory,
			RuntimeGRPC:    grpcFactory,
		},
		logger: hclog.NewNullLogger(),
		names:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func luaFactory(m *Manifest, logger hclog.Logger) (channel.Endpoint, error) {
	return plua.NewEndpoint(m.Name, m.Capabilities, plua.Config{Main: m.MainPath()}, logger), nil
}

func processFactory(m *Manifest, logger hclog.Logger) (channel.Endpoint, error) {
	return stdio.NewProcessEndpoint(m.Name, m.Capabilities, stdio.ProcessConfig{
		Command: m.MainPath(),
		Args:    m.Args,
		Dir:     m.Path(),
	}, logger), nil
}

func grpcFactory(m *Manifest, logger hclog.Logger) (channel.Endpoint, error) {
	return grpcplugin.NewEndpoint(m.Name, m.Capabilities, grpcplugin.Config{
		Command: m.MainPath(),
		Args:    m.Args,
		Dir:     m.Path(),
	}, logger), nil
}

// Instantiate loads the plugin in dir, attaches its endpoint and registers
// its commands.
func (r *Registry) Instantiate(ctx context.Context, dir string) (*Plugin, error) {
	m, err := LoadManifestFromDir(dir)
	if err != nil {
		return nil, err
	}
	if err := r.claim(m.Name); err != nil {
		return nil, err
	}

	p := r.start(ctx, m)
	if p.State == StateError {
		r.release(m.Name)
		return nil, p.Err
	}
	r.add(p)

	if err := r.registerCommands(p); err != nil {
		return p, err
	}
	return p, nil
}

// LoadAll discovers and loads every plugin under roots. Endpoints start
// concurrently; commands are registered afterwards in discovery order. The
// returned slice holds the plugins that started; failures are joined into
// the error.
func (r *Registry) LoadAll(ctx context.Context, roots []string) ([]*Plugin, error) {
	r.mu.Lock()
	r.roots = append(r.roots, roots...)
	r.mu.Unlock()

	var errs []error
	var manifests []*Manifest
	for _, dir := range Discover(roots...) {
		m, err := LoadManifestFromDir(dir)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", dir, err))
			continue
		}
		// First root wins on name clashes.
		if err := r.claim(m.Name); err != nil {
			r.logger.Warn("skipping plugin", "dir", dir, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", dir, err))
			continue
		}
		manifests = append(manifests, m)
	}

	started := make([]*Plugin, len(manifests))
	var g errgroup.Group
	for i, m := range manifests {
		i, m := i, m
		g.Go(func() error {
			started[i] = r.start(ctx, m)
			return nil
		})
	}
	_ = g.Wait()

	loaded := make([]*Plugin, 0, len(started))
	for _, p := range started {
		if p.State == StateError {
			r.release(p.Name())
			errs = append(errs, p.Err)
			continue
		}
		r.add(p)
		if err := r.registerCommands(p); err != nil {
			errs = append(errs, err)
		}
		loaded = append(loaded, p)
	}

	r.logger.Info("plugins loaded", "count", len(loaded), "failed", len(errs))
	if len(errs) > 0 {
		return loaded, fmt.Errorf("failed to load %d plugins: %w", len(errs), errors.Join(errs...))
	}
	return loaded, nil
}

// start builds and attaches the endpoint for m. Failures are recorded on
// the returned plugin.
func (r *Registry) start(ctx context.Context, m *Manifest) *Plugin {
	p := &Plugin{Manifest: m, State: StateDiscovered}
	logger := r.logger.Named(m.Name)

	factory, ok := r.factories[m.Runtime]
	if !ok {
		p.State, p.Err = StateError, fmt.Errorf("plugin %s: %w: %s", m.Name, ErrUnknownRuntime, m.Runtime)
		return p
	}

	ep, err := factory(m, logger)
	if err != nil {
		p.State, p.Err = StateError, fmt.Errorf("plugin %s: %w", m.Name, err)
		return p
	}
	p.Endpoint = ep

	if err := r.host.Attach(ctx, ep); err != nil {
		p.State, p.Err = StateError, fmt.Errorf("plugin %s: %w", m.Name, err)
		return p
	}

	p.State = StateActive
	logger.Debug("plugin started", "version", m.Version, "runtime", m.Runtime)
	return p
}

// registerCommands wires the plugin's declared commands into the host
// command system.
func (r *Registry) registerCommands(p *Plugin) error {
	if r.commands == nil {
		return nil
	}
	var errs []error
	source := "plugin:" + p.Name()
	for _, c := range p.Manifest.Commands {
		if err := r.commands.RegisterCommand(c.ID, c.Title, c.Description, source, r.invoker(p.Name(), c.ID)); err != nil {
			errs = append(errs, fmt.Errorf("plugin %s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// invoker returns the command handler that forwards an invocation to the
// owning plugin.
func (r *Registry) invoker(plugin, id string) command.Func {
	return func(_ context.Context, args []any) error {
		var evctx protocol.EventContext
		if r.contexts != nil {
			evctx, _ = r.contexts.LastEventContext()
		}
		if args == nil {
			args = []any{}
		}
		msg, err := protocol.NewMessage(protocol.MessageCommand, protocol.CommandPayload{
			Command: id,
			Args:    args,
			Context: evctx,
		})
		if err != nil {
			return err
		}
		r.host.Send(msg, channel.To(plugin))
		return nil
	}
}

func (r *Registry) claim(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.names[name] {
		return fmt.Errorf("%w: %s", ErrAlreadyLoaded, name)
	}
	r.names[name] = true
	return nil
}

func (r *Registry) release(name string) {
	r.mu.Lock()
	delete(r.names, name)
	r.mu.Unlock()
}

func (r *Registry) add(p *Plugin) {
	r.mu.Lock()
	r.plugins = append(r.plugins, p)
	r.mu.Unlock()
}

// Plugins returns the loaded plugins in load order.
func (r *Registry) Plugins() []*Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Plugin, len(r.plugins))
	copy(out, r.plugins)
	return out
}

// Roots returns the roots passed to LoadAll.
func (r *Registry) Roots() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.roots))
	copy(out, r.roots)
	return out
}
