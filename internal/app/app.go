// Package app wires the extension host together and manages its lifecycle.
package app

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"

	"github.com/dshills/exthost/internal/bridge"
	"github.com/dshills/exthost/internal/command"
	"github.com/dshills/exthost/internal/config"
	"github.com/dshills/exthost/internal/exthost"
	"github.com/dshills/exthost/internal/exthost/channel"
	"github.com/dshills/exthost/internal/plugin"
)

// hostEvents are forwarded to the editor.
var hostEvents = []string{
	exthost.EventSetErrors,
	exthost.EventFormat,
	exthost.EventExecuteShellCommand,
	exthost.EventEvaluateBlockResult,
	exthost.EventSetSyntaxHighlights,
	exthost.EventClearSyntaxHighlights,
	exthost.EventSignatureHelp,
}

// Application owns every host component.
type Application struct {
	opts   Options
	logger hclog.Logger

	config     *config.Config
	hub        *channel.Hub
	dispatcher *exthost.Dispatcher
	commands   *command.Table
	registry   *plugin.Registry
	bridge     *bridge.Bridge
	metrics    *Metrics

	running  atomic.Bool
	mu       sync.Mutex
	cancel   context.CancelFunc
	unsubs   []func()
	stopOnce sync.Once
	stopped  atomic.Bool
}

// Options configures the application.
type Options struct {
	// ConfigPath is the TOML config file. Empty means config.DefaultPath().
	ConfigPath string

	// PluginPaths replaces the configured and default plugin roots.
	PluginPaths []string

	// LogLevel overrides log.level from the config file.
	LogLevel string

	// NoDefaultPlugins skips the bundled default plugin root.
	NoDefaultPlugins bool

	// InstallDir is the directory holding the bundled plugins. Empty means
	// the directory of the running executable.
	InstallDir string

	// In and Out carry the editor bridge. They default to stdin and stdout.
	In  io.Reader
	Out io.Writer

	// LogOutput receives log lines. Defaults to stderr.
	LogOutput io.Writer
}

// New creates a new Application with the given options.
func New(opts Options) (*Application, error) {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.LogOutput == nil {
		opts.LogOutput = os.Stderr
	}
	if opts.ConfigPath == "" {
		opts.ConfigPath = config.DefaultPath()
	}

	logCfg := DefaultLoggerConfig()
	logCfg.Output = opts.LogOutput
	logCfg.Level = ParseLogLevel(opts.LogLevel)

	app := &Application{
		opts:     opts,
		logger:   NewLogger(logCfg),
		commands: command.New(),
		metrics:  NewMetrics(),
	}

	if err := app.bootstrap(); err != nil {
		return nil, err
	}
	return app, nil
}

// bootstrap initializes the components in dependency order.
func (app *Application) bootstrap() error {
	// 1. Config
	app.config = config.New(
		config.WithFile(app.opts.ConfigPath),
		config.WithLogger(app.logger.Named("config")),
	)
	if app.opts.LogLevel != "" {
		app.config.Set(config.KeyLogLevel, app.opts.LogLevel)
	}
	if app.opts.NoDefaultPlugins {
		app.config.Set(config.KeyUseDefaultConfig, false)
	}
	if err := app.config.Load(); err != nil {
		// A broken config file is not fatal; defaults apply.
		app.logger.Warn("config not loaded, using defaults", "path", app.opts.ConfigPath, "error", err)
	}
	app.applyLogLevel()
	app.config.OnReload(app.applyLogLevel)

	// 2. Channel
	app.hub = channel.NewHub(
		channel.WithQueueSize(app.config.GetInt(config.KeyQueueSize)),
		channel.WithLogger(app.logger.Named("hub")),
	)

	// 3. Editor bridge
	app.bridge = bridge.New(app.opts.In, app.opts.Out, bridge.WithLogger(app.logger.Named("bridge")))

	// 4. Dispatcher
	app.dispatcher = exthost.New(app.hub,
		exthost.WithUI(app.bridge),
		exthost.WithEditor(app.bridge),
		exthost.WithSettings(app.config),
		exthost.WithLogger(app.logger.Named("dispatcher")),
	)
	if err := app.dispatcher.Start(); err != nil {
		return NewComponentError("dispatcher", "start", err)
	}
	app.dispatcher.Listen(app.bridge)

	for _, name := range hostEvents {
		app.unsubs = append(app.unsubs, app.dispatcher.Subscribe(name, func(ev exthost.HostEvent) {
			app.metrics.RecordHostEvent()
			app.bridge.HostEvent(ev)
		}))
	}

	// 5. Plugin registry
	app.registry = plugin.NewRegistry(app.hub, app.commands,
		plugin.WithContextProvider(app.dispatcher),
		plugin.WithLogger(app.logger.Named("plugins")),
	)

	app.bridge.SetRequester(app.dispatcher)
	app.bridge.SetCommands(countingExecutor{app.commands, app.metrics})
	return nil
}

func (app *Application) applyLogLevel() {
	app.logger.SetLevel(ParseLogLevel(app.config.GetString(config.KeyLogLevel)))
}

// Run loads the plugins and serves the editor bridge until its input ends
// or ctx is done. The application is shut down when Run returns.
func (app *Application) Run(ctx context.Context) error {
	if app.stopped.Load() {
		return ErrShutdown
	}
	if !app.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer app.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	app.mu.Lock()
	app.cancel = cancel
	app.mu.Unlock()
	defer app.Shutdown()

	if err := app.config.Watch(ctx); err != nil && !errors.Is(err, config.ErrNoFile) {
		app.logger.Warn("config live reload unavailable", "error", err)
	}

	roots := app.Roots()
	app.logger.Debug("loading plugins", "roots", roots)
	plugins, err := app.registry.LoadAll(ctx, roots)
	if err != nil {
		// Plugins that failed are skipped; the rest keep working.
		app.logger.Warn("plugin load errors", "error", err)
	}
	app.dispatcher.SetPlugins(plugins)

	err = app.bridge.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown stops the dispatcher and closes every plugin endpoint. It is
// safe to call more than once.
func (app *Application) Shutdown() {
	app.stopOnce.Do(func() {
		app.stopped.Store(true)

		app.mu.Lock()
		cancel := app.cancel
		app.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		for _, unsub := range app.unsubs {
			unsub()
		}
		app.dispatcher.Stop()
		if err := app.hub.Close(); err != nil {
			app.logger.Warn("closing plugins", "error", err)
		}
		app.logger.Debug("shut down")
	})
}

// Roots returns the plugin roots Run loads from: the PluginPaths option
// when set, otherwise plugins.paths followed by the default roots.
func (app *Application) Roots() []string {
	if len(app.opts.PluginPaths) > 0 {
		return expandHome(app.opts.PluginPaths)
	}
	roots := expandHome(app.config.GetStrings(config.KeyPluginPaths))
	return append(roots, plugin.DefaultRoots(app.installDir(), app.config.GetBool(config.KeyUseDefaultConfig))...)
}

func (app *Application) installDir() string {
	if app.opts.InstallDir != "" {
		return app.opts.InstallDir
	}
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Dir(exe)
}

func expandHome(paths []string) []string {
	home, _ := os.UserHomeDir()
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if home != "" && (p == "~" || strings.HasPrefix(p, "~/")) {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
		out = append(out, p)
	}
	return out
}

// IsRunning returns true if Run is in progress.
func (app *Application) IsRunning() bool {
	return app.running.Load()
}

// Logger returns the root logger.
func (app *Application) Logger() hclog.Logger {
	return app.logger
}

// Config returns the configuration.
func (app *Application) Config() *config.Config {
	return app.config
}

// Dispatcher returns the dispatcher.
func (app *Application) Dispatcher() *exthost.Dispatcher {
	return app.dispatcher
}

// Commands returns the command table.
func (app *Application) Commands() *command.Table {
	return app.commands
}

// Plugins returns the loaded plugins.
func (app *Application) Plugins() []*plugin.Plugin {
	return app.registry.Plugins()
}

// Metrics returns a snapshot of the traffic counters.
func (app *Application) Metrics() MetricsSnapshot {
	s := app.metrics.snapshot()
	s.Dropped = app.hub.Dropped()
	s.Plugins = len(app.registry.Plugins())
	return s
}

type countingExecutor struct {
	table   *command.Table
	metrics *Metrics
}

func (c countingExecutor) Execute(ctx context.Context, id string, args ...any) error {
	c.metrics.RecordCommand()
	return c.table.Execute(ctx, id, args...)
}
