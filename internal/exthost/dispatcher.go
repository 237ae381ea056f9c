package exthost

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"

	"github.com/dshills/exthost/internal/exthost/capability"
	"github.com/dshills/exthost/internal/exthost/channel"
	"github.com/dshills/exthost/internal/exthost/protocol"
	"github.com/dshills/exthost/internal/plugin"
)

var (
	// ErrNoContext is returned by requests that need an editor position
	// before the first editor event.
	ErrNoContext = errors.New("no editor event received yet")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("dispatcher already started")
)

// Dispatcher routes editor activity to plugins and plugin responses back to
// the editor.
type Dispatcher struct {
	ch        channel.Channel
	ui        UI
	editor    Editor
	settings  Settings
	scheduler Scheduler
	policies  []Policy
	logger    hclog.Logger
	events    *emitter

	// Guarded by mu. Only the editor event path writes them; response
	// handling reads them from channel goroutines.
	mu         sync.RWMutex
	lastEvent  *protocol.EventContext
	lastBuffer *protocol.BufferInfo
	plugins    []*plugin.Plugin

	// pending quick-info display, replaced by every new show-quick-info
	pendingMu sync.Mutex
	pending   Timer

	// epoch advances on Stop. Deferred work scheduled in an earlier epoch
	// does nothing when it fires.
	epoch atomic.Uint64

	lifeMu    sync.Mutex
	response  channel.Subscription
	listeners []func()
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithUI sets the UI surface.
func WithUI(ui UI) Option {
	return func(d *Dispatcher) {
		if ui != nil {
			d.ui = ui
		}
	}
}

// WithEditor sets the navigation target.
func WithEditor(e Editor) Option {
	return func(d *Dispatcher) {
		if e != nil {
			d.editor = e
		}
	}
}

// WithSettings sets the configuration source.
func WithSettings(s Settings) Option {
	return func(d *Dispatcher) {
		if s != nil {
			d.settings = s
		}
	}
}

// WithScheduler sets the scheduler for deferred work.
func WithScheduler(s Scheduler) Option {
	return func(d *Dispatcher) {
		if s != nil {
			d.scheduler = s
		}
	}
}

// WithPolicies replaces the event policy table.
func WithPolicies(p []Policy) Option {
	return func(d *Dispatcher) {
		d.policies = append([]Policy(nil), p...)
	}
}

// WithLogger sets the logger.
func WithLogger(l hclog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a dispatcher sending on ch.
func New(ch channel.Channel, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		ch:        ch,
		ui:        nopUI{},
		editor:    nopEditor{},
		settings:  DefaultSettings(),
		scheduler: SystemScheduler{},
		policies:  DefaultPolicies(),
		logger:    hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.events = newEmitter(d.logger)
	return d
}

// Start registers the dispatcher as the channel's response handler.
func (d *Dispatcher) Start() error {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()

	if d.response != nil {
		return ErrAlreadyStarted
	}
	sub, err := d.ch.OnResponse(d.HandleResponse)
	if err != nil {
		return fmt.Errorf("subscribe to responses: %w", err)
	}
	d.response = sub
	return nil
}

// Listen subscribes to the editor's events and buffer updates.
func (d *Dispatcher) Listen(src EventSource) {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()
	d.listeners = append(d.listeners,
		src.OnBufferUpdate(d.OnBufferUpdate),
		src.OnEvent(d.OnEvent),
	)
}

// Stop detaches the dispatcher from the channel and the editor and drops
// every pending deferred display.
func (d *Dispatcher) Stop() {
	d.epoch.Add(1)

	d.lifeMu.Lock()
	if d.response != nil {
		d.response.Unsubscribe()
		d.response = nil
	}
	for _, cancel := range d.listeners {
		if cancel != nil {
			cancel()
		}
	}
	d.listeners = nil
	d.lifeMu.Unlock()

	d.replacePending(nil)
}

// Subscribe registers h for host events named name. The returned function
// removes the registration; h is not called after it returns.
func (d *Dispatcher) Subscribe(name string, h HostEventHandler) func() {
	return d.events.subscribe(name, h)
}

// SetPlugins records the active plugins.
func (d *Dispatcher) SetPlugins(plugins []*plugin.Plugin) {
	d.mu.Lock()
	d.plugins = append([]*plugin.Plugin(nil), plugins...)
	d.mu.Unlock()
}

// RuntimePaths returns the root directories of the active plugins, for the
// editor's runtime path.
func (d *Dispatcher) RuntimePaths() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	paths := make([]string, 0, len(d.plugins))
	for _, p := range d.plugins {
		paths = append(paths, p.Dir())
	}
	return paths
}

// LastEventContext returns the editor context of the latest event.
func (d *Dispatcher) LastEventContext() (protocol.EventContext, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.lastEvent == nil {
		return protocol.EventContext{}, false
	}
	return *d.lastEvent, true
}

// LastBufferInfo returns the latest buffer snapshot.
func (d *Dispatcher) LastBufferInfo() (protocol.BufferInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.lastBuffer == nil {
		return protocol.BufferInfo{}, false
	}
	return *d.lastBuffer, true
}

// OnBufferUpdate replaces the buffer snapshot and forwards it to plugins
// subscribed to buffer updates.
func (d *Dispatcher) OnBufferUpdate(ctx protocol.EventContext, lines []string) {
	d.mu.Lock()
	info := protocol.NextBufferInfo(d.lastBuffer, ctx, lines)
	d.lastBuffer = &info
	d.mu.Unlock()

	d.send(protocol.MessageBufferUpdate, protocol.BufferUpdatePayload{
		EventContext: ctx,
		BufferLines:  lines,
	}, channel.Filter{Requirement: capability.Subscription(capability.SubscriptionBufferUpdate)})
}

// OnEvent records ctx as the current editor context, forwards the event to
// plugins subscribed to editor events and issues the requests of every
// enabled policy for name.
func (d *Dispatcher) OnEvent(name string, ctx protocol.EventContext) {
	d.mu.Lock()
	c := ctx
	d.lastEvent = &c
	d.mu.Unlock()

	d.send(protocol.MessageEvent, protocol.EventPayload{Name: name, Context: ctx},
		channel.Filter{Requirement: capability.Subscription(capability.SubscriptionVimEvents)})

	for _, p := range d.policies {
		if p.Event != name {
			continue
		}
		if p.EnabledKey != "" && !d.settings.GetBool(p.EnabledKey) {
			continue
		}
		for _, req := range p.Requests {
			if err := d.SendLanguageServiceRequest(req, ctx, "", nil); err != nil {
				d.logger.Warn("policy request failed", "event", name, "request", req, "error", err)
			}
		}
	}
}

// SendLanguageServiceRequest sends {name, context, ...extraArgs} to the
// plugins providing capabilityName for the context's filetype. An empty
// capabilityName means the request name.
func (d *Dispatcher) SendLanguageServiceRequest(name string, ctx protocol.EventContext, capabilityName string, extraArgs map[string]any) error {
	if capabilityName == "" {
		capabilityName = name
	}
	payload, err := protocol.RequestPayload(name, ctx, extraArgs)
	if err != nil {
		return err
	}
	msg, err := protocol.NewMessage(protocol.MessageRequest, payload)
	if err != nil {
		return err
	}
	d.ch.Send(msg, channel.Filter{Requirement: capability.LanguageService(capabilityName, ctx.Filetype)})
	return nil
}

// GotoDefinition asks for the definition at the current position.
func (d *Dispatcher) GotoDefinition() error {
	return d.requestAtCursor(capability.GotoDefinition, capability.GotoDefinition, nil)
}

// RequestFormat asks the formatting plugins to format the current buffer.
func (d *Dispatcher) RequestFormat() error {
	return d.requestAtCursor("format", capability.Formatting, nil)
}

// RequestEvaluateBlock asks for code to be evaluated in the context of the
// current buffer.
func (d *Dispatcher) RequestEvaluateBlock(code string) error {
	return d.requestAtCursor(capability.EvaluateBlock, capability.EvaluateBlock, map[string]any{"code": code})
}

// NotifyCompletionItemSelected asks the completion providers for the
// details of item.
func (d *Dispatcher) NotifyCompletionItemSelected(item any) error {
	return d.requestAtCursor(capability.CompletionItemSelected, capability.CompletionProvider, map[string]any{"item": item})
}

func (d *Dispatcher) requestAtCursor(name, capabilityName string, extraArgs map[string]any) error {
	ctx, ok := d.LastEventContext()
	if !ok {
		return ErrNoContext
	}
	return d.SendLanguageServiceRequest(name, ctx, capabilityName, extraArgs)
}

func (d *Dispatcher) send(typ protocol.MessageType, payload any, filter channel.Filter) {
	msg, err := protocol.NewMessage(typ, payload)
	if err != nil {
		d.logger.Warn("dropping outbound message", "type", typ, "error", err)
		return
	}
	d.ch.Send(msg, filter)
}
