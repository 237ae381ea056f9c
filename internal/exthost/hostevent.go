package exthost

import (
	"encoding/json"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Host event names. They equal the wire names of the responses that
// produce them.
const (
	EventSetErrors             = "set-errors"
	EventFormat                = "format"
	EventExecuteShellCommand   = "execute-shell-command"
	EventEvaluateBlockResult   = "evaluate-block-result"
	EventSetSyntaxHighlights   = "set-syntax-highlights"
	EventClearSyntaxHighlights = "clear-syntax-highlights"
	EventSignatureHelp         = "signature-help-response"
)

// HostEvent is emitted for responses the dispatcher passes through to the
// host unchanged.
type HostEvent struct {
	Name    string
	Payload json.RawMessage

	// Error is only set for signature-help-response.
	Error json.RawMessage

	// Plugin is the name of the plugin that produced the event.
	Plugin string
}

// HostEventHandler receives host events.
type HostEventHandler func(ev HostEvent)

// emitter fans host events out to subscribers by name.
type emitter struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]HostEventHandler
	logger hclog.Logger
}

func newEmitter(logger hclog.Logger) *emitter {
	return &emitter{
		subs:   make(map[string]map[uint64]HostEventHandler),
		logger: logger,
	}
}

func (e *emitter) subscribe(name string, h HostEventHandler) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	if e.subs[name] == nil {
		e.subs[name] = make(map[uint64]HostEventHandler)
	}
	e.subs[name][id] = h
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs[name], id)
			if len(e.subs[name]) == 0 {
				delete(e.subs, name)
			}
			e.mu.Unlock()
		})
	}
}

// emit delivers ev to every handler subscribed to ev.Name. A handler
// removed while the event is being delivered is skipped.
func (e *emitter) emit(ev HostEvent) {
	e.mu.RLock()
	ids := make([]uint64, 0, len(e.subs[ev.Name]))
	for id := range e.subs[ev.Name] {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	for _, id := range ids {
		e.mu.RLock()
		h, ok := e.subs[ev.Name][id]
		e.mu.RUnlock()
		if ok {
			e.call(h, ev)
		}
	}
}

func (e *emitter) call(h HostEventHandler, ev HostEvent) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("host event handler panicked", "event", ev.Name, "panic", r)
		}
	}()
	h(ev)
}
