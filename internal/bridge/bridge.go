// Package bridge connects a headless editor front-end to the extension host
// over newline-delimited JSON.
//
// Each input line is one editor notification, routed on its "kind":
//
//	{"kind":"event","name":"CursorMoved","context":{...}}
//	{"kind":"buffer-update","context":{...},"lines":["..."]}
//	{"kind":"command","id":"quickdocs.open","args":[...]}
//	{"kind":"goto-definition"}
//	{"kind":"format"}
//	{"kind":"evaluate-block","code":"..."}
//	{"kind":"completion-item-selected","item":{...}}
//
// Output lines carry UI calls ("ui"), navigation ("editor"), host events
// ("host-event") and failures ("error"). Writes are serialized so lines
// never interleave.
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/tidwall/gjson"

	"github.com/dshills/exthost/internal/exthost"
	"github.com/dshills/exthost/internal/exthost/protocol"
)

// maxLineSize bounds a single input line.
const maxLineSize = 16 * 1024 * 1024

// Input kinds.
const (
	KindEvent                  = "event"
	KindBufferUpdate           = "buffer-update"
	KindCommand                = "command"
	KindGotoDefinition         = "goto-definition"
	KindFormat                 = "format"
	KindEvaluateBlock          = "evaluate-block"
	KindCompletionItemSelected = "completion-item-selected"
)

// Output kinds.
const (
	KindUI        = "ui"
	KindEditor    = "editor"
	KindHostEvent = "host-event"
	KindError     = "error"
)

// Requester issues the editor-initiated requests.
type Requester interface {
	GotoDefinition() error
	RequestFormat() error
	RequestEvaluateBlock(code string) error
	NotifyCompletionItemSelected(item any) error
}

// CommandExecutor runs host commands by id.
type CommandExecutor interface {
	Execute(ctx context.Context, id string, args ...any) error
}

// Bridge is the editor side of the extension host. It implements
// exthost.UI, exthost.Editor and exthost.EventSource.
type Bridge struct {
	in     io.Reader
	logger hclog.Logger

	wmu sync.Mutex
	out io.Writer

	mu        sync.RWMutex
	requester Requester
	commands  CommandExecutor
	nextID    uint64
	buffers   map[uint64]func(protocol.EventContext, []string)
	events    map[uint64]func(string, protocol.EventContext)
}

var (
	_ exthost.UI          = (*Bridge)(nil)
	_ exthost.Editor      = (*Bridge)(nil)
	_ exthost.EventSource = (*Bridge)(nil)
)

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger.
func WithLogger(l hclog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// New creates a bridge reading editor lines from in and writing to out.
func New(in io.Reader, out io.Writer, opts ...Option) *Bridge {
	b := &Bridge{
		in:      in,
		out:     out,
		logger:  hclog.NewNullLogger(),
		buffers: make(map[uint64]func(protocol.EventContext, []string)),
		events:  make(map[uint64]func(string, protocol.EventContext)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetRequester sets the target of editor-initiated requests.
func (b *Bridge) SetRequester(r Requester) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requester = r
}

// SetCommands sets the command executor.
func (b *Bridge) SetCommands(c CommandExecutor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commands = c
}

// OnBufferUpdate implements exthost.EventSource.
func (b *Bridge) OnBufferUpdate(fn func(ctx protocol.EventContext, lines []string)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.buffers[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.buffers, id)
		b.mu.Unlock()
	}
}

// OnEvent implements exthost.EventSource.
func (b *Bridge) OnEvent(fn func(name string, ctx protocol.EventContext)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.events[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.events, id)
		b.mu.Unlock()
	}
}

// Serve reads editor lines until the input ends or ctx is done. Lines are
// handled one at a time, in order. It returns nil on end of input.
func (b *Bridge) Serve(ctx context.Context) error {
	lines := make(chan []byte)
	errc := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(b.in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			if err != nil {
				return fmt.Errorf("read editor input: %w", err)
			}
			return nil
		case line := <-lines:
			b.handleLine(ctx, line)
		}
	}
}

func (b *Bridge) handleLine(ctx context.Context, line []byte) {
	if len(line) == 0 {
		return
	}
	if err := b.dispatch(ctx, line); err != nil {
		b.logger.Debug("editor line failed", "error", err)
		b.Error(err)
	}
}

var errUnknownKind = errors.New("unknown kind")

func (b *Bridge) dispatch(ctx context.Context, line []byte) error {
	if !gjson.ValidBytes(line) {
		return errors.New("invalid JSON line")
	}
	msg := gjson.ParseBytes(line)
	kind := msg.Get("kind").String()

	switch kind {
	case KindEvent:
		evctx, err := decodeContext(msg)
		if err != nil {
			return err
		}
		name := msg.Get("name").String()
		if name == "" {
			return errors.New("event without name")
		}
		for _, fn := range b.eventHandlers() {
			fn(name, evctx)
		}
		return nil

	case KindBufferUpdate:
		evctx, err := decodeContext(msg)
		if err != nil {
			return err
		}
		var lines []string
		if v := msg.Get("lines"); v.Exists() {
			if err := json.Unmarshal([]byte(v.Raw), &lines); err != nil {
				return fmt.Errorf("buffer-update lines: %w", err)
			}
		}
		for _, fn := range b.bufferHandlers() {
			fn(evctx, lines)
		}
		return nil

	case KindCommand:
		return b.runCommand(ctx, msg)
	}

	r := b.currentRequester()
	if r == nil {
		if isRequest(kind) {
			return fmt.Errorf("%s: no request target", kind)
		}
		return fmt.Errorf("%w %q", errUnknownKind, kind)
	}

	switch kind {
	case KindGotoDefinition:
		return r.GotoDefinition()
	case KindFormat:
		return r.RequestFormat()
	case KindEvaluateBlock:
		return r.RequestEvaluateBlock(msg.Get("code").String())
	case KindCompletionItemSelected:
		var item any
		if v := msg.Get("item"); v.Exists() {
			if err := json.Unmarshal([]byte(v.Raw), &item); err != nil {
				return fmt.Errorf("completion item: %w", err)
			}
		}
		return r.NotifyCompletionItemSelected(item)
	default:
		return fmt.Errorf("%w %q", errUnknownKind, kind)
	}
}

func isRequest(kind string) bool {
	switch kind {
	case KindGotoDefinition, KindFormat, KindEvaluateBlock, KindCompletionItemSelected:
		return true
	}
	return false
}

func (b *Bridge) runCommand(ctx context.Context, msg gjson.Result) error {
	id := msg.Get("id").String()
	if id == "" {
		return errors.New("command without id")
	}
	var args []any
	if v := msg.Get("args"); v.Exists() {
		if err := json.Unmarshal([]byte(v.Raw), &args); err != nil {
			return fmt.Errorf("command %s args: %w", id, err)
		}
	}

	b.mu.RLock()
	commands := b.commands
	b.mu.RUnlock()
	if commands == nil {
		return fmt.Errorf("command %s: no command system", id)
	}
	return commands.Execute(ctx, id, args...)
}

func decodeContext(msg gjson.Result) (protocol.EventContext, error) {
	var evctx protocol.EventContext
	v := msg.Get("context")
	if !v.IsObject() {
		return evctx, errors.New("missing context")
	}
	if err := json.Unmarshal([]byte(v.Raw), &evctx); err != nil {
		return evctx, fmt.Errorf("context: %w", err)
	}
	return evctx, nil
}

func (b *Bridge) currentRequester() Requester {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.requester
}

func (b *Bridge) eventHandlers() []func(string, protocol.EventContext) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]func(string, protocol.EventContext), 0, len(b.events))
	for _, fn := range b.events {
		out = append(out, fn)
	}
	return out
}

func (b *Bridge) bufferHandlers() []func(protocol.EventContext, []string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]func(protocol.EventContext, []string), 0, len(b.buffers))
	for _, fn := range b.buffers {
		out = append(out, fn)
	}
	return out
}
