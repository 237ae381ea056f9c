package protocol

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"
)

// MessageType identifies the kind of an outbound message.
type MessageType string

// Outbound message kinds.
const (
	MessageBufferUpdate MessageType = "buffer-update"
	MessageEvent        MessageType = "event"
	MessageRequest      MessageType = "request"
	MessageCommand      MessageType = "command"
)

// OutboundMessage is a message sent from the host to plugins.
type OutboundMessage struct {
	ID      string          `json:"id"`
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage encodes payload and wraps it in a message with a fresh id.
func NewMessage(typ MessageType, payload any) (OutboundMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return OutboundMessage{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return OutboundMessage{
		ID:      uuid.NewString(),
		Type:    typ,
		Payload: raw,
	}, nil
}

// BufferUpdatePayload is the payload of a buffer-update message.
type BufferUpdatePayload struct {
	EventContext EventContext `json:"eventContext"`
	BufferLines  []string     `json:"bufferLines"`
}

// EventPayload is the payload of an event message.
type EventPayload struct {
	Name    string       `json:"name"`
	Context EventContext `json:"context"`
}

// CommandPayload is the payload of a command message.
type CommandPayload struct {
	Command string       `json:"command"`
	Args    []any        `json:"args"`
	Context EventContext `json:"context"`
}

// RequestPayload builds the payload of a language-service request:
// {name, context, ...extraArgs}. Extra arguments are merged in key order and
// never replace name or context.
func RequestPayload(name string, ctx EventContext, extraArgs map[string]any) (json.RawMessage, error) {
	raw, err := json.Marshal(struct {
		Name    string       `json:"name"`
		Context EventContext `json:"context"`
	}{name, ctx})
	if err != nil {
		return nil, fmt.Errorf("encode request %s: %w", name, err)
	}

	keys := make([]string, 0, len(extraArgs))
	for k := range extraArgs {
		if k == "name" || k == "context" || k == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		raw, err = sjson.SetBytes(raw, escapePath(k), extraArgs[k])
		if err != nil {
			return nil, fmt.Errorf("encode request %s arg %q: %w", name, k, err)
		}
	}
	return raw, nil
}

// escapePath escapes characters sjson treats as path syntax so that a map
// key is always set as a single top-level field.
func escapePath(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		switch key[i] {
		case '.', '*', '?', '|', '#', '@', '\\', ':':
			out = append(out, '\\')
		}
		out = append(out, key[i])
	}
	return string(out)
}

// ContextOf extracts the event context carried by a message payload, if any.
// Event and command payloads carry it under "context", buffer updates under
// "eventContext".
func ContextOf(msg OutboundMessage) (EventContext, bool) {
	var peek struct {
		Context      *EventContext `json:"context"`
		EventContext *EventContext `json:"eventContext"`
	}
	if len(msg.Payload) == 0 {
		return EventContext{}, false
	}
	if err := json.Unmarshal(msg.Payload, &peek); err != nil {
		return EventContext{}, false
	}
	switch {
	case peek.Context != nil:
		return *peek.Context, true
	case peek.EventContext != nil:
		return *peek.EventContext, true
	default:
		return EventContext{}, false
	}
}
