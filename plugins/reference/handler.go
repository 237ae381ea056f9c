package main

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"unicode"

	"github.com/tidwall/gjson"

	"github.com/dshills/exthost/internal/exthost/protocol"
)

// handler keeps the latest snapshot of every buffer it has seen.
type handler struct {
	mu      sync.Mutex
	buffers map[string][]string
}

func newHandler() *handler {
	return &handler{buffers: make(map[string][]string)}
}

func (h *handler) handle(_ context.Context, msg protocol.OutboundMessage, reply func(protocol.PluginResponse) error) {
	switch msg.Type {
	case protocol.MessageBufferUpdate:
		var p protocol.BufferUpdatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		h.mu.Lock()
		h.buffers[p.EventContext.BufferFullPath] = p.BufferLines
		h.mu.Unlock()

	case protocol.MessageRequest:
		ctx, ok := protocol.ContextOf(msg)
		if !ok {
			return
		}
		resp, ok := h.answer(msg, gjson.GetBytes(msg.Payload, "name").String(), ctx)
		if ok {
			_ = reply(resp)
		}
	}
}

func (h *handler) answer(msg protocol.OutboundMessage, name string, ctx protocol.EventContext) (protocol.PluginResponse, bool) {
	h.mu.Lock()
	lines := h.buffers[ctx.BufferFullPath]
	h.mu.Unlock()

	word := wordAt(lines, ctx.Line, ctx.Column)
	if word == "" {
		return protocol.PluginResponse{}, false
	}

	var resp protocol.PluginResponse
	var err error
	switch name {
	case "quick-info":
		info := protocol.QuickInfo{Info: word}
		if line, ok := declaration(lines, word); ok {
			info.Documentation = strings.TrimSpace(lines[line-1])
		}
		resp, err = protocol.Respond(msg, protocol.ResponseShowQuickInfo, info)
	case "goto-definition":
		line, ok := declaration(lines, word)
		if !ok {
			return protocol.PluginResponse{}, false
		}
		col := strings.Index(lines[line-1], word) + 1
		resp, err = protocol.Respond(msg, protocol.ResponseGotoDefinition, protocol.Location{
			FilePath: ctx.BufferFullPath,
			Line:     line,
			Column:   col,
		})
	default:
		return protocol.PluginResponse{}, false
	}
	return resp, err == nil
}

// wordAt returns the identifier covering the 1-based line and column.
func wordAt(lines []string, line, column int) string {
	if line < 1 || line > len(lines) {
		return ""
	}
	runes := []rune(lines[line-1])
	i := column - 1
	if i < 0 || i >= len(runes) || !isIdent(runes[i]) {
		return ""
	}
	start, end := i, i
	for start > 0 && isIdent(runes[start-1]) {
		start--
	}
	for end < len(runes) && isIdent(runes[end]) {
		end++
	}
	return string(runes[start:end])
}

// declaration finds the 1-based line declaring word as a function or
// method.
func declaration(lines []string, word string) (int, bool) {
	for i, l := range lines {
		l = strings.TrimSpace(l)
		if !strings.HasPrefix(l, "func ") {
			continue
		}
		rest := strings.TrimPrefix(l, "func ")
		if strings.HasPrefix(rest, "(") {
			if end := strings.Index(rest, ")"); end >= 0 {
				rest = strings.TrimSpace(rest[end+1:])
			}
		}
		if strings.HasPrefix(rest, word+"(") || strings.HasPrefix(rest, word+"[") {
			return i + 1, true
		}
	}
	return 0, false
}

func isIdent(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
