package stdio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/tidwall/gjson"

	"github.com/dshills/exthost/internal/exthost/protocol"
)

// Handler is the plugin side of a stdio endpoint. It is called once per
// host message, in arrival order.
type Handler func(ctx context.Context, msg protocol.OutboundMessage, peer *Peer)

// Peer lets a plugin answer the host.
type Peer struct {
	t *Transport
}

// Reply sends a response to the host.
func (p *Peer) Reply(resp protocol.PluginResponse) error {
	return p.t.Notify(MethodResponse, resp)
}

// Respond builds a response to msg and sends it.
func (p *Peer) Respond(msg protocol.OutboundMessage, typ protocol.ResponseType, payload any) error {
	resp, err := protocol.Respond(msg, typ, payload)
	if err != nil {
		return err
	}
	return p.Reply(resp)
}

// Log writes a line to the host log.
func (p *Peer) Log(level, message string) error {
	return p.t.Notify(MethodLog, LogParams{Level: level, Message: message})
}

// Serve runs a plugin over r and w until the host closes the stream or ctx
// is cancelled. A clean end of stream returns nil.
func Serve(ctx context.Context, r io.Reader, w io.Writer, handler Handler) error {
	t := NewTransport(r, w, nil)
	peer := &Peer{t: t}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := t.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}

		if gjson.GetBytes(frame, "method").String() != MethodMessage {
			continue
		}
		var msg protocol.OutboundMessage
		if err := json.Unmarshal([]byte(gjson.GetBytes(frame, "params").Raw), &msg); err != nil {
			_ = peer.Log("warn", fmt.Sprintf("undecodable message: %v", err))
			continue
		}
		handler(ctx, msg, peer)
	}
}
