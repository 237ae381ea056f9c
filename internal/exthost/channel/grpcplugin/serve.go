package grpcplugin

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/hashicorp/go-plugin"

	"github.com/dshills/exthost/internal/exthost/protocol"
)

// Handler handles one host message inside a plugin. reply may be called any
// number of times, from any goroutine, until the stream ends.
type Handler func(ctx context.Context, msg protocol.OutboundMessage, reply func(protocol.PluginResponse) error)

// Plugin implements ExtensionHostServer on top of a Handler.
type Plugin struct {
	Meta    Metadata
	Handler Handler
}

// Describe implements ExtensionHostServer.
func (p *Plugin) Describe(_ context.Context, _ *Empty) (*Metadata, error) {
	meta := p.Meta
	return &meta, nil
}

// Connect implements ExtensionHostServer. Messages are handled in arrival
// order; the stream ends when the host closes its side.
func (p *Plugin) Connect(stream ConnectServer) error {
	ctx := stream.Context()

	var mu sync.Mutex
	reply := func(resp protocol.PluginResponse) error {
		mu.Lock()
		defer mu.Unlock()
		return stream.Send(&resp)
	}

	for {
		msg, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if p.Handler != nil {
			p.Handler(ctx, *msg, reply)
		}
	}
}

// Serve runs p as a go-plugin gRPC plugin. It does not return until the
// host kills the process.
func Serve(p *Plugin) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins:         PluginMap(p),
		GRPCServer:      plugin.DefaultGRPCServer,
	})
}
