// Package grpcplugin runs plugins as hashicorp/go-plugin gRPC processes.
//
// The service is described by hand and uses a JSON codec, so plugins need no
// generated protobuf code. It has one unary method, Describe, and one
// bidirectional stream, Connect: the host sends OutboundMessages down the
// stream and the plugin sends PluginResponses back up.
package grpcplugin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/dshills/exthost/internal/exthost/capability"
	"github.com/dshills/exthost/internal/exthost/protocol"
)

const (
	// PluginMapKey names the extension host plugin in a go-plugin plugin map.
	PluginMapKey   = "exthost"
	serviceName    = "exthost.plugin.v1.ExtensionHost"
	jsonCodecName  = "json"
	methodDescribe = "/" + serviceName + "/Describe"
	methodConnect  = "/" + serviceName + "/Connect"
)

// HandshakeConfig is shared by the host and every gRPC plugin binary.
var HandshakeConfig = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "EXTHOST_PLUGIN",
	MagicCookieValue: "exthost",
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return jsonCodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// Empty is the Describe request.
type Empty struct{}

// Metadata is what a plugin reports about itself.
type Metadata struct {
	Name         string         `json:"name"`
	Version      string         `json:"version"`
	Capabilities capability.Set `json:"capabilities"`
}

// ExtensionHostServer is implemented by plugins.
type ExtensionHostServer interface {
	Describe(ctx context.Context, in *Empty) (*Metadata, error)
	Connect(stream ConnectServer) error
}

// ConnectServer is the plugin end of the Connect stream.
type ConnectServer interface {
	Send(*protocol.PluginResponse) error
	Recv() (*protocol.OutboundMessage, error)
	grpc.ServerStream
}

type connectServer struct {
	grpc.ServerStream
}

func (s *connectServer) Send(resp *protocol.PluginResponse) error {
	return s.ServerStream.SendMsg(resp)
}

func (s *connectServer) Recv() (*protocol.OutboundMessage, error) {
	msg := &protocol.OutboundMessage{}
	if err := s.ServerStream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// ExtensionHostClient is the host's view of a plugin.
type ExtensionHostClient interface {
	Describe(ctx context.Context) (*Metadata, error)
	Connect(ctx context.Context) (ConnectClient, error)
}

// ConnectClient is the host end of the Connect stream.
type ConnectClient interface {
	Send(*protocol.OutboundMessage) error
	Recv() (*protocol.PluginResponse, error)
	grpc.ClientStream
}

type connectClient struct {
	grpc.ClientStream
}

func (c *connectClient) Send(msg *protocol.OutboundMessage) error {
	return c.ClientStream.SendMsg(msg)
}

func (c *connectClient) Recv() (*protocol.PluginResponse, error) {
	resp := &protocol.PluginResponse{}
	if err := c.ClientStream.RecvMsg(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

type extensionHostClient struct {
	conn grpc.ClientConnInterface
}

// NewExtensionHostClient returns a client for the plugin served on conn.
func NewExtensionHostClient(conn grpc.ClientConnInterface) ExtensionHostClient {
	return &extensionHostClient{conn: conn}
}

func (c *extensionHostClient) Describe(ctx context.Context) (*Metadata, error) {
	out := &Metadata{}
	if err := c.conn.Invoke(ctx, methodDescribe, &Empty{}, out, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *extensionHostClient) Connect(ctx context.Context) (ConnectClient, error) {
	stream, err := c.conn.NewStream(ctx, &connectStreamDesc, methodConnect, grpc.CallContentSubtype(jsonCodecName))
	if err != nil {
		return nil, err
	}
	return &connectClient{ClientStream: stream}, nil
}

var connectStreamDesc = grpc.StreamDesc{
	StreamName:    "Connect",
	ServerStreams: true,
	ClientStreams: true,
}

// RegisterExtensionHostServer registers impl on server.
func RegisterExtensionHostServer(server grpc.ServiceRegistrar, impl ExtensionHostServer) {
	stream := connectStreamDesc
	stream.Handler = func(_ any, s grpc.ServerStream) error {
		return impl.Connect(&connectServer{ServerStream: s})
	}

	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*ExtensionHostServer)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "Describe",
				Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
					in := &Empty{}
					if err := dec(in); err != nil {
						return nil, err
					}
					if interceptor == nil {
						return impl.Describe(ctx, in)
					}
					info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodDescribe}
					handler := func(ctx context.Context, req any) (any, error) {
						empty, ok := req.(*Empty)
						if !ok {
							return nil, fmt.Errorf("invalid request type")
						}
						return impl.Describe(ctx, empty)
					}
					return interceptor(ctx, in, info, handler)
				},
			},
		},
		Streams:  []grpc.StreamDesc{stream},
		Metadata: "exthost/plugin/v1/extension_host.proto",
	}, impl)
}

// GRPCPlugin adapts the service to go-plugin. Only the gRPC protocol is
// supported.
type GRPCPlugin struct {
	plugin.NetRPCUnsupportedPlugin
	Impl ExtensionHostServer
}

func (p *GRPCPlugin) GRPCServer(_ *plugin.GRPCBroker, server *grpc.Server) error {
	RegisterExtensionHostServer(server, p.Impl)
	return nil
}

func (p *GRPCPlugin) GRPCClient(_ context.Context, _ *plugin.GRPCBroker, conn *grpc.ClientConn) (any, error) {
	return NewExtensionHostClient(conn), nil
}

// PluginMap returns the go-plugin plugin map serving impl. Hosts pass nil.
func PluginMap(impl ExtensionHostServer) map[string]plugin.Plugin {
	return map[string]plugin.Plugin{
		PluginMapKey: &GRPCPlugin{Impl: impl},
	}
}
