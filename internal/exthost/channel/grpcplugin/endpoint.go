package grpcplugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dshills/exthost/internal/exthost/capability"
	"github.com/dshills/exthost/internal/exthost/channel"
	"github.com/dshills/exthost/internal/exthost/protocol"
)

const (
	defaultStartTimeout = 3 * time.Second
	defaultCallTimeout  = 5 * time.Second
)

// closeGrace is how long Close lets the plugin end its stream before the
// stream is cancelled.
var closeGrace = 3 * time.Second

// Config describes a plugin binary.
type Config struct {
	Command      string
	Args         []string
	Dir          string
	Env          []string
	StartTimeout time.Duration
}

// Dialer connects to a plugin and returns its client together with a
// function releasing the connection.
type Dialer func(ctx context.Context) (ExtensionHostClient, func(), error)

// Endpoint is a channel.Endpoint backed by a Connect stream.
type Endpoint struct {
	name   string
	caps   capability.Set
	dial   Dialer
	logger hclog.Logger

	// sendMu serializes Send and CloseSend on the stream. It is never
	// taken while holding mu.
	sendMu sync.Mutex

	mu      sync.Mutex
	stream  ConnectClient
	cancel  context.CancelFunc
	release func()
	done    chan struct{}
	meta    *Metadata
}

// NewEndpoint creates an endpoint that launches cfg through go-plugin.
func NewEndpoint(name string, caps capability.Set, cfg Config, logger hclog.Logger) *Endpoint {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named(name)
	return NewDialEndpoint(name, caps, processDialer(cfg, logger), logger)
}

// NewDialEndpoint creates an endpoint over an arbitrary dialer.
func NewDialEndpoint(name string, caps capability.Set, dial Dialer, logger hclog.Logger) *Endpoint {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Endpoint{name: name, caps: caps, dial: dial, logger: logger}
}

func processDialer(cfg Config, logger hclog.Logger) Dialer {
	return func(_ context.Context) (ExtensionHostClient, func(), error) {
		cmd := exec.Command(cfg.Command, cfg.Args...)
		cmd.Dir = cfg.Dir
		cmd.Env = append(os.Environ(), cfg.Env...)

		startTimeout := cfg.StartTimeout
		if startTimeout <= 0 {
			startTimeout = defaultStartTimeout
		}

		client := plugin.NewClient(&plugin.ClientConfig{
			HandshakeConfig:  HandshakeConfig,
			AllowedProtocols: []plugin.Protocol{plugin.ProtocolGRPC},
			Plugins:          PluginMap(nil),
			Cmd:              cmd,
			Managed:          true,
			StartTimeout:     startTimeout,
			Logger:           logger,
		})
		closeFn := func() { client.Kill() }

		rpcClient, err := client.Client()
		if err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("start plugin client: %w", err)
		}
		raw, err := rpcClient.Dispense(PluginMapKey)
		if err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("dispense plugin: %w", err)
		}
		typed, ok := raw.(ExtensionHostClient)
		if !ok {
			closeFn()
			return nil, nil, fmt.Errorf("plugin rpc client type mismatch")
		}
		return typed, closeFn, nil
	}
}

// Name implements channel.Endpoint.
func (e *Endpoint) Name() string { return e.name }

// Capabilities implements channel.Endpoint.
func (e *Endpoint) Capabilities() capability.Set { return e.caps }

// Metadata returns what the plugin reported on start, or nil before Start.
func (e *Endpoint) Metadata() *Metadata {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.meta
}

// Start implements channel.Endpoint. It dials the plugin, checks it answers
// Describe and opens the Connect stream.
func (e *Endpoint) Start(ctx context.Context, emit channel.Emit) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stream != nil {
		return fmt.Errorf("endpoint %s already started", e.name)
	}

	client, release, err := e.dial(ctx)
	if err != nil {
		return err
	}

	callCtx, cancelCall := context.WithTimeout(ctx, defaultCallTimeout)
	meta, err := client.Describe(callCtx)
	cancelCall()
	if err != nil {
		release()
		return fmt.Errorf("describe: %w", err)
	}
	if meta.Name != "" && meta.Name != e.name {
		e.logger.Warn("plugin reports a different name", "reported", meta.Name)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := client.Connect(streamCtx)
	if err != nil {
		cancel()
		release()
		return fmt.Errorf("connect: %w", err)
	}

	e.meta = meta
	e.stream = stream
	e.cancel = cancel
	e.release = release
	e.done = make(chan struct{})

	go e.recvLoop(stream, emit, e.done)

	e.logger.Debug("plugin connected", "version", meta.Version)
	return nil
}

func (e *Endpoint) recvLoop(stream ConnectClient, emit channel.Emit, done chan struct{}) {
	defer close(done)
	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
				e.logger.Debug("plugin stream closed")
			} else {
				e.logger.Warn("plugin stream failed", "error", err)
			}
			return
		}
		emit(*resp)
	}
}

// Deliver implements channel.Endpoint. A Send blocked on a plugin that
// stopped reading does not hold up Close.
func (e *Endpoint) Deliver(_ context.Context, msg protocol.OutboundMessage) error {
	e.mu.Lock()
	stream := e.stream
	e.mu.Unlock()

	if stream == nil {
		return channel.ErrEndpointClosed
	}

	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	if err := stream.Send(&msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	return nil
}

// Close implements channel.Endpoint. It half-closes the stream and gives
// the plugin closeGrace to finish before cancelling it.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	stream, cancel, release, done := e.stream, e.cancel, e.release, e.done
	e.stream = nil
	e.mu.Unlock()

	if stream == nil {
		return nil
	}

	closed := make(chan error, 1)
	go func() {
		e.sendMu.Lock()
		defer e.sendMu.Unlock()
		closed <- stream.CloseSend()
	}()

	grace := time.NewTimer(closeGrace)
	defer grace.Stop()

	var err error
	select {
	case err = <-closed:
		select {
		case <-done:
		case <-grace.C:
			e.logger.Warn("plugin did not end its stream")
		}
	case <-grace.C:
		e.logger.Warn("plugin is not reading, cancelling stream")
	}
	cancel()
	<-done
	release()
	return err
}
