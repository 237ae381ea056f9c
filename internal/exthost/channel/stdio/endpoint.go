package stdio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/tidwall/gjson"

	"github.com/dshills/exthost/internal/exthost/capability"
	"github.com/dshills/exthost/internal/exthost/channel"
	"github.com/dshills/exthost/internal/exthost/protocol"
)

// exitGrace is how long Close waits for a child process to exit after its
// stdin is closed before killing it.
const exitGrace = 2 * time.Second

// ProcessConfig describes a plugin child process.
type ProcessConfig struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
}

// Endpoint is a channel.Endpoint speaking framed notifications.
type Endpoint struct {
	name   string
	caps   capability.Set
	logger hclog.Logger

	// conn is set for connection endpoints, proc for process endpoints.
	conn io.ReadWriteCloser
	proc *ProcessConfig

	mu        sync.Mutex
	transport *Transport
	cmd       *exec.Cmd
	readDone  chan struct{}
	waitDone  chan error
}

// NewConnEndpoint creates an endpoint over an established connection.
func NewConnEndpoint(name string, caps capability.Set, conn io.ReadWriteCloser, logger hclog.Logger) *Endpoint {
	return &Endpoint{name: name, caps: caps, conn: conn, logger: orNull(logger).Named(name)}
}

// NewProcessEndpoint creates an endpoint that spawns cfg on Start and talks
// to it over its stdin and stdout. The child's stderr goes to the logger.
func NewProcessEndpoint(name string, caps capability.Set, cfg ProcessConfig, logger hclog.Logger) *Endpoint {
	return &Endpoint{name: name, caps: caps, proc: &cfg, logger: orNull(logger).Named(name)}
}

func orNull(l hclog.Logger) hclog.Logger {
	if l == nil {
		return hclog.NewNullLogger()
	}
	return l
}

// Name implements channel.Endpoint.
func (e *Endpoint) Name() string { return e.name }

// Capabilities implements channel.Endpoint.
func (e *Endpoint) Capabilities() capability.Set { return e.caps }

// Start implements channel.Endpoint.
func (e *Endpoint) Start(ctx context.Context, emit channel.Emit) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.transport != nil {
		return fmt.Errorf("endpoint %s already started", e.name)
	}

	readDone := make(chan struct{})
	switch {
	case e.conn != nil:
		e.transport = NewTransport(e.conn, e.conn, e.conn)
	case e.proc != nil:
		cmd := exec.Command(e.proc.Command, e.proc.Args...)
		cmd.Dir = e.proc.Dir
		cmd.Env = append(os.Environ(), e.proc.Env...)
		cmd.Stderr = e.logger.StandardWriter(&hclog.StandardLoggerOptions{InferLevels: true})

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return fmt.Errorf("stdout pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start %s: %w", e.proc.Command, err)
		}
		e.cmd = cmd
		waitDone := make(chan error, 1)
		e.waitDone = waitDone
		// Wait closes stdout, so it must not run before readLoop has
		// drained it.
		go func() {
			<-readDone
			waitDone <- cmd.Wait()
		}()

		e.transport = NewTransport(stdout, stdin, stdin)
		e.logger.Debug("plugin process started", "command", e.proc.Command, "pid", cmd.Process.Pid)
	default:
		return fmt.Errorf("endpoint %s has no connection", e.name)
	}
	e.readDone = readDone
	go e.readLoop(ctx, e.transport, emit, readDone)
	return nil
}

// readLoop decodes plugin frames until the stream ends or a frame is
// malformed.
func (e *Endpoint) readLoop(ctx context.Context, t *Transport, emit channel.Emit, done chan struct{}) {
	defer close(done)
	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := t.ReadFrame()
		if err != nil {
			if t.IsClosed() || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
				e.logger.Debug("plugin stream ended")
				return
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				e.logger.Warn("plugin stream truncated", "error", err)
				return
			}
			// The next frame boundary is unknown, so the stream is unusable.
			e.logger.Error("bad frame from plugin, dropping stream", "error", err)
			return
		}
		e.dispatch(frame, emit)
	}
}

// dispatch routes one frame by its method.
func (e *Endpoint) dispatch(frame []byte, emit channel.Emit) {
	switch method := gjson.GetBytes(frame, "method").String(); method {
	case MethodResponse:
		var resp protocol.PluginResponse
		if err := json.Unmarshal([]byte(gjson.GetBytes(frame, "params").Raw), &resp); err != nil {
			e.logger.Warn("undecodable response", "error", err)
			return
		}
		emit(resp)
	case MethodLog:
		params := gjson.GetBytes(frame, "params")
		e.logger.Log(logLevel(params.Get("level").String()), params.Get("message").String())
	default:
		e.logger.Debug("ignoring frame", "method", method)
	}
}

func logLevel(s string) hclog.Level {
	level := hclog.LevelFromString(strings.ToLower(s))
	if level == hclog.NoLevel {
		return hclog.Info
	}
	return level
}

// Deliver implements channel.Endpoint.
func (e *Endpoint) Deliver(_ context.Context, msg protocol.OutboundMessage) error {
	e.mu.Lock()
	t := e.transport
	e.mu.Unlock()

	if t == nil || t.IsClosed() {
		return channel.ErrEndpointClosed
	}
	return t.Notify(MethodMessage, msg)
}

// Close implements channel.Endpoint. For process endpoints it closes the
// child's stdin and waits briefly for it to exit before killing it.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	t, cmd, waitDone := e.transport, e.cmd, e.waitDone
	e.mu.Unlock()

	if t == nil {
		if e.conn != nil {
			return e.conn.Close()
		}
		return nil
	}

	err := t.Close()
	if cmd == nil {
		return err
	}

	select {
	case werr := <-waitDone:
		if werr != nil {
			e.logger.Debug("plugin process exited", "error", werr)
		}
	case <-time.After(exitGrace):
		e.logger.Warn("plugin process did not exit, killing", "pid", cmd.Process.Pid)
		if kerr := cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			err = errors.Join(err, fmt.Errorf("kill: %w", kerr))
		}
		<-waitDone
	}
	return err
}
