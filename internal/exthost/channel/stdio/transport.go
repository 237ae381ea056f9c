// Package stdio implements plugin endpoints over a framed byte stream,
// typically the stdin and stdout of a child process.
//
// Frames use the LSP base protocol: a Content-Length header, a blank line,
// then a JSON-RPC 2.0 notification body. The host sends "exthost/message"
// notifications carrying an OutboundMessage; the plugin answers with
// "exthost/response" notifications carrying a PluginResponse and may send
// "exthost/log" notifications to write to the host log. There are no
// request ids: the protocol is fire-and-forget in both directions.
package stdio

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Notification methods.
const (
	MethodMessage  = "exthost/message"
	MethodResponse = "exthost/response"
	MethodLog      = "exthost/log"
)

// maxFrameSize bounds a single frame body.
const maxFrameSize = 64 << 20

var (
	// ErrClosed is returned when writing to a closed transport.
	ErrClosed = errors.New("stdio transport closed")

	// ErrMissingLength is returned for a frame without a Content-Length header.
	ErrMissingLength = errors.New("missing Content-Length header")

	// ErrBadHeader is returned for an unparsable or oversized Content-Length.
	ErrBadHeader = errors.New("bad frame header")
)

// notification is the JSON-RPC envelope of every frame.
type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// LogParams is the body of an exthost/log notification.
type LogParams struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Transport reads and writes framed notifications.
type Transport struct {
	reader *bufio.Reader
	writer io.Writer
	closer io.Closer

	mu     sync.Mutex
	closed atomic.Bool
}

// NewTransport creates a transport over r and w. c, if not nil, is closed
// by Close.
func NewTransport(r io.Reader, w io.Writer, c io.Closer) *Transport {
	return &Transport{
		reader: bufio.NewReaderSize(r, 64*1024),
		writer: w,
		closer: c,
	}
}

// Notify writes one notification frame.
func (t *Transport) Notify(method string, params any) error {
	if t.closed.Load() {
		return ErrClosed
	}

	data, err := json.Marshal(notification{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := io.WriteString(t.writer, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// ReadFrame reads the next frame body. It returns io.EOF once the stream
// ends cleanly between frames. After ErrMissingLength or ErrBadHeader the
// frame boundary is lost and the stream must not be read further.
func (t *Transport) ReadFrame() ([]byte, error) {
	contentLength, headers := 0, 0
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) && line != "" {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			if headers == 0 {
				// Stray blank line between frames.
				continue
			}
			break
		}
		headers++
		name, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "content-length") {
			// Content-Type and unknown headers are ignored.
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: Content-Length %q", ErrBadHeader, strings.TrimSpace(value))
		}
		contentLength = n
	}

	if contentLength <= 0 {
		return nil, ErrMissingLength
	}
	if contentLength > maxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit", ErrBadHeader, contentLength)
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(t.reader, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// Close closes the underlying closer once.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

// IsClosed reports whether Close has been called.
func (t *Transport) IsClosed() bool {
	return t.closed.Load()
}
