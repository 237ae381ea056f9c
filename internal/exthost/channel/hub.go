package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"

	"github.com/dshills/exthost/internal/exthost/protocol"
)

// DefaultQueueSize is the default per-endpoint mailbox capacity.
const DefaultQueueSize = 256

// Hub is the Channel implementation. It enforces capability filtering on the
// host side and gives every endpoint its own ordered mailbox, so a slow
// plugin never holds up delivery to the others.
type Hub struct {
	mu sync.RWMutex

	mailboxes []*mailbox
	names     map[string]bool
	closed    bool

	handler   ResponseHandler
	handlerID uint64
	nextID    atomic.Uint64

	queueSize int
	logger    hclog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dropped atomic.Uint64
}

// mailbox is the delivery queue of one endpoint.
type mailbox struct {
	ep    Endpoint
	queue chan protocol.OutboundMessage
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithQueueSize sets the per-endpoint mailbox capacity.
func WithQueueSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithLogger sets the hub logger.
func WithLogger(l hclog.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		names:     make(map[string]bool),
		queueSize: DefaultQueueSize,
		logger:    hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())
	return h
}

// Attach starts ep and begins delivering to it.
func (h *Hub) Attach(ctx context.Context, ep Endpoint) error {
	name := ep.Name()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	if h.names[name] {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateEndpoint, name)
	}
	h.names[name] = true
	h.mu.Unlock()

	if err := ep.Start(ctx, h.emitter(name)); err != nil {
		h.mu.Lock()
		delete(h.names, name)
		h.mu.Unlock()
		return fmt.Errorf("start endpoint %s: %w", name, err)
	}

	mb := &mailbox{
		ep:    ep,
		queue: make(chan protocol.OutboundMessage, h.queueSize),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = ep.Close()
		return ErrHubClosed
	}
	h.mailboxes = append(h.mailboxes, mb)
	h.wg.Add(1)
	h.mu.Unlock()

	go h.deliverLoop(mb)

	h.logger.Debug("endpoint attached", "plugin", name, "capabilities", ep.Capabilities())
	return nil
}

// deliverLoop drains one mailbox in order.
func (h *Hub) deliverLoop(mb *mailbox) {
	defer h.wg.Done()
	for msg := range mb.queue {
		if h.ctx.Err() != nil {
			continue
		}
		if err := mb.ep.Deliver(h.ctx, msg); err != nil {
			h.logger.Warn("delivery failed",
				"plugin", mb.ep.Name(), "type", msg.Type, "id", msg.ID, "error", err)
		}
	}
}

// Send implements Channel.
func (h *Hub) Send(msg protocol.OutboundMessage, filter Filter) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}

	for _, mb := range h.mailboxes {
		if !filter.Admits(mb.ep.Name(), mb.ep.Capabilities()) {
			continue
		}
		select {
		case mb.queue <- msg:
		default:
			h.dropped.Add(1)
			h.logger.Warn("plugin mailbox full, message dropped",
				"plugin", mb.ep.Name(), "type", msg.Type, "id", msg.ID)
		}
	}
}

// OnResponse implements Channel.
func (h *Hub) OnResponse(handler ResponseHandler) (Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.handler != nil {
		return nil, ErrHandlerRegistered
	}
	id := h.nextID.Add(1)
	h.handler = handler
	h.handlerID = id

	return &subscription{hub: h, id: id}, nil
}

// emitter returns the response callback for the endpoint named name.
func (h *Hub) emitter(name string) Emit {
	return func(resp protocol.PluginResponse) {
		resp.Plugin = name

		h.mu.RLock()
		handler := h.handler
		h.mu.RUnlock()

		if handler == nil {
			return
		}

		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("response handler panicked",
					"plugin", name, "type", resp.Type, "panic", r)
			}
		}()
		handler(resp)
	}
}

// Endpoints returns the names of attached endpoints in attach order.
func (h *Hub) Endpoints() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.mailboxes))
	for _, mb := range h.mailboxes {
		names = append(names, mb.ep.Name())
	}
	return names
}

// Dropped returns the number of messages dropped on full mailboxes.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close stops delivery and closes every endpoint in reverse attach order.
// Messages still queued are discarded.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	mailboxes := h.mailboxes
	for _, mb := range mailboxes {
		close(mb.queue)
	}
	h.mu.Unlock()

	h.cancel()

	var errs []error
	for i := len(mailboxes) - 1; i >= 0; i-- {
		if err := mailboxes[i].ep.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", mailboxes[i].ep.Name(), err))
		}
	}

	h.wg.Wait()
	return errors.Join(errs...)
}

type subscription struct {
	hub  *Hub
	id   uint64
	once sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()
		if s.hub.handlerID == s.id {
			s.hub.handler = nil
			s.hub.handlerID = 0
		}
	})
}
