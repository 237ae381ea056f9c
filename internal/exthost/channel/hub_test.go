package channel

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/exthost/internal/exthost/capability"
	"github.com/dshills/exthost/internal/exthost/protocol"
)

// recorder is an in-process plugin that records what it receives.
type recorder struct {
	mu       sync.Mutex
	messages []protocol.OutboundMessage
	got      chan protocol.OutboundMessage
}

func newRecorder() *recorder {
	return &recorder{got: make(chan protocol.OutboundMessage, 64)}
}

func (r *recorder) handle(_ context.Context, msg protocol.OutboundMessage, _ Emit) {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
	r.got <- msg
}

func (r *recorder) snapshot() []protocol.OutboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.OutboundMessage(nil), r.messages...)
}

func waitMessage(t *testing.T, r *recorder) protocol.OutboundMessage {
	t.Helper()
	select {
	case msg := <-r.got:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return protocol.OutboundMessage{}
	}
}

func mustMessage(t *testing.T, typ protocol.MessageType, payload any) protocol.OutboundMessage {
	t.Helper()
	msg, err := protocol.NewMessage(typ, payload)
	require.NoError(t, err)
	return msg
}

func TestHubCapabilityFiltering(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	buffers := newRecorder()
	completions := newRecorder()
	other := newRecorder()

	ctx := context.Background()
	require.NoError(t, hub.Attach(ctx, NewFuncEndpoint("buffers",
		capability.Set{Subscriptions: []string{capability.SubscriptionBufferUpdate}}, buffers.handle)))
	require.NoError(t, hub.Attach(ctx, NewFuncEndpoint("completions",
		capability.Set{LanguageServices: []string{capability.CompletionProvider}}, completions.handle)))
	require.NoError(t, hub.Attach(ctx, NewFuncEndpoint("other",
		capability.Set{Subscriptions: []string{capability.SubscriptionVimEvents}}, other.handle)))

	hub.Send(mustMessage(t, protocol.MessageBufferUpdate, map[string]any{}),
		Filter{Requirement: capability.Subscription(capability.SubscriptionBufferUpdate)})
	hub.Send(mustMessage(t, protocol.MessageRequest, map[string]any{"name": "completion-provider"}),
		Filter{Requirement: capability.LanguageService(capability.CompletionProvider, "go")})
	hub.Send(mustMessage(t, protocol.MessageEvent, map[string]any{}),
		Filter{Requirement: capability.Subscription(capability.SubscriptionVimEvents)})

	assert.Equal(t, protocol.MessageBufferUpdate, waitMessage(t, buffers).Type)
	assert.Equal(t, protocol.MessageRequest, waitMessage(t, completions).Type)
	assert.Equal(t, protocol.MessageEvent, waitMessage(t, other).Type)

	require.NoError(t, hub.Close())
	assert.Len(t, buffers.snapshot(), 1)
	assert.Len(t, completions.snapshot(), 1)
	assert.Len(t, other.snapshot(), 1)
}

func TestHubTargetedDelivery(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	a := newRecorder()
	b := newRecorder()
	ctx := context.Background()
	require.NoError(t, hub.Attach(ctx, NewFuncEndpoint("a", capability.Set{}, a.handle)))
	require.NoError(t, hub.Attach(ctx, NewFuncEndpoint("b", capability.Set{}, b.handle)))

	hub.Send(mustMessage(t, protocol.MessageCommand, map[string]any{"command": "b.run"}), To("b"))

	assert.Equal(t, protocol.MessageCommand, waitMessage(t, b).Type)
	require.NoError(t, hub.Close())
	assert.Empty(t, a.snapshot())
}

func TestHubPreservesOrderPerEndpoint(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	rec := newRecorder()
	caps := capability.Set{Subscriptions: []string{capability.SubscriptionVimEvents}}
	require.NoError(t, hub.Attach(context.Background(), NewFuncEndpoint("p", caps, rec.handle)))

	const n = 50
	sent := make([]string, 0, n)
	for i := 0; i < n; i++ {
		msg := mustMessage(t, protocol.MessageEvent, map[string]any{"i": i})
		sent = append(sent, msg.ID)
		hub.Send(msg, Filter{Requirement: capability.Subscription(capability.SubscriptionVimEvents)})
	}

	received := make([]string, 0, n)
	for i := 0; i < n; i++ {
		received = append(received, waitMessage(t, rec).ID)
	}
	assert.Equal(t, sent, received)
}

func TestHubDropsOnFullMailbox(t *testing.T) {
	hub := NewHub(WithQueueSize(1))
	defer hub.Close()

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	blocking := func(_ context.Context, _ protocol.OutboundMessage, _ Emit) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	}
	caps := capability.Set{Subscriptions: []string{capability.SubscriptionVimEvents}}
	require.NoError(t, hub.Attach(context.Background(), NewFuncEndpoint("slow", caps, blocking)))

	filter := Filter{Requirement: capability.Subscription(capability.SubscriptionVimEvents)}
	hub.Send(mustMessage(t, protocol.MessageEvent, nil), filter)
	<-started

	// One message fits in the mailbox, the next one is dropped.
	hub.Send(mustMessage(t, protocol.MessageEvent, nil), filter)
	hub.Send(mustMessage(t, protocol.MessageEvent, nil), filter)

	assert.Equal(t, uint64(1), hub.Dropped())
	close(release)
}

func TestHubSingleResponseHandler(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	sub, err := hub.OnResponse(func(protocol.PluginResponse) {})
	require.NoError(t, err)

	_, err = hub.OnResponse(func(protocol.PluginResponse) {})
	assert.ErrorIs(t, err, ErrHandlerRegistered)

	_, err = hub.OnResponse(nil)
	assert.ErrorIs(t, err, ErrNilHandler)

	sub.Unsubscribe()
	sub.Unsubscribe()

	_, err = hub.OnResponse(func(protocol.PluginResponse) {})
	assert.NoError(t, err)
}

func TestHubRoutesResponses(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	responses := make(chan protocol.PluginResponse, 4)
	_, err := hub.OnResponse(func(resp protocol.PluginResponse) {
		responses <- resp
	})
	require.NoError(t, err)

	echo := func(_ context.Context, msg protocol.OutboundMessage, reply Emit) {
		resp, err := protocol.Respond(msg, protocol.ResponseFormat, map[string]string{"id": msg.ID})
		if err == nil {
			reply(resp)
		}
	}
	caps := capability.Set{LanguageServices: []string{capability.Formatting}}
	require.NoError(t, hub.Attach(context.Background(), NewFuncEndpoint("fmt", caps, echo)))

	hub.Send(mustMessage(t, protocol.MessageRequest, map[string]any{}),
		Filter{Requirement: capability.LanguageService(capability.Formatting, "go")})

	select {
	case resp := <-responses:
		assert.Equal(t, protocol.ResponseFormat, resp.Type)
		assert.Equal(t, "fmt", resp.Plugin)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
	}
}

func TestHubRecoversHandlerPanic(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	_, err := hub.OnResponse(func(protocol.PluginResponse) { panic("boom") })
	require.NoError(t, err)

	var emit Emit
	capture := NewFuncEndpoint("p", capability.Set{}, nil)
	require.NoError(t, hub.Attach(context.Background(), capture))
	capture.mu.RLock()
	emit = capture.emit
	capture.mu.RUnlock()

	assert.NotPanics(t, func() {
		emit(protocol.PluginResponse{Type: protocol.ResponseFormat})
	})
}

func TestHubAttachErrors(t *testing.T) {
	hub := NewHub()

	require.NoError(t, hub.Attach(context.Background(), NewFuncEndpoint("p", capability.Set{}, nil)))
	err := hub.Attach(context.Background(), NewFuncEndpoint("p", capability.Set{}, nil))
	assert.ErrorIs(t, err, ErrDuplicateEndpoint)

	require.NoError(t, hub.Close())
	err = hub.Attach(context.Background(), NewFuncEndpoint("q", capability.Set{}, nil))
	assert.ErrorIs(t, err, ErrHubClosed)

	// Sending after close is a no-op.
	hub.Send(mustMessage(t, protocol.MessageEvent, nil), To("p"))
	assert.Equal(t, []string{"p"}, hub.Endpoints())
}

func TestFilterAdmits(t *testing.T) {
	caps := capability.Set{Subscriptions: []string{capability.SubscriptionVimEvents}}

	assert.True(t, To("p").Admits("p", caps))
	assert.False(t, To("p").Admits("q", caps))
	assert.False(t, Filter{}.Admits("p", caps))

	sub := Filter{Requirement: capability.Subscription(capability.SubscriptionVimEvents)}
	assert.True(t, sub.Admits("p", caps))

	sub.Plugin = "q"
	assert.False(t, sub.Admits("p", caps), fmt.Sprintf("%+v", sub))
}
