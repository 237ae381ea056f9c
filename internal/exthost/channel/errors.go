package channel

import "errors"

// Channel errors.
var (
	// ErrHandlerRegistered is returned when a second response handler is
	// registered while the first is still active.
	ErrHandlerRegistered = errors.New("response handler already registered")

	// ErrNilHandler is returned when registering a nil response handler.
	ErrNilHandler = errors.New("response handler is nil")

	// ErrHubClosed is returned when attaching to a closed hub.
	ErrHubClosed = errors.New("channel hub is closed")

	// ErrDuplicateEndpoint is returned when two endpoints share a name.
	ErrDuplicateEndpoint = errors.New("endpoint already attached")

	// ErrEndpointClosed is returned when delivering to a closed endpoint.
	ErrEndpointClosed = errors.New("endpoint is closed")
)
