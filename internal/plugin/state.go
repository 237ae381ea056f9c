package plugin

// State represents the lifecycle state of a plugin.
type State int

// Plugin states.
const (
	// StateDiscovered - Manifest loaded, endpoint not started.
	StateDiscovered State = iota

	// StateActive - Endpoint attached to the channel.
	StateActive

	// StateError - Plugin failed to start.
	StateError
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateActive:
		return "active"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
