package exthost

import "github.com/dshills/exthost/internal/exthost/capability"

// Policy maps an editor event to the language-service requests it
// triggers.
type Policy struct {
	// Event is the editor event name, e.g. "CursorMoved".
	Event string

	// Requests are issued in order, each filtered to the capability of the
	// same name.
	Requests []string

	// EnabledKey is the boolean setting that switches the policy on. An
	// empty key means always on.
	EnabledKey string
}

// DefaultPolicies returns the built-in event policies.
func DefaultPolicies() []Policy {
	return []Policy{
		{
			Event:      "CursorMoved",
			Requests:   []string{capability.QuickInfo},
			EnabledKey: KeyQuickInfoEnabled,
		},
		{
			Event:      "CursorMovedI",
			Requests:   []string{capability.CompletionProvider, capability.SignatureHelp},
			EnabledKey: KeyCompletionsEnabled,
		},
	}
}
