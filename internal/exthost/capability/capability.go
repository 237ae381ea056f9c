// Package capability decides which plugins receive which outbound messages.
//
// A plugin declares two kinds of capabilities in its manifest:
//
//   - subscriptions: message streams it wants to observe (buffer-update,
//     vim-events)
//   - language services: request kinds it implements (quick-info,
//     completion-provider, formatting, ...), optionally scoped to a set of
//     filetypes
//
// Matching is pure and total. Anything the filter does not understand is
// treated as "no match".
package capability

import (
	"slices"

	"github.com/tidwall/gjson"
)

// Subscription names.
const (
	SubscriptionBufferUpdate = "buffer-update"
	SubscriptionVimEvents    = "vim-events"
)

// Language service names.
const (
	QuickInfo              = "quick-info"
	CompletionProvider     = "completion-provider"
	CompletionItemSelected = "completion-provider-item-selected"
	Formatting             = "formatting"
	GotoDefinition         = "goto-definition"
	EvaluateBlock          = "evaluate-block"
	SignatureHelp          = "signature-help"
)

// AnyFiletype declares universal filetype scope.
const AnyFiletype = "*"

// Set is the capability declaration of one plugin.
type Set struct {
	Subscriptions    []string `json:"subscriptions"`
	LanguageServices []string `json:"languageService"`
	// Filetypes scopes the language services. Empty or containing
	// AnyFiletype means every filetype.
	Filetypes []string `json:"supportedFileTypes"`

	// badScope is set by Parse when supportedFileTypes is present but holds
	// no usable entry. Such a scope covers no filetype.
	badScope bool
}

// Requirement is what an outbound message demands of its recipients.
type Requirement struct {
	// Name is a subscription name or a language service name.
	Name string

	// Filetype is the filetype of the buffer the message concerns. It only
	// matters for language-service requirements.
	Filetype string

	// LanguageService selects language-service matching instead of
	// subscription matching.
	LanguageService bool
}

// Subscription returns a subscription-style requirement.
func Subscription(name string) Requirement {
	return Requirement{Name: name}
}

// LanguageService returns a language-service requirement for a filetype.
func LanguageService(name, filetype string) Requirement {
	return Requirement{Name: name, Filetype: filetype, LanguageService: true}
}

// Matches reports whether a plugin declaring set should receive a message
// with requirement req.
func Matches(set Set, req Requirement) bool {
	if req.Name == "" {
		return false
	}
	if !req.LanguageService {
		return set.Subscribes(req.Name)
	}
	return set.Provides(req.Name) && set.Supports(req.Filetype)
}

// Subscribes reports whether the set subscribes to name.
func (s Set) Subscribes(name string) bool {
	return name != "" && slices.Contains(s.Subscriptions, name)
}

// Provides reports whether the set implements the language service name.
func (s Set) Provides(name string) bool {
	return name != "" && slices.Contains(s.LanguageServices, name)
}

// Supports reports whether the set's filetype scope covers filetype.
func (s Set) Supports(filetype string) bool {
	if s.badScope {
		return false
	}
	if len(s.Filetypes) == 0 {
		return true
	}
	for _, ft := range s.Filetypes {
		if ft == AnyFiletype || ft == filetype {
			return true
		}
	}
	return false
}

// IsEmpty reports whether the set declares nothing.
func (s Set) IsEmpty() bool {
	return len(s.Subscriptions) == 0 && len(s.LanguageServices) == 0
}

// Parse reads a capability declaration from raw JSON. It never fails:
// fields of the wrong shape and non-string entries are ignored, so a
// malformed declaration simply matches nothing.
func Parse(raw []byte) Set {
	if !gjson.ValidBytes(raw) {
		return Set{}
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return Set{}
	}
	scope := root.Get("supportedFileTypes")
	set := Set{
		Subscriptions:    stringList(root.Get("subscriptions")),
		LanguageServices: stringList(root.Get("languageService")),
		Filetypes:        stringList(scope),
	}
	// Absent, null and [] leave the scope universal.
	if len(set.Filetypes) == 0 && scope.Exists() && scope.Type != gjson.Null &&
		!(scope.IsArray() && len(scope.Array()) == 0) {
		set.badScope = true
	}
	return set
}

// stringList collects the non-empty string entries of a JSON array. A single
// string is accepted as a one-element list.
func stringList(res gjson.Result) []string {
	switch {
	case res.Type == gjson.String:
		if res.Str == "" {
			return nil
		}
		return []string{res.Str}
	case res.IsArray():
		var out []string
		for _, item := range res.Array() {
			if item.Type == gjson.String && item.Str != "" {
				out = append(out, item.Str)
			}
		}
		return out
	default:
		return nil
	}
}
