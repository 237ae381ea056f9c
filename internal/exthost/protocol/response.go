package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// ResponseType is the closed set of response kinds a plugin may send.
type ResponseType int

// Response kinds. ResponseUnknown is assigned to any wire value outside the set.
const (
	ResponseUnknown ResponseType = iota
	ResponseShowQuickInfo
	ResponseGotoDefinition
	ResponseCompletionProvider
	ResponseCompletionItemSelected
	ResponseSetErrors
	ResponseFormat
	ResponseExecuteShellCommand
	ResponseEvaluateBlockResult
	ResponseSetSyntaxHighlights
	ResponseClearSyntaxHighlights
	ResponseSignatureHelp
)

var responseNames = map[ResponseType]string{
	ResponseShowQuickInfo:          "show-quick-info",
	ResponseGotoDefinition:         "goto-definition",
	ResponseCompletionProvider:     "completion-provider",
	ResponseCompletionItemSelected: "completion-provider-item-selected",
	ResponseSetErrors:              "set-errors",
	ResponseFormat:                 "format",
	ResponseExecuteShellCommand:    "execute-shell-command",
	ResponseEvaluateBlockResult:    "evaluate-block-result",
	ResponseSetSyntaxHighlights:    "set-syntax-highlights",
	ResponseClearSyntaxHighlights:  "clear-syntax-highlights",
	ResponseSignatureHelp:          "signature-help-response",
}

var responseByName = func() map[string]ResponseType {
	m := make(map[string]ResponseType, len(responseNames))
	for t, name := range responseNames {
		m[name] = t
	}
	return m
}()

// ParseResponseType maps a wire name to its ResponseType.
// Unknown names yield ResponseUnknown and false.
func ParseResponseType(name string) (ResponseType, bool) {
	t, ok := responseByName[name]
	return t, ok
}

// String returns the wire name of the response type.
func (t ResponseType) String() string {
	if name, ok := responseNames[t]; ok {
		return name
	}
	return "unknown"
}

// RequiresOrigin reports whether responses of this type are only applied when
// their origin event still matches the current editor position.
func (t ResponseType) RequiresOrigin() bool {
	switch t {
	case ResponseShowQuickInfo,
		ResponseGotoDefinition,
		ResponseCompletionProvider,
		ResponseCompletionItemSelected:
		return true
	default:
		return false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t ResponseType) MarshalText() ([]byte, error) {
	name, ok := responseNames[t]
	if !ok {
		return nil, fmt.Errorf("cannot encode response type %d", int(t))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unrecognized names
// decode to ResponseUnknown without error so one odd response never breaks
// decoding of the stream it arrived on.
func (t *ResponseType) UnmarshalText(text []byte) error {
	parsed, _ := ParseResponseType(string(text))
	*t = parsed
	return nil
}

// ResponseMeta carries correlation data for a response.
type ResponseMeta struct {
	OriginEvent *EventContext `json:"originEvent,omitempty"`
}

// PluginResponse is a message sent from a plugin back to the host.
type PluginResponse struct {
	Type    ResponseType    `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
	Meta    *ResponseMeta   `json:"meta,omitempty"`

	// Plugin is the name of the plugin that sent the response. It is set by
	// the channel and never travels on the wire.
	Plugin string `json:"-"`
}

// Origin returns the origin event of the response, if it has one.
func (r PluginResponse) Origin() (EventContext, bool) {
	if r.Meta == nil || r.Meta.OriginEvent == nil {
		return EventContext{}, false
	}
	return *r.Meta.OriginEvent, true
}

// Failed reports whether the response carries a truthy error value.
// false, null, 0, "" and an absent field are not errors.
func (r PluginResponse) Failed() bool {
	if len(r.Error) == 0 {
		return false
	}
	res := gjson.ParseBytes(r.Error)
	switch res.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.Number:
		return res.Float() != 0
	case gjson.String:
		return res.Str != ""
	default:
		return true
	}
}

// Respond builds a response to msg. The event context carried by msg, if
// any, becomes the origin of the response.
func Respond(msg OutboundMessage, typ ResponseType, payload any) (PluginResponse, error) {
	resp := PluginResponse{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return PluginResponse{}, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		resp.Payload = raw
	}
	if ctx, ok := ContextOf(msg); ok {
		resp.Meta = &ResponseMeta{OriginEvent: &ctx}
	}
	return resp, nil
}

// QuickInfo is the payload of a show-quick-info response.
type QuickInfo struct {
	Info          string `json:"info"`
	Documentation string `json:"documentation"`
}

// Location is the payload of a goto-definition response.
type Location struct {
	FilePath string `json:"filePath"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
}
