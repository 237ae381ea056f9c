// Package exthost is the extension-host dispatcher.
//
// The Dispatcher sits between an editor and its plugins. Editor events and
// buffer updates come in through OnEvent and OnBufferUpdate (or an
// EventSource passed to Listen); they are stamped with the current editor
// context and sent on a channel.Channel, which delivers each message only to
// the plugins whose declared capabilities match it.
//
// Plugin responses arrive asynchronously through HandleResponse. Responses
// tied to a cursor position (quick-info, goto-definition, completions) carry
// the context they were computed for and are applied only while the editor
// is still at that position; otherwise they are dropped. Deferred steps
// (the quick-info display delay, the completion hand-off) check again when
// they run. Responses with no position (diagnostics, formatting, shell
// commands, ...) are re-emitted as host events for Subscribe listeners.
//
// Which editor events trigger which requests is a Policy table; the default
// sends quick-info on CursorMoved and completion-provider plus
// signature-help on CursorMovedI.
package exthost
