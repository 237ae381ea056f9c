package exthost

import (
	"encoding/json"
	"time"

	"github.com/dshills/exthost/internal/exthost/protocol"
)

// HandleResponse applies one plugin response. It never fails: stale
// responses are dropped, unknown types are ignored and collaborator panics
// are recovered.
func (d *Dispatcher) HandleResponse(resp protocol.PluginResponse) {
	defer d.recoverPanic("response", resp.Type.String())

	if resp.Type.RequiresOrigin() && !d.fresh(resp) {
		return
	}

	switch resp.Type {
	case protocol.ResponseShowQuickInfo:
		d.showQuickInfo(resp)
	case protocol.ResponseGotoDefinition:
		d.gotoDefinition(resp)
	case protocol.ResponseCompletionProvider:
		if absent(resp.Payload) {
			return
		}
		d.deferFresh(resp, func() { d.ui.ShowCompletions(resp.Payload) })
	case protocol.ResponseCompletionItemSelected:
		if absent(resp.Payload) {
			return
		}
		d.deferFresh(resp, func() { d.ui.SetDetailedCompletionEntry(resp.Payload) })
	case protocol.ResponseSetErrors,
		protocol.ResponseFormat,
		protocol.ResponseExecuteShellCommand,
		protocol.ResponseEvaluateBlockResult,
		protocol.ResponseSetSyntaxHighlights,
		protocol.ResponseClearSyntaxHighlights:
		// Any error field is ignored: these types define no error channel.
		d.events.emit(HostEvent{Name: resp.Type.String(), Payload: resp.Payload, Plugin: resp.Plugin})
	case protocol.ResponseSignatureHelp:
		d.events.emit(HostEvent{Name: resp.Type.String(), Payload: resp.Payload, Error: resp.Error, Plugin: resp.Plugin})
	case protocol.ResponseUnknown:
	}
}

// fresh reports whether resp was produced for the current editor position.
// A response without an origin never is.
func (d *Dispatcher) fresh(resp protocol.PluginResponse) bool {
	origin, ok := resp.Origin()
	if !ok {
		d.logger.Debug("discarding response without origin", "type", resp.Type, "plugin", resp.Plugin)
		return false
	}
	current, ok := d.LastEventContext()
	if !ok || !protocol.SamePosition(origin, current) {
		d.logger.Debug("discarding stale response",
			"type", resp.Type, "plugin", resp.Plugin,
			"origin", origin, "current", current)
		return false
	}
	return true
}

func (d *Dispatcher) showQuickInfo(resp protocol.PluginResponse) {
	d.ui.HideQuickInfo()

	if resp.Failed() {
		d.replacePending(nil)
		return
	}

	var qi protocol.QuickInfo
	if err := json.Unmarshal(resp.Payload, &qi); err != nil {
		d.logger.Debug("malformed quick-info payload", "plugin", resp.Plugin, "error", err)
		d.replacePending(nil)
		return
	}

	delay := time.Duration(d.settings.GetInt(KeyQuickInfoDelay)) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	epoch := d.epoch.Load()
	d.replacePending(d.scheduler.AfterFunc(delay, func() {
		defer d.recoverPanic("quick-info", resp.Type.String())
		if d.epoch.Load() == epoch && d.fresh(resp) {
			d.ui.ShowQuickInfo(qi.Info, qi.Documentation)
		}
	}))
}

func (d *Dispatcher) gotoDefinition(resp protocol.PluginResponse) {
	var loc protocol.Location
	if absent(resp.Payload) {
		return
	}
	if err := json.Unmarshal(resp.Payload, &loc); err != nil || loc.FilePath == "" {
		d.logger.Debug("malformed goto-definition payload", "plugin", resp.Plugin, "error", err)
		return
	}
	d.editor.OpenFile(loc.FilePath)
	d.editor.MoveCursor(loc.Line, loc.Column)
	d.editor.CenterView()
}

// deferFresh runs fn on the scheduler with zero delay, provided resp is
// still fresh and the dispatcher has not been stopped when it runs.
func (d *Dispatcher) deferFresh(resp protocol.PluginResponse, fn func()) {
	epoch := d.epoch.Load()
	d.scheduler.AfterFunc(0, func() {
		defer d.recoverPanic("deferred", resp.Type.String())
		if d.epoch.Load() == epoch && d.fresh(resp) {
			fn()
		}
	})
}

// replacePending cancels the pending quick-info display and installs t.
func (d *Dispatcher) replacePending(t Timer) {
	d.pendingMu.Lock()
	prev := d.pending
	d.pending = t
	d.pendingMu.Unlock()

	if prev != nil {
		prev.Stop()
	}
}

func (d *Dispatcher) recoverPanic(stage, typ string) {
	if r := recover(); r != nil {
		d.logger.Error("recovered panic while applying response", "stage", stage, "type", typ, "panic", r)
	}
}

// absent reports whether a payload is missing or JSON null.
func absent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
