package bridge

import (
	"encoding/json"

	"github.com/tidwall/sjson"

	"github.com/dshills/exthost/internal/exthost"
)

// field is one key of an output line. Raw values are inserted verbatim.
type field struct {
	key   string
	value any
	raw   bool
}

func val(key string, v any) field             { return field{key: key, value: v} }
func raw(key string, v json.RawMessage) field { return field{key: key, value: []byte(v), raw: true} }

// write emits one output line.
func (b *Bridge) write(kind string, fields ...field) {
	line, err := sjson.SetBytes([]byte(`{}`), "kind", kind)
	if err != nil {
		b.logger.Warn("encode output line", "kind", kind, "error", err)
		return
	}
	for _, f := range fields {
		if f.raw {
			v, _ := f.value.([]byte)
			if len(v) == 0 {
				continue
			}
			line, err = sjson.SetRawBytes(line, f.key, v)
		} else {
			line, err = sjson.SetBytes(line, f.key, f.value)
		}
		if err != nil {
			b.logger.Warn("encode output line", "kind", kind, "key", f.key, "error", err)
			return
		}
	}
	line = append(line, '\n')

	b.wmu.Lock()
	defer b.wmu.Unlock()
	if _, err := b.out.Write(line); err != nil {
		b.logger.Warn("write output line", "kind", kind, "error", err)
	}
}

// ShowQuickInfo implements exthost.UI.
func (b *Bridge) ShowQuickInfo(info, documentation string) {
	b.write(KindUI, val("call", "showQuickInfo"), val("info", info), val("documentation", documentation))
}

// HideQuickInfo implements exthost.UI.
func (b *Bridge) HideQuickInfo() {
	b.write(KindUI, val("call", "hideQuickInfo"))
}

// ShowCompletions implements exthost.UI.
func (b *Bridge) ShowCompletions(payload json.RawMessage) {
	b.write(KindUI, val("call", "showCompletions"), raw("payload", payload))
}

// SetDetailedCompletionEntry implements exthost.UI.
func (b *Bridge) SetDetailedCompletionEntry(details json.RawMessage) {
	b.write(KindUI, val("call", "setDetailedCompletionEntry"), raw("details", details))
}

// OpenFile implements exthost.Editor.
func (b *Bridge) OpenFile(path string) {
	b.write(KindEditor, val("call", "open"), val("path", path))
}

// MoveCursor implements exthost.Editor.
func (b *Bridge) MoveCursor(line, column int) {
	b.write(KindEditor, val("call", "cursor"), val("line", line), val("column", column))
}

// CenterView implements exthost.Editor.
func (b *Bridge) CenterView() {
	b.write(KindEditor, val("call", "center"))
}

// HostEvent forwards a host event to the editor.
func (b *Bridge) HostEvent(ev exthost.HostEvent) {
	b.write(KindHostEvent,
		val("name", ev.Name),
		val("plugin", ev.Plugin),
		raw("payload", ev.Payload),
		raw("error", ev.Error))
}

// Error reports a failure to the editor.
func (b *Bridge) Error(err error) {
	b.write(KindError, val("message", err.Error()))
}
