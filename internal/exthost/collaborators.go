package exthost

import (
	"encoding/json"
	"time"

	"github.com/dshills/exthost/internal/exthost/protocol"
)

// UI is the editor surface the dispatcher draws on. Calls are fire-and-forget.
type UI interface {
	ShowQuickInfo(info, documentation string)
	HideQuickInfo()
	ShowCompletions(payload json.RawMessage)
	SetDetailedCompletionEntry(details json.RawMessage)
}

// Editor executes navigation commands.
type Editor interface {
	OpenFile(path string)
	MoveCursor(line, column int)
	CenterView()
}

// Settings answers configuration lookups. Values are read at the moment of
// each decision and never cached.
type Settings interface {
	GetBool(key string) bool
	GetInt(key string) int
}

// Timer is a pending scheduled call.
type Timer interface {
	Stop() bool
}

// Scheduler runs deferred work.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// EventSource is the editor feeding the dispatcher. Each registration
// returns a function that cancels it.
type EventSource interface {
	OnBufferUpdate(fn func(ctx protocol.EventContext, lines []string)) func()
	OnEvent(fn func(name string, ctx protocol.EventContext)) func()
}

// Settings keys consulted by the dispatcher.
const (
	KeyQuickInfoEnabled   = "quickInfo.enabled"
	KeyQuickInfoDelay     = "quickInfo.delay"
	KeyCompletionsEnabled = "completions.enabled"
)

// SystemScheduler schedules on the runtime timer.
type SystemScheduler struct{}

// AfterFunc implements Scheduler.
func (SystemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// MapSettings is a fixed Settings backed by a map. Missing keys read as
// false and 0.
type MapSettings map[string]any

// DefaultSettings returns the settings used when none are configured.
func DefaultSettings() MapSettings {
	return MapSettings{
		KeyQuickInfoEnabled:   true,
		KeyQuickInfoDelay:     500,
		KeyCompletionsEnabled: true,
	}
}

// GetBool implements Settings.
func (m MapSettings) GetBool(key string) bool {
	b, _ := m[key].(bool)
	return b
}

// GetInt implements Settings.
func (m MapSettings) GetInt(key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

type nopUI struct{}

func (nopUI) ShowQuickInfo(string, string)               {}
func (nopUI) HideQuickInfo()                             {}
func (nopUI) ShowCompletions(json.RawMessage)            {}
func (nopUI) SetDetailedCompletionEntry(json.RawMessage) {}

type nopEditor struct{}

func (nopEditor) OpenFile(string)     {}
func (nopEditor) MoveCursor(int, int) {}
func (nopEditor) CenterView()         {}
