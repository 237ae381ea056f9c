package app

import (
	"sync/atomic"
	"time"
)

// Metrics counts traffic through the host.
type Metrics struct {
	hostEvents atomic.Uint64
	commands   atomic.Uint64
	startTime  time.Time
}

// NewMetrics creates a new metrics tracker.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordHostEvent counts one host event forwarded to the editor.
func (m *Metrics) RecordHostEvent() {
	m.hostEvents.Add(1)
}

// RecordCommand counts one plugin command invocation.
func (m *Metrics) RecordCommand() {
	m.commands.Add(1)
}

// MetricsSnapshot is a point-in-time copy of the metrics.
type MetricsSnapshot struct {
	HostEvents uint64
	Commands   uint64
	// Dropped is the number of messages discarded on full plugin mailboxes.
	Dropped uint64
	Plugins int
	Uptime  time.Duration
}

func (m *Metrics) snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		HostEvents: m.hostEvents.Load(),
		Commands:   m.commands.Load(),
		Uptime:     time.Since(m.startTime),
	}
}
