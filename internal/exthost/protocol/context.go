// Package protocol defines the message-level protocol spoken between the
// extension host and its plugins.
//
// The types here are transport independent: every channel variant (in-process
// Go or Lua plugins, framed stdio processes, go-plugin gRPC processes) moves
// the same OutboundMessage and PluginResponse values, encoded as JSON when
// they cross a process boundary.
package protocol

import "fmt"

// EventContext is a snapshot of the editor position at the time of an event.
// It is used as request payload and as the origin stamp of a request so that
// responses can be correlated with the state that produced them.
type EventContext struct {
	BufferFullPath string `json:"bufferFullPath"`
	Line           int    `json:"line"`
	Column         int    `json:"column"`
	ByteOffset     int    `json:"byte"`
	Filetype       string `json:"filetype"`
	Version        int    `json:"version,omitempty"`
}

// SamePosition reports whether a and b refer to the same buffer position.
// Only the buffer path, line and column take part in the comparison.
func SamePosition(a, b EventContext) bool {
	return a.BufferFullPath == b.BufferFullPath &&
		a.Line == b.Line &&
		a.Column == b.Column
}

// String returns a compact representation used in log output.
func (c EventContext) String() string {
	return fmt.Sprintf("%s:%d:%d", c.BufferFullPath, c.Line, c.Column)
}

// BufferInfo is a snapshot of a buffer's content.
type BufferInfo struct {
	Lines    []string `json:"lines"`
	Version  int      `json:"version"`
	FilePath string   `json:"filePath"`
}

// NextBufferInfo builds the snapshot that replaces prev after a buffer update.
// The version is taken from the context when the editor supplies one and is
// otherwise derived from the previous snapshot, so it never goes backwards.
func NextBufferInfo(prev *BufferInfo, ctx EventContext, lines []string) BufferInfo {
	version := ctx.Version
	if prev != nil && version <= prev.Version {
		version = prev.Version + 1
	}
	if prev == nil && version <= 0 {
		version = 1
	}

	copied := make([]string, len(lines))
	copy(copied, lines)

	return BufferInfo{
		Lines:    copied,
		Version:  version,
		FilePath: ctx.BufferFullPath,
	}
}
