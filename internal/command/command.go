// Package command is the host command table. Plugins register their
// commands here at start-up; the editor invokes them by id.
package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrNotFound is returned when executing an unknown command.
	ErrNotFound = errors.New("command not found")

	// ErrDuplicate is returned when a command id is registered twice.
	ErrDuplicate = errors.New("command already registered")

	// ErrInvalid is returned for a command without id, title or handler.
	ErrInvalid = errors.New("invalid command")
)

// Func runs a command with user-supplied arguments.
type Func func(ctx context.Context, args []any) error

// Command is one entry of the table.
type Command struct {
	ID          string
	Title       string
	Description string

	// Source tells where the command came from, e.g. "core" or
	// "plugin:quick-docs".
	Source string

	Invoke Func
}

// Table is a concurrency-safe command table.
type Table struct {
	mu       sync.RWMutex
	commands map[string]*Command
}

// New creates an empty table.
func New() *Table {
	return &Table{commands: make(map[string]*Command)}
}

// Register adds cmd. Ids are unique; registering an id twice fails.
func (t *Table) Register(cmd Command) error {
	if cmd.ID == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalid)
	}
	if cmd.Title == "" {
		return fmt.Errorf("%w: %s: title cannot be empty", ErrInvalid, cmd.ID)
	}
	if cmd.Invoke == nil {
		return fmt.Errorf("%w: %s: no handler", ErrInvalid, cmd.ID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.commands[cmd.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, cmd.ID)
	}
	t.commands[cmd.ID] = &cmd
	return nil
}

// RegisterCommand is Register for callers that only know the plugin-facing
// fields.
func (t *Table) RegisterCommand(id, title, description, source string, invoke Func) error {
	return t.Register(Command{ID: id, Title: title, Description: description, Source: source, Invoke: invoke})
}

// UnregisterBySource removes every command from source and returns how
// many were removed.
func (t *Table) UnregisterBySource(source string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := 0
	for id, cmd := range t.commands {
		if cmd.Source == source {
			delete(t.commands, id)
			count++
		}
	}
	return count
}

// Execute runs the command registered under id.
func (t *Table) Execute(ctx context.Context, id string, args ...any) error {
	t.mu.RLock()
	cmd, ok := t.commands[id]
	t.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := cmd.Invoke(ctx, args); err != nil {
		return fmt.Errorf("command %q: %w", id, err)
	}
	return nil
}

// Get returns the command registered under id.
func (t *Table) Get(id string) (Command, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cmd, ok := t.commands[id]
	if !ok {
		return Command{}, false
	}
	return *cmd, true
}

// All returns every command sorted by id.
func (t *Table) All() []Command {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]Command, 0, len(t.commands))
	for _, cmd := range t.commands {
		result = append(result, *cmd)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}

// Count returns the number of registered commands.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.commands)
}
