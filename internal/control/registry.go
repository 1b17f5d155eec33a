package control

import (
	"fmt"
	"sort"
	"strings"
)

// HandlerFunc processes one command request. The returned Response may
// be a plain message, a structured value, or None when the handler has
// taken over the connection and no reply must be sent.
type HandlerFunc func(c *Conn, req Request) (Response, error)

type registration struct {
	description string
	handler     HandlerFunc
}

// Registry maps command names to handlers. It is populated during
// startup and read-only once the server starts accepting connections,
// so lookups need no synchronization.
type Registry struct {
	commands map[string]registration
}

// NewRegistry creates an empty command registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]registration)}
}

// Register stores a handler under name, overwriting any prior
// registration. Commands registered with an empty description stay
// dispatchable but are omitted from help output.
func (r *Registry) Register(name, description string, handler HandlerFunc) {
	r.commands[name] = registration{description: description, handler: handler}
}

// Lookup returns the handler for name.
func (r *Registry) Lookup(name string) (HandlerFunc, bool) {
	reg, ok := r.commands[name]
	if !ok {
		return nil, false
	}
	return reg.handler, true
}

// HelpText renders the full command listing shown to operators.
func (r *Registry) HelpText() string {
	return "Available commands:\n" + r.DescribeAll()
}

// DescribeAll returns a newline-joined, name-sorted listing of every
// documented command.
func (r *Registry) DescribeAll() string {
	names := make([]string, 0, len(r.commands))
	for name, reg := range r.commands {
		if reg.description == "" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		lines = append(lines, fmt.Sprintf("%s: %s", name, r.commands[name].description))
	}
	return strings.Join(lines, "\n")
}
