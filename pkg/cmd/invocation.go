// Package cmd provides a transport-agnostic command core: a command is something
// with a name, description, and Run(ctx, invocation). How it is registered and
// dispatched (chat prefix, CLI, HTTP) is defined by adapters that wrap this.
package cmd

import "context"

// Invocation carries what any command runner can pass: who called, where,
// the arguments after the command name and an opaque payload. Adapters set
// Data to their own context (e.g. the inbound chat message).
type Invocation struct {
	Name      string
	Args      []string
	UserID    string
	ChannelID string
	Data      any
}

// Command is the universal contract: identity plus execution. Permissions and
// transport-specific registration stay in adapters.
type Command interface {
	Name() string
	Description() string
	Run(ctx context.Context, inv *Invocation) error
}
