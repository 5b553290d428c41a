package tools

import (
	"context"
	"time"
)

// DefaultTimeout bounds a single tool execution.
const DefaultTimeout = 30 * time.Second

// Parameter describes one tool argument.
type Parameter struct {
	Type        string
	Description string
	Required    bool
}

// Definition describes an executable tool.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]Parameter

	// Available reports whether the tool can currently run. Nil means
	// always available.
	Available func() bool

	// UnavailableMessage is returned as the tool's result content when
	// Available reports false. The turn continues; the model sees the
	// message and can answer around it.
	UnavailableMessage string

	// Timeout overrides DefaultTimeout when positive.
	Timeout time.Duration

	// Handler runs the tool with validated arguments.
	Handler func(ctx context.Context, args map[string]interface{}) (string, error)
}
