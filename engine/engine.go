// Package engine provides the rendering-engine capability interface and
// the Switchboard that loads exactly one engine at a time.
package engine

import (
	"context"

	"github.com/caffeineduck/mechanic/function"
)

// Engine defines a pluggable runtime for one rendering technology.
// Implement this interface to add a new engine (canvas, vector, wasm...).
type Engine interface {
	// ID returns the identifier design functions use in settings.engine.
	ID() function.EngineID

	// Initialize prepares the engine for running fn. It is only called when
	// the switchboard swaps engines, so it may be expensive (e.g. building a
	// rendering context or a WASM runtime).
	Initialize(ctx context.Context, fn string) error

	// Invoke runs def with the given values. Preview invocations may take a
	// cheaper rendering path; they must not persist anything.
	Invoke(ctx context.Context, fn string, def function.Definition, values function.Values, preview bool) (Output, error)
}

// Output is the artifact produced by one invocation.
type Output struct {
	Data        []byte
	ContentType string
	Extension   string
	Width       int
	Height      int
}

// Result is what a switchboard run returns: the handle echoed to the host
// and the rendered output, which is nil for the fallback entry point.
type Result struct {
	Handle function.RunHandle
	Output *Output
}

// MessageSurface is the part of an output surface the fallback entry point
// writes its inline notice to.
type MessageSurface interface {
	ShowMessage(msg string)
}
