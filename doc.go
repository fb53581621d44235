// Package mechanic is an interactive editor for parametric design
// functions.
//
// # Overview
//
// A design function is a generative program with declared parameters,
// optional presets and a binding to one rendering engine. mechanic lets
// a user pick a function, edit its values and preview or export it.
//
// The pieces, bottom up:
//
//   - function: definitions, values, presets and the immutable registry
//   - engine: the Engine interface and the Switchboard that keeps at
//     most one engine loaded
//   - engine/canvas, engine/vector and engine/wasm: the engines
//   - sandbox: execution contexts that run the switchboard behind a
//     message boundary and signal readiness
//   - preview: the controller turning edits into runs
//   - export and store: artifact sinks and persisted values
//
// # Basic Usage
//
//	reg, _ := function.NewRegistry(builtin.Definitions()...)
//	surf := surface.New(1280, 800)
//	sb, _ := engine.NewSwitchboard(reg,
//	    []engine.Engine{canvas.New(), vector.New(), wasm.New()},
//	    engine.WithSurface(surf))
//
//	launcher := sandbox.NewLauncher(sb, surf, sink)
//	ctl := preview.New(reg, preview.LauncherFunc(launch), surf)
//
//	ctl.Select(ctx, "circles")
//	ctl.WaitReady(ctx)                   // first preview has run
//	ctl.OnParamChange(ctx, "count", 100) // auto-preview, same seed
//	ctl.Preview(ctx)                     // fresh seed
//	ctl.Export(ctx)                      // full size, last seed
//
// # Seeds
//
// Functions that use randomness receive a seed in every run. Explicit
// previews mint a new one; automatic previews and exports reuse the seed
// of the last preview so the output does not change under the user.
//
// # Command Line
//
// The cmd/mechanic binary exposes list, render, repl and serve commands
// on top of these packages.
package mechanic
