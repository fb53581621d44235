// Package function holds design-function definitions and the registry
// that binds each of them to a rendering engine.
//
// # Overview
//
// A design function is a parametric generative program. Its [Definition]
// carries an opaque handler understood by exactly one engine, an ordered
// list of [Param] declarations, optional presets, and [Settings] naming
// the engine and whether the function draws randomness.
//
//	reg, err := function.NewRegistry(
//	    function.Definition{
//	        Name:    "poster",
//	        Handler: drawPoster,
//	        Params: function.Params{
//	            {Name: "width", Type: "number", Default: 400},
//	            {Name: "height", Type: "number", Default: 300},
//	        },
//	        Settings: function.Settings{Engine: "canvas", UsesRandom: true},
//	    },
//	)
//
// The registry is built once and never mutated afterwards.
//
// # Values
//
// [Values] is the live parameter mapping edited by the user. Three keys
// are reserved: [ScaleToFitKey], [RandomSeedKey] and [PresetKey].
// Updates are applied as one batch with [Values.Apply] so observers never
// see a partially applied preset.
package function
