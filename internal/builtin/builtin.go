// Package builtin holds the design functions shipped with mechanic. They
// double as named handlers HCL function files can bind to.
package builtin

import (
	"fmt"
	"math"

	"github.com/caffeineduck/mechanic/engine"
	"github.com/caffeineduck/mechanic/engine/canvas"
	"github.com/caffeineduck/mechanic/engine/vector"
	"github.com/caffeineduck/mechanic/function"
	"github.com/gogpu/gg"
	"github.com/gogpu/gg/recording"
)

func ptr(f float64) *float64 { return &f }

func sizeParams(width, height float64) function.Params {
	return function.Params{
		{Name: "width", Type: "number", Default: width, Min: ptr(1), Step: ptr(1), Label: "Width"},
		{Name: "height", Type: "number", Default: height, Min: ptr(1), Step: ptr(1), Label: "Height"},
	}
}

// Definitions returns the built-in design functions.
func Definitions() []function.Definition {
	return []function.Definition{
		{
			Name:    "circles",
			Handler: canvas.Handler(Circles),
			Params: append(sizeParams(400, 300),
				function.Param{Name: "count", Type: "number", Default: 40.0, Min: ptr(1), Max: ptr(2000), Step: ptr(1)},
				function.Param{Name: "radius", Type: "number", Default: 30.0, Min: ptr(1)},
				function.Param{Name: "color", Type: "color", Default: "#e4572e"},
			),
			Presets: map[string]function.Values{
				"dense":  {"count": 400.0, "radius": 8.0},
				"sparse": {"count": 8.0, "radius": 60.0},
			},
			Settings: function.Settings{Engine: canvas.ID, UsesRandom: true},
		},
		{
			Name:    "grid",
			Handler: canvas.Handler(Grid),
			Params: append(sizeParams(600, 600),
				function.Param{Name: "cols", Type: "number", Default: 8.0, Min: ptr(1), Step: ptr(1)},
				function.Param{Name: "rows", Type: "number", Default: 8.0, Min: ptr(1), Step: ptr(1)},
				function.Param{Name: "color", Type: "color", Default: "#29335c"},
				function.Param{Name: "lineWidth", Type: "number", Default: 2.0, Min: ptr(0)},
			),
			Presets: map[string]function.Values{
				"fine": {"cols": 32.0, "rows": 32.0, "lineWidth": 1.0},
			},
			Settings: function.Settings{Engine: canvas.ID},
		},
		{
			Name:    "rings",
			Handler: vector.Handler(Rings),
			Params: append(sizeParams(800, 800),
				function.Param{Name: "rings", Type: "number", Default: 12.0, Min: ptr(1), Step: ptr(1)},
				function.Param{Name: "jitter", Type: "number", Default: 0.2, Min: ptr(0), Max: ptr(1)},
				function.Param{Name: "color", Type: "color", Default: "#669bbc"},
			),
			Presets: map[string]function.Values{
				"calm":  {"jitter": 0.0},
				"noisy": {"jitter": 0.8, "rings": 30.0},
			},
			Settings: function.Settings{Engine: vector.ID, UsesRandom: true},
		},
		{
			Name:    "swatch",
			Handler: vector.Handler(Swatch),
			Params: function.Params{
				{Name: "color", Type: "color", Default: "#f2cc8f"},
				{Name: "rounded", Type: "boolean", Default: true},
			},
			Settings: function.Settings{Engine: vector.ID},
		},
	}
}

// Handlers returns the built-in handlers by function name.
func Handlers() map[string]any {
	defs := Definitions()
	out := make(map[string]any, len(defs))
	for _, def := range defs {
		out[def.Name] = def.Handler
	}
	return out
}

// Circles scatters filled circles using the run's seed.
func Circles(dc *gg.Context, values function.Values) error {
	w := values.Float("width", 400)
	h := values.Float("height", 300)
	count := values.Int("count", 40)
	radius := values.Float("radius", 30)
	if count < 0 {
		return fmt.Errorf("count must not be negative, got %d", count)
	}

	seed, _ := values.Seed()
	rng := engine.Rand(seed)
	col := gg.Hex(values.String("color", "#e4572e"))

	for range count {
		r := radius * (0.4 + 0.6*rng.Float64())
		dc.SetRGBA(col.R, col.G, col.B, 0.3+0.7*rng.Float64())
		dc.DrawCircle(rng.Float64()*w, rng.Float64()*h, r)
		if err := dc.Fill(); err != nil {
			return err
		}
	}
	return nil
}

// Grid strokes a regular cols x rows grid.
func Grid(dc *gg.Context, values function.Values) error {
	w := values.Float("width", 600)
	h := values.Float("height", 600)
	cols := max(1, values.Int("cols", 8))
	rows := max(1, values.Int("rows", 8))
	col := gg.Hex(values.String("color", "#29335c"))

	dc.SetRGB(col.R, col.G, col.B)
	dc.SetLineWidth(values.Float("lineWidth", 2))
	for i := 0; i <= cols; i++ {
		x := w * float64(i) / float64(cols)
		dc.DrawLine(x, 0, x, h)
	}
	for j := 0; j <= rows; j++ {
		y := h * float64(j) / float64(rows)
		dc.DrawLine(0, y, w, y)
	}
	return dc.Stroke()
}

// Rings records concentric circles whose radii wobble with the seed.
func Rings(rec *recording.Recorder, values function.Values) error {
	w := values.Float("width", 800)
	h := values.Float("height", 800)
	n := max(1, values.Int("rings", 12))
	jitter := math.Max(0, math.Min(1, values.Float("jitter", 0.2)))

	seed, _ := values.Seed()
	rng := engine.Rand(seed)
	col := gg.Hex(values.String("color", "#669bbc"))

	cx, cy := w/2, h/2
	step := math.Min(w, h) / 2 / float64(n)
	rec.SetLineWidth(math.Max(1, step/4))
	for i := 1; i <= n; i++ {
		r := step*float64(i) + (rng.Float64()-0.5)*step*jitter
		rec.SetStrokeRGBA(col.R, col.G, col.B, float64(i)/float64(n))
		rec.DrawCircle(cx, cy, math.Max(0.5, r))
		rec.Stroke()
	}
	return nil
}

// Swatch records a single color chip. It declares no size params, so it
// is rendered at the engine's default size and never scaled to fit.
func Swatch(rec *recording.Recorder, values function.Values) error {
	col := gg.Hex(values.String("color", "#f2cc8f"))
	w, h := float64(rec.Width()), float64(rec.Height())
	pad := math.Min(w, h) / 10

	rec.SetFillRGBA(col.R, col.G, col.B, col.A)
	if values.Bool("rounded", true) {
		rec.DrawRoundedRectangle(pad, pad, w-2*pad, h-2*pad, pad)
	} else {
		rec.DrawRectangle(pad, pad, w-2*pad, h-2*pad)
	}
	rec.Fill()
	return nil
}
