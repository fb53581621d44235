// Package vector provides the recording engine. Design functions draw into
// a recording.Recorder; the recording is played back to a named backend.
// Previews always go to the raster backend, exports to the configured one.
package vector

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/caffeineduck/mechanic/engine"
	"github.com/caffeineduck/mechanic/engine/canvas"
	"github.com/caffeineduck/mechanic/function"
	"github.com/caffeineduck/mechanic/internal/logging"
	"github.com/gogpu/gg"
	"github.com/gogpu/gg/recording"

	// Register the raster backend used for previews.
	_ "github.com/gogpu/gg/recording/backends/raster"
)

const ID function.EngineID = "vector"

// PreviewBackend is the backend previews are played back to.
const PreviewBackend = "raster"

// Handler records a design function.
type Handler func(rec *recording.Recorder, values function.Values) error

// Format describes the artifact a backend writes.
type Format struct {
	ContentType string
	Extension   string
}

var knownFormats = map[string]Format{
	"raster": {ContentType: "image/png", Extension: "png"},
	"pdf":    {ContentType: "application/pdf", Extension: "pdf"},
	"svg":    {ContentType: "image/svg+xml", Extension: "svg"},
}

// Engine implements engine.Engine with gg's recording backends.
type Engine struct {
	exportBackend string
	background    gg.RGBA
	width, height int
	logger        *slog.Logger
}

// Option configures the vector engine.
type Option func(*Engine)

// WithExportBackend selects the recording backend exports are written
// with. The backend must be registered by import.
func WithExportBackend(name string) Option {
	return func(e *Engine) {
		if name != "" {
			e.exportBackend = name
		}
	}
}

// WithBackground sets the fill applied before the handler draws.
func WithBackground(col gg.RGBA) Option {
	return func(e *Engine) {
		e.background = col
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New returns a vector engine exporting with the raster backend unless
// configured otherwise.
func New(opts ...Option) *Engine {
	e := &Engine{
		exportBackend: PreviewBackend,
		background:    gg.White,
		width:         500,
		height:        500,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrNop(e.logger)
	return e
}

func (e *Engine) ID() function.EngineID {
	return ID
}

// Initialize checks that both backends are available.
func (e *Engine) Initialize(ctx context.Context, fn string) error {
	for _, name := range []string{PreviewBackend, e.exportBackend} {
		if !recording.IsRegistered(name) {
			return fmt.Errorf("recording backend %q not registered (have %v)", name, recording.Backends())
		}
	}
	e.logger.Debug("vector engine ready", "function", fn, "export_backend", e.exportBackend)
	return nil
}

// Invoke records def and plays the recording back.
func (e *Engine) Invoke(ctx context.Context, fn string, def function.Definition, values function.Values, preview bool) (engine.Output, error) {
	handler, err := handlerOf(def)
	if err != nil {
		return engine.Output{}, err
	}
	if err := ctx.Err(); err != nil {
		return engine.Output{}, err
	}

	width := values.Int("width", e.width)
	height := values.Int("height", e.height)
	scale := 1.0
	if preview {
		if fit, ok := values.ScaleToFit(); ok {
			scale = canvas.FitScale(width, height, fit)
		}
	}
	outW := max(1, int(math.Round(float64(width)*scale)))
	outH := max(1, int(math.Round(float64(height)*scale)))

	rec := recording.NewRecorder(outW, outH)
	rec.ClearWithColor(e.background)
	rec.Push()
	rec.Scale(scale, scale)
	if err := handler(rec, values); err != nil {
		return engine.Output{}, fmt.Errorf("draw: %w", err)
	}
	rec.Pop()

	backendName := e.exportBackend
	if preview {
		backendName = PreviewBackend
	}
	data, err := play(rec.FinishRecording(), backendName)
	if err != nil {
		return engine.Output{}, err
	}

	format := FormatOf(backendName)
	return engine.Output{
		Data:        data,
		ContentType: format.ContentType,
		Extension:   format.Extension,
		Width:       outW,
		Height:      outH,
	}, nil
}

// FormatOf returns the artifact format for a backend name. Unknown
// backends are reported as opaque binary.
func FormatOf(backend string) Format {
	if f, ok := knownFormats[backend]; ok {
		return f
	}
	return Format{ContentType: "application/octet-stream", Extension: backend}
}

func play(r *recording.Recording, name string) ([]byte, error) {
	backend, err := recording.NewBackend(name)
	if err != nil {
		return nil, err
	}
	w, ok := backend.(recording.WriterBackend)
	if !ok {
		return nil, fmt.Errorf("recording backend %q cannot write to a stream", name)
	}
	if err := r.Playback(w); err != nil {
		return nil, fmt.Errorf("playback to %s: %w", name, err)
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

func handlerOf(def function.Definition) (Handler, error) {
	switch h := def.Handler.(type) {
	case Handler:
		return h, nil
	case func(*recording.Recorder, function.Values) error:
		return h, nil
	default:
		return nil, fmt.Errorf("%w: vector cannot run %T", engine.ErrUnsupportedHandler, def.Handler)
	}
}
