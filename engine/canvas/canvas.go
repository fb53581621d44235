// Package canvas provides the raster engine: design functions draw into a
// reusable gg.Context and the result is encoded as PNG.
package canvas

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/caffeineduck/mechanic/engine"
	"github.com/caffeineduck/mechanic/function"
	"github.com/caffeineduck/mechanic/internal/logging"
	"github.com/gogpu/gg"
)

// ID is the engine identifier design functions declare in settings.engine.
const ID function.EngineID = "canvas"

// Handler draws a design function onto dc. The context is already sized
// and, for scale-to-fit previews, scaled; handlers draw in their own
// width/height coordinate space.
type Handler func(dc *gg.Context, values function.Values) error

var errNotInitialized = errors.New("canvas engine not initialized")

// Engine implements engine.Engine on top of gg's software renderer.
type Engine struct {
	cfg config

	mu sync.Mutex
	dc *gg.Context
}

type config struct {
	width      int
	height     int
	background gg.RGBA
	logger     *slog.Logger
}

// Option configures the canvas engine.
type Option func(*config)

// WithDefaultSize sets the size used when a function declares no
// width/height params.
func WithDefaultSize(width, height int) Option {
	return func(c *config) {
		c.width = width
		c.height = height
	}
}

// WithBackground sets the color each frame is cleared to.
func WithBackground(col gg.RGBA) Option {
	return func(c *config) {
		c.background = col
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// New returns a canvas engine.
func New(opts ...Option) *Engine {
	cfg := config{
		width:      500,
		height:     500,
		background: gg.White,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.logger = logging.OrNop(cfg.logger)
	return &Engine{cfg: cfg}
}

// ID returns "canvas".
func (e *Engine) ID() function.EngineID {
	return ID
}

// Initialize builds the drawing context. Subsequent invocations resize it
// in place rather than allocating a new one.
func (e *Engine) Initialize(ctx context.Context, fn string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dc != nil {
		e.dc.Close()
	}
	e.dc = gg.NewContext(e.cfg.width, e.cfg.height)
	e.cfg.logger.Debug("canvas context created", "function", fn, "width", e.cfg.width, "height", e.cfg.height)
	return nil
}

// Invoke renders def and returns a PNG.
func (e *Engine) Invoke(ctx context.Context, fn string, def function.Definition, values function.Values, preview bool) (engine.Output, error) {
	handler, err := handlerOf(def)
	if err != nil {
		return engine.Output{}, err
	}
	if err := ctx.Err(); err != nil {
		return engine.Output{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dc == nil {
		return engine.Output{}, errNotInitialized
	}

	width := values.Int("width", e.cfg.width)
	height := values.Int("height", e.cfg.height)
	scale := 1.0
	if preview {
		if fit, ok := values.ScaleToFit(); ok {
			scale = FitScale(width, height, fit)
		}
	}
	outW := max(1, int(math.Round(float64(width)*scale)))
	outH := max(1, int(math.Round(float64(height)*scale)))

	if err := e.dc.Resize(outW, outH); err != nil {
		return engine.Output{}, fmt.Errorf("resize canvas: %w", err)
	}
	e.dc.Identity()
	e.dc.ClearPath()
	e.dc.ClearWithColor(e.cfg.background)

	e.dc.Push()
	e.dc.Scale(scale, scale)
	drawErr := handler(e.dc, values)
	e.dc.Pop()
	if drawErr != nil {
		return engine.Output{}, fmt.Errorf("draw: %w", drawErr)
	}

	var buf bytes.Buffer
	if err := e.dc.EncodePNG(&buf); err != nil {
		return engine.Output{}, fmt.Errorf("encode png: %w", err)
	}

	return engine.Output{
		Data:        buf.Bytes(),
		ContentType: "image/png",
		Extension:   "png",
		Width:       outW,
		Height:      outH,
	}, nil
}

// Close releases the drawing context.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dc == nil {
		return nil
	}
	err := e.dc.Close()
	e.dc = nil
	return err
}

// FitScale returns the factor that shrinks a width x height render into
// fit. Renders that already fit are not enlarged.
func FitScale(width, height int, fit function.ScaleToFit) float64 {
	if width <= 0 || height <= 0 || fit.Width <= 0 || fit.Height <= 0 {
		return 1
	}
	ratio := math.Min(fit.Width/float64(width), fit.Height/float64(height))
	if ratio >= 1 {
		return 1
	}
	return ratio
}

func handlerOf(def function.Definition) (Handler, error) {
	switch h := def.Handler.(type) {
	case Handler:
		return h, nil
	case func(*gg.Context, function.Values) error:
		return h, nil
	default:
		return nil, fmt.Errorf("%w: canvas cannot run %T", engine.ErrUnsupportedHandler, def.Handler)
	}
}
