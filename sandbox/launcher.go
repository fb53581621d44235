package sandbox

import (
	"context"
	"errors"
	"log/slog"

	"github.com/caffeineduck/mechanic/engine"
	"github.com/caffeineduck/mechanic/internal/logging"
	"github.com/caffeineduck/mechanic/surface"
)

// Launcher opens contexts that share one Switchboard, Surface and Sink.
type Launcher struct {
	sb      *engine.Switchboard
	surface *surface.Surface
	sink    Sink
	logger  *slog.Logger
}

// Option configures a Launcher.
type Option func(*Launcher)

func WithLogger(l *slog.Logger) Option {
	return func(la *Launcher) {
		la.logger = l
	}
}

// NewLauncher returns a launcher. sink may be nil, in which case exports
// are rendered and presented but not stored.
func NewLauncher(sb *engine.Switchboard, surf *surface.Surface, sink Sink, opts ...Option) *Launcher {
	l := &Launcher{
		sb:      sb,
		surface: surf,
		sink:    sink,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = logging.OrNop(l.logger)
	return l
}

// Launch starts a guest booted for name and waits for the boot result.
// When no engine can run name, the context is still returned, together
// with an error wrapping engine.ErrEngineNotFound; its runs show the
// notice on the surface.
func (l *Launcher) Launch(ctx context.Context, name string) (*Context, error) {
	g := &guest{
		boot:    name,
		sb:      l.sb,
		surface: l.surface,
		sink:    l.sink,
		logger:  l.logger.With("function", name),
	}
	c := newContext(name, g, l.logger)

	r, err := c.await(ctx, 0)
	if err != nil {
		c.Close()
		return nil, err
	}

	bootErr := decodeError(r)
	c.mu.Lock()
	c.initialized = bootErr == nil
	c.mu.Unlock()

	if bootErr != nil && !errors.Is(bootErr, engine.ErrEngineNotFound) {
		c.Close()
		return nil, bootErr
	}
	l.logger.Debug("context launched", "function", name, "engine_found", bootErr == nil)
	return c, bootErr
}
