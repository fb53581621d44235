package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/caffeineduck/mechanic/function"
	"github.com/caffeineduck/mechanic/internal/logging"
)

var (
	ErrEngineNotFound     = errors.New("engine not found")
	ErrNoEntryPoint       = errors.New("no engine selected")
	ErrEngineMismatch     = errors.New("function is bound to a different engine")
	ErrUnsupportedHandler = errors.New("unsupported handler")
)

type entryPoint func(ctx context.Context, name string, values function.Values, preview bool) (Result, error)

// Switchboard loads engines on demand and keeps at most one of them
// loaded. Selecting a function whose engine is already loaded is a no-op.
type Switchboard struct {
	registry *function.Registry
	engines  map[function.EngineID]Engine
	cfg      switchboardConfig

	mu       sync.Mutex
	loaded   function.EngineID
	current  Engine
	run      entryPoint
	fallback bool
}

// NewSwitchboard creates a switchboard dispatching functions from reg to
// the given engines.
func NewSwitchboard(reg *function.Registry, engines []Engine, opts ...Option) (*Switchboard, error) {
	cfg := defaultSwitchboardConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.logger = logging.OrNop(cfg.logger)

	table := make(map[function.EngineID]Engine, len(engines))
	for _, eng := range engines {
		id := eng.ID()
		if _, dup := table[id]; dup {
			return nil, fmt.Errorf("engine %q registered twice", id)
		}
		table[id] = eng
	}

	return &Switchboard{
		registry: reg,
		engines:  table,
		cfg:      cfg,
	}, nil
}

// SelectFunction makes name runnable. If no engine is bound to it, a
// fallback entry point that shows a notice on the surface is installed
// and ErrEngineNotFound is returned; the loaded engine is kept.
func (s *Switchboard) SelectFunction(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectLocked(ctx, name)
}

func (s *Switchboard) selectLocked(ctx context.Context, name string) error {
	id, ok := s.registry.EngineOf(name)
	eng, known := s.engines[id]
	if !ok || !known {
		s.run = s.fallbackEntry(name)
		s.fallback = true
		s.cfg.logger.Warn("no engine for function", "function", name, "engine", id)
		if ok {
			return fmt.Errorf("%w: %s (engine %q)", ErrEngineNotFound, name, id)
		}
		return fmt.Errorf("%w: %s", ErrEngineNotFound, name)
	}

	if s.current != nil && id == s.loaded {
		if s.fallback {
			s.run = s.engineEntry(s.current)
			s.fallback = false
		}
		s.cfg.logger.Debug("engine already loaded", "function", name, "engine", id)
		return nil
	}

	s.cfg.logger.Info("loading engine", "function", name, "engine", id)
	if err := eng.Initialize(ctx, name); err != nil {
		return fmt.Errorf("initialize engine %s: %w", id, err)
	}

	s.loaded = id
	s.current = eng
	s.run = s.engineEntry(eng)
	s.fallback = false
	return nil
}

// Run invokes the bound entry point. SelectFunction must have been called.
func (s *Switchboard) Run(ctx context.Context, name string, values function.Values, preview bool) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run == nil {
		return Result{}, ErrNoEntryPoint
	}
	return s.run(ctx, name, values, preview)
}

// RunSelected binds name and runs it while holding the switchboard, so a
// context sharing it cannot swap the engine in between. An engine miss
// runs the fallback entry point.
func (s *Switchboard) RunSelected(ctx context.Context, name string, values function.Values, preview bool) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.selectLocked(ctx, name); err != nil && !errors.Is(err, ErrEngineNotFound) {
		return Result{}, err
	}
	return s.run(ctx, name, values, preview)
}

// Loaded returns the currently loaded engine.
func (s *Switchboard) Loaded() (function.EngineID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded, s.current != nil
}

// Registry returns the registry the switchboard dispatches from.
func (s *Switchboard) Registry() *function.Registry {
	return s.registry
}

// Close releases engines that hold resources.
func (s *Switchboard) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, eng := range s.engines {
		if c, ok := eng.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	s.current = nil
	s.loaded = ""
	s.run = nil
	return errors.Join(errs...)
}

func (s *Switchboard) engineEntry(eng Engine) entryPoint {
	return func(ctx context.Context, name string, values function.Values, preview bool) (Result, error) {
		def, err := s.registry.Lookup(name)
		if err != nil {
			return Result{}, err
		}
		if def.Settings.Engine != eng.ID() {
			return Result{}, fmt.Errorf("%w: %s uses %q, loaded %q", ErrEngineMismatch, name, def.Settings.Engine, eng.ID())
		}

		resolved := s.resolveSeed(def, values)
		out, err := eng.Invoke(ctx, name, def, resolved, preview)
		if err != nil {
			return Result{Handle: function.RunHandle{Values: resolved}}, fmt.Errorf("run %s: %w", name, err)
		}
		return Result{Handle: function.RunHandle{Values: resolved}, Output: &out}, nil
	}
}

func (s *Switchboard) fallbackEntry(missing string) entryPoint {
	return func(ctx context.Context, name string, values function.Values, preview bool) (Result, error) {
		msg := fmt.Sprintf("No engine to run for %s!", missing)
		if s.cfg.surface != nil {
			s.cfg.surface.ShowMessage(msg)
		}
		return Result{Handle: function.RunHandle{Values: values.Clone()}}, nil
	}
}

// resolveSeed keeps an incoming seed, mints one when missing, and strips
// it entirely for functions that do not use randomness.
func (s *Switchboard) resolveSeed(def function.Definition, values function.Values) function.Values {
	out := values.Clone()
	if !def.Settings.UsesRandom {
		delete(out, function.RandomSeedKey)
		return out
	}
	if _, ok := out.Seed(); !ok {
		out[function.RandomSeedKey] = s.cfg.seeds()
	}
	return out
}
