// Package preview implements the controller that turns editor events
// into runs: parameter changes, explicit preview and export requests,
// toggles, and the execution context becoming ready.
//
// All events are serialized. Switching functions tears down the old
// execution context and its ready listener and starts a new generation;
// ready events from an older generation are dropped.
package preview

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/caffeineduck/mechanic/function"
	"github.com/caffeineduck/mechanic/internal/logging"
)

var (
	ErrNotReady     = errors.New("execution context not ready")
	ErrNoFunction   = errors.New("no function selected")
	ErrUnknownParam = errors.New("unknown parameter")
)

// Context is a running execution context.
type Context interface {
	Run(ctx context.Context, req function.RunRequest) (function.RunHandle, error)
	Ready() <-chan struct{}
	Close() error
}

// Launcher opens an execution context booted for a function. It may
// return a usable context together with an error, e.g. when no engine
// can run the function and the context shows a notice instead.
type Launcher interface {
	Launch(ctx context.Context, name string) (Context, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, name string) (Context, error)

func (f LauncherFunc) Launch(ctx context.Context, name string) (Context, error) {
	return f(ctx, name)
}

// Viewport reports the visible area previews are fitted into.
type Viewport interface {
	Bounds() (width, height float64)
}

// Controller owns the live values of the selected function and decides
// what each run is sent with.
type Controller struct {
	reg      *function.Registry
	launcher Launcher
	viewport Viewport
	cfg      config

	mu          sync.Mutex
	def         *function.Definition
	values      function.Values
	scaleToFit  bool
	autoRefresh bool
	ready       bool
	readyCh     chan struct{}
	last        *function.RunHandle
	current     Context
	gen         uint64
	stopListen  context.CancelFunc
}

// New returns a controller with scale-to-fit and auto-refresh on.
// viewport may be nil, in which case previews are never scaled.
func New(reg *function.Registry, launcher Launcher, viewport Viewport, opts ...Option) *Controller {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.logger = logging.OrNop(cfg.logger)
	return &Controller{
		reg:         reg,
		launcher:    launcher,
		viewport:    viewport,
		cfg:         cfg,
		scaleToFit:  true,
		autoRefresh: true,
		readyCh:     make(chan struct{}),
	}
}

// Select makes name the active function. The previous context is closed
// before the new one is launched. If the launcher reports an error but
// still returns a context, the context is kept and the error returned.
func (c *Controller) Select(ctx context.Context, name string) error {
	def, err := c.reg.Lookup(name)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.teardownLocked()
	c.def = &def
	c.values = c.loadValues(ctx, def)

	ec, launchErr := c.launcher.Launch(ctx, name)
	if ec == nil {
		c.def = nil
		c.values = nil
		if launchErr == nil {
			launchErr = fmt.Errorf("launch %s: no context", name)
		}
		return launchErr
	}
	c.current = ec

	listenCtx, cancel := context.WithCancel(context.Background())
	c.stopListen = cancel
	go c.listen(listenCtx, c.gen, ec.Ready())

	c.notifyLocked()
	c.cfg.logger.Info("function selected", "function", name, "engine", def.Settings.Engine, "generation", c.gen)
	return launchErr
}

// teardownLocked drops the current context and starts a new generation.
func (c *Controller) teardownLocked() {
	if c.stopListen != nil {
		c.stopListen()
		c.stopListen = nil
	}
	if c.current != nil {
		if err := c.current.Close(); err != nil {
			c.cfg.logger.Warn("close execution context", "error", err)
		}
		c.current = nil
	}
	c.gen++
	c.ready = false
	c.readyCh = make(chan struct{})
	c.last = nil
}

func (c *Controller) loadValues(ctx context.Context, def function.Definition) function.Values {
	values := function.Defaults(def)
	if c.cfg.store == nil {
		return values
	}
	saved, err := c.cfg.store.Load(ctx, def.Name)
	if err != nil {
		c.cfg.logger.Warn("load saved values", "function", def.Name, "error", err)
		return values
	}
	restored := function.Values{}
	for k, v := range saved {
		if def.Params.Has(k) {
			restored[k] = v
		}
	}
	return values.Apply(restored)
}

func (c *Controller) listen(ctx context.Context, gen uint64, ready <-chan struct{}) {
	select {
	case <-ready:
		c.onReady(gen)
	case <-ctx.Done():
	}
}

// onReady handles the ready event of generation gen.
func (c *Controller) onReady(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.ready {
		c.cfg.logger.Debug("dropping stale ready event", "generation", gen, "current", c.gen)
		return
	}
	c.ready = true
	if _, _, err := c.autoPreviewLocked(context.Background()); err != nil {
		c.cfg.logger.Warn("auto preview after ready", "error", err)
	}
	close(c.readyCh)
}

// OnParamChange applies one edit. Selecting a preset records its name and
// replaces every value the preset defines in a single update.
func (c *Controller) OnParamChange(ctx context.Context, name string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.def == nil {
		return ErrNoFunction
	}

	var update function.Values
	if name == function.PresetKey {
		preset, ok := value.(string)
		if !ok {
			return fmt.Errorf("preset name must be a string, got %T", value)
		}
		pv, err := function.ResolvePreset(*c.def, preset)
		if err != nil {
			return err
		}
		update = function.Values{function.PresetKey: preset}.Apply(pv)
	} else {
		if !c.def.Params.Has(name) {
			return fmt.Errorf("%w: %s has no param %q", ErrUnknownParam, c.def.Name, name)
		}
		update = function.Values{name: value}
	}

	c.values = c.values.Apply(update)
	c.persistLocked(ctx)
	c.notifyLocked()

	if _, _, err := c.autoPreviewLocked(ctx); err != nil {
		return fmt.Errorf("auto preview: %w", err)
	}
	return nil
}

func (c *Controller) persistLocked(ctx context.Context) {
	if c.cfg.store == nil {
		return
	}
	if err := c.cfg.store.Save(ctx, c.def.Name, c.values); err != nil {
		c.cfg.logger.Warn("save values", "function", c.def.Name, "error", err)
	}
}

func (c *Controller) notifyLocked() {
	for _, o := range c.cfg.observers {
		o(c.def.Name, c.values.Clone())
	}
}

// Preview renders with a fresh random seed, fitted to the viewport when
// scale-to-fit is on and the function can scale.
func (c *Controller) Preview(ctx context.Context) (function.RunHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runLocked(ctx, true, false)
}

// AutoPreview is Preview keeping the last seed. It does nothing and
// reports false unless auto-refresh is on and the context is ready.
func (c *Controller) AutoPreview(ctx context.Context) (function.RunHandle, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoPreviewLocked(ctx)
}

func (c *Controller) autoPreviewLocked(ctx context.Context) (function.RunHandle, bool, error) {
	if !c.autoRefresh || !c.ready || c.current == nil {
		return function.RunHandle{}, false, nil
	}
	h, err := c.runLocked(ctx, true, true)
	return h, true, err
}

// Export renders at full size with the last seed and stores the
// artifact. The handle it returns does not become the last handle.
func (c *Controller) Export(ctx context.Context) (function.RunHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runLocked(ctx, false, true)
}

func (c *Controller) runLocked(ctx context.Context, preview, carrySeed bool) (function.RunHandle, error) {
	if c.def == nil || c.current == nil {
		return function.RunHandle{}, ErrNoFunction
	}
	if !c.ready {
		return function.RunHandle{}, ErrNotReady
	}

	req := c.requestLocked(preview, carrySeed)
	h, err := c.current.Run(ctx, req)
	if err != nil {
		return h, err
	}
	if preview {
		c.last = &h
	}
	c.cfg.logger.Debug("run", "function", req.Function, "preview", preview, "location", h.Location)
	return h, nil
}

func (c *Controller) requestLocked(preview, carrySeed bool) function.RunRequest {
	values := c.values.Clone()
	delete(values, function.RandomSeedKey)
	delete(values, function.ScaleToFitKey)

	if preview && c.scaleToFit && c.def.CanScale() && c.viewport != nil {
		w, h := c.viewport.Bounds()
		values[function.ScaleToFitKey] = function.ScaleToFit{
			Width:  max(0, w-c.cfg.padding),
			Height: max(0, h-c.cfg.padding),
		}
	}

	if carrySeed && c.def.Settings.UsesRandom && c.last != nil {
		if seed, ok := c.last.Seed(); ok {
			values[function.RandomSeedKey] = seed
		}
	}

	return function.RunRequest{Function: c.def.Name, Values: values, Preview: preview}
}

// SetScaleToFit toggles fitting previews to the viewport.
func (c *Controller) SetScaleToFit(ctx context.Context, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scaleToFit = on
	_, _, err := c.autoPreviewLocked(ctx)
	return err
}

// SetAutoRefresh toggles re-rendering on every change.
func (c *Controller) SetAutoRefresh(ctx context.Context, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoRefresh = on
	_, _, err := c.autoPreviewLocked(ctx)
	return err
}

// ScaleToFit reports the scale-to-fit toggle.
func (c *Controller) ScaleToFit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scaleToFit
}

// AutoRefresh reports the auto-refresh toggle.
func (c *Controller) AutoRefresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoRefresh
}

// CanScale reports whether the selected function declares both width and
// height and so can be fitted to the viewport.
func (c *Controller) CanScale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.def != nil && c.def.CanScale()
}

// Function returns the selected function, if any.
func (c *Controller) Function() (function.Definition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.def == nil {
		return function.Definition{}, false
	}
	return *c.def, true
}

// Values returns a copy of the live values.
func (c *Controller) Values() function.Values {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values.Clone()
}

// LastHandle returns the handle of the last preview run.
func (c *Controller) LastHandle() (function.RunHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return function.RunHandle{}, false
	}
	return *c.last, true
}

// Ready reports whether the current context has signalled readiness.
func (c *Controller) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// WaitReady blocks until the current context is ready and the automatic
// preview that follows readiness has run.
func (c *Controller) WaitReady(ctx context.Context) error {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return ErrNoFunction
	}
	ch := c.readyCh
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PresetNames lists the presets of the selected function.
func (c *Controller) PresetNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.def == nil {
		return nil
	}
	return function.PresetNames(*c.def)
}

// Close tears down the current context.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
	c.def = nil
	c.values = nil
	return nil
}
