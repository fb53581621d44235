package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/caffeineduck/mechanic/config"
	"github.com/caffeineduck/mechanic/engine"
	"github.com/caffeineduck/mechanic/engine/canvas"
	"github.com/caffeineduck/mechanic/engine/vector"
	"github.com/caffeineduck/mechanic/engine/wasm"
	"github.com/caffeineduck/mechanic/export"
	"github.com/caffeineduck/mechanic/function"
	"github.com/caffeineduck/mechanic/function/hclload"
	"github.com/caffeineduck/mechanic/internal/builtin"
	"github.com/caffeineduck/mechanic/preview"
	"github.com/caffeineduck/mechanic/sandbox"
	"github.com/caffeineduck/mechanic/store"
	"github.com/caffeineduck/mechanic/surface"
	"github.com/gogpu/gg"
)

// app holds what every command shares: the registry, the export sink
// and the value store.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *function.Registry
	sink     sandbox.Sink
	store    *store.Store
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	reg, err := loadRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.registry = reg

	switch cfg.Export.Sink {
	case config.SinkDir:
		dir, err := export.NewDir(cfg.Export.Dir)
		if err != nil {
			return nil, err
		}
		a.sink = dir
	case config.SinkS3:
		obj, err := export.NewObjectStore(cfg.Export.ObjectStore)
		if err != nil {
			return nil, err
		}
		if err := obj.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		a.sink = obj
	}

	if cfg.Store.Enabled {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		a.store = st
	}

	logger.Debug("app ready", "functions", reg.Len(), "sink", cfg.Export.Sink, "store", cfg.Store.Enabled)
	return a, nil
}

func loadRegistry(cfg config.Config, logger *slog.Logger) (*function.Registry, error) {
	var defs []function.Definition
	if cfg.Builtins {
		defs = append(defs, builtin.Definitions()...)
	}
	if len(cfg.Functions) > 0 {
		loader := hclload.NewLoader(
			hclload.WithHandlers(builtin.Handlers()),
			hclload.WithLogger(logger),
		)
		loaded, err := loader.Load(cfg.Functions...)
		if err != nil {
			return nil, fmt.Errorf("load functions: %w", err)
		}
		defs = append(defs, loaded...)
	}
	return function.NewRegistry(defs...)
}

func (a *app) engines() []engine.Engine {
	bg := gg.Hex(a.cfg.Canvas.Background)

	wasmOpts := []wasm.Option{
		wasm.WithTimeout(a.cfg.Wasm.Timeout),
		wasm.WithLogger(a.logger),
	}
	if a.cfg.Wasm.DiskCache {
		wasmOpts = append(wasmOpts, wasm.WithDiskCache(a.cfg.Wasm.CacheDir))
	}
	if pages := a.cfg.Wasm.MemoryLimitPages(); pages > 0 {
		wasmOpts = append(wasmOpts, wasm.WithMemoryLimit(pages))
	}

	return []engine.Engine{
		canvas.New(
			canvas.WithDefaultSize(a.cfg.Canvas.Width, a.cfg.Canvas.Height),
			canvas.WithBackground(bg),
			canvas.WithLogger(a.logger),
		),
		vector.New(
			vector.WithExportBackend(a.cfg.Vector.ExportBackend),
			vector.WithBackground(bg),
			vector.WithLogger(a.logger),
		),
		wasm.New(wasmOpts...),
	}
}

// session is one editor: its own engines, surface and controller.
type session struct {
	ctl     *preview.Controller
	surface *surface.Surface
	sb      *engine.Switchboard
}

func (a *app) newSession(opts ...preview.Option) (*session, error) {
	surf := surface.New(a.cfg.Viewport.Width, a.cfg.Viewport.Height)
	sb, err := engine.NewSwitchboard(a.registry, a.engines(),
		engine.WithSurface(surf),
		engine.WithLogger(a.logger),
	)
	if err != nil {
		return nil, err
	}

	launcher := sandbox.NewLauncher(sb, surf, a.sink, sandbox.WithLogger(a.logger))
	launch := preview.LauncherFunc(func(ctx context.Context, name string) (preview.Context, error) {
		c, err := launcher.Launch(ctx, name)
		if c == nil {
			return nil, err
		}
		return c, err
	})

	ctlOpts := []preview.Option{
		preview.WithScalePadding(a.cfg.Viewport.Padding),
		preview.WithLogger(a.logger),
	}
	if a.store != nil {
		ctlOpts = append(ctlOpts, preview.WithStore(a.store))
	}
	ctlOpts = append(ctlOpts, opts...)

	return &session{
		ctl:     preview.New(a.registry, launch, surf, ctlOpts...),
		surface: surf,
		sb:      sb,
	}, nil
}

func (s *session) Close() error {
	return errors.Join(s.ctl.Close(), s.sb.Close())
}

func (a *app) Close() error {
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}
