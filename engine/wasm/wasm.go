// Package wasm runs design functions compiled to WebAssembly (WASI).
//
// The guest receives one JSON line on stdin describing the invocation:
//
//	{"function":"blob","values":{...},"preview":true}
//
// and writes the artifact to stdout. While running it may call back into
// the host by writing \x00MECH:{"fn":...,"args":{...}}\x00 to stderr and
// reading the JSON reply from stdin. Host functions:
//
//	seed    the run's random seed ("" for functions without randomness)
//	random  the next float64 in [0,1) from the seeded generator
//	log     write args.msg to the engine log
//	format  declare content_type, extension, width and height of the artifact
package wasm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/caffeineduck/mechanic/engine"
	"github.com/caffeineduck/mechanic/function"
	"github.com/caffeineduck/mechanic/internal/logging"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

const ID function.EngineID = "wasm"

// Module is the handler type for wasm design functions: a WASI binary.
type Module []byte

var (
	ErrClosed  = errors.New("wasm engine closed")
	ErrTimeout = errors.New("wasm invocation timed out")
)

// Engine compiles modules once and instantiates a fresh guest per
// invocation.
type Engine struct {
	cfg config

	mu       sync.RWMutex
	runtime  wazero.Runtime
	cache    wazero.CompilationCache
	compiled map[string]wazero.CompiledModule
	closed   bool
}

// New returns a wasm engine. The runtime is created on Initialize.
func New(opts ...Option) *Engine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.logger = logging.OrNop(cfg.logger)
	return &Engine{
		cfg:      cfg,
		compiled: make(map[string]wazero.CompiledModule),
	}
}

func (e *Engine) ID() function.EngineID {
	return ID
}

// Initialize creates the wazero runtime if it does not exist yet.
func (e *Engine) Initialize(ctx context.Context, fn string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.runtime != nil {
		return nil
	}

	var cache wazero.CompilationCache
	if e.cfg.diskCache {
		dir := e.cfg.cacheDir
		if dir == "" {
			dir = defaultCacheDir()
		}
		c, err := wazero.NewCompilationCacheWithDir(dir)
		if err != nil {
			return fmt.Errorf("create disk cache: %w", err)
		}
		cache = c
	}

	rtConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cache != nil {
		rtConfig = rtConfig.WithCompilationCache(cache)
	}
	if e.cfg.memoryLimitPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(e.cfg.memoryLimitPages)
	}

	// The runtime outlives the selecting call, so it must not inherit ctx.
	rt := wazero.NewRuntimeWithConfig(context.Background(), rtConfig)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		if cache != nil {
			cache.Close(ctx)
		}
		rt.Close(ctx)
		return fmt.Errorf("instantiate WASI: %w", err)
	}

	e.runtime = rt
	e.cache = cache
	e.cfg.logger.Debug("wasm runtime created", "function", fn, "disk_cache", e.cfg.diskCache)
	return nil
}

type invocation struct {
	Function string          `json:"function"`
	Values   function.Values `json:"values"`
	Preview  bool            `json:"preview"`
}

// Invoke runs def's module once.
func (e *Engine) Invoke(ctx context.Context, fn string, def function.Definition, values function.Values, preview bool) (engine.Output, error) {
	module, err := moduleOf(def)
	if err != nil {
		return engine.Output{}, err
	}

	if e.cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.timeout)
		defer cancel()
	}

	compiled, err := e.getCompiled(ctx, module)
	if err != nil {
		return engine.Output{}, err
	}

	out := engine.Output{
		Width:  values.Int("width", 0),
		Height: values.Int("height", 0),
	}

	var rng *rand.Rand
	seed, _ := values.Seed()
	if seed != "" {
		rng = engine.Rand(seed)
	}

	funcs := map[string]hostFunc{
		"seed": func(ctx context.Context, args map[string]any) (any, error) {
			return seed, nil
		},
		"random": func(ctx context.Context, args map[string]any) (any, error) {
			if rng == nil {
				return nil, fmt.Errorf("%s does not use randomness", fn)
			}
			return rng.Float64(), nil
		},
		"log": func(ctx context.Context, args map[string]any) (any, error) {
			msg, _ := args["msg"].(string)
			e.cfg.logger.Info(msg, "function", fn, "source", "guest")
			return nil, nil
		},
		"format": func(ctx context.Context, args map[string]any) (any, error) {
			if v, ok := args["content_type"].(string); ok {
				out.ContentType = v
			}
			if v, ok := args["extension"].(string); ok {
				out.Extension = v
			}
			if v, ok := args["width"].(float64); ok {
				out.Width = int(v)
			}
			if v, ok := args["height"].(float64); ok {
				out.Height = int(v)
			}
			return nil, nil
		},
	}

	req, err := json.Marshal(invocation{Function: fn, Values: values, Preview: preview})
	if err != nil {
		return engine.Output{}, fmt.Errorf("encode invocation: %w", err)
	}

	var stdout bytes.Buffer
	stdinReader, stdinWriter := io.Pipe()
	protocol := newProtocolHandler(ctx, funcs, stdinWriter)

	moduleConfig := wazero.NewModuleConfig().
		WithStdout(&stdout).
		WithStderr(protocol).
		WithStdin(stdinReader).
		WithArgs(fn).
		WithName("")

	// The guest may never read stdin; closing the pipe below releases
	// this writer.
	go stdinWriter.Write(append(req, '\n'))

	e.mu.RLock()
	rt := e.runtime
	e.mu.RUnlock()

	errCh := make(chan error, 1)
	go func() {
		mod, err := rt.InstantiateModule(ctx, compiled, moduleConfig)
		if mod != nil {
			mod.Close(context.Background())
		}
		stdinWriter.Close()
		errCh <- err
	}()
	err = <-errCh

	if stderr := protocol.Stderr(); stderr != "" {
		e.cfg.logger.Debug("guest stderr", "function", fn, "stderr", stderr)
	}

	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 0 {
		err = nil
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return engine.Output{}, fmt.Errorf("%w after %v", ErrTimeout, e.cfg.timeout)
		}
		return engine.Output{}, fmt.Errorf("execution failed: %w", err)
	}

	out.Data = stdout.Bytes()
	if out.ContentType == "" {
		out.ContentType = http.DetectContentType(out.Data)
	}
	if out.Extension == "" {
		out.Extension = extensionFor(out.ContentType)
	}
	return out, nil
}

// getCompiled returns a cached compiled module, compiling if necessary.
// Modules are keyed by content so reloaded definitions recompile.
func (e *Engine) getCompiled(ctx context.Context, module []byte) (wazero.CompiledModule, error) {
	sum := sha256.Sum256(module)
	key := hex.EncodeToString(sum[:])

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, ErrClosed
	}
	if e.runtime == nil {
		e.mu.RUnlock()
		return nil, errors.New("wasm engine not initialized")
	}
	if compiled, ok := e.compiled[key]; ok {
		e.mu.RUnlock()
		return compiled, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if compiled, ok := e.compiled[key]; ok {
		return compiled, nil
	}

	compiled, err := e.runtime.CompileModule(ctx, module)
	if err != nil {
		return nil, fmt.Errorf("compile module: %w", err)
	}
	e.compiled[key] = compiled
	return compiled, nil
}

// Close releases the runtime and the compilation cache.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	ctx := context.Background()
	var errs []error
	if e.runtime != nil {
		errs = append(errs, e.runtime.Close(ctx))
	}
	if e.cache != nil {
		errs = append(errs, e.cache.Close(ctx))
	}
	e.compiled = nil
	return errors.Join(errs...)
}

func moduleOf(def function.Definition) ([]byte, error) {
	switch m := def.Handler.(type) {
	case Module:
		return m, nil
	case []byte:
		return m, nil
	default:
		return nil, fmt.Errorf("%w: wasm cannot run %T", engine.ErrUnsupportedHandler, def.Handler)
	}
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpg"
	case "image/gif":
		return "gif"
	case "application/pdf":
		return "pdf"
	case "text/xml; charset=utf-8":
		return "svg"
	case "text/plain; charset=utf-8":
		return "txt"
	default:
		return "bin"
	}
}

func defaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "mechanic")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "mechanic")
	}
	return filepath.Join(os.TempDir(), "mechanic-cache")
}
