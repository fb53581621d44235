package wasm

import (
	"log/slog"
	"time"
)

// Option configures the wasm engine.
type Option func(*config)

type config struct {
	timeout          time.Duration
	diskCache        bool
	cacheDir         string
	memoryLimitPages uint32 // each page is 64KB, 0 = wazero default (4GB)
	logger           *slog.Logger
}

func defaultConfig() config {
	return config{
		timeout: 30 * time.Second,
	}
}

// WithTimeout bounds a single invocation. Zero disables the limit.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithDiskCache enables the persistent compilation cache. Without a
// directory it uses XDG_CACHE_HOME/mechanic or ~/.cache/mechanic.
func WithDiskCache(dir ...string) Option {
	return func(c *config) {
		c.diskCache = true
		if len(dir) > 0 && dir[0] != "" {
			c.cacheDir = dir[0]
		}
	}
}

// WithMemoryLimit caps guest memory in 64KB pages.
func WithMemoryLimit(pages uint32) Option {
	return func(c *config) {
		c.memoryLimitPages = pages
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// Memory limits for WithMemoryLimit.
const (
	MemoryLimit16MB  uint32 = 256
	MemoryLimit64MB  uint32 = 1024
	MemoryLimit256MB uint32 = 4096
)
