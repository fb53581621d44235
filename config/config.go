// Package config loads the YAML configuration of the mechanic binary.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caffeineduck/mechanic/export"
	"gopkg.in/yaml.v3"
)

const (
	SinkDir    = "dir"
	SinkS3     = "s3"
	SinkNone   = "none"
	FormatText = "text"
	FormatJSON = "json"
)

type Config struct {
	Log       LogConfig      `yaml:"log"`
	Functions []string       `yaml:"functions"`
	Builtins  bool           `yaml:"builtins"`
	Viewport  ViewportConfig `yaml:"viewport"`
	Canvas    CanvasConfig   `yaml:"canvas"`
	Vector    VectorConfig   `yaml:"vector"`
	Wasm      WasmConfig     `yaml:"wasm"`
	Export    ExportConfig   `yaml:"export"`
	Store     StoreConfig    `yaml:"store"`
	Serve     ServeConfig    `yaml:"serve"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ViewportConfig is the visible area previews are fitted into.
type ViewportConfig struct {
	Width   float64 `yaml:"width"`
	Height  float64 `yaml:"height"`
	Padding float64 `yaml:"padding"`
}

type CanvasConfig struct {
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	Background string `yaml:"background"`
}

type VectorConfig struct {
	ExportBackend string `yaml:"export_backend"`
}

type WasmConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	MemoryLimitMB uint32        `yaml:"memory_limit_mb"`
	DiskCache     bool          `yaml:"disk_cache"`
	CacheDir      string        `yaml:"cache_dir"`
}

// MemoryLimitPages converts the limit to 64KB wasm pages.
func (w WasmConfig) MemoryLimitPages() uint32 {
	return w.MemoryLimitMB * 16
}

type ExportConfig struct {
	Sink        string                   `yaml:"sink"`
	Dir         string                   `yaml:"dir"`
	ObjectStore export.ObjectStoreConfig `yaml:"object_store"`
}

type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type ServeConfig struct {
	Addr       string        `yaml:"addr"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Log:      LogConfig{Level: "info", Format: FormatText},
		Builtins: true,
		Viewport: ViewportConfig{Width: 1280, Height: 800, Padding: 100},
		Canvas:   CanvasConfig{Width: 500, Height: 500, Background: "#ffffff"},
		Vector:   VectorConfig{ExportBackend: "raster"},
		Wasm:     WasmConfig{Timeout: 30 * time.Second},
		Export:   ExportConfig{Sink: SinkDir, Dir: "exports"},
		Store:    StoreConfig{Enabled: true, Path: defaultStorePath()},
		Serve:    ServeConfig{Addr: ":8080", SessionTTL: 30 * time.Minute},
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var problems []string

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("log.level %q must be debug, info, warn or error", c.Log.Level))
	}
	switch c.Log.Format {
	case FormatText, FormatJSON:
	default:
		problems = append(problems, fmt.Sprintf("log.format %q must be text or json", c.Log.Format))
	}
	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		problems = append(problems, "viewport width and height must be positive")
	}
	if c.Viewport.Padding < 0 {
		problems = append(problems, "viewport.padding must not be negative")
	}
	if c.Canvas.Width <= 0 || c.Canvas.Height <= 0 {
		problems = append(problems, "canvas width and height must be positive")
	}
	if c.Wasm.Timeout < 0 {
		problems = append(problems, "wasm.timeout must not be negative")
	}

	switch c.Export.Sink {
	case SinkDir:
		if c.Export.Dir == "" {
			problems = append(problems, "export.dir is required for the dir sink")
		}
	case SinkS3:
		if err := c.Export.ObjectStore.Validate(); err != nil {
			problems = append(problems, err.Error())
		}
	case SinkNone:
	default:
		problems = append(problems, fmt.Sprintf("export.sink %q must be dir, s3 or none", c.Export.Sink))
	}

	if c.Store.Enabled && c.Store.Path == "" {
		problems = append(problems, "store.path is required when the store is enabled")
	}
	if !c.Builtins && len(c.Functions) == 0 {
		problems = append(problems, "no functions: enable builtins or list function files")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func defaultStorePath() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "mechanic", "values.db")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", "mechanic", "values.db")
	}
	return "mechanic-values.db"
}
