// Package hclload discovers design functions declared in HCL files.
//
// A file may declare any number of function blocks:
//
//	function "blob" {
//	  engine      = "wasm"
//	  uses_random = true
//	  module      = "blob.wasm"
//
//	  param "width" {
//	    type    = "number"
//	    default = 400
//	  }
//	  param "height" {
//	    default = 400
//	  }
//
//	  preset "poster" {
//	    width  = 1200
//	    height = 1800
//	  }
//	}
//
// module paths are resolved relative to the declaring file and loaded as
// wasm modules. Functions for the in-process engines reference a named
// handler registered with [WithHandlers] instead.
package hclload

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/caffeineduck/mechanic/engine/wasm"
	"github.com/caffeineduck/mechanic/function"
	"github.com/caffeineduck/mechanic/internal/logging"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

var ErrNoHandler = errors.New("function has no handler")

type fileRoot struct {
	Functions []*functionBlock `hcl:"function,block"`
	Remain    hcl.Body         `hcl:",remain"`
}

type functionBlock struct {
	Name       string         `hcl:"name,label"`
	Engine     *string        `hcl:"engine,optional"`
	UsesRandom *bool          `hcl:"uses_random,optional"`
	Module     *string        `hcl:"module,optional"`
	Handler    *string        `hcl:"handler,optional"`
	Params     []*paramBlock  `hcl:"param,block"`
	Presets    []*presetBlock `hcl:"preset,block"`
}

type paramBlock struct {
	Name    string    `hcl:"name,label"`
	Type    *string   `hcl:"type,optional"`
	Default cty.Value `hcl:"default,optional"`
	Options cty.Value `hcl:"options,optional"`
	Min     *float64  `hcl:"min,optional"`
	Max     *float64  `hcl:"max,optional"`
	Step    *float64  `hcl:"step,optional"`
	Label   *string   `hcl:"label,optional"`
}

type presetBlock struct {
	Name string   `hcl:"name,label"`
	Body hcl.Body `hcl:",remain"`
}

// Loader turns HCL files into function definitions.
type Loader struct {
	handlers map[string]any
	logger   *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithHandlers registers named handlers that function blocks can bind to
// with the handler attribute.
func WithHandlers(handlers map[string]any) Option {
	return func(l *Loader) {
		for name, h := range handlers {
			l.handlers[name] = h
		}
	}
}

// WithLogger sets the loader logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader creates a loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{handlers: make(map[string]any)}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = logging.OrNop(l.logger)
	return l
}

// Load parses every .hcl file found under paths. Directories are walked
// recursively; paths that do not exist are skipped.
func (l *Loader) Load(paths ...string) ([]function.Definition, error) {
	files, err := findAllHCLFiles(paths)
	if err != nil {
		return nil, err
	}
	l.logger.Debug("discovered function files", "count", len(files))

	parser := hclparse.NewParser()
	var defs []function.Definition
	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("parse %s: %w", file, diags)
		}

		var root fileRoot
		if diags := gohcl.DecodeBody(hclFile.Body, nil, &root); diags.HasErrors() {
			return nil, fmt.Errorf("decode %s: %w", file, diags)
		}

		for _, block := range root.Functions {
			def, err := l.translate(filepath.Dir(file), block)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
			defs = append(defs, def)
		}
	}

	l.logger.Debug("function files loaded", "functions", len(defs))
	return defs, nil
}

func (l *Loader) translate(dir string, block *functionBlock) (function.Definition, error) {
	def := function.Definition{Name: block.Name}

	switch {
	case block.Module != nil && block.Handler != nil:
		return def, fmt.Errorf("function %q: module and handler are mutually exclusive", block.Name)
	case block.Module != nil:
		path := *block.Module
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return def, fmt.Errorf("function %q: read module: %w", block.Name, err)
		}
		def.Handler = wasm.Module(data)
		def.Settings.Engine = wasm.ID
	case block.Handler != nil:
		h, ok := l.handlers[*block.Handler]
		if !ok {
			return def, fmt.Errorf("%w: function %q references unknown handler %q", ErrNoHandler, block.Name, *block.Handler)
		}
		def.Handler = h
	default:
		return def, fmt.Errorf("%w: function %q needs module or handler", ErrNoHandler, block.Name)
	}

	if block.Engine != nil {
		def.Settings.Engine = function.EngineID(*block.Engine)
	}
	if block.UsesRandom != nil {
		def.Settings.UsesRandom = *block.UsesRandom
	}

	for _, pb := range block.Params {
		p, err := translateParam(pb)
		if err != nil {
			return def, fmt.Errorf("function %q: %w", block.Name, err)
		}
		def.Params = append(def.Params, p)
	}

	if len(block.Presets) > 0 {
		def.Presets = make(map[string]function.Values, len(block.Presets))
	}
	for _, pb := range block.Presets {
		values, err := presetValues(pb)
		if err != nil {
			return def, fmt.Errorf("function %q: %w", block.Name, err)
		}
		def.Presets[pb.Name] = values
	}
	return def, nil
}

func translateParam(pb *paramBlock) (function.Param, error) {
	p := function.Param{
		Name: pb.Name,
		Min:  pb.Min,
		Max:  pb.Max,
		Step: pb.Step,
	}
	if pb.Label != nil {
		p.Label = *pb.Label
	}

	def, err := ctyToNative(pb.Default)
	if err != nil {
		return p, fmt.Errorf("param %q default: %w", pb.Name, err)
	}
	p.Default = def

	opts, err := ctyToNative(pb.Options)
	if err != nil {
		return p, fmt.Errorf("param %q options: %w", pb.Name, err)
	}
	if opts != nil {
		list, ok := opts.([]any)
		if !ok {
			return p, fmt.Errorf("param %q options: expected a list", pb.Name)
		}
		p.Options = list
	}

	if pb.Type != nil {
		p.Type = *pb.Type
	} else {
		p.Type = inferType(p.Default)
	}
	return p, nil
}

func presetValues(pb *presetBlock) (function.Values, error) {
	attrs, diags := pb.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, fmt.Errorf("preset %q: %w", pb.Name, diags)
	}
	values := make(function.Values, len(attrs))
	for name, attr := range attrs {
		v, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("preset %q: %w", pb.Name, diags)
		}
		native, err := ctyToNative(v)
		if err != nil {
			return nil, fmt.Errorf("preset %q attribute %q: %w", pb.Name, name, err)
		}
		values[name] = native
	}
	return values, nil
}

func inferType(v any) string {
	switch v.(type) {
	case float64:
		return "number"
	case bool:
		return "boolean"
	case string:
		return "text"
	default:
		return ""
	}
}

// ctyToNative converts a cty value to plain Go values. Numbers become
// float64, matching what values decoded from JSON look like.
func ctyToNative(v cty.Value) (any, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, nil
	}

	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil
	case ty == cty.Number:
		var f float64
		if err := gocty.FromCtyValue(v, &f); err != nil {
			return nil, fmt.Errorf("convert number: %w", err)
		}
		return f, nil
	case ty == cty.Bool:
		return v.True(), nil
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		out := make([]any, 0, v.LengthInt())
		it := v.ElementIterator()
		for it.Next() {
			_, elem := it.Element()
			native, err := ctyToNative(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, native)
		}
		return out, nil
	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any, v.LengthInt())
		it := v.ElementIterator()
		for it.Next() {
			key, elem := it.Element()
			native, err := ctyToNative(elem)
			if err != nil {
				return nil, fmt.Errorf("in attribute %q: %w", key.AsString(), err)
			}
			out[key.AsString()] = native
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported type %s", ty.FriendlyName())
	}
}

func findAllHCLFiles(paths []string) ([]string, error) {
	var files []string
	seen := make(map[string]struct{})
	add := func(p string) {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			files = append(files, p)
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}

		if !info.IsDir() {
			if filepath.Ext(path) == ".hcl" {
				add(path)
			}
			continue
		}

		var found []string
		err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && filepath.Ext(p) == ".hcl" {
				found = append(found, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		sort.Strings(found)
		for _, p := range found {
			add(p)
		}
	}
	return files, nil
}
