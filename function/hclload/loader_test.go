package hclload

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/caffeineduck/mechanic/engine/wasm"
	"github.com/caffeineduck/mechanic/function"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const blobHCL = `
function "blob" {
  uses_random = true
  module      = "blob.wasm"

  param "width" {
    default = 400
    min     = 1
    max     = 4000
    step    = 1
  }
  param "height" {
    type    = "number"
    default = 300
  }
  param "palette" {
    default = "warm"
    options = ["warm", "cold"]
    label   = "Palette"
  }

  preset "poster" {
    width  = 1200
    height = 1800
  }
}
`

func TestLoadWasmFunction(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "blob.hcl", blobHCL)
	writeFile(t, dir, "blob.wasm", "\x00asm")

	defs, err := NewLoader().Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}

	def := defs[0]
	if def.Name != "blob" {
		t.Errorf("name = %q", def.Name)
	}
	if def.Settings.Engine != wasm.ID || !def.Settings.UsesRandom {
		t.Errorf("settings = %+v", def.Settings)
	}
	mod, ok := def.Handler.(wasm.Module)
	if !ok || string(mod) != "\x00asm" {
		t.Errorf("handler = %#v", def.Handler)
	}

	if got := def.Params.Names(); len(got) != 3 || got[0] != "width" || got[2] != "palette" {
		t.Errorf("params out of declaration order: %v", got)
	}
	width, _ := def.Params.Lookup("width")
	if width.Default != 400.0 || width.Type != "number" {
		t.Errorf("width = %+v", width)
	}
	if width.Min == nil || *width.Min != 1 || width.Max == nil || *width.Max != 4000 {
		t.Errorf("width bounds = %v %v", width.Min, width.Max)
	}
	palette, _ := def.Params.Lookup("palette")
	if palette.Type != "text" || palette.Label != "Palette" || len(palette.Options) != 2 {
		t.Errorf("palette = %+v", palette)
	}

	poster := def.Presets["poster"]
	if poster["width"] != 1200.0 || poster["height"] != 1800.0 {
		t.Errorf("poster preset = %v", poster)
	}
	if !def.CanScale() {
		t.Error("expected blob to be scalable")
	}
}

func TestLoadNamedHandler(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "grid.hcl", `
function "grid" {
  engine  = "canvas"
  handler = "grid"
}
`)
	draw := func() {}
	defs, err := NewLoader(WithHandlers(map[string]any{"grid": draw})).Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if defs[0].Settings.Engine != "canvas" || defs[0].Handler == nil {
		t.Errorf("unexpected definition %+v", defs[0])
	}
	if defs[0].Settings.UsesRandom {
		t.Error("uses_random must default to false")
	}
}

func TestLoadUnknownHandler(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "grid.hcl", `
function "grid" {
  engine  = "canvas"
  handler = "missing"
}
`)
	_, err := NewLoader().Load(dir)
	if !errors.Is(err, ErrNoHandler) {
		t.Errorf("expected ErrNoHandler, got %v", err)
	}
}

func TestLoadRequiresHandlerOrModule(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "empty.hcl", `function "empty" {}`)
	_, err := NewLoader().Load(dir)
	if !errors.Is(err, ErrNoHandler) {
		t.Errorf("expected ErrNoHandler, got %v", err)
	}
}

func TestLoadRejectsModuleAndHandler(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "both.hcl", `
function "both" {
  module  = "x.wasm"
  handler = "x"
}
`)
	if _, err := NewLoader().Load(dir); err == nil {
		t.Error("expected an error for module plus handler")
	}
}

func TestLoadMissingModuleFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "blob.hcl", blobHCL)
	if _, err := NewLoader().Load(dir); err == nil {
		t.Error("expected read error for missing module")
	}
}

func TestLoadSyntaxError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.hcl", `function "bad" {`)
	if _, err := NewLoader().Load(dir); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadWalksDirectoriesAndSkipsMissingPaths(t *testing.T) {
	dir := t.TempDir()
	handlers := map[string]any{"a": func() {}, "b": func() {}}
	writeFile(t, dir, "a.hcl", `function "a" {
  engine  = "canvas"
  handler = "a"
}`)
	writeFile(t, dir, "nested/b.hcl", `function "b" {
  engine  = "canvas"
  handler = "b"
}`)
	writeFile(t, dir, "notes.txt", "ignored")

	defs, err := NewLoader(WithHandlers(handlers)).Load(dir, filepath.Join(dir, "a.hcl"), filepath.Join(dir, "absent"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions (files deduplicated), got %d", len(defs))
	}

	reg, err := function.NewRegistry(defs...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if names := reg.Names(); names[0] != "a" || names[1] != "b" {
		t.Errorf("names = %v", names)
	}
}

func TestCtyToNativeNil(t *testing.T) {
	var p paramBlock
	got, err := ctyToNative(p.Default)
	if err != nil || got != nil {
		t.Errorf("unset value = %v, %v", got, err)
	}
}
