package vector

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"testing"

	"github.com/caffeineduck/mechanic/engine"
	"github.com/caffeineduck/mechanic/function"
	"github.com/gogpu/gg/recording"
)

func circle(rec *recording.Recorder, v function.Values) error {
	rec.SetRGB(1, 0, 0)
	rec.DrawCircle(50, 50, v.Float("radius", 20))
	rec.Fill()
	return nil
}

func def(h any) function.Definition {
	return function.Definition{
		Name:    "circle",
		Handler: h,
		Params: function.Params{
			{Name: "width", Default: 300},
			{Name: "height", Default: 300},
			{Name: "radius", Default: 20},
		},
		Settings: function.Settings{Engine: ID},
	}
}

func TestInitializeRejectsUnknownBackend(t *testing.T) {
	e := New(WithExportBackend("plotter"))
	if err := e.Initialize(context.Background(), "circle"); err == nil {
		t.Error("expected error for unregistered backend")
	}
}

func TestPreviewPlaysBackToRaster(t *testing.T) {
	e := New()
	if err := e.Initialize(context.Background(), "circle"); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	values := function.Values{"width": 300, "height": 300}
	values[function.ScaleToFitKey] = function.ScaleToFit{Width: 150, Height: 150}

	out, err := e.Invoke(context.Background(), "circle", def(Handler(circle)), values, true)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out.ContentType != "image/png" {
		t.Errorf("expected png preview, got %q", out.ContentType)
	}
	img, err := png.Decode(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 150 || b.Dy() != 150 {
		t.Errorf("expected 150x150 preview, got %v", b)
	}
}

func TestExportRendersFullSize(t *testing.T) {
	e := New()
	e.Initialize(context.Background(), "circle")

	values := function.Values{"width": 300, "height": 200}
	values[function.ScaleToFitKey] = function.ScaleToFit{Width: 10, Height: 10}

	out, err := e.Invoke(context.Background(), "circle", def(circle), values, false)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out.Width != 300 || out.Height != 200 {
		t.Errorf("expected 300x200, got %dx%d", out.Width, out.Height)
	}
}

func TestInvokeRejectsForeignHandler(t *testing.T) {
	e := New()
	_, err := e.Invoke(context.Background(), "circle", def("not a handler"), function.Values{}, true)
	if !errors.Is(err, engine.ErrUnsupportedHandler) {
		t.Errorf("expected ErrUnsupportedHandler, got %v", err)
	}
}

func TestFormatOf(t *testing.T) {
	if f := FormatOf("pdf"); f.Extension != "pdf" || f.ContentType != "application/pdf" {
		t.Errorf("unexpected pdf format %+v", f)
	}
	if f := FormatOf("custom"); f.ContentType != "application/octet-stream" || f.Extension != "custom" {
		t.Errorf("unexpected fallback format %+v", f)
	}
}
