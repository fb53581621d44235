package canvas

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"testing"

	"github.com/caffeineduck/mechanic/engine"
	"github.com/caffeineduck/mechanic/function"
	"github.com/gogpu/gg"
)

func square(dc *gg.Context, v function.Values) error {
	dc.SetRGB(0, 0, 0)
	dc.DrawRectangle(10, 10, 20, 20)
	return dc.Fill()
}

func def(h any) function.Definition {
	return function.Definition{
		Name:    "square",
		Handler: h,
		Params: function.Params{
			{Name: "width", Default: 400},
			{Name: "height", Default: 200},
		},
		Settings: function.Settings{Engine: ID},
	}
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e := New()
	if err := e.Initialize(context.Background(), "square"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func decodeSize(t *testing.T, out engine.Output) (int, int) {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	b := img.Bounds()
	return b.Dx(), b.Dy()
}

func TestInvokeRendersAtDeclaredSize(t *testing.T) {
	e := newEngine(t)
	values := function.Values{"width": 400, "height": 200}

	out, err := e.Invoke(context.Background(), "square", def(Handler(square)), values, false)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out.ContentType != "image/png" || out.Extension != "png" {
		t.Errorf("unexpected output type %q/%q", out.ContentType, out.Extension)
	}
	if w, h := decodeSize(t, out); w != 400 || h != 200 {
		t.Errorf("expected 400x200, got %dx%d", w, h)
	}
}

func TestInvokeScalesPreviewToFit(t *testing.T) {
	e := newEngine(t)
	values := function.Values{
		"width":  400,
		"height": 200,
		function.ScaleToFitKey: function.ScaleToFit{Width: 100, Height: 100},
	}

	out, err := e.Invoke(context.Background(), "square", def(square), values, true)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out.Width != 100 || out.Height != 50 {
		t.Errorf("expected 100x50, got %dx%d", out.Width, out.Height)
	}
	if w, h := decodeSize(t, out); w != 100 || h != 50 {
		t.Errorf("png is %dx%d", w, h)
	}
}

func TestInvokeIgnoresScaleOutsidePreview(t *testing.T) {
	e := newEngine(t)
	values := function.Values{
		"width":  400,
		"height": 200,
		function.ScaleToFitKey: function.ScaleToFit{Width: 100, Height: 100},
	}

	out, err := e.Invoke(context.Background(), "square", def(square), values, false)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out.Width != 400 || out.Height != 200 {
		t.Errorf("export must render at full size, got %dx%d", out.Width, out.Height)
	}
}

func TestInvokeRejectsForeignHandler(t *testing.T) {
	e := newEngine(t)
	_, err := e.Invoke(context.Background(), "square", def(func() {}), function.Values{}, true)
	if !errors.Is(err, engine.ErrUnsupportedHandler) {
		t.Errorf("expected ErrUnsupportedHandler, got %v", err)
	}
}

func TestInvokeWrapsHandlerError(t *testing.T) {
	e := newEngine(t)
	boom := errors.New("boom")
	_, err := e.Invoke(context.Background(), "square", def(func(*gg.Context, function.Values) error { return boom }), function.Values{}, true)
	if !errors.Is(err, boom) {
		t.Errorf("expected handler error, got %v", err)
	}
}

func TestInvokeRequiresInitialize(t *testing.T) {
	e := New()
	_, err := e.Invoke(context.Background(), "square", def(square), function.Values{}, true)
	if err == nil {
		t.Error("expected error before Initialize")
	}
}

func TestFitScale(t *testing.T) {
	tests := []struct {
		name string
		w, h int
		fit  function.ScaleToFit
		want float64
	}{
		{"shrink width", 400, 200, function.ScaleToFit{Width: 100, Height: 100}, 0.25},
		{"shrink height", 100, 400, function.ScaleToFit{Width: 200, Height: 200}, 0.5},
		{"already fits", 50, 50, function.ScaleToFit{Width: 100, Height: 100}, 1},
		{"empty fit", 50, 50, function.ScaleToFit{}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FitScale(tt.w, tt.h, tt.fit); got != tt.want {
				t.Errorf("FitScale() = %v, want %v", got, tt.want)
			}
		})
	}
}
