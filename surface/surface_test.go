package surface

import (
	"testing"
	"time"
)

func TestPresentReplacesMessage(t *testing.T) {
	s := New(800, 600)
	s.ShowMessage("No engine to run for x!")

	s.Present(Frame{Function: "x", Data: []byte{1, 2, 3}, ContentType: "image/png"})

	f, ok := s.Frame()
	if !ok {
		t.Fatal("expected a frame")
	}
	if f.Function != "x" || len(f.Data) != 3 {
		t.Errorf("unexpected frame %+v", f)
	}
	if f.RenderedAt.IsZero() {
		t.Error("expected RenderedAt to be stamped")
	}
	if s.Message() != "" {
		t.Errorf("message should be cleared, got %q", s.Message())
	}
}

func TestShowMessageReplacesFrame(t *testing.T) {
	s := New(800, 600)
	s.Present(Frame{Function: "x"})
	s.ShowMessage("hello")

	if _, ok := s.Frame(); ok {
		t.Error("frame should be cleared by message")
	}
	if s.Message() != "hello" {
		t.Errorf("got %q", s.Message())
	}
}

func TestChangedFiresOnUpdate(t *testing.T) {
	s := New(1, 1)
	ch := s.Changed()
	before := s.Seq()

	s.Present(Frame{})

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("Changed channel not closed")
	}
	if s.Seq() != before+1 {
		t.Errorf("seq = %d, want %d", s.Seq(), before+1)
	}
}

func TestResize(t *testing.T) {
	s := New(100, 50)
	s.Resize(300, 200)
	w, h := s.Bounds()
	if w != 300 || h != 200 {
		t.Errorf("Bounds() = %v, %v", w, h)
	}
}
