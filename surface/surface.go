// Package surface provides the output surface a sandboxed design function
// renders into: the latest frame, inline messages, and the live bounds the
// host uses for scale-to-fit.
package surface

import (
	"sync"
	"time"
)

// Frame is one rendered output.
type Frame struct {
	Function    string
	Data        []byte
	ContentType string
	Width       int
	Height      int
	Preview     bool
	RenderedAt  time.Time
}

// Surface is safe for concurrent use. Each Present or ShowMessage call
// entirely replaces what was visible before.
type Surface struct {
	mu      sync.Mutex
	frame   Frame
	hasImg  bool
	message string
	width   float64
	height  float64
	seq     uint64
	notify  chan struct{}
}

// New creates a surface with the given visible bounds.
func New(width, height float64) *Surface {
	return &Surface{
		width:  width,
		height: height,
		notify: make(chan struct{}),
	}
}

// Present replaces the visible output with f and clears any message.
func (s *Surface) Present(f Frame) {
	if f.RenderedAt.IsZero() {
		f.RenderedAt = time.Now()
	}
	s.mu.Lock()
	s.frame = f
	s.hasImg = true
	s.message = ""
	s.bumpLocked()
	s.mu.Unlock()
}

// ShowMessage replaces the visible output with a text message.
func (s *Surface) ShowMessage(msg string) {
	s.mu.Lock()
	s.frame = Frame{}
	s.hasImg = false
	s.message = msg
	s.bumpLocked()
	s.mu.Unlock()
}

func (s *Surface) bumpLocked() {
	s.seq++
	close(s.notify)
	s.notify = make(chan struct{})
}

// Frame returns the visible frame, if the surface currently shows one.
func (s *Surface) Frame() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.hasImg
}

// Message returns the visible message, if any.
func (s *Surface) Message() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message
}

// Seq counts updates; it changes every time the visible content does.
func (s *Surface) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Changed returns a channel closed on the next update.
func (s *Surface) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notify
}

// Bounds returns the current visible size.
func (s *Surface) Bounds() (width, height float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// Resize updates the visible size, e.g. when the host window changes.
func (s *Surface) Resize(width, height float64) {
	s.mu.Lock()
	s.width = width
	s.height = height
	s.mu.Unlock()
}
