package engine

import (
	"context"
	"sync"

	"github.com/caffeineduck/mechanic/function"
)

// mockEngine implements Engine for testing switchboard logic without a
// real renderer. It records every Initialize and Invoke call.
type mockEngine struct {
	id function.EngineID

	mu      sync.Mutex
	inits   []string
	invokes []mockInvoke
	initErr error
	closed  bool
}

type mockInvoke struct {
	fn      string
	values  function.Values
	preview bool
}

func newMockEngine(id function.EngineID) *mockEngine {
	return &mockEngine{id: id}
}

func (m *mockEngine) ID() function.EngineID {
	return m.id
}

func (m *mockEngine) Initialize(ctx context.Context, fn string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initErr != nil {
		return m.initErr
	}
	m.inits = append(m.inits, fn)
	return nil
}

func (m *mockEngine) Invoke(ctx context.Context, fn string, def function.Definition, values function.Values, preview bool) (Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invokes = append(m.invokes, mockInvoke{fn: fn, values: values, preview: preview})
	return Output{Data: []byte(fn), ContentType: "text/plain", Extension: "txt"}, nil
}

func (m *mockEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockEngine) initCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inits)
}

type recordingSurface struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingSurface) ShowMessage(msg string) {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
}

func (r *recordingSurface) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return ""
	}
	return r.messages[len(r.messages)-1]
}
