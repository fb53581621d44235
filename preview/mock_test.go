package preview

import (
	"context"
	"fmt"
	"sync"

	"github.com/caffeineduck/mechanic/function"
)

// fakeContext stands in for a sandboxed execution context. It records
// requests and mints a seed when none is sent, like the Switchboard does.
type fakeContext struct {
	name  string
	ready chan struct{}

	mu     sync.Mutex
	runs   []function.RunRequest
	seeds  int
	closed bool
	err    error
}

func newFakeContext(name string) *fakeContext {
	return &fakeContext{name: name, ready: make(chan struct{})}
}

func (f *fakeContext) Run(ctx context.Context, req function.RunRequest) (function.RunHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, req)
	if f.err != nil {
		return function.RunHandle{}, f.err
	}
	values := req.Values.Clone()
	if _, ok := values.Seed(); !ok {
		f.seeds++
		values[function.RandomSeedKey] = fmt.Sprintf("%s-seed-%d", f.name, f.seeds)
	}
	h := function.RunHandle{Values: values}
	if !req.Preview {
		h.Location = "mem://" + req.Function
	}
	return h, nil
}

func (f *fakeContext) Ready() <-chan struct{} {
	return f.ready
}

func (f *fakeContext) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeContext) markReady() {
	close(f.ready)
}

func (f *fakeContext) requests() []function.RunRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]function.RunRequest(nil), f.runs...)
}

func (f *fakeContext) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeLauncher struct {
	mu        sync.Mutex
	contexts  []*fakeContext
	errs      map[string]error
	autoReady bool
}

func (l *fakeLauncher) Launch(ctx context.Context, name string) (Context, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := newFakeContext(name)
	l.contexts = append(l.contexts, c)
	if l.autoReady {
		c.markReady()
	}
	return c, l.errs[name]
}

func (l *fakeLauncher) last() *fakeContext {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.contexts[len(l.contexts)-1]
}

type fixedViewport struct{ w, h float64 }

func (v fixedViewport) Bounds() (float64, float64) { return v.w, v.h }

type memoryStore struct {
	mu     sync.Mutex
	values map[string]function.Values
	saves  int
}

func (m *memoryStore) Load(ctx context.Context, fn string) (function.Values, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[fn].Clone(), nil
}

func (m *memoryStore) Save(ctx context.Context, fn string, values function.Values) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = map[string]function.Values{}
	}
	m.values[fn] = values.Clone()
	m.saves++
	return nil
}
