package sandbox

import (
	"context"
	"errors"
	"sync"

	"github.com/caffeineduck/mechanic/engine"
	"github.com/caffeineduck/mechanic/function"
)

// echoEngine renders the function name as text and can be told to fail
// or panic.
type echoEngine struct {
	id function.EngineID

	mu      sync.Mutex
	inits   int
	invokes int
	panicOn string
	failOn  string
	initErr error
}

func (e *echoEngine) ID() function.EngineID { return e.id }

func (e *echoEngine) Initialize(ctx context.Context, fn string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initErr != nil {
		return e.initErr
	}
	e.inits++
	return nil
}

func (e *echoEngine) Invoke(ctx context.Context, fn string, def function.Definition, values function.Values, preview bool) (engine.Output, error) {
	e.mu.Lock()
	e.invokes++
	panicOn, failOn := e.panicOn, e.failOn
	e.mu.Unlock()

	if fn == panicOn {
		panic("kaboom")
	}
	if fn == failOn {
		return engine.Output{}, errors.New("render failed")
	}
	return engine.Output{
		Data:        []byte(fn),
		ContentType: "text/plain",
		Extension:   "txt",
		Width:       values.Int("width", 0),
		Height:      values.Int("height", 0),
	}, nil
}

func (e *echoEngine) initCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inits
}

type memorySink struct {
	mu    sync.Mutex
	saved []engine.Output
	err   error
}

func (s *memorySink) Save(ctx context.Context, fn string, out engine.Output) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.saved = append(s.saved, out)
	return "mem://" + fn, nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}
