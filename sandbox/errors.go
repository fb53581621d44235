package sandbox

import (
	"errors"

	"github.com/caffeineduck/mechanic/engine"
	"github.com/caffeineduck/mechanic/function"
)

var (
	ErrClosed         = errors.New("execution context closed")
	ErrNotReady       = errors.New("execution context not ready")
	ErrNotInitialized = errors.New("execution context not initialized for function")
	ErrGuestPanic     = errors.New("guest panicked")
)

// Error codes carried across the boundary in place of Go error values.
const (
	codeEngineNotFound     = "engine_not_found"
	codeFunctionNotFound   = "function_not_found"
	codeNoEntryPoint       = "no_entry_point"
	codeEngineMismatch     = "engine_mismatch"
	codeUnsupportedHandler = "unsupported_handler"
	codeNotInitialized     = "not_initialized"
	codePanic              = "panic"
	codeInternal           = "internal"
)

var codeSentinels = []struct {
	code string
	err  error
}{
	{codeEngineNotFound, engine.ErrEngineNotFound},
	{codeFunctionNotFound, function.ErrFunctionNotFound},
	{codeNoEntryPoint, engine.ErrNoEntryPoint},
	{codeEngineMismatch, engine.ErrEngineMismatch},
	{codeUnsupportedHandler, engine.ErrUnsupportedHandler},
	{codeNotInitialized, ErrNotInitialized},
	{codePanic, ErrGuestPanic},
}

// remoteError is a guest error rebuilt on the host. It keeps the guest's
// message and unwraps to the sentinel named by its code.
type remoteError struct {
	code string
	msg  string
}

func (e *remoteError) Error() string {
	return e.msg
}

func (e *remoteError) Unwrap() error {
	for _, s := range codeSentinels {
		if s.code == e.code {
			return s.err
		}
	}
	return nil
}

func codeOf(err error) string {
	for _, s := range codeSentinels {
		if errors.Is(err, s.err) {
			return s.code
		}
	}
	return codeInternal
}

func decodeError(r reply) error {
	if r.Error == "" && r.Code == "" {
		return nil
	}
	return &remoteError{code: r.Code, msg: r.Error}
}
