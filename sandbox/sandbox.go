// Package sandbox implements the execution context design functions run
// in. The host never calls an engine directly: it sends initialize and run
// commands across a pair of pipes to a guest loop, which owns the
// Switchboard, presents output on the Surface and hands exports to the
// Sink. The guest answers with framed replies and signals readiness once
// it has booted its function.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/caffeineduck/mechanic/function"
)

// Context is the host handle on one running guest. A Context is bound to
// the function it was launched for until Initialize names another one.
type Context struct {
	protocol *hostProtocol
	cmdW     *io.PipeWriter
	cancel   context.CancelFunc
	logger   *slog.Logger

	guestDone chan struct{}
	closeCh   chan struct{}

	execMu sync.Mutex

	mu          sync.Mutex
	name        string
	initialized bool
	nextID      uint64
	closed      bool
	guestErr    error
}

func newContext(boot string, g *guest, logger *slog.Logger) *Context {
	cmdR, cmdW := io.Pipe()
	outR, outW := io.Pipe()
	g.in = cmdR
	g.out = outW

	gctx, cancel := context.WithCancel(context.Background())
	c := &Context{
		protocol:  newHostProtocol(),
		cmdW:      cmdW,
		cancel:    cancel,
		logger:    logger,
		guestDone: make(chan struct{}),
		closeCh:   make(chan struct{}),
		name:      boot,
		nextID:    1,
	}

	go func() {
		err := g.loop(gctx)
		c.mu.Lock()
		c.guestErr = err
		c.mu.Unlock()
		cmdR.Close()
		outW.CloseWithError(err)
	}()

	go func() {
		// guestDone is closed only after every reply the guest wrote has
		// been parsed.
		io.Copy(c.protocol, outR)
		close(c.guestDone)
	}()

	return c
}

// Name returns the function the context is initialized for.
func (c *Context) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Ready is closed once the guest has booted.
func (c *Context) Ready() <-chan struct{} {
	return c.protocol.Ready()
}

// Diagnostics returns stray guest output collected so far.
func (c *Context) Diagnostics() string {
	return c.protocol.Diagnostics()
}

// Initialize binds the context to name. Calling it again with the same
// name after a successful initialize has no effect.
func (c *Context) Initialize(ctx context.Context, name string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.initialized && c.name == name {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	r, err := c.call(ctx, command{Type: cmdInit, Function: name})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.name = name
	c.initialized = r.Code == ""
	c.mu.Unlock()
	return decodeError(r)
}

// Run asks the guest to render req. Preview runs only present output;
// other runs also export it and report the location in the handle.
func (c *Context) Run(ctx context.Context, req function.RunRequest) (function.RunHandle, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return function.RunHandle{}, ErrClosed
	}

	select {
	case <-c.Ready():
	default:
		return function.RunHandle{}, ErrNotReady
	}

	r, err := c.call(ctx, command{Type: cmdRun, Request: &req})
	if err != nil {
		return function.RunHandle{}, err
	}
	return r.Handle, decodeError(r)
}

// Close stops the guest. Pending calls return ErrClosed.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closeCh)
	c.cancel()
	return c.cmdW.Close()
}

// call sends one command and waits for its reply. Calls are serialized;
// the guest answers commands in order.
func (c *Context) call(ctx context.Context, cmd command) (reply, error) {
	c.execMu.Lock()
	defer c.execMu.Unlock()

	c.mu.Lock()
	cmd.ID = c.nextID
	c.nextID++
	c.mu.Unlock()

	line, err := json.Marshal(cmd)
	if err != nil {
		return reply{}, fmt.Errorf("encode %s command: %w", cmd.Type, err)
	}

	written := make(chan error, 1)
	go func() {
		_, err := c.cmdW.Write(append(line, '\n'))
		written <- err
	}()

	select {
	case err := <-written:
		if err != nil {
			return reply{}, c.closedErr(err)
		}
	case <-ctx.Done():
		return reply{}, ctx.Err()
	case <-c.closeCh:
		return reply{}, ErrClosed
	case <-c.guestDone:
		return reply{}, c.closedErr(nil)
	}

	return c.await(ctx, cmd.ID)
}

// await waits for the reply with the given id, discarding replies to
// calls that were abandoned earlier.
func (c *Context) await(ctx context.Context, id uint64) (reply, error) {
	for {
		select {
		case r := <-c.protocol.results:
			if r.ID == id {
				return r, nil
			}
			c.logger.Debug("dropping stale reply", "id", r.ID, "want", id)
		case <-ctx.Done():
			return reply{}, ctx.Err()
		case <-c.closeCh:
			return reply{}, ErrClosed
		case <-c.guestDone:
			// The guest is gone but its last reply may already be queued.
			for {
				select {
				case r := <-c.protocol.results:
					if r.ID == id {
						return r, nil
					}
				default:
					return reply{}, c.closedErr(nil)
				}
			}
		}
	}
}

func (c *Context) closedErr(cause error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.guestErr != nil {
		return fmt.Errorf("%w: guest stopped: %v", ErrClosed, c.guestErr)
	}
	if cause != nil {
		return fmt.Errorf("%w: %v", ErrClosed, cause)
	}
	return ErrClosed
}
