package sandbox

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/caffeineduck/mechanic/engine"
	"github.com/caffeineduck/mechanic/function"
	"github.com/caffeineduck/mechanic/surface"
)

// Sink stores exported artifacts and returns where they went.
type Sink interface {
	Save(ctx context.Context, fn string, out engine.Output) (string, error)
}

// guest is the isolated side of the boundary. It owns dispatch: every
// command is executed against the Switchboard in arrival order and
// answered with one reply frame.
type guest struct {
	boot    string
	sb      *engine.Switchboard
	surface *surface.Surface
	sink    Sink
	logger  *slog.Logger

	in  io.Reader
	out io.Writer

	name        string
	initialized bool
}

// loop boots the guest for its function, signals readiness and serves
// commands until in is closed.
func (g *guest) loop(ctx context.Context) error {
	bootReply := g.handle(ctx, command{Type: cmdInit, Function: g.boot})
	if _, err := g.out.Write(encodeReply(bootReply)); err != nil {
		return err
	}
	if bootReply.Code != "" && bootReply.Code != codeEngineNotFound {
		return fmt.Errorf("boot %s: %s", g.boot, bootReply.Error)
	}
	if _, err := g.out.Write(encodeReady()); err != nil {
		return err
	}

	scanner := bufio.NewScanner(g.in)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var cmd command
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			fmt.Fprintf(g.out, "ignoring malformed command: %v\n", err)
			continue
		}
		if _, err := g.out.Write(encodeReply(g.handle(ctx, cmd))); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (g *guest) handle(ctx context.Context, cmd command) (r reply) {
	r.ID = cmd.ID
	defer func() {
		if p := recover(); p != nil {
			g.logger.Error("guest panic", "command", cmd.Type, "panic", p)
			r = reply{ID: cmd.ID, Code: codePanic, Error: fmt.Sprintf("%v: %v", ErrGuestPanic, p)}
		}
	}()

	var err error
	switch cmd.Type {
	case cmdInit:
		err = g.initialize(ctx, cmd.Function)
	case cmdRun:
		if cmd.Request == nil {
			err = errors.New("run command without request")
			break
		}
		r.Handle, err = g.run(ctx, *cmd.Request)
	default:
		err = fmt.Errorf("unknown command %q", cmd.Type)
	}

	if err != nil {
		r.Code = codeOf(err)
		r.Error = err.Error()
	}
	return r
}

func (g *guest) initialize(ctx context.Context, name string) error {
	if g.initialized && name == g.name {
		return nil
	}
	g.name = name
	g.initialized = false
	if err := g.sb.SelectFunction(ctx, name); err != nil {
		return err
	}
	g.initialized = true
	return nil
}

func (g *guest) run(ctx context.Context, req function.RunRequest) (function.RunHandle, error) {
	if req.Function != g.name {
		return function.RunHandle{}, fmt.Errorf("%w: %s (initialized %q)", ErrNotInitialized, req.Function, g.name)
	}
	// The Switchboard may be shared with other contexts.
	res, err := g.sb.RunSelected(ctx, req.Function, req.Values, req.Preview)
	if err != nil {
		return res.Handle, err
	}
	if res.Output == nil {
		return res.Handle, nil
	}

	if g.surface != nil {
		g.surface.Present(surface.Frame{
			Function:    req.Function,
			Data:        res.Output.Data,
			ContentType: res.Output.ContentType,
			Width:       res.Output.Width,
			Height:      res.Output.Height,
			Preview:     req.Preview,
			RenderedAt:  time.Now(),
		})
	}

	if !req.Preview && g.sink != nil {
		loc, err := g.sink.Save(ctx, req.Function, *res.Output)
		if err != nil {
			return res.Handle, fmt.Errorf("export %s: %w", req.Function, err)
		}
		res.Handle.Location = loc
		g.logger.Info("exported", "function", req.Function, "location", loc)
	}
	return res.Handle, nil
}
