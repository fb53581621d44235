package wasm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
)

// Host calls travel on the guest's stderr as \x00MECH:{json}\x00. The
// response is written to the guest's stdin as one JSON line.
const (
	protocolPrefix = "\x00MECH:"
	protocolSuffix = "\x00"
)

type hostFunc func(ctx context.Context, args map[string]any) (any, error)

type callRequest struct {
	Fn   string         `json:"fn"`
	Args map[string]any `json:"args"`
}

type callResponse struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// protocolHandler intercepts stderr to serve host calls. Regular stderr
// output passes through and is kept for diagnostics.
type protocolHandler struct {
	ctx         context.Context
	funcs       map[string]hostFunc
	stdinWriter io.Writer

	realStderr bytes.Buffer
	buf        bytes.Buffer
	mu         sync.Mutex
	writeMu    sync.Mutex
}

func newProtocolHandler(ctx context.Context, funcs map[string]hostFunc, stdinWriter io.Writer) *protocolHandler {
	return &protocolHandler{
		ctx:         ctx,
		funcs:       funcs,
		stdinWriter: stdinWriter,
	}
}

func (p *protocolHandler) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf.Write(data)

	for {
		content := p.buf.String()
		start := strings.Index(content, protocolPrefix)
		if start == -1 {
			// Keep a possible partial prefix for the next write.
			keep := partialPrefix(content)
			p.realStderr.WriteString(content[:len(content)-keep])
			p.buf.Reset()
			p.buf.WriteString(content[len(content)-keep:])
			break
		}

		p.realStderr.WriteString(content[:start])

		body := content[start+len(protocolPrefix):]
		end := strings.Index(body, protocolSuffix)
		if end == -1 {
			p.buf.Reset()
			p.buf.WriteString(content[start:])
			break
		}

		payload := body[:end]
		p.buf.Reset()
		p.buf.WriteString(body[end+len(protocolSuffix):])

		var req callRequest
		if err := json.Unmarshal([]byte(payload), &req); err != nil {
			p.respond(callResponse{Error: "invalid call format"})
			continue
		}
		p.respond(p.handleCall(req))
	}

	return len(data), nil
}

func (p *protocolHandler) handleCall(req callRequest) callResponse {
	fn, ok := p.funcs[req.Fn]
	if !ok {
		return callResponse{Error: "unknown function: " + req.Fn}
	}
	result, err := fn(p.ctx, req.Args)
	if err != nil {
		return callResponse{Error: err.Error()}
	}
	return callResponse{Data: result}
}

// respond writes asynchronously: the guest may be blocked writing stderr
// and only reads stdin once that write returns.
func (p *protocolHandler) respond(resp callResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		data = []byte(`{"error":"internal: failed to marshal response"}`)
	}
	go func() {
		p.writeMu.Lock()
		defer p.writeMu.Unlock()
		p.stdinWriter.Write(append(data, '\n'))
	}()
}

// Stderr returns guest stderr with protocol frames removed.
func (p *protocolHandler) Stderr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.realStderr.String()
}

// partialPrefix reports how many trailing bytes of s could begin a
// protocol frame.
func partialPrefix(s string) int {
	for n := min(len(protocolPrefix)-1, len(s)); n > 0; n-- {
		if strings.HasPrefix(protocolPrefix, s[len(s)-n:]) {
			return n
		}
	}
	return 0
}
