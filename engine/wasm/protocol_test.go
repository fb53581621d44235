package wasm

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := strings.TrimSpace(b.buf.String())
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func waitLines(t *testing.T, b *syncBuffer, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if lines := b.lines(); len(lines) >= n {
			return lines
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d responses, have %v", n, b.lines())
	return nil
}

func echoFuncs() map[string]hostFunc {
	return map[string]hostFunc{
		"echo": func(ctx context.Context, args map[string]any) (any, error) {
			return args["v"], nil
		},
	}
}

func TestProtocolPassesThroughStderr(t *testing.T) {
	var stdin syncBuffer
	p := newProtocolHandler(context.Background(), echoFuncs(), &stdin)

	p.Write([]byte("plain output\n"))
	if got := p.Stderr(); got != "plain output\n" {
		t.Errorf("Stderr() = %q", got)
	}
}

func TestProtocolHandlesCall(t *testing.T) {
	var stdin syncBuffer
	p := newProtocolHandler(context.Background(), echoFuncs(), &stdin)

	p.Write([]byte("before" + protocolPrefix + `{"fn":"echo","args":{"v":"hi"}}` + protocolSuffix + "after"))

	lines := waitLines(t, &stdin, 1)
	var resp callResponse
	if err := json.Unmarshal([]byte(lines[0]), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Data != "hi" {
		t.Errorf("expected echo, got %+v", resp)
	}
	if got := p.Stderr(); got != "beforeafter" {
		t.Errorf("Stderr() = %q", got)
	}
}

func TestProtocolReassemblesSplitFrames(t *testing.T) {
	var stdin syncBuffer
	p := newProtocolHandler(context.Background(), echoFuncs(), &stdin)

	frame := protocolPrefix + `{"fn":"echo","args":{"v":1}}` + protocolSuffix
	for _, part := range []string{frame[:3], frame[3:10], frame[10:]} {
		p.Write([]byte(part))
	}

	waitLines(t, &stdin, 1)
	if got := p.Stderr(); got != "" {
		t.Errorf("frame bytes leaked to stderr: %q", got)
	}
}

func TestProtocolUnknownFunction(t *testing.T) {
	var stdin syncBuffer
	p := newProtocolHandler(context.Background(), echoFuncs(), &stdin)

	p.Write([]byte(protocolPrefix + `{"fn":"nope"}` + protocolSuffix))

	lines := waitLines(t, &stdin, 1)
	if !strings.Contains(lines[0], "unknown function: nope") {
		t.Errorf("unexpected response %s", lines[0])
	}
}

func TestProtocolInvalidJSON(t *testing.T) {
	var stdin syncBuffer
	p := newProtocolHandler(context.Background(), echoFuncs(), &stdin)

	p.Write([]byte(protocolPrefix + `{broken` + protocolSuffix))

	lines := waitLines(t, &stdin, 1)
	if !strings.Contains(lines[0], "invalid call format") {
		t.Errorf("unexpected response %s", lines[0])
	}
}

func TestPartialPrefix(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"hello", 0},
		{"hello\x00", 1},
		{"hello\x00ME", 3},
		{"\x00MECH", 5},
		{"", 0},
	}
	for _, tt := range tests {
		if got := partialPrefix(tt.in); got != tt.want {
			t.Errorf("partialPrefix(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
