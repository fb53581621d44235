package sandbox

import (
	"errors"
	"testing"

	"github.com/caffeineduck/mechanic/engine"
	"github.com/caffeineduck/mechanic/function"
)

func TestFindNextMessage(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		wantIdx     int
		wantMsgType messageType
	}{
		{"no message", "hello world", -1, messageNone},
		{"ready", "boot\x00MECH_READY\x00", 4, messageReady},
		{"result", "x\x00MECH_RESULT:{}\x00", 1, messageResult},
		{"ready before result", "\x00MECH_READY\x00\x00MECH_RESULT:{}\x00", 0, messageReady},
		{"result before ready", "\x00MECH_RESULT:{}\x00\x00MECH_READY\x00", 0, messageResult},
		{"empty content", "", -1, messageNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, msgType := findNextMessage(tt.content)
			if idx != tt.wantIdx {
				t.Errorf("idx = %d, want %d", idx, tt.wantIdx)
			}
			if msgType != tt.wantMsgType {
				t.Errorf("msgType = %d, want %d", msgType, tt.wantMsgType)
			}
		})
	}
}

func TestExtractMessage(t *testing.T) {
	payload, remaining, ok := extractMessage("\x00MECH_RESULT:{\"id\":1}\x00tail", 0, resultPrefix)
	if !ok || payload != `{"id":1}` || remaining != "tail" {
		t.Errorf("got %q, %q, %v", payload, remaining, ok)
	}

	_, remaining, ok = extractMessage("\x00MECH_RESULT:{partial", 0, resultPrefix)
	if ok || remaining != "\x00MECH_RESULT:{partial" {
		t.Errorf("incomplete frame: got %q, %v", remaining, ok)
	}
}

func TestHostProtocolReadyAndResults(t *testing.T) {
	p := newHostProtocol()

	p.Write([]byte("stray "))
	p.Write(encodeReady()[:5])
	select {
	case <-p.Ready():
		t.Fatal("ready fired on a partial frame")
	default:
	}
	p.Write(encodeReady()[5:])
	select {
	case <-p.Ready():
	default:
		t.Fatal("ready did not fire")
	}

	frame := encodeReply(reply{ID: 7, Handle: function.RunHandle{Values: function.Values{"a": "b"}}})
	p.Write(frame[:10])
	p.Write(frame[10:])

	select {
	case r := <-p.results:
		if r.ID != 7 || r.Handle.Values["a"] != "b" {
			t.Errorf("unexpected reply %+v", r)
		}
	default:
		t.Fatal("no reply parsed")
	}

	if got := p.Diagnostics(); got != "stray " {
		t.Errorf("Diagnostics() = %q", got)
	}
}

func TestHostProtocolDropsOldestWhenFull(t *testing.T) {
	p := newHostProtocol()
	for i := 0; i < cap(p.results)+3; i++ {
		p.Write(encodeReply(reply{ID: uint64(i)}))
	}
	first := <-p.results
	if first.ID != 3 {
		t.Errorf("expected oldest replies dropped, first is %d", first.ID)
	}
}

func TestErrorCodesRoundTrip(t *testing.T) {
	for _, sentinel := range []error{
		engine.ErrEngineNotFound,
		engine.ErrEngineMismatch,
		function.ErrFunctionNotFound,
		ErrNotInitialized,
	} {
		wrapped := errors.Join(errors.New("context"), sentinel)
		r := reply{Code: codeOf(wrapped), Error: wrapped.Error()}
		if err := decodeError(r); !errors.Is(err, sentinel) {
			t.Errorf("%v did not survive the boundary: %v", sentinel, err)
		}
	}

	if err := decodeError(reply{}); err != nil {
		t.Errorf("empty reply decoded to %v", err)
	}
	if code := codeOf(errors.New("other")); code != codeInternal {
		t.Errorf("unknown error code = %q", code)
	}
}
