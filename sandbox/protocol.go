package sandbox

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"

	"github.com/caffeineduck/mechanic/function"
)

// Frames the guest writes back to the host. Anything outside a frame is
// stray guest output and is kept as diagnostics.
const (
	readySignal  = "\x00MECH_READY\x00"
	resultPrefix = "\x00MECH_RESULT:"
	frameSuffix  = "\x00"
)

type messageType int

const (
	messageNone messageType = iota
	messageReady
	messageResult
)

// command is one newline-delimited JSON line sent to the guest.
type command struct {
	Type     string               `json:"type"`
	ID       uint64               `json:"id"`
	Function string               `json:"function,omitempty"`
	Request  *function.RunRequest `json:"request,omitempty"`
}

const (
	cmdInit = "init"
	cmdRun  = "run"
)

// reply answers exactly one command.
type reply struct {
	ID     uint64             `json:"id"`
	Handle function.RunHandle `json:"handle"`
	Code   string             `json:"code,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// hostProtocol parses the guest's reply stream.
type hostProtocol struct {
	buf        bytes.Buffer
	diagnostic bytes.Buffer

	readyCh chan struct{}
	ready   bool
	results chan reply

	mu sync.Mutex
}

func newHostProtocol() *hostProtocol {
	return &hostProtocol{
		readyCh: make(chan struct{}),
		results: make(chan reply, 16),
	}
}

func (p *hostProtocol) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(data)
	p.buf.Write(data)

	for p.processMessages(p.buf.String()) {
	}
	return n, nil
}

func (p *hostProtocol) processMessages(content string) bool {
	idx, msgType := findNextMessage(content)
	if msgType == messageNone {
		keep := partialFrame(content)
		p.diagnostic.WriteString(content[:len(content)-keep])
		p.buf.Reset()
		p.buf.WriteString(content[len(content)-keep:])
		return false
	}

	if idx > 0 {
		p.diagnostic.WriteString(content[:idx])
		content = content[idx:]
		idx = 0
	}

	switch msgType {
	case messageReady:
		p.buf.Reset()
		p.buf.WriteString(content[len(readySignal):])
		if !p.ready {
			p.ready = true
			close(p.readyCh)
		}
		return true

	case messageResult:
		payload, remaining, ok := extractMessage(content, idx, resultPrefix)
		p.buf.Reset()
		if !ok {
			p.buf.WriteString(content)
			return false
		}
		p.buf.WriteString(remaining)

		var r reply
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			p.diagnostic.WriteString("invalid result frame: " + err.Error() + "\n")
			return true
		}
		for {
			select {
			case p.results <- r:
				return true
			default:
				// Only stale replies can pile up; drop the oldest.
				select {
				case <-p.results:
				default:
				}
			}
		}
	}
	return false
}

// findNextMessage returns the index and type of the earliest frame in
// content.
func findNextMessage(content string) (int, messageType) {
	readyIdx := strings.Index(content, readySignal)
	resultIdx := strings.Index(content, resultPrefix)

	switch {
	case readyIdx == -1 && resultIdx == -1:
		return -1, messageNone
	case readyIdx == -1:
		return resultIdx, messageResult
	case resultIdx == -1:
		return readyIdx, messageReady
	case readyIdx < resultIdx:
		return readyIdx, messageReady
	default:
		return resultIdx, messageResult
	}
}

// extractMessage splits the frame starting at idx into its payload and
// whatever follows it. ok is false while the frame is incomplete.
func extractMessage(content string, idx int, prefix string) (payload, remaining string, ok bool) {
	start := idx + len(prefix)
	end := strings.Index(content[start:], frameSuffix)
	if end == -1 {
		return "", content[idx:], false
	}
	return content[start : start+end], content[start+end+len(frameSuffix):], true
}

// partialFrame reports how many trailing bytes of content could be the
// start of a frame.
func partialFrame(content string) int {
	keep := 0
	for _, prefix := range []string{readySignal, resultPrefix} {
		for n := min(len(prefix)-1, len(content)); n > keep; n-- {
			if strings.HasPrefix(prefix, content[len(content)-n:]) {
				keep = n
				break
			}
		}
	}
	return keep
}

func (p *hostProtocol) Ready() <-chan struct{} {
	return p.readyCh
}

// Diagnostics returns stray guest output.
func (p *hostProtocol) Diagnostics() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.diagnostic.String()
}

func encodeReady() []byte {
	return []byte(readySignal)
}

func encodeReply(r reply) []byte {
	data, err := json.Marshal(r)
	if err != nil {
		data, _ = json.Marshal(reply{ID: r.ID, Code: codeInternal, Error: "marshal reply: " + err.Error()})
	}
	return append(append([]byte(resultPrefix), data...), frameSuffix...)
}
