// Package stream assembles the text/event-stream responses of the AI
// gateway into incrementally growing text.
//
// The gateway speaks the OpenAI chat-completion stream dialect:
// newline-delimited frames of the form
//
//	data: {"choices":[{"delta":{"content":"..."}}]}
//
// terminated by the literal sentinel "data: [DONE]". Frames may be split
// arbitrarily across reads, including mid-JSON, so an unterminated tail
// stays buffered until later bytes complete it.
package stream

import (
	"encoding/json"
	"strings"
)

// dataPrefix marks an SSE data line.
const dataPrefix = "data: "

// doneSentinel terminates an OpenAI-compatible stream.
const doneSentinel = "[DONE]"

// chunkEnvelope is the subset of an OpenAI streaming chunk we consume.
type chunkEnvelope struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Parser is the line-buffering SSE parser: accumulate bytes until a
// newline completes a line, inspect the line for a data payload, decode
// the payload. Feed it raw bytes as they arrive; it emits complete
// content deltas in order. The zero value is ready to use.
//
// A newline-terminated data line whose payload fails to decode is
// dropped as incomplete-frame noise; bytes after the final newline are
// retained so a frame split across reads reassembles exactly.
type Parser struct {
	buf  string
	done bool
}

// Done reports whether the [DONE] sentinel has been seen.
func (p *Parser) Done() bool {
	return p.done
}

// Pending returns the unterminated tail still buffered. Discarded by the
// caller when the underlying reader reports EOF.
func (p *Parser) Pending() string {
	return p.buf
}

// Feed appends raw bytes and extracts every content delta completed by
// them.
func (p *Parser) Feed(data []byte) []string {
	p.buf += string(data)

	var deltas []string
	for !p.done {
		// Accumulating: a line is complete only once its newline arrives.
		// The tail may be a frame split mid-JSON; keep it for later bytes.
		idx := strings.IndexByte(p.buf, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimRight(p.buf[:idx], "\r")
		p.buf = p.buf[idx+1:]

		// Have line: only data frames matter. Comments, event names,
		// and blank separator lines are skipped.
		payload, ok := strings.CutPrefix(line, dataPrefix)
		if !ok {
			continue
		}

		// Have payload: decode, honoring the terminal sentinel.
		if strings.TrimSpace(payload) == doneSentinel {
			p.done = true
			break
		}
		var env chunkEnvelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil {
			// Incomplete-frame noise; not fatal, not reported.
			continue
		}
		if len(env.Choices) > 0 {
			if content := env.Choices[0].Delta.Content; content != "" {
				deltas = append(deltas, content)
			}
		}
	}
	return deltas
}
