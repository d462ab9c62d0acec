package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// readBufferSize is the chunk size for reads from the response body.
const readBufferSize = 4096

// Transform post-processes the accumulated text before it is stored or
// surfaced. The identity transform is used for prose output; code output
// uses StripCodeFences.
type Transform func(string) string

// OnUpdate receives the full accumulated (and transformed) text after
// each delta. Returning an error aborts the stream.
type OnUpdate func(total string) error

// Assembler drains one streaming response into a growing buffer,
// invoking the caller after every delta so the in-progress message can
// be re-rendered. One Assembler serves one request; the buffer is
// discarded with it.
type Assembler struct {
	transform Transform
	logger    *slog.Logger
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithTransform sets the post-processing transform applied on every
// update and to the final result.
func WithTransform(t Transform) AssemblerOption {
	return func(a *Assembler) {
		a.transform = t
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) AssemblerOption {
	return func(a *Assembler) {
		a.logger = logger
	}
}

// NewAssembler creates an Assembler.
func NewAssembler(opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		transform: func(s string) string { return s },
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run reads the stream to completion and returns the final accumulated
// text. Each chunk is fully processed (all complete frames extracted)
// before the next read. onUpdate may be nil. Partial content accumulated
// before an error remains in the returned string so callers can keep it
// visible.
func (a *Assembler) Run(ctx context.Context, r io.Reader, onUpdate OnUpdate) (string, error) {
	var parser Parser
	var acc strings.Builder
	var total string
	buf := make([]byte, readBufferSize)

	for {
		if err := ctx.Err(); err != nil {
			return total, fmt.Errorf("stream canceled: %w", err)
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			for _, delta := range parser.Feed(buf[:n]) {
				acc.WriteString(delta)
				total = a.transform(acc.String())
				if onUpdate != nil {
					if err := onUpdate(total); err != nil {
						return total, fmt.Errorf("update callback: %w", err)
					}
				}
			}
		}

		if parser.Done() {
			break
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				if tail := parser.Pending(); tail != "" {
					a.logger.Debug("discarding unterminated stream tail", "bytes", len(tail))
				}
				break
			}
			return total, fmt.Errorf("reading stream: %w", readErr)
		}
	}

	return total, nil
}
