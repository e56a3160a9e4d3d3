// Package pipelinetest provides a scripted in-memory backend for tests.
package pipelinetest

import (
	"context"
	"io"
	"sync"

	"chatgw/internal/pipeline"
)

// Backend is a pipeline.Backend whose behavior is fixed by its fields.
// Fields must not be changed once the backend is in use.
type Backend struct {
	Reply       string
	GenerateErr error

	Fragments []string
	// StartErr fails Stream before any fragment is produced.
	StartErr error
	// FailErr is returned after Fragments are exhausted, instead of io.EOF.
	FailErr error
	// Hang blocks after Fragments until the context is canceled.
	Hang bool
	// Gate, when set, must be received from before each fragment is produced.
	Gate chan struct{}

	mu        sync.Mutex
	generates int
	streams   int
	closed    int
	prompts   []pipeline.Prompt
}

func (b *Backend) Name() string { return "scripted" }

func (b *Backend) Generate(ctx context.Context, prompt pipeline.Prompt, _ pipeline.Params) (string, error) {
	b.mu.Lock()
	b.generates++
	b.prompts = append(b.prompts, prompt)
	b.mu.Unlock()
	if b.GenerateErr != nil {
		return "", b.GenerateErr
	}
	if b.Hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return b.Reply, nil
}

func (b *Backend) Stream(ctx context.Context, prompt pipeline.Prompt, _ pipeline.Params) (pipeline.FragmentStream, error) {
	b.mu.Lock()
	b.streams++
	b.prompts = append(b.prompts, prompt)
	b.mu.Unlock()
	if b.StartErr != nil {
		return nil, b.StartErr
	}
	return &stream{b: b, ctx: ctx}, nil
}

// Generates reports how many complete invocations were made.
func (b *Backend) Generates() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generates
}

// Streams reports how many streaming invocations were started.
func (b *Backend) Streams() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streams
}

// Closed reports how many streams were closed.
func (b *Backend) Closed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Prompts returns the prompts received so far.
func (b *Backend) Prompts() []pipeline.Prompt {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]pipeline.Prompt(nil), b.prompts...)
}

type stream struct {
	b   *Backend
	ctx context.Context
	i   int
}

func (s *stream) Next(ctx context.Context) (string, error) {
	if s.b.Gate != nil {
		select {
		case <-s.b.Gate:
		case <-ctx.Done():
			return "", ctx.Err()
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.i < len(s.b.Fragments) {
		f := s.b.Fragments[s.i]
		s.i++
		return f, nil
	}
	if s.b.FailErr != nil {
		return "", s.b.FailErr
	}
	if s.b.Hang {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		}
	}
	return "", io.EOF
}

func (s *stream) Close() error {
	s.b.mu.Lock()
	s.b.closed++
	s.b.mu.Unlock()
	return nil
}
