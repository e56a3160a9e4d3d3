// Package pipeline composes the fixed system instruction with a user message,
// binds the result to a text-generation backend and parses what comes back.
//
// A Pipeline is built once at startup and shared read-only by every request
// and session. It has no setters; all state is fixed by New.
package pipeline

import (
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"time"
)

// DefaultSystemInstruction is used when Config.SystemInstruction is empty.
const DefaultSystemInstruction = "You are a concise, helpful assistant. Keep answers short unless asked for detail."

// Config describes a Pipeline. Zero timeouts disable the corresponding bound.
type Config struct {
	SystemInstruction string
	Model             string
	Temperature       float64
	Parser            OutputParser

	// InvokeTimeout bounds a complete (non-streaming) invocation.
	InvokeTimeout time.Duration
	// FragmentIdleTimeout bounds the wait for each streamed fragment.
	FragmentIdleTimeout time.Duration
}

// Pipeline renders prompts and invokes the bound backend.
type Pipeline struct {
	system     string
	params     Params
	backend    Backend
	parser     OutputParser
	invokeTO   time.Duration
	fragmentTO time.Duration
}

// New validates cfg and binds it to backend.
func New(cfg Config, backend Backend) (*Pipeline, error) {
	if backend == nil {
		return nil, ErrConfiguration("backend", "no backend bound")
	}
	system := cfg.SystemInstruction
	if strings.TrimSpace(system) == "" {
		system = DefaultSystemInstruction
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, ErrConfiguration("model", "model identifier is required")
	}
	if math.IsNaN(cfg.Temperature) || cfg.Temperature < 0 || cfg.Temperature > 2 {
		return nil, ErrConfiguration("temperature", "must be within [0, 2]")
	}
	if cfg.InvokeTimeout < 0 || cfg.FragmentIdleTimeout < 0 {
		return nil, ErrConfiguration("timeout", "must not be negative")
	}
	parser := cfg.Parser
	if parser == nil {
		parser = StrOutput{}
	}
	return &Pipeline{
		system:     system,
		params:     Params{Model: model, Temperature: cfg.Temperature},
		backend:    backend,
		parser:     parser,
		invokeTO:   cfg.InvokeTimeout,
		fragmentTO: cfg.FragmentIdleTimeout,
	}, nil
}

// Model returns the bound model identifier.
func (p *Pipeline) Model() string { return p.params.Model }

// Backend returns the bound backend's name.
func (p *Pipeline) Backend() string { return p.backend.Name() }

// Close releases the backend if it holds resources, such as a loaded model.
func (p *Pipeline) Close() error {
	if c, ok := p.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Render builds the prompt for userText. Callers must not pass empty text.
func (p *Pipeline) Render(userText string) Prompt {
	return Prompt{Messages: []Message{
		{Role: RoleSystem, Content: p.system},
		{Role: RoleHuman, Content: userText},
	}}
}

// Invoke runs a complete generation and returns the parsed answer.
// Failures are reported as *BackendError.
func (p *Pipeline) Invoke(ctx context.Context, prompt Prompt) (string, error) {
	if p.invokeTO > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.invokeTO)
		defer cancel()
	}
	raw, err := p.backend.Generate(ctx, prompt, p.params)
	if err != nil {
		return "", backendErr(p.backend.Name(), "invoke", err)
	}
	out, err := p.parser.Parse(raw)
	if err != nil {
		return "", backendErr(p.backend.Name(), "parse", err)
	}
	return out, nil
}

// InvokeStream starts a streaming generation. The returned stream reports
// failures as *BackendError and never yields fragments after one.
func (p *Pipeline) InvokeStream(ctx context.Context, prompt Prompt) (FragmentStream, error) {
	inner, err := p.backend.Stream(ctx, prompt, p.params)
	if err != nil {
		return nil, backendErr(p.backend.Name(), "stream", err)
	}
	return &guardedStream{
		inner:   inner,
		backend: p.backend.Name(),
		parser:  p.parser,
		idle:    p.fragmentTO,
	}, nil
}

// guardedStream normalizes a backend stream: errors become *BackendError,
// the sequence is terminal after EOF or failure, and Close is idempotent.
type guardedStream struct {
	inner   FragmentStream
	backend string
	parser  OutputParser
	idle    time.Duration

	err    error
	closed bool
}

func (s *guardedStream) Next(ctx context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.closed {
		return "", io.ErrClosedPipe
	}
	nctx := ctx
	if s.idle > 0 {
		var cancel context.CancelFunc
		nctx, cancel = context.WithTimeout(ctx, s.idle)
		defer cancel()
	}
	frag, err := s.inner.Next(nctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.err = io.EOF
			return "", io.EOF
		}
		s.err = backendErr(s.backend, "stream", err)
		return "", s.err
	}
	out, err := s.parser.Parse(frag)
	if err != nil {
		s.err = backendErr(s.backend, "parse", err)
		return "", s.err
	}
	return out, nil
}

func (s *guardedStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.inner.Close()
}
