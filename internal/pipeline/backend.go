package pipeline

import "context"

// Backend abstracts the text-generation runtime bound to a Pipeline.
// Concrete implementations (ollama, OpenAI-compatible servers, llama.cpp)
// live under internal/backend.
type Backend interface {
	// Name identifies the backend kind in errors and logs.
	Name() string
	// Generate returns the complete answer for prompt.
	Generate(ctx context.Context, prompt Prompt, params Params) (string, error)
	// Stream starts a generation and returns its fragments as a pull iterator.
	// Canceling ctx must stop production and release backend resources.
	Stream(ctx context.Context, prompt Prompt, params Params) (FragmentStream, error)
}

// Verifier is implemented by backends that can confirm at startup that the
// configured model is resolvable.
type Verifier interface {
	Verify(ctx context.Context, model string) error
}

// FragmentStream yields text fragments in production order.
//
// Next returns io.EOF once the sequence finishes normally. Any other error is
// terminal: no further fragments are produced. Close releases resources tied
// to the invocation and may be called more than once.
type FragmentStream interface {
	Next(ctx context.Context) (string, error)
	Close() error
}

// Params captures generation parameters passed to the backend.
type Params struct {
	Model       string
	Temperature float64
}
