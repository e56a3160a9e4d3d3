//go:build llama

package llamacpp

import (
	"context"
	"errors"
	"io"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"

	"chatgw/internal/pipeline"
)

// Client owns one loaded model. go-llama.cpp models are not safe for
// concurrent predictions, so generations are serialized.
type Client struct {
	opts Options

	mu    sync.Mutex
	model *llama.LLama
}

// New loads the model at opts.ModelPath.
func New(opts Options) (*Client, error) {
	opts = opts.withDefaults()
	path, err := opts.modelFile()
	if err != nil {
		return nil, err
	}
	m, err := llama.New(path, llama.SetContext(opts.ContextSize))
	if err != nil {
		return nil, err
	}
	return &Client{opts: opts, model: m}, nil
}

func (c *Client) Name() string { return "llamacpp" }

func (c *Client) predictOptions(params pipeline.Params) []llama.PredictOption {
	return []llama.PredictOption{
		llama.SetTokens(c.opts.MaxTokens),
		llama.SetThreads(c.opts.Threads),
		llama.SetTemperature(float32(params.Temperature)),
		llama.SetStopWords("\nHuman:"),
	}
}

func promptText(p pipeline.Prompt) string { return p.Text() + "\nAssistant:" }

// predict runs one generation under the model lock. onToken returning false
// stops generation early.
func (c *Client) predict(ctx context.Context, prompt pipeline.Prompt, params pipeline.Params, onToken func(string) bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.model == nil {
		return "", errors.New("llama model not initialized")
	}
	c.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if onToken == nil {
			return true
		}
		return onToken(tok)
	})
	text, err := c.model.Predict(promptText(prompt), c.predictOptions(params)...)
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return text, err
}

func (c *Client) Generate(ctx context.Context, prompt pipeline.Prompt, params pipeline.Params) (string, error) {
	return c.predict(ctx, prompt, params, nil)
}

// Stream runs the prediction on its own goroutine and hands tokens over a
// channel. Closing the stream makes the token callback stop generation.
func (c *Client) Stream(ctx context.Context, prompt pipeline.Prompt, params pipeline.Params) (pipeline.FragmentStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &tokenStream{cancel: cancel, tokens: make(chan string), done: make(chan struct{})}
	go func() {
		defer close(s.done)
		_, err := c.predict(sctx, prompt, params, func(tok string) bool {
			select {
			case s.tokens <- tok:
				return true
			case <-sctx.Done():
				return false
			}
		})
		s.err = err
	}()
	return s, nil
}

type tokenStream struct {
	cancel context.CancelFunc
	tokens chan string
	done   chan struct{}
	err    error // written before done is closed
	once   sync.Once
}

func (s *tokenStream) Next(ctx context.Context) (string, error) {
	select {
	case tok := <-s.tokens:
		return tok, nil
	case <-s.done:
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *tokenStream) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// Close frees the model.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.model != nil {
		c.model.Free()
		c.model = nil
	}
	return nil
}
