//go:build !llama

package llamacpp

import (
	"context"

	"chatgw/internal/pipeline"
)

// Client is a placeholder that never runs inference.
type Client struct{}

// New validates opts and reports ErrNotBuilt.
func New(opts Options) (*Client, error) {
	if _, err := opts.withDefaults().modelFile(); err != nil {
		return nil, err
	}
	return nil, ErrNotBuilt
}

func (c *Client) Name() string { return "llamacpp" }

func (c *Client) Generate(ctx context.Context, _ pipeline.Prompt, _ pipeline.Params) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", ErrNotBuilt
}

func (c *Client) Stream(ctx context.Context, _ pipeline.Prompt, _ pipeline.Params) (pipeline.FragmentStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, ErrNotBuilt
}

func (c *Client) Close() error { return nil }
