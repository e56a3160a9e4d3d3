// Package ollama talks to an Ollama server through its native /api/chat
// endpoint. Streaming responses are newline-delimited JSON objects.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"chatgw/internal/backend"
	"chatgw/internal/pipeline"
)

// DefaultBaseURL is the address a local Ollama listens on.
const DefaultBaseURL = "http://localhost:11434"

const (
	chatPath = "/api/chat"
	tagsPath = "/api/tags"
)

// Options configures a Client.
type Options struct {
	BaseURL        string
	ConnectTimeout time.Duration
	// HeaderTimeout bounds the wait for Ollama to start answering (0 disables).
	HeaderTimeout time.Duration
	HTTPClient    *http.Client
}

// Client implements pipeline.Backend and pipeline.Verifier.
type Client struct {
	baseURL string
	http    *http.Client
}

// New validates opts and returns a client. No request is made.
func New(opts Options) (*Client, error) {
	base, err := backend.TrimBaseURL(opts.BaseURL, DefaultBaseURL)
	if err != nil {
		return nil, err
	}
	cli := opts.HTTPClient
	if cli == nil {
		cli = backend.NewHTTPClient(opts.ConnectTimeout, opts.HeaderTimeout)
	}
	return &Client{baseURL: base, http: cli}, nil
}

func (c *Client) Name() string { return "ollama" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

type chatResponse struct {
	Model   string      `json:"model"`
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}

func toMessages(p pipeline.Prompt) []chatMessage {
	out := make([]chatMessage, 0, len(p.Messages))
	for _, m := range p.Messages {
		role := "user"
		if m.Role == pipeline.RoleSystem {
			role = "system"
		}
		out = append(out, chatMessage{Role: role, Content: m.Content})
	}
	return out
}

func (c *Client) post(ctx context.Context, prompt pipeline.Prompt, params pipeline.Params, stream bool) (*http.Response, error) {
	body, err := json.Marshal(chatRequest{
		Model:    params.Model,
		Messages: toMessages(prompt),
		Stream:   stream,
		Options:  chatOptions{Temperature: params.Temperature},
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "application/x-ndjson")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, backend.StatusError("ollama", resp)
	}
	return resp, nil
}

// Generate returns the complete answer.
func (c *Client) Generate(ctx context.Context, prompt pipeline.Prompt, params pipeline.Params) (string, error) {
	resp, err := c.post(ctx, prompt, params, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", pipeline.ErrMalformedOutput, err)
	}
	if out.Error != "" {
		return "", errors.New(out.Error)
	}
	return out.Message.Content, nil
}

// Stream starts a streaming chat. Canceling ctx or closing the stream aborts
// the HTTP request, which makes Ollama stop generating.
func (c *Client) Stream(ctx context.Context, prompt pipeline.Prompt, params pipeline.Params) (pipeline.FragmentStream, error) {
	sctx, cancel := context.WithCancel(ctx)
	resp, err := c.post(sctx, prompt, params, true)
	if err != nil {
		cancel()
		return nil, err
	}
	return backend.NewLineStream(resp.Body, cancel, decodeChunk), nil
}

func decodeChunk(line []byte) (string, bool, error) {
	var chunk chatResponse
	if err := json.Unmarshal(line, &chunk); err != nil {
		return "", false, fmt.Errorf("%w: %v", pipeline.ErrMalformedOutput, err)
	}
	if chunk.Error != "" {
		return "", false, errors.New(chunk.Error)
	}
	return chunk.Message.Content, chunk.Done, nil
}

type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// Verify checks that model is installed on the server.
func (c *Client) Verify(ctx context.Context, model string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+tagsPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return backend.StatusError("ollama", resp)
	}
	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrMalformedOutput, err)
	}
	want := normalizeTag(model)
	for _, m := range tags.Models {
		if normalizeTag(m.Name) == want || normalizeTag(m.Model) == want {
			return nil
		}
	}
	return fmt.Errorf("model %q is not available on %s", model, c.baseURL)
}

// normalizeTag makes "mistral" and "mistral:latest" compare equal.
func normalizeTag(s string) string {
	s = strings.TrimSpace(s)
	if s != "" && !strings.Contains(s, ":") {
		s += ":latest"
	}
	return s
}
