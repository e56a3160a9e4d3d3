// Package openai implements a backend for servers that speak the
// OpenAI-compatible chat completions API, such as llama.cpp's llama-server.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"chatgw/internal/backend"
	"chatgw/internal/pipeline"
)

// DefaultBaseURL is llama-server's default listen address.
const DefaultBaseURL = "http://localhost:8080"

const (
	completionsPath = "/v1/chat/completions"
	modelsPath      = "/v1/models"
)

type Options struct {
	BaseURL        string
	APIKey         string
	ConnectTimeout time.Duration
	HeaderTimeout  time.Duration
	HTTPClient     *http.Client
}

// Client talks to an OpenAI-compatible server over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(opts Options) (*Client, error) {
	base, err := backend.TrimBaseURL(opts.BaseURL, DefaultBaseURL)
	if err != nil {
		return nil, err
	}
	cli := opts.HTTPClient
	if cli == nil {
		cli = backend.NewHTTPClient(opts.ConnectTimeout, opts.HeaderTimeout)
	}
	return &Client{baseURL: base, apiKey: strings.TrimSpace(opts.APIKey), http: cli}, nil
}

func (c *Client) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type apiError struct {
	Message string `json:"message"`
}

type completionResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

// streamChunk is the subset of a chat.completion.chunk we read.
type streamChunk struct {
	Object  string `json:"object"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
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

func (c *Client) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var body *bytes.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	}
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
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
		return nil, backend.StatusError("openai", resp)
	}
	return resp, nil
}

func (c *Client) request(prompt pipeline.Prompt, params pipeline.Params, stream bool) completionRequest {
	return completionRequest{
		Model:       params.Model,
		Messages:    toMessages(prompt),
		Temperature: params.Temperature,
		Stream:      stream,
	}
}

// Generate returns the first choice's message content.
func (c *Client) Generate(ctx context.Context, prompt pipeline.Prompt, params pipeline.Params) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, completionsPath, c.request(prompt, params, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", pipeline.ErrMalformedOutput, err)
	}
	if out.Error != nil {
		return "", errors.New(out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", pipeline.ErrMalformedOutput)
	}
	return out.Choices[0].Message.Content, nil
}

// Stream starts a server-sent-events completion.
func (c *Client) Stream(ctx context.Context, prompt pipeline.Prompt, params pipeline.Params) (pipeline.FragmentStream, error) {
	sctx, cancel := context.WithCancel(ctx)
	resp, err := c.do(sctx, http.MethodPost, completionsPath, c.request(prompt, params, true))
	if err != nil {
		cancel()
		return nil, err
	}
	return backend.NewLineStream(resp.Body, cancel, decodeEvent), nil
}

// decodeEvent handles one SSE line. Lines other than "data:" (event names,
// comments, retry hints) are skipped.
func decodeEvent(line []byte) (string, bool, error) {
	s := string(line)
	if !strings.HasPrefix(strings.ToLower(s), "data:") {
		return "", false, nil
	}
	data := strings.TrimSpace(s[len("data:"):])
	if data == "[DONE]" {
		return "", true, nil
	}
	var chunk streamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return "", false, fmt.Errorf("%w: %v", pipeline.ErrMalformedOutput, err)
	}
	if chunk.Error != nil {
		return "", false, errors.New(chunk.Error.Message)
	}
	if len(chunk.Choices) == 0 {
		// Some servers emit a trailing usage-only chunk.
		log.Debug().Str("backend", "openai").Str("object", chunk.Object).Msg("stream chunk without choices")
		return "", false, nil
	}
	ch := chunk.Choices[0]
	done := ch.FinishReason != nil && *ch.FinishReason != ""
	return ch.Delta.Content, done, nil
}

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Verify checks that the server lists model. llama-server serves exactly one
// model and reports it by file name, so an empty listing is accepted.
func (c *Client) Verify(ctx context.Context, model string) error {
	resp, err := c.do(ctx, http.MethodGet, modelsPath, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var out modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrMalformedOutput, err)
	}
	if len(out.Data) <= 1 {
		return nil
	}
	for _, m := range out.Data {
		if m.ID == model {
			return nil
		}
	}
	return fmt.Errorf("model %q is not served by %s", model, c.baseURL)
}
