// Package registry maps a configured backend kind to a constructor and binds
// the result into a pipeline.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"chatgw/internal/backend/llamacpp"
	"chatgw/internal/backend/ollama"
	"chatgw/internal/backend/openai"
	"chatgw/internal/pipeline"
)

// Spec is everything needed to build a pipeline.
type Spec struct {
	Kind         string
	Model        string
	Temperature  float64
	SystemPrompt string

	BaseURL string
	APIKey  string
	// Verify asks the backend whether Model is available before serving.
	Verify bool

	ConnectTimeout      time.Duration
	HeaderTimeout       time.Duration
	InvokeTimeout       time.Duration
	FragmentIdleTimeout time.Duration

	// ModelDir is searched for Model when Kind is llamacpp and Model is
	// not a file path.
	ModelDir       string
	LlamaContext   int
	LlamaThreads   int
	LlamaMaxTokens int
}

type constructor func(Spec) (pipeline.Backend, error)

var kinds = map[string]constructor{
	"ollama": func(s Spec) (pipeline.Backend, error) {
		return ollama.New(ollama.Options{
			BaseURL:        s.BaseURL,
			ConnectTimeout: s.ConnectTimeout,
			HeaderTimeout:  s.HeaderTimeout,
		})
	},
	"openai": newOpenAI,
	// llama-server speaks the same API.
	"llama-server": newOpenAI,
	"llamacpp": func(s Spec) (pipeline.Backend, error) {
		path, err := modelPath(s)
		if err != nil {
			return nil, err
		}
		return llamacpp.New(llamacpp.Options{
			ModelPath:   path,
			ContextSize: s.LlamaContext,
			Threads:     s.LlamaThreads,
			MaxTokens:   s.LlamaMaxTokens,
		})
	},
}

func newOpenAI(s Spec) (pipeline.Backend, error) {
	return openai.New(openai.Options{
		BaseURL:        s.BaseURL,
		APIKey:         s.APIKey,
		ConnectTimeout: s.ConnectTimeout,
		HeaderTimeout:  s.HeaderTimeout,
	})
}

// Kinds lists the accepted backend kinds, sorted.
func Kinds() []string {
	out := make([]string, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Resolve constructs the backend named by spec.Kind. Unknown kinds and
// constructor failures are configuration errors.
func Resolve(spec Spec) (pipeline.Backend, error) {
	kind := strings.ToLower(strings.TrimSpace(spec.Kind))
	mk, ok := kinds[kind]
	if !ok {
		return nil, &pipeline.ConfigurationError{
			Field: "backend.kind",
			Msg:   fmt.Sprintf("unknown backend %q (want one of %s)", spec.Kind, strings.Join(Kinds(), ", ")),
		}
	}
	b, err := mk(spec)
	if err != nil {
		return nil, &pipeline.ConfigurationError{Field: "backend", Msg: kind, Err: err}
	}
	return b, nil
}

// Build resolves the backend, optionally verifies the model and returns the
// bound pipeline.
func Build(ctx context.Context, spec Spec) (*pipeline.Pipeline, error) {
	b, err := Resolve(spec)
	if err != nil {
		return nil, err
	}
	p, err := pipeline.New(pipeline.Config{
		SystemInstruction:   spec.SystemPrompt,
		Model:               spec.Model,
		Temperature:         spec.Temperature,
		InvokeTimeout:       spec.InvokeTimeout,
		FragmentIdleTimeout: spec.FragmentIdleTimeout,
	}, b)
	if err != nil {
		return nil, err
	}
	if spec.Verify {
		v, ok := b.(pipeline.Verifier)
		if !ok {
			log.Warn().Str("backend", b.Name()).Msg("backend cannot verify models; skipping")
			return p, nil
		}
		if err := v.Verify(ctx, p.Model()); err != nil {
			return nil, &pipeline.ConfigurationError{Field: "model", Msg: "verification failed", Err: err}
		}
		log.Info().Str("backend", b.Name()).Str("model", p.Model()).Msg("model verified")
	}
	return p, nil
}
