// Package llamacpp runs a GGUF model in-process through go-llama.cpp.
//
// The real implementation needs cgo and a prebuilt libllama and is compiled
// only with the "llama" build tag. Default builds get a stub whose New
// reports that support was not built.
package llamacpp

import (
	"errors"
	"strings"

	"chatgw/internal/common/fsutil"
)

// ErrNotBuilt is returned by New in binaries built without the llama tag.
var ErrNotBuilt = errors.New("llama support not built (missing 'llama' build tag)")

type Options struct {
	ModelPath   string
	ContextSize int
	Threads     int
	// MaxTokens caps a single generation.
	MaxTokens int
}

func (o Options) withDefaults() Options {
	if o.ContextSize <= 0 {
		o.ContextSize = 4096
	}
	if o.Threads <= 0 {
		o.Threads = 4
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 512
	}
	return o
}

func (o Options) modelFile() (string, error) {
	if strings.TrimSpace(o.ModelPath) == "" {
		return "", errors.New("model path is empty")
	}
	return fsutil.ResolveFile(o.ModelPath)
}
