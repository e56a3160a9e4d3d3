package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"chatgw/internal/common/fsutil"
)

// GGUFModel is a model file found on disk.
type GGUFModel struct {
	ID   string // file name, e.g. "llama-3.1-8b-q4_k_m.gguf"
	Path string // absolute path
}

// ScanGGUF lists *.gguf files (case-insensitive) directly under dir.
func ScanGGUF(dir string) ([]GGUFModel, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []GGUFModel
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".gguf") {
			continue
		}
		models = append(models, GGUFModel{ID: e.Name(), Path: filepath.Join(abs, e.Name())})
	}
	return models, nil
}

// modelPath picks the file for an in-process model. A Model that names an
// existing file wins; otherwise ModelDir is scanned for a file whose name,
// with or without the .gguf suffix, equals Model.
func modelPath(s Spec) (string, error) {
	if fsutil.PathExists(s.Model) || strings.HasPrefix(s.Model, "~") {
		return s.Model, nil
	}
	if strings.TrimSpace(s.ModelDir) == "" {
		return "", fmt.Errorf("model %q is not a file and no model directory is configured", s.Model)
	}
	models, err := ScanGGUF(s.ModelDir)
	if err != nil {
		return "", err
	}
	want := strings.ToLower(strings.TrimSuffix(s.Model, ".gguf"))
	for _, m := range models {
		id := strings.ToLower(m.ID)
		if id == want || strings.TrimSuffix(id, ".gguf") == want {
			return m.Path, nil
		}
	}
	return "", fmt.Errorf("model %q not found in %s", s.Model, s.ModelDir)
}
