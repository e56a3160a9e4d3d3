package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "addr: :9999\nbackend:\n  kind: openai\n  model: m1\n  temperature: 0\n  invoke_timeout_sec: 30\nsession:\n  max_pending: 4\nhttp:\n  cors:\n    enabled: false\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.Backend.Kind != "openai" || cfg.Backend.Model != "m1" || cfg.Backend.InvokeTimeoutSec != 30 || cfg.Session.MaxPending != 4 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Backend.Temperature == nil || *cfg.Backend.Temperature != 0 {
		t.Fatalf("explicit zero temperature lost: %v", cfg.Backend.Temperature)
	}
	if Defaults(cfg).CORSEnabled() {
		t.Fatalf("cors should stay disabled")
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"addr":":7070","backend":{"kind":"ollama","model":"m2","base_url":"http://gpu:11434"},"auth":{"store":"sqlite","sqlite_path":"/tmp/a.db"}}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.Backend.Model != "m2" || cfg.Backend.BaseURL != "http://gpu:11434" || cfg.Auth.Store != "sqlite" || cfg.Auth.SQLitePath != "/tmp/a.db" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "addr=\":8081\"\n[backend]\nkind=\"llamacpp\"\nmodel=\"tiny\"\nmodel_dir=\"/x\"\nllama_threads=8\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.Backend.Kind != "llamacpp" || cfg.Backend.ModelDir != "/x" || cfg.Backend.LlamaThreads != 8 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
	if _, err := Load("/definitely/not/a/real/file-12345.yaml"); err == nil {
		t.Fatalf("expected error for nonexistent file")
	}
	for name, body := range map[string]string{
		"bad.yaml": "addr: :8080\n: broken\n",
		"bad.json": `{ "addr": ":8080", "backend": }`,
		"bad.toml": "addr=:8080\nbackend\n",
	} {
		if _, err := Load(writeTempFile(t, d, name, body)); err == nil {
			t.Fatalf("%s: expected unmarshal error", name)
		}
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults(Config{})
	if cfg.Addr != ":8000" || cfg.Backend.Kind != "ollama" || cfg.Backend.Model != "mistral:latest" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if *cfg.Backend.Temperature != 0.2 {
		t.Fatalf("temperature=%v", *cfg.Backend.Temperature)
	}
	if cfg.Session.MaxPending != 16 || cfg.HTTP.MaxBodyBytes != 1<<20 || !cfg.CORSEnabled() {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.HTTP.CORS.AllowedOrigins[0] != "*" || cfg.Auth.Store != "memory" || cfg.Auth.SQLitePath != "" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	sq := Defaults(Config{Auth: Auth{Store: "sqlite"}})
	if sq.Auth.SQLitePath != DefaultSQLitePath {
		t.Fatalf("sqlite path=%q", sq.Auth.SQLitePath)
	}
}

func TestValidate(t *testing.T) {
	bad := Defaults(Config{Backend: Backend{InvokeTimeoutSec: -1}})
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected negative timeout error")
	}
	bad = Defaults(Config{Auth: Auth{Store: "redis"}})
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected store error")
	}
	bad = Defaults(Config{LogFormat: "xml"})
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected log format error")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CHATGW_ADDR":        ":1234",
		"OLLAMA_MODEL":       "llama3.1",
		"OLLAMA_BASE_URL":    "http://ollama:11434",
		"CHATGW_BACKEND":     "openai",
		"CHATGW_TEMPERATURE": "0.7",
	}
	cfg, err := ApplyEnv(Config{Addr: ":1"}, func(k string) string { return env[k] })
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cfg.Addr != ":1234" || cfg.Backend.Model != "llama3.1" || cfg.Backend.BaseURL != "http://ollama:11434" || cfg.Backend.Kind != "openai" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if *cfg.Backend.Temperature != 0.7 {
		t.Fatalf("temperature=%v", *cfg.Backend.Temperature)
	}

	env["CHATGW_TEMPERATURE"] = "warm"
	if _, err := ApplyEnv(Config{}, func(k string) string { return env[k] }); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadDotEnv(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, ".env", "CHATGW_DOTENV_TEST=from-file\nOLLAMA_MODEL_DOTENV_TEST=x\n")
	t.Setenv("OLLAMA_MODEL_DOTENV_TEST", "already-set")
	t.Cleanup(func() { _ = os.Unsetenv("CHATGW_DOTENV_TEST") })
	if err := LoadDotEnv(filepath.Join(d, "missing.env"), p); err != nil {
		t.Fatalf("load: %v", err)
	}
	if os.Getenv("CHATGW_DOTENV_TEST") != "from-file" {
		t.Fatalf("value not loaded")
	}
	if os.Getenv("OLLAMA_MODEL_DOTENV_TEST") != "already-set" {
		t.Fatalf("existing value overridden")
	}
}
