package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"chatgw/internal/gateway"
	"chatgw/internal/httpapi"
	"chatgw/internal/registry"
	"chatgw/pkg/types"
)

// TestLiveOllamaHaiku asks a real Ollama for a haiku over both endpoints.
// Set CHATGW_E2E_OLLAMA=1 (and optionally OLLAMA_BASE_URL, OLLAMA_MODEL).
func TestLiveOllamaHaiku(t *testing.T) {
	if os.Getenv("CHATGW_E2E_OLLAMA") != "1" {
		t.Skip("set CHATGW_E2E_OLLAMA=1 to run against a local Ollama")
	}
	model := os.Getenv("OLLAMA_MODEL")
	if model == "" {
		model = "mistral:latest"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	p, err := registry.Build(ctx, registry.Spec{
		Kind:        "ollama",
		Model:       model,
		Temperature: 0.2,
		BaseURL:     os.Getenv("OLLAMA_BASE_URL"),
		Verify:      true,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	gw, err := gateway.New(p, gateway.Options{})
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	srv := httptest.NewServer(httpapi.NewMux(gw, nil))
	defer srv.Close()

	resp, body := httpPostJSON(t, srv.URL+"/chat", []byte(`{"message":"Write a haiku about the sea."}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat: %d %s", resp.StatusCode, body)
	}
	var out types.ChatResponse
	if err := json.Unmarshal(body, &out); err != nil || strings.TrimSpace(out.Reply) == "" {
		t.Fatalf("reply: %s", body)
	}
	t.Logf("haiku:\n%s", out.Reply)

	evts := envelope(t, dial(t, srv.URL), "Write a haiku about mountains.")
	if evts[0].Type != types.StreamStart || evts[len(evts)-1].Type != types.StreamEnd {
		t.Fatalf("events: %s", eventTypes(evts))
	}
}
