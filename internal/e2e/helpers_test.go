package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"chatgw/internal/auth"
	"chatgw/internal/gateway"
	"chatgw/internal/httpapi"
	"chatgw/internal/registry"
	"chatgw/internal/session"
	"chatgw/pkg/types"
)

// fakeOllama serves /api/chat and /api/tags. Streamed replies are one NDJSON
// line per fragment.
type fakeOllama struct {
	fragments []string
	models    []string

	mu        sync.Mutex
	failAfter int // when >= 0, the stream aborts after that many fragments
	requests  []map[string]any
}

func (f *fakeOllama) setFailAfter(n int) {
	f.mu.Lock()
	f.failAfter = n
	f.mu.Unlock()
}

func (f *fakeOllama) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeOllama) last() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func (f *fakeOllama) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/tags":
		var models []map[string]string
		for _, m := range f.models {
			models = append(models, map[string]string{"name": m, "model": m})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"models": models})
	case "/api/chat":
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.requests = append(f.requests, req)
		failAfter := f.failAfter
		f.mu.Unlock()

		enc := json.NewEncoder(w)
		if stream, _ := req["stream"].(bool); !stream {
			_ = enc.Encode(map[string]any{
				"message": map[string]string{"role": "assistant", "content": strings.Join(f.fragments, "")},
				"done":    true,
			})
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		for i, frag := range f.fragments {
			if failAfter >= 0 && i == failAfter {
				_ = enc.Encode(map[string]any{"error": "model runner crashed"})
				return
			}
			_ = enc.Encode(map[string]any{"message": map[string]string{"role": "assistant", "content": frag}, "done": false})
			if fl, ok := w.(http.Flusher); ok {
				fl.Flush()
			}
		}
		_ = enc.Encode(map[string]any{"message": map[string]string{"role": "assistant", "content": ""}, "done": true})
	default:
		http.NotFound(w, r)
	}
}

// stack is a gateway wired the way chatgw serve wires it, in front of a
// fake backend.
type stack struct {
	srv     *httptest.Server
	gw      *gateway.Dispatcher
	events  *session.MemoryPublisher
	backend *fakeOllama
}

func newStack(t *testing.T, backend *fakeOllama, mutate ...func(*registry.Spec)) *stack {
	t.Helper()
	fake := httptest.NewServer(backend)
	t.Cleanup(fake.Close)

	spec := registry.Spec{Kind: "ollama", Model: "mistral:latest", Temperature: 0.2, BaseURL: fake.URL}
	for _, m := range mutate {
		m(&spec)
	}
	p, err := registry.Build(context.Background(), spec)
	if err != nil {
		t.Fatalf("build pipeline: %v", err)
	}
	events := session.NewMemoryPublisher()
	gw, err := gateway.New(p, gateway.Options{Session: session.Options{
		Publisher: session.Publishers{events, httpapi.SessionMetrics{}},
	}})
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	iss, err := auth.NewIssuer("e2e", time.Hour)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	srv := httptest.NewServer(httpapi.NewMux(gw, auth.NewAccounts(auth.NewMemoryStore(), iss)))
	t.Cleanup(srv.Close)
	return &stack{srv: srv, gw: gw, events: events, backend: backend}
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func dial(t *testing.T, base string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(base, "http")+"/ws/chat", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

// envelope sends msg and reads events until end or error.
func envelope(t *testing.T, conn *websocket.Conn, msg string) []types.StreamEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := wsjson.Write(ctx, conn, types.StreamRequest{Message: msg}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var out []types.StreamEvent
	for {
		var ev types.StreamEvent
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			t.Fatalf("read after %v: %v", out, err)
		}
		out = append(out, ev)
		if ev.Type == types.StreamEnd || ev.Type == types.StreamError {
			return out
		}
	}
}

func eventTypes(evts []types.StreamEvent) string {
	parts := make([]string, len(evts))
	for i, e := range evts {
		parts[i] = e.Type
	}
	return strings.Join(parts, ",")
}
