package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatgw/internal/gateway"
	"chatgw/internal/pipeline"
	"chatgw/internal/registry"
	"chatgw/internal/session"
	"chatgw/pkg/types"
)

func TestChatReplyThroughOllama(t *testing.T) {
	b := &fakeOllama{fragments: []string{"4"}, failAfter: -1}
	s := newStack(t, b)

	resp, body := httpPostJSON(t, s.srv.URL+"/chat", []byte(`{"message":"  2+2?  "}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d body=%s", resp.StatusCode, body)
	}
	var out types.ChatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Reply != "4" {
		t.Fatalf("reply: %q", out.Reply)
	}
	req := b.last()
	if req["model"] != "mistral:latest" || req["stream"] != false {
		t.Fatalf("backend request: %v", req)
	}
	msgs, _ := req["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages: %v", msgs)
	}
	user, _ := msgs[1].(map[string]any)
	if user["role"] != "user" || user["content"] != "2+2?" {
		t.Fatalf("user message: %v", user)
	}
}

func TestChatBlankMessageSkipsBackend(t *testing.T) {
	b := &fakeOllama{fragments: []string{"unused"}, failAfter: -1}
	s := newStack(t, b)

	for _, payload := range []string{`{"message":""}`, `{"message":" \n\t "}`, `{"message":"   ","token":"abc"}`} {
		resp, body := httpPostJSON(t, s.srv.URL+"/chat", []byte(payload))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status %d", payload, resp.StatusCode)
		}
		var out types.ChatResponse
		_ = json.Unmarshal(body, &out)
		if out.Reply != gateway.AdvisoryReply {
			t.Fatalf("%s: reply %q", payload, out.Reply)
		}
	}
	if n := b.calls(); n != 0 {
		t.Fatalf("backend called %d times", n)
	}
}

func TestStreamCountToThree(t *testing.T) {
	b := &fakeOllama{fragments: []string{"one", ", two", ", three"}, failAfter: -1}
	s := newStack(t, b, func(sp *registry.Spec) { sp.SystemPrompt = "Answer in words." })
	conn := dial(t, s.srv.URL)

	evts := envelope(t, conn, "count to three")
	if got := eventTypes(evts); got != "start,token,token,token,end" {
		t.Fatalf("events: %s", got)
	}
	var text strings.Builder
	for _, e := range evts {
		text.WriteString(e.Data)
	}
	if text.String() != "one, two, three" {
		t.Fatalf("text: %q", text.String())
	}

	req := b.last()
	if req["stream"] != true {
		t.Fatalf("expected streaming request: %v", req)
	}
	msgs, _ := req["messages"].([]any)
	sys, _ := msgs[0].(map[string]any)
	if sys["role"] != "system" || sys["content"] != "Answer in words." {
		t.Fatalf("system message: %v", sys)
	}

	// The session stays open for further envelopes.
	if got := eventTypes(envelope(t, conn, "again")); got != "start,token,token,token,end" {
		t.Fatalf("second envelope: %s", got)
	}
}

func TestStreamEmptyMessageKeepsSession(t *testing.T) {
	b := &fakeOllama{fragments: []string{"ok"}, failAfter: -1}
	s := newStack(t, b)
	conn := dial(t, s.srv.URL)

	evts := envelope(t, conn, "   ")
	if len(evts) != 1 || evts[0].Type != types.StreamError || evts[0].Data != session.MsgEmpty {
		t.Fatalf("events: %+v", evts)
	}
	if got := eventTypes(envelope(t, conn, "hi")); got != "start,token,end" {
		t.Fatalf("events after rejection: %s", got)
	}
	if n := b.calls(); n != 1 {
		t.Fatalf("backend calls: %d", n)
	}
}

func TestStreamBackendFailureMidway(t *testing.T) {
	b := &fakeOllama{fragments: []string{"one", "two", "three"}, failAfter: 1}
	s := newStack(t, b)
	conn := dial(t, s.srv.URL)

	evts := envelope(t, conn, "count")
	if got := eventTypes(evts); got != "start,token,error" {
		t.Fatalf("events: %s", got)
	}
	if !strings.Contains(evts[2].Data, "model runner crashed") {
		t.Fatalf("error data: %q", evts[2].Data)
	}

	b.setFailAfter(-1)
	if got := eventTypes(envelope(t, conn, "count")); got != "start,token,token,token,end" {
		t.Fatalf("recovery: %s", got)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if outcomes(s.events) == "error,end" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("outcomes: %s", outcomes(s.events))
}

func outcomes(p *session.MemoryPublisher) string {
	var out []string
	for _, e := range p.Events() {
		if e.Name == session.EventFinished {
			out = append(out, e.Fields["outcome"].(string))
		}
	}
	return strings.Join(out, ",")
}

func TestChatBackendUnreachable(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()

	s := newStack(t, &fakeOllama{failAfter: -1}, func(sp *registry.Spec) {
		sp.BaseURL = url
		sp.ConnectTimeout = time.Second
	})
	resp, body := httpPostJSON(t, s.srv.URL+"/chat", []byte(`{"message":"hi"}`))
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status: %d body=%s", resp.StatusCode, body)
	}
	var e types.ErrorResponse
	if err := json.Unmarshal(body, &e); err != nil || e.Code != http.StatusInternalServerError {
		t.Fatalf("error body: %s", body)
	}
}

func TestVerifyModel(t *testing.T) {
	b := &fakeOllama{models: []string{"mistral:latest", "llama3:8b"}, failAfter: -1}
	fake := httptest.NewServer(b)
	defer fake.Close()

	spec := registry.Spec{Kind: "ollama", Model: "mistral", Temperature: 0.2, BaseURL: fake.URL, Verify: true}
	if _, err := registry.Build(context.Background(), spec); err != nil {
		t.Fatalf("verify installed model: %v", err)
	}

	spec.Model = "phi3"
	_, err := registry.Build(context.Background(), spec)
	var ce *pipeline.ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("want ConfigurationError, got %v", err)
	}
}

// fakeOpenAI streams Server-Sent Events the way /v1/chat/completions does.
func fakeOpenAI(fragments ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range fragments {
			chunk, _ := json.Marshal(map[string]any{
				"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": f}}},
			})
			_, _ = w.Write([]byte("data: " + string(chunk) + "\n\n"))
			w.(http.Flusher).Flush()
		}
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	})
}

func TestStreamThroughOpenAICompatible(t *testing.T) {
	up := httptest.NewServer(fakeOpenAI("Hel", "lo"))
	defer up.Close()

	s := newStack(t, &fakeOllama{failAfter: -1}, func(sp *registry.Spec) {
		sp.Kind = "llama-server"
		sp.BaseURL = up.URL
		sp.Model = "local"
	})
	if s.gw.Backend() != "openai" {
		t.Fatalf("backend: %s", s.gw.Backend())
	}
	conn := dial(t, s.srv.URL)
	evts := envelope(t, conn, "greet")
	if got := eventTypes(evts); got != "start,token,token,end" {
		t.Fatalf("events: %s", got)
	}
	if evts[1].Data+evts[2].Data != "Hello" {
		t.Fatalf("text: %+v", evts)
	}
}

func TestHealthAndAuth(t *testing.T) {
	s := newStack(t, &fakeOllama{failAfter: -1})

	resp, body := httpGet(t, s.srv.URL+"/health")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "Server is running") {
		t.Fatalf("health: %d %s", resp.StatusCode, body)
	}

	creds := []byte(`{"email":"ada@example.com","password":"pw"}`)
	for i, want := range []bool{true, false} {
		_, body = httpPostJSON(t, s.srv.URL+"/auth/register", creds)
		var ar types.AuthResponse
		_ = json.Unmarshal(body, &ar)
		if ar.OK != want {
			t.Fatalf("register #%d: %s", i, body)
		}
	}
	_, body = httpPostJSON(t, s.srv.URL+"/auth/login", creds)
	var ar types.AuthResponse
	_ = json.Unmarshal(body, &ar)
	if !ar.OK || ar.Token == "" {
		t.Fatalf("login: %s", body)
	}
}
