package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatgw/internal/pipeline/pipelinetest"
	"chatgw/pkg/types"
)

func TestDecodeInbound(t *testing.T) {
	cases := map[string]Inbound{
		`{"message":"hi"}`:      {Text: "hi"},
		`{"message":"  "}`:      {Text: "  "},
		`{}`:                    {},
		`{"message":null}`:      {},
		`{"message":42}`:        {Malformed: true},
		`["message"]`:           {Malformed: true},
		`null`:                  {Malformed: true},
		`not json`:              {Malformed: true},
		`{"message":"a","x":1}`: {Text: "a"},
	}
	for in, want := range cases {
		assert.Equal(t, want, decodeInbound([]byte(in)), in)
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	b := &pipelinetest.Backend{Fragments: []string{"one", "two", "three"}}
	p := newPipe(t, b)
	served := make(chan error, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			served <- err
			return
		}
		tr := NewWebSocket(conn)
		err = New("ws-1", p, tr, Options{}).Serve(context.Background())
		_ = tr.Close(err)
		served <- err
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)

	read := func(n int) []types.StreamEvent {
		out := make([]types.StreamEvent, n)
		for i := range out {
			require.NoError(t, wsjson.Read(ctx, conn, &out[i]))
		}
		return out
	}

	require.NoError(t, wsjson.Write(ctx, conn, types.StreamRequest{Message: "count"}))
	assert.Equal(t, []types.StreamEvent{
		{Type: "start"}, {Type: "token", Data: "one"}, {Type: "token", Data: "two"}, {Type: "token", Data: "three"}, {Type: "end"},
	}, read(5))

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"message":"   "}`)))
	assert.Equal(t, []types.StreamEvent{{Type: "error", Data: MsgEmpty}}, read(1))

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`garbage`)))
	assert.Equal(t, []types.StreamEvent{{Type: "error", Data: MsgInvalid}}, read(1))

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server session did not end")
	}
}

func TestWebSocketClientDropCancelsGeneration(t *testing.T) {
	b := &pipelinetest.Backend{Fragments: []string{"a"}, Hang: true}
	p := newPipe(t, b)
	served := make(chan error, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			served <- err
			return
		}
		tr := NewWebSocket(conn)
		err = New("ws-2", p, tr, Options{}).Serve(context.Background())
		_ = tr.Close(err)
		served <- err
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	require.NoError(t, wsjson.Write(ctx, conn, types.StreamRequest{Message: "x"}))
	var ev types.StreamEvent
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, "start", ev.Type)
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, "a", ev.Data)

	_ = conn.CloseNow()
	select {
	case <-served:
	case <-time.After(3 * time.Second):
		t.Fatal("server session did not end after client drop")
	}
	assert.Equal(t, 1, b.Closed())
}
