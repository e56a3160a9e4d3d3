package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// WebSocket adapts a websocket connection to Transport. Frames are JSON:
// {"message": "..."} inbound and types.StreamEvent outbound.
type WebSocket struct {
	conn *websocket.Conn
}

func NewWebSocket(conn *websocket.Conn) *WebSocket { return &WebSocket{conn: conn} }

// Receive reads one frame. A frame that is not a JSON object with a string
// "message" field is reported as Malformed; a missing field reads as empty.
func (w *WebSocket) Receive(ctx context.Context) (Inbound, error) {
	_, data, err := w.conn.Read(ctx)
	if err != nil {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusNoStatusRcvd:
			return Inbound{}, io.EOF
		}
		if errors.Is(err, io.EOF) {
			return Inbound{}, io.EOF
		}
		return Inbound{}, &TransportError{Op: "receive", Err: err}
	}
	return decodeInbound(data), nil
}

func decodeInbound(data []byte) Inbound {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return Inbound{Malformed: true}
	}
	raw, ok := obj["message"]
	if !ok {
		return Inbound{}
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return Inbound{Malformed: true}
	}
	return Inbound{Text: text}
}

func (w *WebSocket) Send(ctx context.Context, e Event) error {
	if err := wsjson.Write(ctx, w.conn, e.Wire()); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}

// Close ends the connection with a status matching how serveErr ended the
// session.
func (w *WebSocket) Close(serveErr error) error {
	switch {
	case serveErr == nil:
		return w.conn.Close(websocket.StatusNormalClosure, "")
	case errors.Is(serveErr, context.Canceled):
		return w.conn.Close(websocket.StatusGoingAway, "server shutting down")
	default:
		return w.conn.CloseNow()
	}
}
