package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"chatgw/internal/session"
	"chatgw/pkg/types"
)

func newAskCmd() *cobra.Command {
	var (
		server  string
		rest    bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:     "ask <message...>",
		Short:   "Send one message to a running gateway and print the reply",
		Example: "  chatgw ask count to three\n  chatgw ask --rest --server http://localhost:8000 2+2?",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			msg := strings.Join(args, " ")
			if rest {
				return askREST(ctx, server, msg, cmd.OutOrStdout())
			}
			return askStream(ctx, server, msg, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8000", "Gateway base URL")
	cmd.Flags().BoolVar(&rest, "rest", false, "Use POST /chat instead of the websocket")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Give up after this long (0 = never)")
	return cmd
}

// wsURL maps an http(s) base URL to the websocket chat endpoint.
func wsURL(server string) (string, error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws", "":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/ws/chat"
	return u.String(), nil
}

// askStream prints token fragments as they arrive and returns after the
// envelope ends.
func askStream(ctx context.Context, server, msg string, out io.Writer) error {
	target, err := wsURL(server)
	if err != nil {
		return err
	}
	conn, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.CloseNow()

	if err := wsjson.Write(ctx, conn, types.StreamRequest{Message: msg}); err != nil {
		return err
	}
	red := color.New(color.FgRed)
	for {
		var w types.StreamEvent
		if err := wsjson.Read(ctx, conn, &w); err != nil {
			return fmt.Errorf("reading reply: %w", err)
		}
		ev := session.FromWire(w)
		if ev.Kind == session.KindToken {
			fmt.Fprint(out, ev.Data)
		}
		if !ev.Terminal() {
			continue
		}
		_ = conn.Close(websocket.StatusNormalClosure, "")
		if ev.Kind == session.KindError {
			red.Fprintf(out, "\nerror: %s\n", ev.Data)
			return errors.New(ev.Data)
		}
		fmt.Fprintln(out)
		return nil
	}
}

func askREST(ctx context.Context, server, msg string, out io.Writer) error {
	body, err := json.Marshal(types.ChatRequest{Message: msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(server, "/")+"/chat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var e types.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, e.Error)
		}
		return errors.New(resp.Status)
	}
	var r types.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return fmt.Errorf("decoding reply: %w", err)
	}
	fmt.Fprintln(out, r.Reply)
	return nil
}
