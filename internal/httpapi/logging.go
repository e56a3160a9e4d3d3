package httpapi

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"chatgw/internal/session"
)

// zlog is the structured logger used by the HTTP layer. Nop until SetLogger.
var zlog = zerolog.Nop()

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = l }

func logger() *zerolog.Logger { return &zlog }

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug", "trace":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// global default, read once
var defaultLogLevel = parseLevel(os.Getenv("CHATGW_REQUEST_LOG"))

// SetRequestLogLevel sets the request log level used when a request does not
// override it.
func SetRequestLogLevel(s string) { defaultLogLevel = parseLevel(s) }

func requestLogLevel(r *http.Request) LogLevel {
	// Per-request overrides
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// requestEvent starts a log event at lvl tagged with the request id, or
// returns nil when the request's level filters it out.
func requestEvent(r *http.Request, reqLvl, lvl LogLevel) *zerolog.Event {
	if reqLvl < lvl {
		return nil
	}
	var ev *zerolog.Event
	switch lvl {
	case LevelError:
		ev = zlog.Error()
	case LevelDebug:
		ev = zlog.Debug()
	default:
		ev = zlog.Info()
	}
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		ev = ev.Str("request_id", rid)
	}
	return ev.Str("path", r.URL.Path)
}

// loggingTransport logs every event a session sends and receives.
type loggingTransport struct {
	session.Transport
	log zerolog.Logger
}

func (t loggingTransport) Receive(ctx context.Context) (session.Inbound, error) {
	in, err := t.Transport.Receive(ctx)
	if err == nil {
		t.log.Debug().Str("dir", "in").Bool("malformed", in.Malformed).Str("text", in.Text).Msg("ws>")
	}
	return in, err
}

func (t loggingTransport) Send(ctx context.Context, e session.Event) error {
	t.log.Debug().Str("dir", "out").Str("type", string(e.Kind)).Str("data", e.Data).Msg("ws<")
	return t.Transport.Send(ctx, e)
}
