package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatgw/internal/auth"
	"chatgw/internal/session"
	"chatgw/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	HandleRequest(ctx context.Context, req types.ChatRequest) (types.ChatResponse, error)
	ServeSession(ctx context.Context, tr session.Transport) error
	Ready() bool
}

// Accounts backs the /auth routes. A nil Accounts leaves them unmounted.
type Accounts interface {
	Register(ctx context.Context, email, password string) error
	Login(ctx context.Context, email, password string) (string, error)
}

func NewMux(svc Service, accounts Accounts) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}

	r.Group(func(r chi.Router) {
		// Compression for JSON endpoints only; upgraded connections stay raw.
		r.Use(middleware.Compress(5))

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, types.HealthResponse{
				Status:      "ok",
				Message:     "Server is running",
				CORSEnabled: corsEnabled,
			})
		})

		r.Post("/chat", chatHandler(svc))

		if accounts != nil {
			r.Post("/auth/register", registerHandler(accounts))
			r.Post("/auth/login", loginHandler(accounts))
		}
	})

	r.Get("/ws/chat", wsHandler(svc))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

// decodeJSON applies the Content-Type check and body limit shared by all
// JSON POST routes. It writes the error response and returns false on
// failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		IncrementRejected("content_type")
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// oversized bodies get the same answer as malformed ones
		IncrementRejected("invalid_body")
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// chatHandler godoc
// @Summary      Chat (request/response)
// @Description  Answers one message with the complete generated reply. A blank message gets an advisory reply without invoking the model.
// @Tags         chat
// @Accept       json
// @Produce      json
// @Param        body  body      types.ChatRequest  true  "Chat request"
// @Success      200   {object}  types.ChatResponse
// @Failure      400   {object}  types.ErrorResponse
// @Failure      415   {object}  types.ErrorResponse
// @Failure      500   {object}  types.ErrorResponse
// @Router       /chat [post]
func chatHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ChatRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		lvl := requestLogLevel(r)
		if ev := requestEvent(r, lvl, LevelInfo); ev != nil {
			ev.Int("message_len", len(req.Message)).Msg("chat start")
		}
		start := time.Now()

		// The invocation outlives a client disconnect but not server shutdown.
		ctx, cancel := detached(r.Context())
		defer cancel()
		resp, err := svc.HandleRequest(ctx, req)
		if err != nil {
			status := statusFor(err)
			writeJSONError(w, status, err.Error())
			if ev := requestEvent(r, lvl, LevelError); ev != nil {
				ev.Int("status", status).Dur("dur", time.Since(start)).Err(err).Msg("chat end")
			}
			return
		}
		writeJSON(w, http.StatusOK, resp)
		if ev := requestEvent(r, lvl, LevelInfo); ev != nil {
			ev.Int("status", http.StatusOK).Dur("dur", time.Since(start)).Int("reply_len", len(resp.Reply)).Msg("chat end")
		}
	}
}

// wsHandler godoc
// @Summary      Chat (streaming)
// @Description  Websocket. Send {"message": "..."} frames; each is answered with start, token*, then end or error. Blank messages are answered with a single error event.
// @Tags         chat
// @Success      101  {object}  types.StreamEvent
// @Failure      503  {object}  types.ErrorResponse
// @Router       /ws/chat [get]
func wsHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !svc.Ready() {
			IncrementRejected("not_ready")
			writeJSONError(w, http.StatusServiceUnavailable, "server is shutting down")
			return
		}
		patterns, anyOrigin := wsOriginPolicy()
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns:     patterns,
			InsecureSkipVerify: anyOrigin,
		})
		if err != nil {
			// Accept has already written the response.
			IncrementRejected("upgrade")
			lvl := requestLogLevel(r)
			if ev := requestEvent(r, lvl, LevelError); ev != nil {
				ev.Err(err).Msg("ws upgrade failed")
			}
			return
		}
		conn.SetReadLimit(maxBodyBytes)

		ws := session.NewWebSocket(conn)
		var tr session.Transport = ws
		lvl := requestLogLevel(r)
		if lvl >= LevelDebug {
			l := zlog.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
			tr = loggingTransport{Transport: ws, log: l}
		}
		if ev := requestEvent(r, lvl, LevelInfo); ev != nil {
			ev.Msg("ws open")
		}
		start := time.Now()

		// Shutdown does not wait for hijacked connections. Closing with
		// going-away ends the session and tells the client why.
		stop := context.AfterFunc(serverBaseCtx, func() { _ = ws.Close(context.Canceled) })
		serveErr := svc.ServeSession(r.Context(), tr)
		if stop() {
			_ = ws.Close(serveErr)
		}

		if ev := requestEvent(r, lvl, LevelInfo); ev != nil {
			ev.Dur("dur", time.Since(start)).AnErr("cause", serveErr).Msg("ws closed")
		}
	}
}

// registerHandler godoc
// @Summary      Register an account
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      types.CredentialsRequest  true  "Credentials"
// @Success      200   {object}  types.AuthResponse
// @Failure      400   {object}  types.ErrorResponse
// @Router       /auth/register [post]
func registerHandler(accounts Accounts) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.CredentialsRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		err := accounts.Register(r.Context(), req.Email, req.Password)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, types.AuthResponse{OK: true, Message: "Registered"})
		case errors.Is(err, auth.ErrAlreadyExists):
			writeJSON(w, http.StatusOK, types.AuthResponse{OK: false, Message: "User already exists"})
		case statusFor(err) == http.StatusBadRequest:
			writeJSONError(w, http.StatusBadRequest, err.Error())
		default:
			logger().Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Msg("register failed")
			writeJSONError(w, http.StatusInternalServerError, "registration failed")
		}
	}
}

// loginHandler godoc
// @Summary      Log in
// @Description  Issues a signed token. The chat routes accept but do not check it.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      types.CredentialsRequest  true  "Credentials"
// @Success      200   {object}  types.AuthResponse
// @Router       /auth/login [post]
func loginHandler(accounts Accounts) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.CredentialsRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		token, err := accounts.Login(r.Context(), req.Email, req.Password)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, types.AuthResponse{OK: true, Token: token})
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeJSON(w, http.StatusOK, types.AuthResponse{OK: false, Message: "Invalid credentials"})
		default:
			logger().Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Msg("login failed")
			writeJSONError(w, http.StatusInternalServerError, "login failed")
		}
	}
}
