package types

// ChatRequest is the payload of POST /chat.
type ChatRequest struct {
	// User message. Whitespace-only messages receive an advisory reply.
	// example: 2+2?
	Message string `json:"message" example:"2+2?"`
	// Optional client token. Accepted but not checked by the gateway.
	// example: eyJhbGciOiJIUzI1NiJ9...
	Token *string `json:"token,omitempty" example:"eyJhbGciOiJIUzI1NiJ9..."`
}

// ChatResponse is returned by POST /chat.
type ChatResponse struct {
	// Complete generated answer.
	// example: 4
	Reply string `json:"reply" example:"4"`
}

// StreamRequest is one client->server frame on /ws/chat.
type StreamRequest struct {
	// example: count to three
	Message string `json:"message" example:"count to three"`
}

// Stream event type values.
const (
	StreamStart = "start"
	StreamToken = "token"
	StreamEnd   = "end"
	StreamError = "error"
)

// StreamEvent is one server->client frame on /ws/chat.
type StreamEvent struct {
	// One of start, token, end, error.
	// example: token
	Type string `json:"type" example:"token"`
	// Fragment text for token events, message for error events.
	// example: one
	Data string `json:"data,omitempty" example:"one"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	// example: ok
	Status string `json:"status" example:"ok"`
	// example: Server is running
	Message string `json:"message" example:"Server is running"`
	// example: true
	CORSEnabled bool `json:"cors_enabled" example:"true"`
}

// CredentialsRequest is the body of /auth/register and /auth/login.
type CredentialsRequest struct {
	// example: user@example.com
	Email string `json:"email" example:"user@example.com"`
	// example: hunter2
	Password string `json:"password" example:"hunter2"`
}

// AuthResponse is returned by /auth/register and /auth/login.
type AuthResponse struct {
	// example: true
	OK bool `json:"ok" example:"true"`
	// example: Registered
	Message string `json:"message,omitempty" example:"Registered"`
	// Signed token, login only.
	Token string `json:"token,omitempty"`
}
