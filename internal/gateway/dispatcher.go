// Package gateway turns client requests into pipeline invocations.
//
// HandleRequest serves the one-shot request/response path; ServeSession runs
// a streaming session over an established transport. Both share one
// immutable pipeline and hold no other state between calls.
package gateway

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatgw/internal/pipeline"
	"chatgw/internal/session"
	"chatgw/pkg/types"
)

// AdvisoryReply answers a request whose message is empty after trimming.
const AdvisoryReply = "Please send a non-empty message."

// Options configures a Dispatcher.
type Options struct {
	Session session.Options
	Logger  *zerolog.Logger
}

// Dispatcher routes requests and sessions to the pipeline.
type Dispatcher struct {
	pipe     *pipeline.Pipeline
	sessOpts session.Options
	log      zerolog.Logger
	active   atomic.Int64
	draining atomic.Bool
}

// New returns a dispatcher bound to p.
func New(p *pipeline.Pipeline, opts Options) (*Dispatcher, error) {
	if p == nil {
		return nil, pipeline.ErrConfiguration("pipeline", "no pipeline bound")
	}
	d := &Dispatcher{pipe: p, sessOpts: opts.Session, log: zerolog.Nop()}
	if opts.Logger != nil {
		d.log = *opts.Logger
	}
	if d.sessOpts.Logger == nil {
		d.sessOpts.Logger = &d.log
	}
	return d, nil
}

// HandleRequest answers one chat request with the complete reply.
//
// A message that is empty after trimming gets AdvisoryReply and no backend
// call. Backend failures are returned as *pipeline.BackendError; a partial
// reply is never returned. The token is accepted and ignored.
func (d *Dispatcher) HandleRequest(ctx context.Context, req types.ChatRequest) (types.ChatResponse, error) {
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return types.ChatResponse{Reply: AdvisoryReply}, nil
	}
	reply, err := d.pipe.Invoke(ctx, d.pipe.Render(text))
	if err != nil {
		d.log.Warn().Err(err).Str("backend", d.pipe.Backend()).Msg("chat request failed")
		return types.ChatResponse{}, err
	}
	return types.ChatResponse{Reply: reply}, nil
}

// ServeSession runs a streaming session on tr until the client goes away or
// ctx ends. Each session gets a fresh id.
func (d *Dispatcher) ServeSession(ctx context.Context, tr session.Transport) error {
	id := uuid.NewString()
	d.active.Add(1)
	defer d.active.Add(-1)
	return session.New(id, d.pipe, tr, d.sessOpts).Serve(ctx)
}

// ActiveSessions reports sessions currently being served.
func (d *Dispatcher) ActiveSessions() int64 { return d.active.Load() }

// Ready reports whether new traffic should be accepted.
func (d *Dispatcher) Ready() bool { return !d.draining.Load() }

// Drain marks the dispatcher not ready, ahead of shutdown.
func (d *Dispatcher) Drain() { d.draining.Store(true) }

// Model returns the bound model identifier.
func (d *Dispatcher) Model() string { return d.pipe.Model() }

// Backend returns the bound backend name.
func (d *Dispatcher) Backend() string { return d.pipe.Backend() }
