package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"chatgw/internal/pipeline"
)

// DefaultMaxPending bounds messages queued behind an in-progress reply before
// the channel stops reading from the transport.
const DefaultMaxPending = 16

// Options tunes a Channel. The zero value is usable.
type Options struct {
	MaxPending int
	Publisher  Publisher
	Logger     *zerolog.Logger
}

// Channel is one streaming session. It is owned by the goroutine that calls
// Serve; only State may be called from elsewhere.
type Channel struct {
	id    string
	pipe  *pipeline.Pipeline
	tr    Transport
	pub   Publisher
	log   zerolog.Logger
	max   int
	state atomic.Int32
}

// New binds a channel to an established transport. The channel starts OPEN.
func New(id string, p *pipeline.Pipeline, tr Transport, opts Options) *Channel {
	c := &Channel{id: id, pipe: p, tr: tr, pub: opts.Publisher, max: opts.MaxPending}
	if c.pub == nil {
		c.pub = noopPublisher{}
	}
	if c.max <= 0 {
		c.max = DefaultMaxPending
	}
	if opts.Logger != nil {
		c.log = opts.Logger.With().Str("session_id", id).Logger()
	} else {
		c.log = zerolog.Nop()
	}
	return c
}

func (c *Channel) ID() string { return c.id }

func (c *Channel) State() State { return State(c.state.Load()) }

func (c *Channel) setState(s State) { c.state.Store(int32(s)) }

func (c *Channel) publish(name string, fields map[string]any) {
	c.pub.Publish(LifecycleEvent{Name: name, SessionID: c.id, Fields: fields})
}

// Serve processes inbound messages until the transport fails or ctx ends.
//
// A reader goroutine drains the transport into a bounded inbox so that a
// disconnect is noticed even while a reply is streaming; it cancels the
// in-flight generation. Once the inbox is full the reader waits, and a
// disconnect is then noticed by the next failed send. Serve returns nil when
// the client closed normally.
func (c *Channel) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	started := time.Now()
	c.setState(StateOpen)
	c.publish(EventOpened, nil)
	c.log.Debug().Msg("session opened")

	inbox := make(chan Inbound, c.max)
	readErr := make(chan error, 1)
	go func() {
		defer close(inbox)
		for {
			in, err := c.tr.Receive(ctx)
			if err != nil {
				readErr <- err
				cancel()
				return
			}
			// A full inbox stops reading; the client sees backpressure.
			select {
			case inbox <- in:
			case <-ctx.Done():
				return
			}
		}
	}()

	err := c.loop(ctx, inbox, readErr)
	c.setState(StateClosed)
	cancel()
	// Wait for the reader so no Receive outlives Serve.
	for range inbox {
	}

	c.publish(EventClosed, map[string]any{"duration": time.Since(started)})
	ev := c.log.Debug()
	if err != nil {
		ev = c.log.Info().Err(err)
	}
	ev.Dur("dur", time.Since(started)).Msg("session closed")
	return err
}

func (c *Channel) loop(ctx context.Context, inbox <-chan Inbound, readErr <-chan error) error {
	for {
		select {
		case in, ok := <-inbox:
			if !ok {
				return closeCause(ctx, readErr)
			}
			if ctx.Err() != nil {
				return closeCause(ctx, readErr)
			}
			if err := c.handle(ctx, in); err != nil {
				return c.teardownCause(ctx, readErr, err)
			}
		case <-ctx.Done():
			return closeCause(ctx, readErr)
		}
	}
}

// closeCause picks the error Serve reports once the session is over.
func closeCause(ctx context.Context, readErr <-chan error) error {
	select {
	case err := <-readErr:
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	default:
	}
	return ctx.Err()
}

// teardownCause prefers the reader's error over a failure that only happened
// because the reader canceled the session.
func (c *Channel) teardownCause(ctx context.Context, readErr <-chan error, err error) error {
	if ctx.Err() != nil {
		select {
		case rerr := <-readErr:
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return rerr
		default:
		}
	}
	return err
}

// handle answers one inbound message. It returns an error only when the
// session must end.
func (c *Channel) handle(ctx context.Context, in Inbound) error {
	if in.Malformed {
		c.publish(EventRejected, map[string]any{"reason": MsgInvalid})
		return c.send(ctx, Error(MsgInvalid))
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		c.publish(EventRejected, map[string]any{"reason": MsgEmpty})
		return c.send(ctx, Error(MsgEmpty))
	}

	c.setState(StateAwaitingResult)
	outcome, err := c.reply(ctx, text)
	c.publish(EventFinished, map[string]any{"outcome": outcome})
	if err != nil {
		return err
	}
	c.setState(StateOpen)
	return nil
}

// reply emits one envelope for text.
func (c *Channel) reply(ctx context.Context, text string) (string, error) {
	if err := c.send(ctx, Start()); err != nil {
		return OutcomeAbandoned, err
	}
	c.publish(EventStarted, nil)

	stream, err := c.pipe.InvokeStream(ctx, c.pipe.Render(text))
	if err != nil {
		return c.fail(ctx, err)
	}
	defer stream.Close()

	tokens := 0
	for {
		frag, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			if err := c.send(ctx, End()); err != nil {
				return OutcomeAbandoned, err
			}
			c.log.Debug().Int("tokens", tokens).Msg("envelope complete")
			return OutcomeEnd, nil
		}
		if err != nil {
			return c.fail(ctx, err)
		}
		if err := c.send(ctx, Token(frag)); err != nil {
			return OutcomeAbandoned, err
		}
		tokens++
		c.publish(EventToken, nil)
	}
}

// fail terminates the envelope with ERROR, unless the failure came from the
// session ending, in which case nothing more is sent.
func (c *Channel) fail(ctx context.Context, err error) (string, error) {
	if ctx.Err() != nil {
		return OutcomeAbandoned, &TransportError{Op: "stream", Err: ctx.Err()}
	}
	c.log.Warn().Err(err).Msg("generation failed")
	if serr := c.send(ctx, Error(err.Error())); serr != nil {
		return OutcomeAbandoned, serr
	}
	return OutcomeError, nil
}

func (c *Channel) send(ctx context.Context, e Event) error {
	if err := c.tr.Send(ctx, e); err != nil {
		if IsTransportError(err) {
			return err
		}
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}
